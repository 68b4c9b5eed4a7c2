package sequencer

import "time"

// Status is the visual state of a single step.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// EventKind identifies what changed.
type EventKind string

const (
	EventRunStarted       EventKind = "run.started"
	EventStepEntered      EventKind = "step.entered"
	EventStepData         EventKind = "step.data"
	EventStepCompleted    EventKind = "step.completed"
	EventRunFinished      EventKind = "run.finished"
	EventRunCounted       EventKind = "run.counted"
	EventAutoPlayChanged  EventKind = "autoplay.changed"
	EventAutoPlayFinished EventKind = "autoplay.finished"
	EventRunReset         EventKind = "run.reset"
	EventNotice           EventKind = "notice"
)

// StepState is the rendered state of one step.
type StepState struct {
	Key         string `json:"key"`
	Status      Status `json:"status"`
	DataVisible bool   `json:"dataVisible"`
}

// Snapshot is a copy of the run state at a point in time.
type Snapshot struct {
	RunID             string      `json:"runId,omitempty"`
	Step              int         `json:"step"`
	Total             int         `json:"total"`
	Progress          float64     `json:"progress"`
	Running           bool        `json:"running"`
	AutoPlay          bool        `json:"autoPlay"`
	StartedAt         *time.Time  `json:"startedAt,omitempty"`
	Steps             []StepState `json:"steps"`
	CompletionVisible bool        `json:"completionVisible"`
	CompletedRuns     int64       `json:"completedRuns"`
}

// Event is emitted to subscribers on every state change.
type Event struct {
	Kind    EventKind `json:"kind"`
	RunID   string    `json:"runId,omitempty"`
	Step    int       `json:"step"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
	State   Snapshot  `json:"state"`
}
