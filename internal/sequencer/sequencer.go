// Package sequencer drives the guided business-flow demo.
//
// A Sequencer owns a cursor over a fixed list of steps. Entering a step
// schedules that step's cue timeline (delayed visual mutations); auto-play
// advances the cursor on a fixed interval. Every change is published as an
// Event so presentation layers can render it without touching the state.
//
// Only the timeline of the most recent navigation may mutate state: each
// navigation bumps an epoch, stops pending cue timers, and cue callbacks
// that were already in flight compare their epoch before doing anything.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/clock"
	"github.com/lawsker/lawsker/internal/store"
)

// Options configures a Sequencer. Zero delays take the demo defaults.
type Options struct {
	Steps          []Step
	Clock          clock.Clock
	Counter        store.Counter // nil disables run counting
	Logger         *zap.Logger
	StartDelay     time.Duration // start -> step 1 (default 1s)
	AdvanceDelay   time.Duration // auto-play step interval (default 3s)
	FinishDelay    time.Duration // auto-play completion delay (default 2s)
	CounterTimeout time.Duration // per-increment deadline (default 5s)
	EventBuffer    int           // per-subscriber channel size (default 64)
}

// demoRun is the mutable run state. It is only touched with Sequencer.mu held.
type demoRun struct {
	id        string
	current   int
	running   bool
	autoPlay  bool
	startedAt *time.Time
	counted   bool
}

// Sequencer is the demo step controller. It is safe for concurrent use.
type Sequencer struct {
	steps          []Step
	clock          clock.Clock
	counter        store.Counter
	logger         *zap.Logger
	startDelay     time.Duration
	advanceDelay   time.Duration
	finishDelay    time.Duration
	counterTimeout time.Duration
	eventBuffer    int

	mu                sync.Mutex
	run               demoRun
	visual            []StepState
	completionVisible bool
	completedRuns     int64

	epoch     uint64 // bumped on every navigation and reset
	startGen  uint64 // guards the pending start -> step 1 timer
	autoGen   uint64 // guards the auto-play chain
	cueTimers []clock.Timer
	startT    clock.Timer
	autoT     clock.Timer

	subs    map[int]chan Event
	nextSub int
	closed  bool
	pending sync.WaitGroup // in-flight counter increments
}

// New creates a Sequencer. The persisted run count is loaded from the counter.
func New(opts Options) *Sequencer {
	if len(opts.Steps) == 0 {
		opts.Steps = DefaultSteps()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StartDelay <= 0 {
		opts.StartDelay = time.Second
	}
	if opts.AdvanceDelay <= 0 {
		opts.AdvanceDelay = 3 * time.Second
	}
	if opts.FinishDelay <= 0 {
		opts.FinishDelay = 2 * time.Second
	}
	if opts.CounterTimeout <= 0 {
		opts.CounterTimeout = 5 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}

	s := &Sequencer{
		steps:          opts.Steps,
		clock:          opts.Clock,
		counter:        opts.Counter,
		logger:         opts.Logger.Named("sequencer"),
		startDelay:     opts.StartDelay,
		advanceDelay:   opts.AdvanceDelay,
		finishDelay:    opts.FinishDelay,
		counterTimeout: opts.CounterTimeout,
		eventBuffer:    opts.EventBuffer,
		subs:           make(map[int]chan Event),
	}
	s.resetVisuals()

	if s.counter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.counterTimeout)
		defer cancel()
		n, err := s.counter.Count(ctx)
		if err != nil {
			s.logger.Warn("could not load completed run count", zap.Error(err))
		} else {
			s.completedRuns = n
		}
	}

	return s
}

// Steps returns a copy of the step catalogue.
func (s *Sequencer) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Total returns the number of steps N.
func (s *Sequencer) Total() int {
	return len(s.steps)
}

// Snapshot returns the current state.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Start begins a run. It is a no-op while a run is in progress. Step 1 is
// entered after the start delay.
func (s *Sequencer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.run.running {
		return
	}

	now := s.clock.Now()
	s.run = demoRun{
		id:        uuid.NewString(),
		running:   true,
		startedAt: &now,
	}
	s.epoch++
	s.stopCues()
	s.completionVisible = false
	s.resetVisuals()

	s.startGen++
	gen := s.startGen
	s.startT = s.clock.AfterFunc(s.startDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.startGen || !s.run.running {
			return
		}
		s.startT = nil
		s.goTo(1)
	})

	s.logger.Info("demo run started", zap.String("run", s.run.id))
	s.emit(EventRunStarted, "Demo started")
}

// GoTo makes step the active step. Steps outside [1, N] are ignored.
func (s *Sequencer) GoTo(step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.goTo(step)
}

// Next advances one step.
func (s *Sequencer) Next() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.goTo(s.run.current + 1)
}

// Prev goes back one step.
func (s *Sequencer) Prev() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.goTo(s.run.current - 1)
}

// ToggleAutoPlay flips auto-play. It is a no-op when no run is active.
func (s *Sequencer) ToggleAutoPlay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.toggleAutoPlay()
}

// Reset stops the run and clears all step state.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.reset()
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Events are dropped for subscribers that fall behind.
func (s *Sequencer) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.eventBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops every pending timer, closes all subscriptions and waits for
// in-flight counter writes.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopCues()
	s.stopTimer(&s.startT)
	s.stopTimer(&s.autoT)
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.pending.Wait()
}

// goTo implements GoTo; s.mu must be held.
func (s *Sequencer) goTo(step int) {
	if step < 1 || step > len(s.steps) {
		return
	}

	s.epoch++
	s.stopCues()

	s.run.current = step
	s.completionVisible = false
	s.resetVisuals()
	s.visual[step-1].Status = StatusActive

	epoch := s.epoch
	for _, cue := range s.steps[step-1].Timeline {
		cue := cue
		t := s.clock.AfterFunc(cue.Offset, func() {
			s.fireCue(epoch, step, cue)
		})
		s.cueTimers = append(s.cueTimers, t)
	}

	s.logger.Debug("step entered", zap.Int("step", step), zap.String("key", s.steps[step-1].Key))
	s.emit(EventStepEntered, fmt.Sprintf("Step %d: %s", step, s.steps[step-1].Title))
}

// fireCue applies one timeline cue if its navigation is still current.
func (s *Sequencer) fireCue(epoch uint64, step int, cue Cue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || epoch != s.epoch {
		return
	}

	idx := step - 1
	switch cue.Action {
	case ShowData:
		s.visual[idx].DataVisible = true
		s.emit(EventStepData, fmt.Sprintf("%s: data ready", s.steps[idx].Title))
	case CompleteStep:
		s.visual[idx].Status = StatusCompleted
		s.emit(EventStepCompleted, fmt.Sprintf("%s completed", s.steps[idx].Title))
	case FinishRun:
		s.completionVisible = true
		s.emit(EventRunFinished, "Business flow complete")
		s.completeRun()
	}
}

// toggleAutoPlay implements ToggleAutoPlay; s.mu must be held.
func (s *Sequencer) toggleAutoPlay() {
	if !s.run.running {
		return
	}

	s.run.autoPlay = !s.run.autoPlay
	s.autoGen++
	s.stopTimer(&s.autoT)

	if s.run.autoPlay {
		s.emit(EventAutoPlayChanged, "Auto-play on")
		s.autoAdvance()
	} else {
		s.emit(EventAutoPlayChanged, "Auto-play off")
	}
}

// autoAdvance schedules exactly one future step of the auto-play chain, or
// nothing when auto-play is off. s.mu must be held.
func (s *Sequencer) autoAdvance() {
	if !s.run.autoPlay || !s.run.running {
		return
	}

	gen := s.autoGen
	if s.run.current < len(s.steps) {
		s.autoT = s.clock.AfterFunc(s.advanceDelay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed || gen != s.autoGen || !s.run.autoPlay || !s.run.running {
				return
			}
			s.goTo(s.run.current + 1)
			s.autoAdvance()
		})
		return
	}

	s.autoT = s.clock.AfterFunc(s.finishDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.autoGen || !s.run.autoPlay || !s.run.running {
			return
		}
		s.run.autoPlay = false
		s.autoGen++
		s.autoT = nil
		s.emit(EventAutoPlayFinished, "Demo complete")
		s.completeRun()
	})
}

// reset implements Reset; s.mu must be held.
func (s *Sequencer) reset() {
	s.epoch++
	s.stopCues()
	s.startGen++
	s.stopTimer(&s.startT)
	s.autoGen++
	s.stopTimer(&s.autoT)

	if s.run.id != "" {
		s.logger.Info("demo run reset", zap.String("run", s.run.id), zap.Int("step", s.run.current))
	}
	s.run = demoRun{}
	s.completionVisible = false
	s.resetVisuals()
	s.emit(EventRunReset, "Demo reset")
}

// completeRun records a started run in the counter at most once.
// s.mu must be held; the write itself happens on another goroutine.
func (s *Sequencer) completeRun() {
	// Navigating to the last step without Start shows the panel but is not a run.
	if !s.run.running || s.run.id == "" || s.run.counted {
		return
	}
	s.run.counted = true
	if s.counter == nil {
		return
	}

	runID := s.run.id
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.counterTimeout)
		defer cancel()
		n, err := s.counter.Increment(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.logger.Error("could not record completed run", zap.String("run", runID), zap.Error(err))
			s.emitFor(EventNotice, runID, "Could not record completed run")
			return
		}
		s.completedRuns = n
		s.logger.Info("demo run completed", zap.String("run", runID), zap.Int64("total", n))
		s.emitFor(EventRunCounted, runID, fmt.Sprintf("Completed runs: %d", n))
	}()
}

func (s *Sequencer) resetVisuals() {
	if len(s.visual) != len(s.steps) {
		s.visual = make([]StepState, len(s.steps))
	}
	for i, step := range s.steps {
		s.visual[i] = StepState{Key: step.Key, Status: StatusWaiting}
	}
}

func (s *Sequencer) stopCues() {
	for _, t := range s.cueTimers {
		t.Stop()
	}
	s.cueTimers = nil
}

func (s *Sequencer) stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Sequencer) snapshot() Snapshot {
	snap := Snapshot{
		RunID:             s.run.id,
		Step:              s.run.current,
		Total:             len(s.steps),
		Running:           s.run.running,
		AutoPlay:          s.run.autoPlay,
		Steps:             append([]StepState(nil), s.visual...),
		CompletionVisible: s.completionVisible,
		CompletedRuns:     s.completedRuns,
	}
	if len(s.steps) > 0 {
		snap.Progress = float64(s.run.current) / float64(len(s.steps))
	}
	if s.run.startedAt != nil {
		t := *s.run.startedAt
		snap.StartedAt = &t
	}
	return snap
}

func (s *Sequencer) emit(kind EventKind, msg string) {
	s.emitFor(kind, s.run.id, msg)
}

// emitFor publishes an event to every subscriber without blocking.
// s.mu must be held so subscribers observe events in order.
func (s *Sequencer) emitFor(kind EventKind, runID, msg string) {
	if s.closed {
		return
	}
	ev := Event{
		Kind:    kind,
		RunID:   runID,
		Step:    s.run.current,
		Message: msg,
		At:      s.clock.Now(),
		State:   s.snapshot(),
	}
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropping event for slow subscriber", zap.Int("subscriber", id), zap.String("kind", string(kind)))
		}
	}
}
