package sequencer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/lawsker/lawsker/internal/config"
)

// CueAction is the visual mutation a cue performs when it fires.
type CueAction string

const (
	ShowData     CueAction = "show-data"     // reveal the step's mock data panel
	CompleteStep CueAction = "complete-step" // mark the step completed
	FinishRun    CueAction = "finish-run"    // show the completion panel and count the run
)

// Cue is one delayed mutation in a step timeline.
type Cue struct {
	Offset time.Duration `json:"offset"`
	Action CueAction     `json:"action"`
}

// Step is one stage of the demo narrative.
type Step struct {
	Key             string   `json:"key"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`     // Markdown source
	DescriptionHTML string   `json:"descriptionHtml"` // Rendered by RenderDescriptions
	Data            []string `json:"data"`
	Timeline        []Cue    `json:"timeline"`
}

// standardTimeline reveals the data panel and completes the step two seconds in.
func standardTimeline() []Cue {
	return []Cue{
		{Offset: 2 * time.Second, Action: ShowData},
		{Offset: 2 * time.Second, Action: CompleteStep},
	}
}

// DefaultSteps returns the five-step publish → match → generate → review →
// confirm narrative of the Lawsker business flow.
func DefaultSteps() []Step {
	return []Step{
		{
			Key:         "publish",
			Title:       "Publish task",
			Description: "A client posts a **debt collection** task with the amount owed, the debtor and a budget.",
			Data: []string{
				"Task: LS-20240315-001",
				"Type: Debt collection letter",
				"Amount owed: ¥85,000",
				"Budget: ¥300",
			},
			Timeline: standardTimeline(),
		},
		{
			Key:         "match",
			Title:       "Match lawyer",
			Description: "The platform ranks available lawyers by *practice area*, rating and current load.",
			Data: []string{
				"Matched: Attorney Zhang (civil litigation)",
				"Rating: 4.9 / 5",
				"Response time: 8 min",
			},
			Timeline: standardTimeline(),
		},
		{
			Key:         "generate",
			Title:       "Generate document",
			Description: "A draft **lawyer's letter** is generated from the task details.",
			Data: []string{
				"Document: Lawyer's letter (draft)",
				"Length: 2 pages",
				"Template: collection-demand-v3",
			},
			Timeline: standardTimeline(),
		},
		{
			Key:         "review",
			Title:       "Lawyer review",
			Description: "The matched lawyer reviews the draft, edits it and signs off.",
			Data: []string{
				"Review: approved with 2 edits",
				"Signed by: Attorney Zhang",
				"Sent: registered mail + email",
			},
			Timeline: standardTimeline(),
		},
		{
			Key:         "confirm",
			Title:       "Confirm & settle",
			Description: "The client confirms delivery and the fee is split between lawyer and platform.",
			Data: []string{
				"Client confirmation: received",
				"Lawyer share: ¥240",
				"Platform share: ¥60",
			},
			Timeline: []Cue{
				{Offset: 2 * time.Second, Action: ShowData},
				{Offset: 2 * time.Second, Action: CompleteStep},
				{Offset: 3 * time.Second, Action: FinishRun},
			},
		},
	}
}

// StepsFromConfig converts configured steps. An empty list yields DefaultSteps.
func StepsFromConfig(cfgSteps []config.StepConfig) ([]Step, error) {
	if len(cfgSteps) == 0 {
		return DefaultSteps(), nil
	}

	steps := make([]Step, 0, len(cfgSteps))
	for i, sc := range cfgSteps {
		step := Step{
			Key:         sc.Key,
			Title:       sc.Title,
			Description: sc.Description,
			Data:        append([]string(nil), sc.Data...),
		}
		for j, cc := range sc.Cues {
			offset, err := time.ParseDuration(cc.At)
			if err != nil {
				return nil, fmt.Errorf("step %d (%s) cue %d: %w", i+1, sc.Key, j, err)
			}
			action := CueAction(cc.Action)
			switch action {
			case ShowData, CompleteStep, FinishRun:
			default:
				return nil, fmt.Errorf("step %d (%s) cue %d: unknown action %q", i+1, sc.Key, j, cc.Action)
			}
			step.Timeline = append(step.Timeline, Cue{Offset: offset, Action: action})
		}
		steps = append(steps, step)
	}
	return steps, nil
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// RenderDescriptions fills DescriptionHTML for every step.
func RenderDescriptions(steps []Step) error {
	for i := range steps {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(steps[i].Description), &buf); err != nil {
			return fmt.Errorf("render step %s: %w", steps[i].Key, err)
		}
		steps[i].DescriptionHTML = buf.String()
	}
	return nil
}
