// Package output delivers demo run notifications to external destinations.
package output

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/config"
)

// Notice is one notification. Text always reads on its own; the run fields
// are set for run completions and let outputs add structure.
type Notice struct {
	Text     string
	RunID    string
	Total    int64
	Duration time.Duration
}

// CompletionNotice describes a counted run. startedAt may be nil when the
// start time is unknown.
func CompletionNotice(runID string, total int64, startedAt *time.Time, at time.Time) Notice {
	n := Notice{
		Text:  fmt.Sprintf("Demo run %s completed (total %d)", runID, total),
		RunID: runID,
		Total: total,
	}
	if startedAt != nil && at.After(*startedAt) {
		n.Duration = at.Sub(*startedAt)
	}
	return n
}

// Output represents a notification destination.
type Output interface {
	// Name returns the output identifier (e.g., "slack", "log").
	Name() string

	// Send delivers a notice to the output destination.
	Send(ctx context.Context, n Notice) error

	// Close releases any resources held by the output.
	Close() error
}

// Registry manages a collection of outputs.
type Registry struct {
	mu      sync.RWMutex
	outputs map[string]Output
}

// NewRegistry creates a new output registry.
func NewRegistry() *Registry {
	return &Registry{
		outputs: make(map[string]Output),
	}
}

// Register adds an output to the registry.
func (r *Registry) Register(name string, output Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = output
}

// Get retrieves an output by name.
func (r *Registry) Get(name string) (Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	output, ok := r.outputs[name]
	return output, ok
}

// Names returns the registered output names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered outputs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}

// SendAll sends n to all registered outputs. Every output is tried; the
// returned error joins the individual failures.
func (r *Registry) SendAll(ctx context.Context, n Notice) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, output := range r.outputs {
		if err := output.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all registered outputs.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, output := range r.outputs {
		if err := output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// NewFromConfig creates an output from configuration.
func NewFromConfig(cfg config.NotifyConfig, logger *zap.Logger) (Output, error) {
	switch cfg.Type {
	case "slack":
		return NewSlackOutput(cfg.Channel, "")
	case "log":
		return NewLogOutput(logger), nil
	default:
		return nil, fmt.Errorf("unsupported output type: %s", cfg.Type)
	}
}

// RegistryFromConfig builds a registry holding one output per notify entry.
// Entries are registered as "<type>-<index>". Remote outputs are wrapped in a
// BreakerOutput.
func RegistryFromConfig(cfgs []config.NotifyConfig, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	for i, c := range cfgs {
		out, err := NewFromConfig(c, logger)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("notify[%d]: %w", i, err)
		}
		if c.Type == "slack" {
			out = NewBreakerOutput(out, DefaultBreakerConfig(), nil, logger)
		}
		r.Register(fmt.Sprintf("%s-%d", c.Type, i), out)
	}
	return r, nil
}
