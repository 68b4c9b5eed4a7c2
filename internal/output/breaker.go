package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/clock"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation, sends allowed
	BreakerOpen                         // Failures exceeded threshold, sends skipped
	BreakerHalfOpen                     // Testing if the destination recovered
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by BreakerOutput.Send while the breaker is open.
var ErrBreakerOpen = errors.New("output circuit open")

// BreakerConfig configures the circuit breaker
type BreakerConfig struct {
	FailureThreshold int           // Failures within FailureWindow that open the breaker (default: 3)
	SuccessThreshold int           // Successes in half-open needed to close (default: 1)
	Timeout          time.Duration // Time to wait before half-open (default: 5m)
	FailureWindow    time.Duration // Window to count failures (default: 10m)
}

// DefaultBreakerConfig returns the default breaker configuration. Demo runs
// complete minutes apart, so the windows are long.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          5 * time.Minute,
		FailureWindow:    10 * time.Minute,
	}
}

// BreakerOutput wraps an Output and stops calling it after repeated failures,
// so a dead webhook costs one fast error per run instead of a full timeout.
type BreakerOutput struct {
	next   Output
	config BreakerConfig
	clock  clock.Clock
	logger *zap.Logger

	mu              sync.Mutex
	state           BreakerState
	failures        []time.Time // Recent failure timestamps
	successes       int         // Consecutive successes in half-open state
	lastStateChange time.Time
}

// NewBreakerOutput wraps next. A nil clock uses wall time.
func NewBreakerOutput(next Output, cfg BreakerConfig, clk clock.Clock, logger *zap.Logger) *BreakerOutput {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	return &BreakerOutput{
		next:            next,
		config:          cfg,
		clock:           clk,
		logger:          logger.Named("breaker").With(zap.String("output", next.Name())),
		state:           BreakerClosed,
		lastStateChange: clk.Now(),
	}
}

// Name returns the wrapped output's name.
func (b *BreakerOutput) Name() string {
	return b.next.Name()
}

// Send forwards n unless the breaker is open.
func (b *BreakerOutput) Send(ctx context.Context, n Notice) error {
	if !b.allow() {
		return fmt.Errorf("%s: %w", b.next.Name(), ErrBreakerOpen)
	}

	err := b.next.Send(ctx, n)
	b.record(err)
	return err
}

// Close closes the wrapped output.
func (b *BreakerOutput) Close() error {
	return b.next.Close()
}

// State returns the current breaker state.
func (b *BreakerOutput) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker to closed state
func (b *BreakerOutput) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = b.failures[:0]
	b.successes = 0
	b.lastStateChange = b.clock.Now()
}

func (b *BreakerOutput) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.clock.Now().Sub(b.lastStateChange) < b.config.Timeout {
			return false
		}
		b.transitionTo(BreakerHalfOpen)
	}
	return true
}

func (b *BreakerOutput) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A caller giving up says nothing about the destination.
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		switch b.state {
		case BreakerHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.transitionTo(BreakerClosed)
			}
		case BreakerClosed:
			b.failures = b.failures[:0]
		}
		return
	}

	now := b.clock.Now()
	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.config.FailureWindow)
	recent := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	b.failures = recent

	switch b.state {
	case BreakerClosed:
		if len(b.failures) >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen)
	}
}

// transitionTo changes the state; b.mu must be held.
func (b *BreakerOutput) transitionTo(state BreakerState) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state
	b.lastStateChange = b.clock.Now()
	b.successes = 0
	if state == BreakerClosed {
		b.failures = b.failures[:0]
	}
	b.logger.Info("output breaker state changed", zap.Stringer("from", old), zap.Stringer("to", state))
}
