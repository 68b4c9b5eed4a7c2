package output

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lawsker/lawsker/internal/clock"
)

// flakyOutput fails while err is set and counts calls.
type flakyOutput struct {
	err   error
	calls int
}

func (f *flakyOutput) Name() string { return "flaky" }
func (f *flakyOutput) Close() error { return nil }
func (f *flakyOutput) Send(ctx context.Context, n Notice) error {
	f.calls++
	return f.err
}

func newTestBreaker(t *testing.T, next Output) (*BreakerOutput, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	b := NewBreakerOutput(next, BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		FailureWindow:    5 * time.Minute,
	}, fake, zaptest.NewLogger(t))
	return b, fake
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	next := &flakyOutput{err: errors.New("status 500")}
	b, _ := newTestBreaker(t, next)
	ctx := context.Background()

	assert.Error(t, b.Send(ctx, Notice{Text: "one"}))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Error(t, b.Send(ctx, Notice{Text: "two"}))
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Send(ctx, Notice{Text: "three"})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 2, next.calls, "open breaker does not call the output")
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	next := &flakyOutput{err: errors.New("status 500")}
	b, fake := newTestBreaker(t, next)
	ctx := context.Background()

	_ = b.Send(ctx, Notice{Text: "one"})
	_ = b.Send(ctx, Notice{Text: "two"})
	require.Equal(t, BreakerOpen, b.State())

	fake.Advance(time.Minute)
	next.err = nil
	require.NoError(t, b.Send(ctx, Notice{Text: "three"}))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 3, next.calls)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	next := &flakyOutput{err: errors.New("status 500")}
	b, fake := newTestBreaker(t, next)
	ctx := context.Background()

	_ = b.Send(ctx, Notice{Text: "one"})
	_ = b.Send(ctx, Notice{Text: "two"})
	fake.Advance(time.Minute)

	assert.Error(t, b.Send(ctx, Notice{Text: "retry"}))
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Send(ctx, Notice{Text: "again"}), ErrBreakerOpen)
}

func TestBreakerFailuresOutsideWindowDoNotCount(t *testing.T) {
	next := &flakyOutput{err: errors.New("status 500")}
	b, fake := newTestBreaker(t, next)
	ctx := context.Background()

	_ = b.Send(ctx, Notice{Text: "one"})
	fake.Advance(6 * time.Minute)
	_ = b.Send(ctx, Notice{Text: "two"})
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	next := &flakyOutput{err: context.Canceled}
	b, _ := newTestBreaker(t, next)

	for i := 0; i < 3; i++ {
		_ = b.Send(context.Background(), Notice{Text: "x"})
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerReset(t *testing.T) {
	next := &flakyOutput{err: errors.New("status 500")}
	b, _ := newTestBreaker(t, next)

	_ = b.Send(context.Background(), Notice{Text: "one"})
	_ = b.Send(context.Background(), Notice{Text: "two"})
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, "flaky", b.Name())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
}
