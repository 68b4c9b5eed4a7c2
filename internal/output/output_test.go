package output

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lawsker/lawsker/internal/config"
)

// mockOutput is a test implementation of Output
type mockOutput struct {
	name     string
	messages []string
	closed   bool
	sendErr  error
}

func (m *mockOutput) Name() string {
	return m.name
}

func (m *mockOutput) Send(ctx context.Context, n Notice) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, n.Text)
	return nil
}

func (m *mockOutput) Close() error {
	m.closed = true
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	mock := &mockOutput{name: "test"}

	r.Register("test", mock)

	got, ok := r.Get("test")
	if !ok {
		t.Fatal("expected output to be found")
	}
	if got != mock {
		t.Error("expected same output instance")
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected output not to be found")
	}
}

func TestRegistry_SendAll(t *testing.T) {
	r := NewRegistry()
	mock1 := &mockOutput{name: "mock1"}
	mock2 := &mockOutput{name: "mock2"}
	r.Register("mock1", mock1)
	r.Register("mock2", mock2)

	if err := r.SendAll(context.Background(), Notice{Text: "run done"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, m := range []*mockOutput{mock1, mock2} {
		if len(m.messages) != 1 || m.messages[0] != "run done" {
			t.Errorf("%s did not receive message: %v", m.name, m.messages)
		}
	}
}

func TestRegistry_SendAll_WithErrors(t *testing.T) {
	r := NewRegistry()
	mock1 := &mockOutput{name: "mock1"}
	sendErr := errors.New("send failed")
	mock2 := &mockOutput{name: "mock2", sendErr: sendErr}
	r.Register("mock1", mock1)
	r.Register("mock2", mock2)

	err := r.SendAll(context.Background(), Notice{Text: "run done"})
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if len(mock1.messages) != 1 {
		t.Errorf("mock1 should have received message: %v", mock1.messages)
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	mock1 := &mockOutput{name: "mock1"}
	mock2 := &mockOutput{name: "mock2"}
	r.Register("mock1", mock1)
	r.Register("mock2", mock2)

	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mock1.closed || !mock2.closed {
		t.Error("all outputs should be closed")
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/test")

	out, err := NewFromConfig(config.NotifyConfig{Type: "slack", Channel: "#demo-runs"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slack, ok := out.(*SlackOutput)
	if !ok {
		t.Fatalf("expected *SlackOutput, got %T", out)
	}
	if slack.Channel() != "#demo-runs" {
		t.Errorf("expected channel '#demo-runs', got %q", slack.Channel())
	}

	out, err = NewFromConfig(config.NotifyConfig{Type: "log"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name() != "log" {
		t.Errorf("expected log output, got %q", out.Name())
	}

	if _, err := NewFromConfig(config.NotifyConfig{Type: "pager"}, nil); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestRegistryFromConfig(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/test")

	r, err := RegistryFromConfig([]config.NotifyConfig{
		{Type: "log"},
		{Type: "slack", Channel: "#demo-runs"},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()

	names := r.Names()
	if len(names) != 2 || names[0] != "log-0" || names[1] != "slack-1" {
		t.Errorf("Names() = %v", names)
	}

	slack, _ := r.Get("slack-1")
	if _, ok := slack.(*BreakerOutput); !ok {
		t.Errorf("expected slack output behind a breaker, got %T", slack)
	}

	if _, err := RegistryFromConfig([]config.NotifyConfig{{Type: "slack"}}, nil); err == nil {
		t.Error("expected error for slack without channel")
	}
}

func TestLogOutput(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	out := NewLogOutput(zap.New(core))

	started := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	notice := CompletionNotice("abc", 3, &started, started.Add(90*time.Second))
	if err := out.Send(context.Background(), notice); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.Send(context.Background(), Notice{Text: "plain"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Message != "Demo run abc completed (total 3)" {
		t.Errorf("unexpected message %q", entries[0].Message)
	}
	if entries[0].LoggerName != "notify" {
		t.Errorf("unexpected logger name %q", entries[0].LoggerName)
	}
	fields := entries[0].ContextMap()
	if fields["run"] != "abc" || fields["total"] != int64(3) || fields["duration"] != 90*time.Second {
		t.Errorf("unexpected fields %v", fields)
	}
	if len(entries[1].Context) != 0 {
		t.Errorf("plain notice should carry no fields, got %v", entries[1].ContextMap())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := out.Send(ctx, Notice{Text: "late"}); err == nil {
		t.Error("expected error for cancelled context")
	}
	if err := out.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestCompletionNotice(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 5, 0, 0, time.UTC)
	started := at.Add(-2 * time.Minute)

	n := CompletionNotice("run-9", 12, &started, at)
	if n.Text != "Demo run run-9 completed (total 12)" {
		t.Errorf("unexpected text %q", n.Text)
	}
	if n.RunID != "run-9" || n.Total != 12 || n.Duration != 2*time.Minute {
		t.Errorf("unexpected notice %+v", n)
	}

	if d := CompletionNotice("run-9", 12, nil, at).Duration; d != 0 {
		t.Errorf("unknown start should leave duration zero, got %v", d)
	}
}
