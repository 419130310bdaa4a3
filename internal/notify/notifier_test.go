package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeSender struct {
	name  string
	err   error
	sent  int
	title string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.sent++
	f.title = title
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{s}, []string{EventCycleFailed}, slog.Default())

	if err := n.Notify(context.Background(), EventCycleCompleted, "done", "x"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if s.sent != 0 {
		t.Fatalf("filtered event was delivered %d times", s.sent)
	}

	if err := n.Notify(context.Background(), EventCycleFailed, "failed", "x"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if s.sent != 1 || s.title != "failed" {
		t.Fatalf("sent = %d, title = %q", s.sent, s.title)
	}
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	if err := n.Notify(context.Background(), EventCycleCompleted, "done", "x"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if s.sent != 1 {
		t.Fatalf("sent = %d, want 1", s.sent)
	}
}

func TestDispatchDeliversToAllDespiteFailure(t *testing.T) {
	bad := &fakeSender{name: "tg", err: errors.New("boom")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "tg") {
		t.Fatalf("error %q does not name the failed sender", err)
	}
	if good.sent != 1 {
		t.Fatalf("healthy sender sent = %d, want 1", good.sent)
	}
}

func TestNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, slog.Default())
	if err := n.NotifyAll(context.Background(), "t", "m"); err != nil {
		t.Fatalf("NotifyAll() error = %v", err)
	}
}
