package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "crosspost/pkg/logx"
)

func TestOneShotFiresAndCancels(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	var fired atomic.Int32
	done := make(chan struct{})
	err := s.At("t1", "fire", time.Now().Add(10*time.Millisecond), func(context.Context) error {
		fired.Add(1)
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("At: %v", err)
	}

	if err := s.At("t2", "never", time.Now().Add(time.Hour), func(context.Context) error {
		fired.Add(100)
		return nil
	}); err != nil {
		t.Fatalf("At t2: %v", err)
	}
	if !s.Cancel("t2") {
		t.Fatalf("expected cancel of pending timer to succeed")
	}
	if s.Cancel("t2") {
		t.Fatalf("expected second cancel to report false")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot did not fire")
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly one firing, got %d", got)
	}
}

func TestAtRequiresStart(t *testing.T) {
	s := New(Config{}, logx.Nop())
	if err := s.At("x", "x", time.Now(), func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error before Start")
	}
}

func TestIntervalRuns(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// Registration errors surface malformed specs immediately.
	if err := s.AddCron("bad", "not a spec", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for malformed spec")
	}
	if err := s.AddInterval("ok", time.Hour, 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
}
