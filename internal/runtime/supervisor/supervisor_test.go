package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitStopped(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Stop(ctx)
	if ctx.Err() != nil {
		t.Fatal("supervisor did not stop")
	}
}

func TestGoFailureCancelsWhenConfigured(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(context.Context) error { return boom })
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after loop failure")
	}
	waitStopped(t, s)
	if !errors.Is(s.Err(), boom) {
		t.Fatalf("Err() = %v, want boom", s.Err())
	}
}

func TestGoRestartRecoversPanics(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			panic("not yet")
		}
		close(done)
		<-ctx.Done()
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop was not restarted")
	}
	waitStopped(t, s)

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Panics != 2 || snap[0].Restarts != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if s.Err() != nil {
		t.Fatalf("restarted loop must not set Err, got %v", s.Err())
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("still broken")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	deadline := time.After(2 * time.Second)
	for s.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("loop never gave up")
		case <-time.After(5 * time.Millisecond):
		}
	}
	waitStopped(t, s)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3 (first run plus two restarts)", got)
	}
}

func TestCleanExitIsNotAnError(t *testing.T) {
	s := New(context.Background())
	s.Go("oneshot", func(context.Context) error { return nil })
	waitStopped(t, s)
	if s.Err() != nil {
		t.Fatalf("Err() = %v", s.Err())
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Running {
		t.Fatalf("snapshot = %+v", snap)
	}
}
