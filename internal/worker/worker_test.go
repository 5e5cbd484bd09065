package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeExpirer struct {
	mu      sync.Mutex
	calls   int
	removed int64
	err     error
	seen    []time.Time
}

func (f *fakeExpirer) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, now)
	return f.removed, f.err
}

func (f *fakeExpirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunOnceRecordsStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeExpirer{removed: 4}
	s := New(Config{Now: func() time.Time { return now }}, store, nil)

	var hookRemoved int64
	s.SetInstrumentation(&Instrumentation{OnSweep: func(removed int64, _ time.Duration) { hookRemoved = removed }})

	removed, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if removed != 4 || hookRemoved != 4 {
		t.Fatalf("expected 4 removed, got %d (hook %d)", removed, hookRemoved)
	}
	if !store.seen[0].Equal(now) {
		t.Fatalf("expected sweep at %v, got %v", now, store.seen[0])
	}

	stats := s.Stats()
	if stats.Sweeps != 1 || stats.SessionsRemoved != 4 || stats.Failures != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunOnceFailure(t *testing.T) {
	store := &fakeExpirer{err: errors.New("db down")}
	s := New(Config{}, store, nil)

	var hookErr error
	s.SetInstrumentation(&Instrumentation{OnFail: func(err error, _ time.Duration) { hookErr = err }})

	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if hookErr == nil {
		t.Fatal("expected OnFail hook to run")
	}
	if stats := s.Stats(); stats.Failures != 1 || stats.LastError != "db down" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStartAndStop(t *testing.T) {
	store := &fakeExpirer{}
	s := New(Config{Interval: 5 * time.Millisecond}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for store.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.callCount() == 0 {
		t.Fatal("expected at least one sweep")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
}

func TestLogInstrumentationReportsSweepsAndHeartbeats(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := &fakeExpirer{removed: 2}
	s := New(Config{Interval: time.Hour, HeartbeatInterval: 5 * time.Millisecond}, store, nil)
	s.SetInstrumentation(LogInstrumentation(zap.New(core)))

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	store.mu.Lock()
	store.err = errors.New("db down")
	store.mu.Unlock()
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	deadline := time.Now().Add(time.Second)
	for logs.FilterMessage("sweeper heartbeat").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if logs.FilterMessage("sweep finished").Len() != 1 {
		t.Fatalf("expected one sweep log, got %v", logs.All())
	}
	if logs.FilterMessage("sweep failed").Len() != 1 {
		t.Fatalf("expected one failure log, got %v", logs.All())
	}
	beats := logs.FilterMessage("sweeper heartbeat").All()
	if len(beats) == 0 {
		t.Fatal("expected a heartbeat log")
	}
	if got := beats[0].ContextMap()["sweeps"]; got != int64(2) {
		t.Fatalf("expected heartbeat to report 2 sweeps, got %v", got)
	}
}
