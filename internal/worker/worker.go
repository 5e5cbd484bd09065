// Package worker runs the background sweep that deletes expired checkout
// sessions, with instrumentation hooks and graceful shutdown handling.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Expirer deletes sessions that expired before now.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Instrumentation provides hooks for monitoring sweeps
type Instrumentation struct {
	OnSweep     func(removed int64, duration time.Duration)
	OnFail      func(err error, duration time.Duration)
	OnHeartbeat func(stats Stats)
}

// LogInstrumentation reports sweeps, failures and heartbeats through logger.
func LogInstrumentation(logger *zap.Logger) *Instrumentation {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sweeper")
	return &Instrumentation{
		OnSweep: func(removed int64, duration time.Duration) {
			logger.Debug("sweep finished", zap.Int64("removed", removed), zap.Duration("duration", duration))
		},
		OnFail: func(err error, duration time.Duration) {
			logger.Error("sweep failed", zap.Error(err), zap.Duration("duration", duration))
		},
		OnHeartbeat: func(stats Stats) {
			logger.Info("sweeper heartbeat",
				zap.Int64("sweeps", stats.Sweeps),
				zap.Int64("sessions_removed", stats.SessionsRemoved),
				zap.Int64("failures", stats.Failures),
				zap.Time("last_sweep_at", stats.LastSweepAt),
				zap.String("last_error", stats.LastError))
		},
	}
}

// Stats holds sweeper statistics
type Stats struct {
	Sweeps          int64
	SessionsRemoved int64
	Failures        int64
	LastSweepAt     time.Time
	LastError       string
}

// Config holds sweeper configuration
type Config struct {
	// Interval is the time between sweeps
	Interval time.Duration
	// SweepTimeout is the maximum time allowed for one sweep
	SweepTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for a running sweep during shutdown
	ShutdownTimeout time.Duration
	// HeartbeatInterval is the interval for reporting stats; zero disables it
	HeartbeatInterval time.Duration
	// Now is the clock sessions are expired against
	Now func() time.Time
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Minute,
		SweepTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Now:             time.Now,
	}
}

// Sweeper periodically removes expired checkout sessions.
type Sweeper struct {
	config          Config
	store           Expirer
	instrumentation *Instrumentation
	logger          *zap.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	started bool
	stopped bool
	mu      sync.Mutex

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a new Sweeper instance
func New(config Config, store Expirer, logger *zap.Logger) *Sweeper {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = defaults.SweepTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		config:          config,
		store:           store,
		instrumentation: &Instrumentation{},
		logger:          logger.Named("sweeper"),
		stopCh:          make(chan struct{}),
	}
}

// SetInstrumentation sets the instrumentation hooks
func (s *Sweeper) SetInstrumentation(inst *Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
}

// Start begins the sweep loop. Calling it twice has no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("starting", zap.Duration("interval", s.config.Interval))

	s.wg.Add(1)
	go s.loop(ctx)

	if s.config.HeartbeatInterval > 0 {
		s.wg.Add(1)
		go s.heartbeat(ctx)
	}
}

// Stop gracefully shuts down the sweeper
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("stopped")
		return nil
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timeout exceeded, forcing stop")
		return errors.New("shutdown timeout exceeded")
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce deletes the sessions that have expired and returns how many.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	sweepCtx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
	defer cancel()

	removed, err := s.store.DeleteExpired(sweepCtx, s.config.Now())
	duration := time.Since(start)

	s.mu.Lock()
	inst := s.instrumentation
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.Sweeps++
	s.stats.LastSweepAt = start
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.SessionsRemoved += removed
		s.stats.LastError = ""
	}
	s.statsMu.Unlock()

	if err != nil {
		if inst.OnFail != nil {
			inst.OnFail(err, duration)
		}
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	if inst.OnSweep != nil {
		inst.OnSweep(removed, duration)
	}
	if removed > 0 {
		s.logger.Info("removed expired sessions", zap.Int64("removed", removed), zap.Duration("duration", duration))
	}
	return removed, nil
}

func (s *Sweeper) heartbeat(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			inst := s.instrumentation
			s.mu.Unlock()
			if inst.OnHeartbeat != nil {
				inst.OnHeartbeat(s.Stats())
			}
		}
	}
}

// Stats returns current sweeper statistics
func (s *Sweeper) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}
