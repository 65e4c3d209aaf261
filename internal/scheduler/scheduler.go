// Package scheduler drives the monitoring cycle and the daily statistics reset
// on independent gocron timers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/monitor"
)

// ErrStopped is returned by Start once Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

// CycleRunner runs one refresh-then-evaluate pass.
type CycleRunner interface {
	RunOnce(ctx context.Context) monitor.CycleReport
}

// DailyResetter rolls daily price statistics over.
type DailyResetter interface {
	ResetDailyStats(ctx context.Context) error
}

// Config holds the cadences of both timers.
type Config struct {
	Interval       time.Duration
	DailyResetTime string // HH:MM in Location
	Location       *time.Location
	SingleFlight   bool
}

// Scheduler owns the primary and daily timers.
type Scheduler struct {
	runner   CycleRunner
	resetter DailyResetter
	cfg      Config
	cron     *gocron.Scheduler

	mu      sync.Mutex
	started bool
	stopped bool
	running sync.WaitGroup

	cycleBusy atomic.Bool
	resetBusy atomic.Bool
	skipped   atomic.Int64
}

// New creates a scheduler. resetter may be nil, in which case no daily job is
// registered.
func New(runner CycleRunner, resetter DailyResetter, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.DailyResetTime == "" {
		cfg.DailyResetTime = "00:00"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		runner:   runner,
		resetter: resetter,
		cfg:      cfg,
		cron:     gocron.NewScheduler(cfg.Location),
	}
}

// Start runs one cycle synchronously, then schedules the primary and daily
// timers and returns.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	logger.Info("Running initial monitoring cycle")
	s.runCycle()

	if _, err := s.cron.Every(s.cfg.Interval).WaitForSchedule().Do(func() { s.runCycle() }); err != nil {
		return fmt.Errorf("failed to schedule monitoring cycle: %w", err)
	}
	if s.resetter != nil {
		if _, err := s.cron.Every(1).Day().At(s.cfg.DailyResetTime).Do(func() { s.runDailyReset() }); err != nil {
			return fmt.Errorf("failed to schedule daily reset at %q: %w", s.cfg.DailyResetTime, err)
		}
	}

	s.cron.StartAsync()
	logger.Info("Scheduler started (interval: %v, daily reset: %s %s, single flight: %v)",
		s.cfg.Interval, s.cfg.DailyResetTime, s.cfg.Location, s.cfg.SingleFlight)
	return nil
}

// Stop cancels both timers and waits for an in-flight job to finish. No job
// starts after Stop returns. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cron.Stop()
	s.running.Wait()
	logger.Info("Scheduler stopped")
}

// Skipped returns how many fires were dropped because the previous run of the
// same timer was still executing.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// enter registers a job run unless the scheduler is stopping.
func (s *Scheduler) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.running.Add(1)
	return true
}

func (s *Scheduler) runCycle() bool {
	return s.guard("monitoring cycle", &s.cycleBusy, func(ctx context.Context) {
		report := s.runner.RunOnce(ctx)
		if report.Failed() {
			logger.Warn("Monitoring cycle finished with errors: %v", report.Err())
		}
	})
}

func (s *Scheduler) runDailyReset() bool {
	return s.guard("daily reset", &s.resetBusy, func(ctx context.Context) {
		logger.Info("Resetting daily price statistics")
		if err := s.resetter.ResetDailyStats(ctx); err != nil {
			logger.Error("Daily reset failed: %v", err)
		}
	})
}

// guard runs job under the single-flight flag and a panic handler, and reports
// whether job was started. Nothing a job does escapes to the timer. Timeouts
// belong to the job: a cycle bounds only its refresh step.
func (s *Scheduler) guard(name string, busy *atomic.Bool, job func(ctx context.Context)) (ran bool) {
	if !s.enter() {
		return false
	}
	defer s.running.Done()

	if s.cfg.SingleFlight {
		if !busy.CompareAndSwap(false, true) {
			s.skipped.Add(1)
			logger.Warn("Skipping %s: previous run still in progress", name)
			return false
		}
		defer busy.Store(false)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Recovered from panic in %s: %v", name, rec)
			ran = true
		}
	}()

	job(context.Background())
	return true
}
