// Package monitor runs the price-alert evaluation cycle: refresh prices from a
// source, then move every pending alert whose condition holds to triggered.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
)

var (
	// ErrSourceUnavailable marks a failed price refresh. The cycle still evaluates.
	ErrSourceUnavailable = errors.New("price source unavailable")
	// ErrPersistence marks a failed store read or write.
	ErrPersistence = errors.New("persistence failure")
)

// PriceSource refreshes the price store from a market feed.
type PriceSource interface {
	RefreshAll(ctx context.Context) error
	ResetDailyStats(ctx context.Context) error
}

// PriceReader returns the latest price of a symbol, or models.ErrNotFound.
type PriceReader interface {
	GetPrice(ctx context.Context, symbol string) (*models.MarketPrice, error)
}

// AlertStore is the slice of alert persistence the evaluator needs.
type AlertStore interface {
	FindPendingAlerts(ctx context.Context) ([]models.Alert, error)
	CommitTriggered(ctx context.Context, id string, at time.Time) error
}

// Notifier is told about every alert the evaluator commits as triggered.
type Notifier interface {
	NotifyTriggered(ctx context.Context, alert models.Alert, price models.MarketPrice) error
}

// StatusNotifier is told when cycles start failing and when they recover.
type StatusNotifier interface {
	SendError(cycleErr error) error
	SendRecovery(failureCount int) error
}

// CycleReport describes one completed pass.
type CycleReport struct {
	StartedAt  time.Time
	Duration   time.Duration
	RefreshErr error
	EvalErr    error
	Summary    *Summary
}

// Failed reports whether either step of the cycle failed.
func (r CycleReport) Failed() bool {
	return r.RefreshErr != nil || r.EvalErr != nil
}

// Err joins the step errors of the cycle.
func (r CycleReport) Err() error {
	return errors.Join(r.RefreshErr, r.EvalErr)
}

// Runner executes refresh-then-evaluate passes. It is safe for concurrent use;
// overlapping passes share only the stores and the running statistics.
type Runner struct {
	source         PriceSource
	evaluator      *Evaluator
	status         StatusNotifier
	refreshTimeout time.Duration

	mu                  sync.Mutex
	stats               DurationStats
	consecutiveFailures int
}

// NewRunner creates a runner. source may be nil, in which case every pass
// evaluates against whatever prices are already stored.
func NewRunner(source PriceSource, evaluator *Evaluator) *Runner {
	return &Runner{source: source, evaluator: evaluator}
}

// SetStatusNotifier registers n for failure and recovery notices.
func (r *Runner) SetStatusNotifier(n StatusNotifier) {
	r.status = n
}

// SetRefreshTimeout bounds the refresh step. Evaluation is not bounded by it, so
// a refresh that runs out of time still leaves the stored prices to evaluate.
func (r *Runner) SetRefreshTimeout(d time.Duration) {
	r.refreshTimeout = d
}

// RunOnce performs one full pass. Errors are logged and reported, never returned
// or raised, and a failed refresh does not prevent evaluation.
func (r *Runner) RunOnce(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: time.Now()}
	logger.Debug("Starting price update cycle")

	if r.source != nil {
		if err := runStep("refresh", func() error { return r.refresh(ctx) }); err != nil {
			report.RefreshErr = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
			logger.Error("Price refresh failed, evaluating against last known prices: %v", err)
		}
	}

	err := runStep("evaluate", func() error {
		summary, err := r.evaluator.Evaluate(ctx)
		report.Summary = summary
		return err
	})
	if err != nil {
		report.EvalErr = err
		logger.Error("Alert evaluation failed: %v", err)
	}

	report.Duration = time.Since(report.StartedAt)
	stats := r.record(report)

	logger.Info("Price update cycle complete in %v (mean %v, stddev %v over %d cycles)",
		report.Duration.Round(time.Millisecond),
		stats.Mean().Round(time.Millisecond),
		stats.StdDev().Round(time.Millisecond),
		stats.Count,
	)
	return report
}

func (r *Runner) refresh(ctx context.Context) error {
	if r.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.refreshTimeout)
		defer cancel()
	}
	return r.source.RefreshAll(ctx)
}

// Stats returns a snapshot of cycle duration statistics.
func (r *Runner) Stats() DurationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// record updates statistics and the failure streak, then sends any status notice.
func (r *Runner) record(report CycleReport) DurationStats {
	r.mu.Lock()
	r.stats.Update(report.Duration)
	stats := r.stats

	var notifyErr error
	var recovered int
	if report.Failed() {
		r.consecutiveFailures++
		if r.consecutiveFailures == 1 {
			notifyErr = report.Err()
		}
	} else {
		recovered = r.consecutiveFailures
		r.consecutiveFailures = 0
	}
	r.mu.Unlock()

	if r.status == nil {
		return stats
	}
	if notifyErr != nil {
		if err := r.status.SendError(notifyErr); err != nil {
			logger.Warn("Failed to send error notification: %v", err)
		}
	}
	if recovered > 0 {
		if err := r.status.SendRecovery(recovered); err != nil {
			logger.Warn("Failed to send recovery notification: %v", err)
		}
	}
	return stats
}

// runStep runs fn and turns a panic into an error so one step cannot take the
// rest of the cycle down with it.
func runStep(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s step panicked: %v", name, rec)
		}
	}()
	return fn()
}
