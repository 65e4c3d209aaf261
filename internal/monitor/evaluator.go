package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultWorkers bounds how many alerts are evaluated at once.
const DefaultWorkers = 8

// Outcome is what happened to one pending alert during an evaluation.
type Outcome int

const (
	OutcomeNotMet Outcome = iota
	OutcomeTriggered
	OutcomeMissingPrice
	OutcomeAlreadyTriggered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotMet:
		return "not_met"
	case OutcomeTriggered:
		return "triggered"
	case OutcomeMissingPrice:
		return "missing_price"
	case OutcomeAlreadyTriggered:
		return "already_triggered"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the tagged per-alert result of an evaluation.
type Result struct {
	AlertID string
	Symbol  string
	Outcome Outcome
	Price   *models.MarketPrice // nil when no price was available
	Err     error               // set only for OutcomeFailed
}

// Summary aggregates the results of one evaluation.
type Summary struct {
	Pending          int
	Triggered        int
	NotMet           int
	Deferred         int
	AlreadyTriggered int
	Failed           int
	Results          []Result
}

// TriggeredIDs returns the IDs of alerts triggered by this evaluation, sorted.
func (s *Summary) TriggeredIDs() []string {
	var ids []string
	for _, r := range s.Results {
		if r.Outcome == OutcomeTriggered {
			ids = append(ids, r.AlertID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Evaluator decides which pending alerts fire against the current prices and
// commits each transition.
type Evaluator struct {
	alerts   AlertStore
	prices   PriceReader
	notifier Notifier
	workers  int
	now      func() time.Time
}

// NewEvaluator creates an evaluator running up to workers alerts concurrently.
func NewEvaluator(alerts AlertStore, prices PriceReader, workers int) *Evaluator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Evaluator{
		alerts:  alerts,
		prices:  prices,
		workers: workers,
		now:     time.Now,
	}
}

// SetNotifier registers n to be told about every triggered alert.
func (e *Evaluator) SetNotifier(n Notifier) {
	e.notifier = n
}

// Evaluate runs one pass over a snapshot of the pending alerts. Only a failure
// to load that snapshot is returned; per-alert failures are isolated in the
// summary and never stop the rest of the batch.
func (e *Evaluator) Evaluate(ctx context.Context) (*Summary, error) {
	pending, err := e.alerts.FindPendingAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load pending alerts: %w", ErrPersistence, err)
	}

	prices := newPriceSnapshot(e.prices)
	results := make([]Result, len(pending))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range pending {
		i := i
		g.Go(func() error {
			results[i] = e.evaluateOne(ctx, prices, pending[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{Pending: len(pending), Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeTriggered:
			summary.Triggered++
		case OutcomeNotMet:
			summary.NotMet++
		case OutcomeMissingPrice:
			summary.Deferred++
		case OutcomeAlreadyTriggered:
			summary.AlreadyTriggered++
		case OutcomeFailed:
			summary.Failed++
		}
	}

	if summary.Triggered > 0 {
		logger.Info("Triggered %d alert(s)", summary.Triggered)
	}
	if summary.Failed > 0 {
		logger.Warn("%d of %d pending alert(s) could not be evaluated", summary.Failed, summary.Pending)
	}
	logger.Debug("Evaluated %d pending alert(s): %d triggered, %d not met, %d deferred, %d already triggered, %d failed",
		summary.Pending, summary.Triggered, summary.NotMet, summary.Deferred, summary.AlreadyTriggered, summary.Failed)

	return summary, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, prices *priceSnapshot, alert models.Alert) Result {
	res := Result{AlertID: alert.ID, Symbol: alert.Symbol}

	mp, err := prices.get(ctx, alert.Symbol)
	if errors.Is(err, models.ErrNotFound) || (err == nil && mp == nil) {
		res.Outcome = OutcomeMissingPrice
		return res
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: price lookup for %s: %w", ErrPersistence, alert.Symbol, err)
		logger.Warn("Failed to read price for alert %s: %v", alert.ID, err)
		return res
	}
	res.Price = mp

	if !alert.ShouldTrigger(mp.Price) {
		res.Outcome = OutcomeNotMet
		return res
	}

	err = e.alerts.CommitTriggered(ctx, alert.ID, e.now())
	if errors.Is(err, models.ErrAlreadyTriggered) {
		res.Outcome = OutcomeAlreadyTriggered
		return res
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: commit alert %s: %w", ErrPersistence, alert.ID, err)
		logger.Warn("Failed to commit triggered alert %s: %v", alert.ID, err)
		return res
	}

	res.Outcome = OutcomeTriggered
	l := logger.With("alert_id", alert.ID)
	l.Info().
		Str("symbol", alert.Symbol).
		Str("condition", string(alert.Condition)).
		Str("target", alert.TargetPrice.String()).
		Str("price", mp.Price.String()).
		Msg("Alert triggered")

	if e.notifier != nil {
		if err := e.notifier.NotifyTriggered(ctx, alert, *mp); err != nil {
			logger.Warn("Failed to send notification for alert %s: %v", alert.ID, err)
		}
	}
	return res
}

// priceSnapshot reads each symbol at most once per evaluation. Concurrent
// lookups of the same symbol share one store read and its result.
type priceSnapshot struct {
	reader PriceReader
	group  singleflight.Group

	mu    sync.Mutex
	cache map[string]priceLookup
}

type priceLookup struct {
	price *models.MarketPrice
	err   error
}

func newPriceSnapshot(reader PriceReader) *priceSnapshot {
	return &priceSnapshot{reader: reader, cache: make(map[string]priceLookup)}
}

func (s *priceSnapshot) get(ctx context.Context, symbol string) (*models.MarketPrice, error) {
	s.mu.Lock()
	if l, ok := s.cache[symbol]; ok {
		s.mu.Unlock()
		return l.price, l.err
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(symbol, func() (interface{}, error) {
		s.mu.Lock()
		if l, ok := s.cache[symbol]; ok {
			s.mu.Unlock()
			return l.price, l.err
		}
		s.mu.Unlock()

		p, err := s.reader.GetPrice(ctx, symbol)
		s.mu.Lock()
		s.cache[symbol] = priceLookup{price: p, err: err}
		s.mu.Unlock()
		return p, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.MarketPrice), nil
}
