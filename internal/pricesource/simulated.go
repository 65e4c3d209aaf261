package pricesource

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultVolatility bounds a single random-walk step to 1% of the price.
const DefaultVolatility = 0.01

// MinPrice is the floor of the random walk.
var MinPrice = decimal.RequireFromString("0.01")

// Simulated moves every configured symbol by a bounded random step on each
// refresh. It stands in for a market feed in development and demos.
type Simulated struct {
	store      Store
	seeds      map[string]decimal.Decimal
	symbols    []string
	volatility decimal.Decimal
	now        func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a random walk over seeds (symbol to starting price).
// A non-positive volatility falls back to DefaultVolatility.
func NewSimulated(store Store, seeds map[string]decimal.Decimal, volatility float64, rngSeed uint64) *Simulated {
	if volatility <= 0 {
		volatility = DefaultVolatility
	}
	normalized := make(map[string]decimal.Decimal, len(seeds))
	symbols := make([]string, 0, len(seeds))
	for sym, price := range seeds {
		sym = models.NormalizeSymbol(sym)
		normalized[sym] = price
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	return &Simulated{
		store:      store,
		seeds:      normalized,
		symbols:    symbols,
		volatility: decimal.NewFromFloat(volatility),
		now:        time.Now,
		rng:        rand.New(rand.NewPCG(rngSeed, rngSeed^0x9e3779b97f4a7c15)),
	}
}

// Symbols returns the simulated symbols in sorted order.
func (s *Simulated) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Seed writes the starting price of every symbol that has no price yet and
// reports how many were written.
func (s *Simulated) Seed(ctx context.Context) (int, error) {
	seeded := 0
	var errs []error
	for _, sym := range s.symbols {
		_, err := s.store.GetPrice(ctx, sym)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		if err := s.store.SetPrice(ctx, sym, s.seeds[sym], s.now()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		seeded++
		logger.Debug("Seeded %s at %s", sym, s.seeds[sym].StringFixed(2))
	}
	return seeded, errors.Join(errs...)
}

// RefreshAll advances the walk one step for every symbol. Symbols without a
// stored price start from their seed.
func (s *Simulated) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, sym := range s.symbols {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		current := s.seeds[sym]
		mp, err := s.store.GetPrice(ctx, sym)
		switch {
		case err == nil:
			current = mp.Price
		case !errors.Is(err, models.ErrNotFound):
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}

		next := s.step(current)
		if err := s.store.SetPrice(ctx, sym, next, s.now()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		logger.Debug("Simulated %s: %s -> %s", sym, current.StringFixed(2), next.StringFixed(2))
	}
	return errors.Join(errs...)
}

// ResetDailyStats closes the trading day in the store.
func (s *Simulated) ResetDailyStats(ctx context.Context) error {
	return s.store.ResetDailyStats(ctx)
}

// step returns price moved by a uniform random fraction in [-volatility, volatility],
// rounded to cents and floored at MinPrice.
func (s *Simulated) step(price decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	r := s.rng.Float64()*2 - 1
	s.mu.Unlock()

	change := price.Mul(s.volatility).Mul(decimal.NewFromFloat(r))
	next := price.Add(change).Round(2)
	if next.LessThan(MinPrice) {
		return MinPrice
	}
	return next
}
