package pricesource

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
)

// DefaultConcurrency bounds parallel quote requests.
const DefaultConcurrency = 4

// QuoteFetcher returns the current quote for a symbol.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
}

// HTTPSource polls a quote endpoint for every configured symbol.
type HTTPSource struct {
	fetcher     QuoteFetcher
	store       Store
	symbols     []string
	concurrency int
	now         func() time.Time
}

// NewHTTPSource creates a source refreshing symbols through fetcher.
func NewHTTPSource(fetcher QuoteFetcher, store Store, symbols []string, concurrency int) *HTTPSource {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	seen := make(map[string]bool, len(symbols))
	normalized := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = models.NormalizeSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		normalized = append(normalized, sym)
	}
	sort.Strings(normalized)

	return &HTTPSource{
		fetcher:     fetcher,
		store:       store,
		symbols:     normalized,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// RefreshAll fetches and stores a quote per symbol. Symbols that succeed are
// written even when others fail; the failures are joined into the result.
func (h *HTTPSource) RefreshAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		ok   int
	)

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for _, sym := range h.symbols {
		sym := sym
		g.Go(func() error {
			err := h.refresh(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			} else {
				ok++
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug("Refreshed %d of %d symbols", ok, len(h.symbols))
	return errors.Join(errs...)
}

func (h *HTTPSource) refresh(ctx context.Context, symbol string) error {
	quote, err := h.fetcher.FetchQuote(ctx, symbol)
	if err != nil {
		return err
	}
	return h.store.SetPrice(ctx, symbol, quote.Price, h.now())
}

// ResetDailyStats closes the trading day in the store.
func (h *HTTPSource) ResetDailyStats(ctx context.Context) error {
	return h.store.ResetDailyStats(ctx)
}
