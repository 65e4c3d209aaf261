package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory AlertStore and PriceReader with failure injection.
type memStore struct {
	mu         sync.Mutex
	alerts     map[string]*models.Alert
	order      []string
	prices     map[string]models.MarketPrice
	priceReads map[string]int

	failPending error
	failCommit  map[string]error
	failPrice   map[string]error
	// beforeCommit runs inside CommitTriggered before the state check.
	beforeCommit func(id string)
}

func newMemStore() *memStore {
	return &memStore{
		alerts:     make(map[string]*models.Alert),
		prices:     make(map[string]models.MarketPrice),
		priceReads: make(map[string]int),
		failCommit: make(map[string]error),
		failPrice:  make(map[string]error),
	}
}

func (m *memStore) addAlert(id, symbol string, cond models.Condition, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.alerts[id] = &models.Alert{
		ID:          id,
		OwnerID:     "owner",
		Symbol:      symbol,
		Condition:   cond,
		TargetPrice: decimal.RequireFromString(target),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.order = append(m.order, id)
}

func (m *memStore) setPrice(symbol, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := decimal.RequireFromString(price)
	m.prices[symbol] = models.MarketPrice{Symbol: symbol, Price: p, Open: p, High: p, Low: p, UpdatedAt: time.Now()}
}

func (m *memStore) alert(id string) models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.alerts[id]
}

func (m *memStore) FindPendingAlerts(ctx context.Context) ([]models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPending != nil {
		return nil, m.failPending
	}
	var out []models.Alert
	for _, id := range m.order {
		if a := m.alerts[id]; !a.Triggered {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) CommitTriggered(ctx context.Context, id string, at time.Time) error {
	if m.beforeCommit != nil {
		m.beforeCommit(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCommit[id]; err != nil {
		return err
	}
	a, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if a.Triggered {
		return fmt.Errorf("alert %s: %w", id, models.ErrAlreadyTriggered)
	}
	a.Triggered = true
	a.TriggeredAt = &at
	return nil
}

func (m *memStore) GetPrice(ctx context.Context, symbol string) (*models.MarketPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceReads[symbol]++
	if err := m.failPrice[symbol]; err != nil {
		return nil, err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("price %s: %w", symbol, models.ErrNotFound)
	}
	return &p, nil
}

// fakeSource records calls and optionally writes prices or fails.
type fakeSource struct {
	mu        sync.Mutex
	refreshes int
	resets    int
	err       error
	panicMsg  string
	onRefresh func()
	// blocks makes RefreshAll wait for its context to end.
	blocks bool
}

func (f *fakeSource) RefreshAll(ctx context.Context) error {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.onRefresh != nil {
		f.onRefresh()
	}
	if f.blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeSource) ResetDailyStats(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.err
}

type recordingNotifier struct {
	mu        sync.Mutex
	triggered []string
	err       error
}

func (n *recordingNotifier) NotifyTriggered(ctx context.Context, alert models.Alert, price models.MarketPrice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.triggered = append(n.triggered, alert.ID)
	return n.err
}

type recordingStatus struct {
	errors     []error
	recoveries []int
}

func (s *recordingStatus) SendError(cycleErr error) error {
	s.errors = append(s.errors, cycleErr)
	return nil
}

func (s *recordingStatus) SendRecovery(failureCount int) error {
	s.recoveries = append(s.recoveries, failureCount)
	return errors.New("telegram down")
}
