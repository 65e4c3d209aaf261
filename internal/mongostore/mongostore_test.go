package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
)

func TestAlertDocRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	a := &models.Alert{
		ID:          "a-1",
		OwnerID:     "u-1",
		Symbol:      "AAPL",
		Condition:   models.LessThan,
		TargetPrice: decimal.RequireFromString("0.000123456789"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	got, err := fromAlertDoc(toAlertDoc(a))
	if err != nil {
		t.Fatalf("fromAlertDoc: %v", err)
	}
	if !got.TargetPrice.Equal(a.TargetPrice) {
		t.Errorf("target price lost precision: %s != %s", got.TargetPrice, a.TargetPrice)
	}
	if got.Condition != models.LessThan || got.Symbol != "AAPL" {
		t.Errorf("unexpected alert: %+v", got)
	}
}

func TestFromPriceDoc_BadDecimal(t *testing.T) {
	_, err := fromPriceDoc(priceDoc{Symbol: "AAPL", Price: "abc", Open: "1", High: "1", Low: "1"})
	if err == nil {
		t.Error("expected error for malformed price")
	}
}

// newTestStore connects to PRICEWATCH_TEST_MONGO_URI and uses a throwaway database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("PRICEWATCH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PRICEWATCH_TEST_MONGO_URI not set")
	}
	dbName := "pricewatch_test_" + uuid.NewString()[:8]
	s, err := Connect(context.Background(), uri, dbName)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = s.client.Database(dbName).Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStore_CommitTriggered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := &models.Alert{
		ID: "a-1", OwnerID: "u-1", Symbol: "AAPL", Condition: models.GreaterThan,
		TargetPrice: decimal.NewFromInt(150), CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateAlert(ctx, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if err := s.CommitTriggered(ctx, "a-1", now); err != nil {
		t.Fatalf("CommitTriggered: %v", err)
	}
	if err := s.CommitTriggered(ctx, "a-1", now); !errors.Is(err, models.ErrAlreadyTriggered) {
		t.Errorf("expected ErrAlreadyTriggered, got %v", err)
	}
	if err := s.CommitTriggered(ctx, "missing", now); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	pending, err := s.FindPendingAlerts(ctx)
	if err != nil {
		t.Fatalf("FindPendingAlerts: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending alerts, got %d", len(pending))
	}
}

func TestStore_Prices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if _, err := s.GetPrice(ctx, "AAPL"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetPrice(ctx, "AAPL", decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if err := s.SetPrice(ctx, "AAPL", decimal.NewFromInt(120), now.Add(time.Second)); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if err := s.SetPrice(ctx, "AAPL", decimal.NewFromInt(1), now.Add(-time.Second)); err != nil {
		t.Fatalf("SetPrice stale: %v", err)
	}

	got, err := s.GetPrice(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !got.Price.Equal(decimal.NewFromInt(120)) || !got.High.Equal(decimal.NewFromInt(120)) || !got.Open.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected price record: %+v", got)
	}

	if err := s.ResetDailyStats(ctx); err != nil {
		t.Fatalf("ResetDailyStats: %v", err)
	}
	got, _ = s.GetPrice(ctx, "AAPL")
	if !got.PreviousClose.Equal(got.Price) || !got.Low.Equal(got.Price) {
		t.Errorf("daily stats not reset: %+v", got)
	}
}
