package alerts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/rewired-gh/pricewatch/internal/storage"
	"github.com/shopspring/decimal"
)

func newService(t *testing.T) (*Service, *storage.Storage) {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc := NewService(s)
	clock := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("alert-%d", seq)
	}
	return svc, s
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestCreate(t *testing.T) {
	tests := []struct {
		name      string
		owner     string
		symbol    string
		condition string
		price     string
		wantErr   bool
	}{
		{"valid", "u1", "aapl", "gt", "150.50", false},
		{"missing symbol", "u1", "", "GT", "150", true},
		{"missing price", "u1", "AAPL", "GT", "", true},
		{"missing owner", "", "AAPL", "GT", "150", true},
		{"bad condition", "u1", "AAPL", "EQ", "150", true},
		{"unparseable price", "u1", "AAPL", "LT", "abc", true},
		{"zero price", "u1", "AAPL", "LT", "0", true},
		{"negative price", "u1", "AAPL", "LT", "-5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t)
			alert, err := svc.Create(context.Background(), tt.owner, tt.symbol, tt.condition, tt.price)
			if tt.wantErr {
				if !errors.Is(err, models.ErrInvalidAlert) {
					t.Errorf("expected ErrInvalidAlert, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if alert.Symbol != "AAPL" || alert.Condition != models.GreaterThan || alert.Triggered {
				t.Errorf("unexpected alert: %+v", alert)
			}
			if !alert.TargetPrice.Equal(decimal.RequireFromString("150.5")) {
				t.Errorf("target = %s", alert.TargetPrice)
			}
		})
	}
}

func TestListNewestFirst(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, sym := range []string{"AAPL", "MSFT", "TSLA"} {
		if _, err := svc.Create(ctx, "u1", sym, "GT", "10"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := svc.Create(ctx, "u2", "NVDA", "GT", "10"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].Symbol != "TSLA" || list[2].Symbol != "AAPL" {
		t.Errorf("unexpected order: %+v", list)
	}
}

func TestListBySymbol(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	first, _ := svc.Create(ctx, "u1", "AAPL", "GT", "10")
	if _, err := svc.Create(ctx, "u1", "MSFT", "GT", "10"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, _ := svc.Create(ctx, "u1", "aapl", "LT", "5")
	if _, err := svc.Create(ctx, "u2", "AAPL", "GT", "10"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := svc.ListBySymbol(ctx, "u1", "Aapl")
	if err != nil {
		t.Fatalf("ListBySymbol: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected the owner's AAPL alerts newest first, got %+v", list)
	}
}

func TestOwnership(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	alert, err := svc.Create(ctx, "u1", "AAPL", "GT", "150")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Get(ctx, "u2", alert.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Get by other owner = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(ctx, "u2", alert.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Delete by other owner = %v, want ErrForbidden", err)
	}
	if _, err := svc.Update(ctx, "u2", alert.ID, UpdatePatch{Price: strPtr("1")}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Update by other owner = %v, want ErrForbidden", err)
	}
	if _, err := svc.Get(ctx, "u1", "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	if err := svc.Delete(ctx, "u1", alert.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, "u1", alert.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	alert, err := svc.Create(ctx, "u1", "AAPL", "GT", "150")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := svc.Update(ctx, "u1", alert.ID, UpdatePatch{Price: strPtr("175.25"), Condition: strPtr("lt")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.TargetPrice.Equal(decimal.RequireFromString("175.25")) || updated.Condition != models.LessThan {
		t.Errorf("unexpected update: %+v", updated)
	}
	if !updated.UpdatedAt.After(alert.UpdatedAt) {
		t.Error("updated at should advance")
	}

	// An invalid condition is ignored, the rest of the patch applies.
	updated, err = svc.Update(ctx, "u1", alert.ID, UpdatePatch{Price: strPtr("180"), Condition: strPtr("BETWEEN")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Condition != models.LessThan || !updated.TargetPrice.Equal(decimal.NewFromInt(180)) {
		t.Errorf("unexpected update: %+v", updated)
	}

	if _, err := svc.Update(ctx, "u1", alert.ID, UpdatePatch{Price: strPtr("-1")}); !errors.Is(err, models.ErrInvalidAlert) {
		t.Errorf("invalid price = %v, want ErrInvalidAlert", err)
	}

	stored, _ := store.GetAlert(ctx, alert.ID)
	if !stored.TargetPrice.Equal(decimal.NewFromInt(180)) {
		t.Errorf("rejected patch must not persist, target = %s", stored.TargetPrice)
	}
}

func TestUpdate_ResetTriggeredRearms(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	alert, err := svc.Create(ctx, "u1", "AAPL", "GT", "150")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.CommitTriggered(ctx, alert.ID, time.Now()); err != nil {
		t.Fatalf("CommitTriggered: %v", err)
	}

	updated, err := svc.Update(ctx, "u1", alert.ID, UpdatePatch{Triggered: boolPtr(false)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Triggered || updated.TriggeredAt != nil {
		t.Errorf("alert should be pending again: %+v", updated)
	}

	pending, err := store.FindPendingAlerts(ctx)
	if err != nil {
		t.Fatalf("FindPendingAlerts: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != alert.ID {
		t.Errorf("re-armed alert should be pending, got %+v", pending)
	}
}

// commitBetween commits the alert as triggered between the service's read and
// its write, the way a cycle running concurrently with an edit would.
type commitBetween struct {
	*storage.Storage
	armed bool
}

func (r *commitBetween) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := r.Storage.GetAlert(ctx, id)
	if err == nil && r.armed {
		r.armed = false
		if cerr := r.Storage.CommitTriggered(ctx, id, time.Now()); cerr != nil {
			return nil, cerr
		}
	}
	return a, err
}

func TestUpdate_PriceEditKeepsConcurrentTrigger(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	alert, err := svc.Create(ctx, "u1", "AAPL", "GT", "150")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	repo := &commitBetween{Storage: store, armed: true}
	svc.repo = repo
	updated, err := svc.Update(ctx, "u1", alert.ID, UpdatePatch{Price: strPtr("160")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	stored, err := store.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !stored.Triggered || stored.TriggeredAt == nil {
		t.Errorf("price-only edit reverted a committed trigger: %+v", stored)
	}
	if !stored.TargetPrice.Equal(decimal.NewFromInt(160)) {
		t.Errorf("target = %s, want 160", stored.TargetPrice)
	}
	if !updated.Triggered {
		t.Error("returned alert should reflect the committed trigger")
	}
	pending, _ := store.FindPendingAlerts(ctx)
	if len(pending) != 0 {
		t.Errorf("alert must not be pending again, got %d pending", len(pending))
	}
}
