// Package alerts manages the lifecycle of price alerts on behalf of their
// owners. Writes go straight to the repository, so the next evaluator pass
// sees them.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
)

// ErrForbidden is returned when a caller touches an alert it does not own.
var ErrForbidden = errors.New("alert belongs to another owner")

// Repository is the alert persistence the service needs.
type Repository interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlertsByOwner(ctx context.Context, ownerID string) ([]models.Alert, error)
	FindAlertsBySymbol(ctx context.Context, symbol string) ([]models.Alert, error)
	// UpdateAlert writes condition, target and updated_at, plus the trigger
	// state when withState is set.
	UpdateAlert(ctx context.Context, alert *models.Alert, withState bool) error
	DeleteAlert(ctx context.Context, id string) error
}

// UpdatePatch lists the fields an owner may change. Nil fields are left alone.
type UpdatePatch struct {
	Price     *string
	Condition *string
	Triggered *bool
}

// Service implements alert management.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewService creates a service over repo.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create registers a new pending alert for owner.
func (s *Service) Create(ctx context.Context, owner, symbol, condition, price string) (*models.Alert, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(symbol) == "" ||
		strings.TrimSpace(condition) == "" || strings.TrimSpace(price) == "" {
		return nil, fmt.Errorf("%w: symbol, condition and price are required", models.ErrInvalidAlert)
	}
	cond, err := models.ParseCondition(condition)
	if err != nil {
		return nil, err
	}
	target, err := parsePrice(price)
	if err != nil {
		return nil, err
	}

	now := s.now()
	alert := &models.Alert{
		ID:          s.newID(),
		OwnerID:     owner,
		Symbol:      models.NormalizeSymbol(symbol),
		Condition:   cond,
		TargetPrice: target,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	logger.Info("Alert created: %s %s for owner %s", alert.ID, alert.String(), owner)
	return alert, nil
}

// List returns the owner's alerts, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]models.Alert, error) {
	return s.repo.ListAlertsByOwner(ctx, owner)
}

// ListBySymbol returns the owner's alerts on symbol, newest first.
func (s *Service) ListBySymbol(ctx context.Context, owner, symbol string) ([]models.Alert, error) {
	all, err := s.repo.FindAlertsBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	owned := all[:0]
	for _, a := range all {
		if a.OwnerID == owner {
			owned = append(owned, a)
		}
	}
	return owned, nil
}

// Get returns an alert the owner holds.
func (s *Service) Get(ctx context.Context, owner, id string) (*models.Alert, error) {
	alert, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.OwnerID != owner {
		return nil, fmt.Errorf("alert %s: %w", id, ErrForbidden)
	}
	return alert, nil
}

// Delete removes an alert the owner holds.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}
	if err := s.repo.DeleteAlert(ctx, id); err != nil {
		return err
	}
	logger.Info("Alert deleted: %s", id)
	return nil
}

// Update applies patch to an alert the owner holds. A condition other than GT
// or LT is ignored; an invalid price is rejected. Resetting triggered to false
// re-arms the alert for the next evaluation. The trigger state is written only
// when the patch changes it, so an edit racing a cycle keeps the cycle's commit.
func (s *Service) Update(ctx context.Context, owner, id string, patch UpdatePatch) (*models.Alert, error) {
	alert, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if patch.Price != nil {
		target, err := parsePrice(*patch.Price)
		if err != nil {
			return nil, err
		}
		alert.TargetPrice = target
	}
	if patch.Condition != nil {
		if cond, err := models.ParseCondition(*patch.Condition); err == nil {
			alert.Condition = cond
		} else {
			logger.Debug("Ignoring invalid condition %q for alert %s", *patch.Condition, id)
		}
	}

	now := s.now()
	withState := patch.Triggered != nil && *patch.Triggered != alert.Triggered
	if withState {
		alert.Triggered = *patch.Triggered
		if alert.Triggered {
			alert.TriggeredAt = &now
		} else {
			alert.TriggeredAt = nil
		}
	}
	alert.UpdatedAt = now

	if err := s.repo.UpdateAlert(ctx, alert, withState); err != nil {
		return nil, err
	}
	if !withState {
		// The trigger state may have moved since the read.
		if current, err := s.repo.GetAlert(ctx, id); err == nil {
			alert = current
		}
	}
	logger.Info("Alert updated: %s %s (triggered: %v)", alert.ID, alert.String(), alert.Triggered)
	return alert, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid price %q", models.ErrInvalidAlert, s)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: price must be positive, got %s", models.ErrInvalidAlert, price)
	}
	return price, nil
}
