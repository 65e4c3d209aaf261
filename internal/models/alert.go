// Package models defines the core domain entities: alerts and market prices.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by stores when a requested alert or price does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyTriggered is returned by CommitTriggered when the alert left the pending set
	// before the commit landed.
	ErrAlreadyTriggered = errors.New("alert already triggered")
	// ErrInvalidAlert wraps every alert validation failure.
	ErrInvalidAlert = errors.New("invalid alert")
)

// Condition is the comparison an alert applies to the current market price.
type Condition string

const (
	GreaterThan Condition = "GT"
	LessThan    Condition = "LT"
)

// ParseCondition accepts GT or LT, case-insensitively.
func ParseCondition(s string) (Condition, error) {
	switch c := Condition(strings.ToUpper(strings.TrimSpace(s))); c {
	case GreaterThan, LessThan:
		return c, nil
	default:
		return "", fmt.Errorf("%w: condition must be GT or LT, got %q", ErrInvalidAlert, s)
	}
}

// Valid reports whether c is one of the supported conditions.
func (c Condition) Valid() bool {
	return c == GreaterThan || c == LessThan
}

// Met reports whether price satisfies the condition against target.
// Both comparisons are strict: a price equal to the target never fires.
func (c Condition) Met(price, target decimal.Decimal) bool {
	switch c {
	case GreaterThan:
		return price.GreaterThan(target)
	case LessThan:
		return price.LessThan(target)
	default:
		return false
	}
}

// Alert is one user's price watch on a single symbol.
type Alert struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Symbol      string          `json:"symbol"`
	Condition   Condition       `json:"condition"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Triggered   bool            `json:"triggered"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	TriggeredAt *time.Time      `json:"triggered_at,omitempty"`
}

// NormalizeSymbol trims and uppercases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate checks alert field constraints.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: ID must not be empty", ErrInvalidAlert)
	}
	if a.OwnerID == "" {
		return fmt.Errorf("%w: owner ID must not be empty", ErrInvalidAlert)
	}
	if a.Symbol == "" {
		return fmt.Errorf("%w: symbol must not be empty", ErrInvalidAlert)
	}
	if a.Symbol != NormalizeSymbol(a.Symbol) {
		return fmt.Errorf("%w: symbol must be uppercase, got %q", ErrInvalidAlert, a.Symbol)
	}
	if !a.Condition.Valid() {
		return fmt.Errorf("%w: condition must be GT or LT, got %q", ErrInvalidAlert, a.Condition)
	}
	if !a.TargetPrice.IsPositive() {
		return fmt.Errorf("%w: target price must be positive", ErrInvalidAlert)
	}
	if a.Triggered && a.TriggeredAt == nil {
		return fmt.Errorf("%w: triggered alert must carry a trigger time", ErrInvalidAlert)
	}
	return nil
}

// ShouldTrigger reports whether a pending alert fires at the given price.
// A triggered alert never fires again.
func (a *Alert) ShouldTrigger(price decimal.Decimal) bool {
	if a.Triggered {
		return false
	}
	return a.Condition.Met(price, a.TargetPrice)
}

func (a *Alert) String() string {
	return fmt.Sprintf("%s %s %s", a.Symbol, a.Condition, a.TargetPrice.StringFixed(2))
}
