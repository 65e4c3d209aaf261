// Package pricesource feeds market prices into the price store, either from a
// simulated random walk or from an HTTP quote endpoint.
package pricesource

import (
	"context"
	"time"

	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
)

// Store is the price persistence a source writes to.
type Store interface {
	GetPrice(ctx context.Context, symbol string) (*models.MarketPrice, error)
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error
	ResetDailyStats(ctx context.Context) error
}
