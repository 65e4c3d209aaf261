package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MarketPrice is the latest known price of a symbol together with its
// statistics for the current trading day.
type MarketPrice struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks market price field constraints.
func (p *MarketPrice) Validate() error {
	if p.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if p.Symbol != NormalizeSymbol(p.Symbol) {
		return errors.New("symbol must be uppercase")
	}
	if !p.Price.IsPositive() {
		return errors.New("price must be positive")
	}
	if p.UpdatedAt.IsZero() {
		return errors.New("updated at must be set")
	}
	return nil
}

// ChangePercent is the move since the previous close, in percent.
// It is zero until a daily reset has recorded a previous close.
func (p *MarketPrice) ChangePercent() decimal.Decimal {
	if !p.PreviousClose.IsPositive() {
		return decimal.Zero
	}
	return p.Price.Sub(p.PreviousClose).Div(p.PreviousClose).Mul(decimal.NewFromInt(100))
}

// Apply folds a new observation into the record: the price moves, the day's
// range widens and the open is initialised on the first observation.
// Observations older than UpdatedAt are ignored and Apply reports false.
func (p *MarketPrice) Apply(price decimal.Decimal, at time.Time) bool {
	if !p.UpdatedAt.IsZero() && at.Before(p.UpdatedAt) {
		return false
	}
	if p.Open.IsZero() {
		p.Open = price
	}
	if p.High.IsZero() || price.GreaterThan(p.High) {
		p.High = price
	}
	if p.Low.IsZero() || price.LessThan(p.Low) {
		p.Low = price
	}
	p.Price = price
	p.UpdatedAt = at
	return true
}

// ResetDaily closes the trading day at the current price.
func (p *MarketPrice) ResetDaily() {
	p.PreviousClose = p.Price
	p.Open = p.Price
	p.High = p.Price
	p.Low = p.Price
}
