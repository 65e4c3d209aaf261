// Package storage provides SQLite-backed persistence for alerts and market prices.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/pricewatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pricewatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			condition    TEXT NOT NULL CHECK (condition IN ('GT', 'LT')),
			target_price TEXT NOT NULL,
			triggered    INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL,
			triggered_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_pending ON alerts(triggered, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol)`,
		`CREATE TABLE IF NOT EXISTS market_prices (
			symbol      TEXT PRIMARY KEY,
			price       TEXT NOT NULL,
			open        TEXT NOT NULL,
			high        TEXT NOT NULL,
			low         TEXT NOT NULL,
			prev_close  TEXT NOT NULL DEFAULT '0',
			updated_at  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const alertCols = `id, owner_id, symbol, condition, target_price, triggered, created_at, updated_at, triggered_at`

func (s *Storage) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertCols+`)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		alert.ID, alert.OwnerID, alert.Symbol, string(alert.Condition), alert.TargetPrice.String(),
		boolToInt(alert.Triggered), alert.CreatedAt.UnixNano(), alert.UpdatedAt.UnixNano(),
		nullableTime(alert.TriggeredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *Storage) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListAlertsByOwner returns the owner's alerts, newest first.
func (s *Storage) ListAlertsByOwner(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertCols+` FROM alerts WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
}

// FindAlertsBySymbol returns every alert on symbol, newest first.
func (s *Storage) FindAlertsBySymbol(ctx context.Context, symbol string) ([]models.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertCols+` FROM alerts WHERE symbol = ? ORDER BY created_at DESC`, models.NormalizeSymbol(symbol))
}

// FindPendingAlerts returns a snapshot of every alert that has not triggered yet.
func (s *Storage) FindPendingAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertCols+` FROM alerts WHERE triggered = 0 ORDER BY created_at`)
}

// UpdateAlert persists the owner-editable fields of an existing alert. The
// trigger state is written only when withState is set, so an edit that leaves
// it alone cannot undo a trigger committed since the alert was read.
func (s *Storage) UpdateAlert(ctx context.Context, alert *models.Alert, withState bool) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	query := `UPDATE alerts SET condition=?, target_price=?, updated_at=? WHERE id=?`
	args := []any{string(alert.Condition), alert.TargetPrice.String(), alert.UpdatedAt.UnixNano(), alert.ID}
	if withState {
		query = `
		UPDATE alerts SET condition=?, target_price=?, updated_at=?, triggered=?, triggered_at=?
		WHERE id=?`
		args = []any{
			string(alert.Condition), alert.TargetPrice.String(), alert.UpdatedAt.UnixNano(),
			boolToInt(alert.Triggered), nullableTime(alert.TriggeredAt), alert.ID,
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert %s: %w", alert.ID, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// CommitTriggered moves a pending alert to triggered. The update only matches
// pending rows, so a second commit for the same alert returns
// models.ErrAlreadyTriggered instead of firing it again.
func (s *Storage) CommitTriggered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET triggered=1, triggered_at=?, updated_at=?
		WHERE id=? AND triggered=0`,
		at.UnixNano(), at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to commit triggered alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var triggered int
	err = s.db.QueryRowContext(ctx, `SELECT triggered FROM alerts WHERE id = ?`, id).Scan(&triggered)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check alert state: %w", err)
	}
	return fmt.Errorf("alert %s: %w", id, models.ErrAlreadyTriggered)
}

func (s *Storage) queryAlerts(ctx context.Context, query string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func scanAlert(scan func(...any) error) (*models.Alert, error) {
	var a models.Alert
	var condition, target string
	var triggered int
	var createdAtNano, updatedAtNano int64
	var triggeredAtNano sql.NullInt64

	err := scan(
		&a.ID, &a.OwnerID, &a.Symbol, &condition, &target, &triggered,
		&createdAtNano, &updatedAtNano, &triggeredAtNano,
	)
	if err != nil {
		return nil, err
	}

	a.Condition = models.Condition(condition)
	if a.TargetPrice, err = decimal.NewFromString(target); err != nil {
		return nil, fmt.Errorf("bad target price %q: %w", target, err)
	}
	a.Triggered = triggered != 0
	a.CreatedAt = time.Unix(0, createdAtNano)
	a.UpdatedAt = time.Unix(0, updatedAtNano)
	if triggeredAtNano.Valid {
		t := time.Unix(0, triggeredAtNano.Int64)
		a.TriggeredAt = &t
	}
	return &a, nil
}

const priceCols = `symbol, price, open, high, low, prev_close, updated_at`

// GetPrice returns the latest price of symbol or models.ErrNotFound.
func (s *Storage) GetPrice(ctx context.Context, symbol string) (*models.MarketPrice, error) {
	return getPrice(ctx, s.db, models.NormalizeSymbol(symbol))
}

func (s *Storage) ListPrices(ctx context.Context) ([]models.MarketPrice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+priceCols+` FROM market_prices ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	prices := []models.MarketPrice{}
	for rows.Next() {
		p, err := scanPrice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, *p)
	}
	return prices, rows.Err()
}

// SetPrice records a new observation for symbol. Observations older than the
// stored one are dropped so updated_at never moves backwards.
func (s *Storage) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	symbol = models.NormalizeSymbol(symbol)
	if !price.IsPositive() {
		return fmt.Errorf("price for %s must be positive, got %s", symbol, price)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := getPrice(ctx, tx, symbol)
	if errors.Is(err, models.ErrNotFound) {
		current = &models.MarketPrice{Symbol: symbol}
	} else if err != nil {
		return err
	}
	if !current.Apply(price, at) {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO market_prices (`+priceCols+`)
		VALUES (?,?,?,?,?,?,?)`,
		current.Symbol, current.Price.String(), current.Open.String(), current.High.String(),
		current.Low.String(), current.PreviousClose.String(), current.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save price: %w", err)
	}
	return tx.Commit()
}

// ResetDailyStats closes the trading day for every symbol at its current price.
func (s *Storage) ResetDailyStats(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE market_prices SET prev_close=price, open=price, high=price, low=price`); err != nil {
		return fmt.Errorf("failed to reset daily stats: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getPrice(ctx context.Context, q queryer, symbol string) (*models.MarketPrice, error) {
	row := q.QueryRowContext(ctx, `SELECT `+priceCols+` FROM market_prices WHERE symbol = ?`, symbol)
	p, err := scanPrice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price %s: %w", symbol, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return p, nil
}

func scanPrice(scan func(...any) error) (*models.MarketPrice, error) {
	var p models.MarketPrice
	var price, open, high, low, prevClose string
	var updatedAtNano int64

	if err := scan(&p.Symbol, &price, &open, &high, &low, &prevClose, &updatedAtNano); err != nil {
		return nil, err
	}
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{price, &p.Price}, {open, &p.Open}, {high, &p.High}, {low, &p.Low}, {prevClose, &p.PreviousClose},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("bad decimal %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	p.UpdatedAt = time.Unix(0, updatedAtNano)
	return &p, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
