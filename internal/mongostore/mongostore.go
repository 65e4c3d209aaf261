// Package mongostore persists alerts and market prices in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	AlertsCollection = "alerts"
	PricesCollection = "market_prices"
)

const opTimeout = 10 * time.Second

// Store is a MongoDB-backed alert and price store.
type Store struct {
	client *mongo.Client
	alerts *mongo.Collection
	prices *mongo.Collection
}

// alertDoc is the stored shape of an alert. Decimals are kept as strings so
// no precision is lost to BSON doubles.
type alertDoc struct {
	ID          string     `bson:"_id"`
	OwnerID     string     `bson:"owner_id"`
	Symbol      string     `bson:"symbol"`
	Condition   string     `bson:"condition"`
	TargetPrice string     `bson:"target_price"`
	Triggered   bool       `bson:"triggered"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
	TriggeredAt *time.Time `bson:"triggered_at,omitempty"`
}

type priceDoc struct {
	Symbol        string    `bson:"_id"`
	Price         string    `bson:"price"`
	Open          string    `bson:"open"`
	High          string    `bson:"high"`
	Low           string    `bson:"low"`
	PreviousClose string    `bson:"prev_close"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// Connect dials uri, verifies the connection and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo URI is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client: client,
		alerts: db.Collection(AlertsCollection),
		prices: db.Collection(PricesCollection),
	}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("MongoDB connected (database: %s)", database)
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.alerts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "triggered", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "symbol", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create alert indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.alerts.InsertOne(ctx, toAlertDoc(alert)); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc alertDoc
	err := s.alerts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return fromAlertDoc(doc)
}

// ListAlertsByOwner returns the owner's alerts, newest first.
func (s *Store) ListAlertsByOwner(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return s.findAlerts(ctx, bson.M{"owner_id": ownerID}, bson.D{{Key: "created_at", Value: -1}})
}

// FindAlertsBySymbol returns every alert on symbol, newest first.
func (s *Store) FindAlertsBySymbol(ctx context.Context, symbol string) ([]models.Alert, error) {
	return s.findAlerts(ctx, bson.M{"symbol": models.NormalizeSymbol(symbol)}, bson.D{{Key: "created_at", Value: -1}})
}

// FindPendingAlerts returns a snapshot of every alert that has not triggered yet.
func (s *Store) FindPendingAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.findAlerts(ctx, bson.M{"triggered": false}, bson.D{{Key: "created_at", Value: 1}})
}

// UpdateAlert sets the owner-editable fields of an existing alert, plus the
// trigger state when withState is set.
func (s *Store) UpdateAlert(ctx context.Context, alert *models.Alert, withState bool) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set := bson.M{
		"condition":    string(alert.Condition),
		"target_price": alert.TargetPrice.String(),
		"updated_at":   alert.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if withState {
		set["triggered"] = alert.Triggered
		if alert.TriggeredAt != nil {
			set["triggered_at"] = *alert.TriggeredAt
		} else {
			update["$unset"] = bson.M{"triggered_at": ""}
		}
	}

	res, err := s.alerts.UpdateOne(ctx, bson.M{"_id": alert.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("alert %s: %w", alert.ID, models.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.alerts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// CommitTriggered flips a pending alert to triggered. The filter only matches
// pending documents, so a repeated commit reports models.ErrAlreadyTriggered.
func (s *Store) CommitTriggered(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.alerts.UpdateOne(ctx,
		bson.M{"_id": id, "triggered": false},
		bson.M{"$set": bson.M{"triggered": true, "triggered_at": at, "updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to commit triggered alert: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.alerts.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check alert state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("alert %s: %w", id, models.ErrAlreadyTriggered)
}

func (s *Store) findAlerts(ctx context.Context, filter bson.M, sort bson.D) ([]models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := s.alerts.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer cursor.Close(ctx)

	alerts := []models.Alert{}
	for cursor.Next(ctx) {
		var doc alertDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode alert: %w", err)
		}
		a, err := fromAlertDoc(doc)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, cursor.Err()
}

func toAlertDoc(a *models.Alert) alertDoc {
	return alertDoc{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		Symbol:      a.Symbol,
		Condition:   string(a.Condition),
		TargetPrice: a.TargetPrice.String(),
		Triggered:   a.Triggered,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		TriggeredAt: a.TriggeredAt,
	}
}

func fromAlertDoc(doc alertDoc) (*models.Alert, error) {
	target, err := decimal.NewFromString(doc.TargetPrice)
	if err != nil {
		return nil, fmt.Errorf("alert %s has bad target price %q: %w", doc.ID, doc.TargetPrice, err)
	}
	return &models.Alert{
		ID:          doc.ID,
		OwnerID:     doc.OwnerID,
		Symbol:      doc.Symbol,
		Condition:   models.Condition(doc.Condition),
		TargetPrice: target,
		Triggered:   doc.Triggered,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		TriggeredAt: doc.TriggeredAt,
	}, nil
}

// GetPrice returns the latest price of symbol or models.ErrNotFound.
func (s *Store) GetPrice(ctx context.Context, symbol string) (*models.MarketPrice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	symbol = models.NormalizeSymbol(symbol)
	var doc priceDoc
	err := s.prices.FindOne(ctx, bson.M{"_id": symbol}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("price %s: %w", symbol, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return fromPriceDoc(doc)
}

func (s *Store) ListPrices(ctx context.Context) ([]models.MarketPrice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := s.prices.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer cursor.Close(ctx)

	prices := []models.MarketPrice{}
	for cursor.Next(ctx) {
		var doc priceDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode price: %w", err)
		}
		p, err := fromPriceDoc(doc)
		if err != nil {
			return nil, err
		}
		prices = append(prices, *p)
	}
	return prices, cursor.Err()
}

// SetPrice records a new observation for symbol. The replace is conditioned on
// the stored updated_at so an older observation never overwrites a newer one.
func (s *Store) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	symbol = models.NormalizeSymbol(symbol)
	if !price.IsPositive() {
		return fmt.Errorf("price for %s must be positive, got %s", symbol, price)
	}

	current, err := s.GetPrice(ctx, symbol)
	if errors.Is(err, models.ErrNotFound) {
		current = &models.MarketPrice{Symbol: symbol}
	} else if err != nil {
		return err
	}
	previous := current.UpdatedAt
	if !current.Apply(price, at) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": symbol}
	if !previous.IsZero() {
		filter["updated_at"] = bson.M{"$lte": at}
	}
	_, err = s.prices.ReplaceOne(ctx, filter, toPriceDoc(current), options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// A newer observation landed between the read and the write.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save price for %s: %w", symbol, err)
	}
	return nil
}

// ResetDailyStats closes the trading day for every symbol at its current price.
func (s *Store) ResetDailyStats(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"prev_close": "$price",
			"open":       "$price",
			"high":       "$price",
			"low":        "$price",
		}}},
	}
	if _, err := s.prices.UpdateMany(ctx, bson.M{}, pipeline); err != nil {
		return fmt.Errorf("failed to reset daily stats: %w", err)
	}
	return nil
}

func toPriceDoc(p *models.MarketPrice) priceDoc {
	return priceDoc{
		Symbol:        p.Symbol,
		Price:         p.Price.String(),
		Open:          p.Open.String(),
		High:          p.High.String(),
		Low:           p.Low.String(),
		PreviousClose: p.PreviousClose.String(),
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromPriceDoc(doc priceDoc) (*models.MarketPrice, error) {
	p := &models.MarketPrice{Symbol: doc.Symbol, UpdatedAt: doc.UpdatedAt}
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{doc.Price, &p.Price}, {doc.Open, &p.Open}, {doc.High, &p.High}, {doc.Low, &p.Low},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("price %s has bad decimal %q: %w", doc.Symbol, f.raw, err)
		}
		*f.dst = d
	}
	if doc.PreviousClose != "" {
		d, err := decimal.NewFromString(doc.PreviousClose)
		if err != nil {
			return nil, fmt.Errorf("price %s has bad previous close %q: %w", doc.Symbol, doc.PreviousClose, err)
		}
		p.PreviousClose = d
	}
	return p, nil
}
