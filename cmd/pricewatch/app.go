package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/pricewatch/internal/alerts"
	"github.com/rewired-gh/pricewatch/internal/config"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/rewired-gh/pricewatch/internal/mongostore"
	"github.com/rewired-gh/pricewatch/internal/monitor"
	"github.com/rewired-gh/pricewatch/internal/pricesource"
	"github.com/rewired-gh/pricewatch/internal/scheduler"
	"github.com/rewired-gh/pricewatch/internal/storage"
	"github.com/rewired-gh/pricewatch/internal/telegram"
)

// store is everything the commands need from persistence. Both the SQLite and
// the MongoDB store implement it.
type store interface {
	alerts.Repository
	monitor.AlertStore
	pricesource.Store
	ListPrices(ctx context.Context) ([]models.MarketPrice, error)
	Close() error
}

type app struct {
	configPath string
	debug      bool
	cfg        *config.Config
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if a.configPath != "" {
		logger.Debug("Configuration loaded from %s", a.configPath)
	}
	a.cfg = cfg
	return nil
}

func (a *app) openStore(ctx context.Context) (store, error) {
	switch a.cfg.Storage.Driver {
	case "mongo":
		s, err := mongostore.Connect(ctx, a.cfg.Storage.MongoURI, a.cfg.Storage.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		logger.Info("Using MongoDB store (database: %s)", a.cfg.Storage.MongoDatabase)
		return s, nil
	default:
		s, err := storage.New(a.cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		logger.Info("Using SQLite store at %s", a.cfg.Storage.DBPath)
		return s, nil
	}
}

func closeStore(s store) {
	if err := s.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

func (a *app) simulated(s store) (*pricesource.Simulated, error) {
	seeds, err := a.cfg.SeedPrices()
	if err != nil {
		return nil, err
	}
	rngSeed := a.cfg.Source.RandomSeed
	if rngSeed == 0 {
		rngSeed = uint64(time.Now().UnixNano())
	}
	return pricesource.NewSimulated(s, seeds, a.cfg.Source.Volatility, rngSeed), nil
}

func (a *app) buildSource(s store) (monitor.PriceSource, error) {
	switch a.cfg.Source.Kind {
	case "http":
		client := pricesource.NewClient(a.cfg.Source.BaseURL, pricesource.ClientConfig{
			Timeout:        a.cfg.Source.Timeout,
			MaxRetries:     a.cfg.Source.MaxRetries,
			RetryDelayBase: a.cfg.Source.RetryDelayBase,
		})
		logger.Info("Polling quotes from %s for %d symbols", a.cfg.Source.BaseURL, len(a.cfg.Source.Symbols))
		return pricesource.NewHTTPSource(client, s, a.cfg.SymbolList(), a.cfg.Source.Concurrency), nil
	default:
		sim, err := a.simulated(s)
		if err != nil {
			return nil, err
		}
		logger.Info("Simulating prices for %v (volatility %.2f%%)", sim.Symbols(), a.cfg.Source.Volatility*100)
		return sim, nil
	}
}

func (a *app) newTelegram(s store) *telegram.Client {
	if !a.cfg.Telegram.Enabled {
		logger.Debug("Telegram notifications disabled")
		return nil
	}
	client, err := telegram.NewClient(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Telegram.MaxRetries, a.cfg.Telegram.RetryDelayBase)
	if err != nil {
		logger.Error("Failed to initialize Telegram client, continuing without notifications: %v", err)
		return nil
	}
	client.SetPriceLister(s)
	logger.Info("Telegram client initialized successfully")
	return client
}

// buildRunner wires the source, evaluator and notifiers around s.
func (a *app) buildRunner(s store, src monitor.PriceSource, tg *telegram.Client) *monitor.Runner {
	evaluator := monitor.NewEvaluator(s, s, a.cfg.Evaluator.Workers)
	runner := monitor.NewRunner(src, evaluator)
	runner.SetRefreshTimeout(a.cfg.Scheduler.CycleTimeout)
	if tg != nil {
		evaluator.SetNotifier(tg)
		runner.SetStatusNotifier(tg)
	}
	return runner
}

func (a *app) schedulerConfig() (scheduler.Config, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Interval:       a.cfg.Scheduler.Interval,
		DailyResetTime: a.cfg.Scheduler.DailyResetTime,
		Location:       loc,
		SingleFlight:   a.cfg.Scheduler.SingleFlight,
	}, nil
}
