package pricesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
)

// ErrUnknownSymbol is returned when the quote endpoint does not know a symbol.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Quote is one price observation from the quote endpoint.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// ClientConfig tunes retries and connection pooling of the quote client.
type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Client fetches quotes from a JSON HTTP endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        ClientConfig
}

// NewClient creates a quote client for baseURL.
func NewClient(baseURL string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 50
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
				IdleConnTimeout:     cfg.IdleConnTimeout,
			},
		},
		cfg: cfg,
	}
}

// FetchQuote returns the current price of symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = models.NormalizeSymbol(symbol)
	u, err := url.Parse(c.baseURL + "/quote")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code for %s: %d", symbol, resp.StatusCode)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote for %s: %w", symbol, err)
	}
	if got := models.NormalizeSymbol(quote.Symbol); got != "" && got != symbol {
		return nil, fmt.Errorf("quote symbol mismatch: asked %s, got %s", symbol, got)
	}
	if !quote.Price.IsPositive() {
		return nil, fmt.Errorf("invalid price for %s: %s", symbol, quote.Price)
	}
	quote.Symbol = symbol
	return &quote, nil
}

// doRequest performs a GET with retries on transport errors and 5xx responses.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			case <-time.After(c.cfg.RetryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
