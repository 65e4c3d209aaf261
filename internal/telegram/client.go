// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
)

// sender is the part of the bot API the client sends through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// PriceLister backs the /prices command.
type PriceLister interface {
	ListPrices(ctx context.Context) ([]models.MarketPrice, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	prices         PriceLister
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetPriceLister enables the /prices command.
func (c *Client) SetPriceLister(p PriceLister) {
	c.prices = p
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message.Chat.ID, update.Message.Command())
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, chatID int64, command string) {
	var reply tgbotapi.MessageConfig
	switch command {
	case "ping":
		reply = tgbotapi.NewMessage(chatID, "Pong")
	case "prices":
		if c.prices == nil {
			return
		}
		prices, err := c.prices.ListPrices(ctx)
		if err != nil {
			logger.Warn("Failed to list prices for /prices: %v", err)
			return
		}
		reply = tgbotapi.NewMessage(chatID, formatPrices(prices))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	if _, err := c.sender.Send(reply); err != nil {
		logger.Warn("Failed to reply to /%s: %v", command, err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.sender.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send cancelled: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(context.Background(), text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(context.Background(), text)
}

// NotifyTriggered announces an alert that has just fired.
func (c *Client) NotifyTriggered(ctx context.Context, alert models.Alert, price models.MarketPrice) error {
	return c.sendMarkdownV2(ctx, formatTriggered(alert, price))
}

// formatTriggered formats a triggered alert into a Telegram MarkdownV2 message.
func formatTriggered(alert models.Alert, price models.MarketPrice) string {
	directionEmoji := "📈"
	verb := "above"
	if alert.Condition == models.LessThan {
		directionEmoji = "📉"
		verb = "below"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Price alert triggered*\n\n")
	fmt.Fprintf(&b, "%s *%s* is %s %s\n", directionEmoji,
		escapeMarkdownV2(alert.Symbol), verb, escapeMarkdownV2(alert.TargetPrice.StringFixed(2)))
	fmt.Fprintf(&b, "   Current: %s", escapeMarkdownV2(price.Price.StringFixed(2)))
	if price.PreviousClose.IsPositive() {
		fmt.Fprintf(&b, " \\(%s\\)", escapeMarkdownV2(signedPercent(price)))
	}
	b.WriteString("\n")
	if !price.High.IsZero() && !price.Low.IsZero() {
		fmt.Fprintf(&b, "   Day range: %s – %s\n",
			escapeMarkdownV2(price.Low.StringFixed(2)), escapeMarkdownV2(price.High.StringFixed(2)))
	}
	if !price.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(price.UpdatedAt.UTC().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// formatPrices formats the latest prices for the /prices command.
func formatPrices(prices []models.MarketPrice) string {
	if len(prices) == 0 {
		return "No prices yet"
	}
	var b strings.Builder
	b.WriteString("💹 *Latest prices*\n\n")
	for _, p := range prices {
		line := fmt.Sprintf("%s %s", p.Symbol, p.Price.StringFixed(2))
		if p.PreviousClose.IsPositive() {
			line += " (" + signedPercent(p) + ")"
		}
		b.WriteString(escapeMarkdownV2(line))
		b.WriteString("\n")
	}
	return b.String()
}

func signedPercent(p models.MarketPrice) string {
	pct := p.ChangePercent()
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return sign + pct.StringFixed(2) + "%"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
