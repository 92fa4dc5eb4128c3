// Package alerting relays alert.triggered events to external notification channels.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/events"
)

// Notifier delivers a trigger to one channel.
type Notifier interface {
	Notify(ctx context.Context, trigger events.AlertTriggered) error
}

// TelegramNotifier posts triggers through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds the notifier. baseURL defaults to the public Bot API.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with a rendered summary of the trigger.
func (n *TelegramNotifier) Notify(ctx context.Context, trigger events.AlertTriggered) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(trigger),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Int64("alert_id", trigger.AlertID).
		Str("owner", trigger.UserID).
		Msg("alert notification sent")
	return nil
}

func renderMessage(t events.AlertTriggered) string {
	var b strings.Builder
	b.WriteString("[Price Alert]\n")
	fmt.Fprintf(&b, "Alert #%d for %s\n", t.AlertID, t.UserID)
	fmt.Fprintf(&b, "Price: %s\n", t.CurrentPrice.StringFixed(2))
	if t.MinPrice.Valid && t.CurrentPrice.LessThanOrEqual(t.MinPrice.Decimal) {
		fmt.Fprintf(&b, "At or below minimum %s\n", t.MinPrice.Decimal.StringFixed(2))
	}
	if t.MaxPrice.Valid && t.CurrentPrice.GreaterThanOrEqual(t.MaxPrice.Decimal) {
		fmt.Fprintf(&b, "At or above maximum %s\n", t.MaxPrice.Decimal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Triggered: %s UTC", t.TriggeredAt.UTC().Format(time.RFC3339))
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
