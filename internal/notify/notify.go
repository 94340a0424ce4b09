// Package notify delivers breaches and hedge recommendations to operators.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spot-hedger/internal/config"
	"spot-hedger/internal/errors"
	"spot-hedger/internal/logging"
	"spot-hedger/internal/models"
	"spot-hedger/internal/risk"
	"spot-hedger/internal/security"
	"spot-hedger/internal/store"
	"spot-hedger/pkg/utils"
)

// Notifier delivers one breach report. Implementations must be safe for
// concurrent use and honour ctx cancellation.
type Notifier interface {
	Deliver(ctx context.Context, d models.Delivery) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time

	// Delivery is the report the notification was rendered from.
	Delivery *models.Delivery
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	// NotificationHedge is a breach with a recommendation.
	NotificationHedge NotificationType = "hedge"
	// NotificationBreach is a breach no hedge could be computed for.
	NotificationBreach NotificationType = "breach"
)

// Render formats a delivery for human channels.
func Render(d models.Delivery) Notification {
	b := d.Breach
	n := Notification{
		Type:      NotificationBreach,
		Timestamp: d.CreatedAt,
		Delivery:  &d,
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	urgency := models.UrgencyForSeverity(b.Severity)
	n.Title = fmt.Sprintf("%s Risk breach: %s %s %s", urgencyEmoji(urgency), d.AccountID, b.Scope(), b.Metric)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Account: %s\n", d.AccountID))
	sb.WriteString(fmt.Sprintf("Breach: %s\n", risk.Describe(b)))

	data := map[string]interface{}{
		"account":  d.AccountID,
		"scope":    b.Scope(),
		"metric":   string(b.Metric),
		"observed": b.Observed,
		"limit":    b.Limit,
		"severity": b.Severity,
		"urgency":  urgency.String(),
	}

	if rec := d.Recommendation; rec != nil {
		n.Type = NotificationHedge
		sb.WriteString(fmt.Sprintf("\nHedge: %s on %s\n", rec.Strategy, rec.Underlying))
		for _, leg := range rec.Legs {
			sb.WriteString(fmt.Sprintf("  %s %s %s @ %s\n",
				leg.Side, utils.FormatQuantity(leg.Size), leg.Symbol, utils.FormatCurrency(leg.Price)))
		}
		sb.WriteString(fmt.Sprintf("Estimated cost: %s\n", utils.FormatCurrency(rec.EstimatedCost)))
		sb.WriteString(fmt.Sprintf("Reasoning: %s", rec.Reasoning))

		data["recommendation_id"] = rec.ID
		data["strategy"] = rec.Strategy
		data["underlying"] = rec.Underlying
		data["size"] = rec.Size
		data["estimated_cost"] = utils.RoundMoney(rec.EstimatedCost).InexactFloat64()
		data["urgency"] = rec.Urgency.String()
		data["reasoning"] = rec.Reasoning
		legs := make([]map[string]interface{}, 0, len(rec.Legs))
		for _, leg := range rec.Legs {
			l := map[string]interface{}{
				"symbol": leg.Symbol,
				"kind":   string(leg.Kind),
				"side":   string(leg.Side),
				"size":   leg.Size,
				"price":  leg.Price,
			}
			if leg.Strike > 0 {
				l["strike"] = leg.Strike
				l["expiry"] = leg.Expiry.Format(time.RFC3339)
			}
			legs = append(legs, l)
		}
		data["legs"] = legs
	} else {
		sb.WriteString(fmt.Sprintf("\nNo hedge: %s", d.Reason))
		data["reason"] = d.Reason
	}

	if len(d.Warnings) > 0 {
		sb.WriteString("\n\nWarnings:\n  " + strings.Join(d.Warnings, "\n  "))
		data["warnings"] = d.Warnings
	}
	if s := d.Summary; s != nil {
		data["portfolio_value"] = utils.RoundMoney(s.Value).InexactFloat64()
		data["portfolio_delta"] = s.Delta
	}

	n.Message = sb.String()
	n.Data = data
	return n
}

func urgencyEmoji(u models.Urgency) string {
	switch u {
	case models.UrgencyCritical:
		return "🚨"
	case models.UrgencyHigh:
		return "⚠️"
	case models.UrgencyMedium:
		return "🔔"
	}
	return "ℹ️"
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the channels enabled in
// cfg. Channels are only added when notifications are enabled.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	var names []string
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// Deliver renders d and sends it to every enabled channel.
func (mn *MultiNotifier) Deliver(ctx context.Context, d models.Delivery) error {
	return mn.Send(ctx, Render(d))
}

// Send sends a notification to all enabled channels. A failing channel
// does not stop the others; their errors are joined.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("channel", "log").Logger()}
}

// Name returns the name of the notifier.
func (l *LogNotifier) Name() string { return "log" }

// IsEnabled returns whether the notifier is enabled.
func (l *LogNotifier) IsEnabled() bool { return true }

// Send logs the breach and its recommendation.
func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	d := n.Delivery
	if d == nil {
		l.logger.Info().Str("type", string(n.Type)).Msg(n.Title)
		return nil
	}
	logger := logging.WithAccount(l.logger, d.AccountID)
	logging.LogBreach(logger, d.Breach)
	if d.Recommendation != nil {
		logging.LogRecommendation(logger, d.Recommendation)
	} else {
		logger.Warn().Str("reason", d.Reason).Msg("No hedge recommendation")
	}
	return nil
}

// JournalNotifier records deliveries in the store.
type JournalNotifier struct {
	store store.DataStore
}

// NewJournalNotifier creates a new JournalNotifier.
func NewJournalNotifier(s store.DataStore) *JournalNotifier {
	return &JournalNotifier{store: s}
}

// Name returns the name of the notifier.
func (j *JournalNotifier) Name() string { return "journal" }

// IsEnabled returns whether the notifier is enabled.
func (j *JournalNotifier) IsEnabled() bool { return j.store != nil }

// Send records the delivery.
func (j *JournalNotifier) Send(ctx context.Context, n Notification) error {
	if n.Delivery == nil {
		return nil
	}
	return j.store.RecordDelivery(ctx, *n.Delivery)
}

// poster sends JSON payloads for the HTTP channels. Transport errors are
// redacted: webhook URLs and the bot token are credentials.
type poster struct {
	channel string
	client  *http.Client
}

func newPoster(channel string) poster {
	return poster{channel: channel, client: &http.Client{Timeout: 10 * time.Second}}
}

// post sends payload to url. A non-2xx reply is an error carrying the
// status and, when the body is a JSON API error, its description.
func (p poster) post(ctx context.Context, url string, payload interface{}, secrets ...string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", p.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", p.channel, security.RedactError(err, secrets...))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SpotHedger/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", p.channel, security.MaskURL(url), security.RedactError(err, secrets...))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var apiErr struct {
		Description string `json:"description"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Description != "" {
		return fmt.Errorf("%s returned status %d: %s", p.channel, resp.StatusCode, security.Redact(apiErr.Description, secrets...))
	}
	return fmt.Errorf("%s returned status %d", p.channel, resp.StatusCode)
}

// WebhookNotifier posts each notification as JSON to a URL.
type WebhookNotifier struct {
	url     string
	enabled bool
	poster
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		poster:  newPoster("webhook"),
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification, with the delivery fields under "data".
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}
	return w.post(ctx, w.url, map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}, w.url)
}

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends notifications to one chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	baseURL  string
	poster
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		baseURL:  telegramAPI,
		poster:   newPoster("telegram"),
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends the notification as an HTML message.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}
	url := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	return t.post(ctx, url, map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       "<b>" + escapeHTML(n.Title) + "</b>\n\n" + escapeHTML(n.Message),
		"parse_mode": "HTML",
	}, t.botToken)
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Deliver does nothing.
func (n *NoOpNotifier) Deliver(ctx context.Context, d models.Delivery) error {
	return nil
}
