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
)

// Kind distinguishes why a notification was raised.
type Kind string

const (
	KindRetrain Kind = "retrain"
	KindAlert   Kind = "alert"
)

// Notification carries a retrain trigger or a low intelligence score.
type Notification struct {
	Kind               Kind
	Ticker             string
	At                 time.Time
	Reason             string
	Accuracy           *float64
	ConsecutiveLowDays int
	Score              *float64
	Action             string
	Causes             []string
	AdditionalMsg      string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("ticker", note.Ticker).
		Str("kind", string(note.Kind)).
		Msg("notification sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindRetrain:
		builder.WriteString(fmt.Sprintf("[pricecast] RETRAIN %s\n", note.Ticker))
	default:
		builder.WriteString(fmt.Sprintf("[pricecast] ALERT %s\n", note.Ticker))
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	if note.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	}
	if note.Accuracy != nil {
		builder.WriteString(fmt.Sprintf("Accuracy: %.2f%%\n", *note.Accuracy))
	}
	if note.ConsecutiveLowDays > 0 {
		builder.WriteString(fmt.Sprintf("Consecutive low days: %d\n", note.ConsecutiveLowDays))
	}
	if note.Score != nil {
		builder.WriteString(fmt.Sprintf("Intelligence score: %.1f\n", *note.Score))
	}
	if note.Action != "" {
		builder.WriteString(fmt.Sprintf("Action: %s\n", note.Action))
	}
	if len(note.Causes) > 0 {
		builder.WriteString(fmt.Sprintf("Causes: %s\n", strings.Join(note.Causes, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

// LogNotifier writes notifications to the log when no chat is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Str("ticker", note.Ticker).
		Str("kind", string(note.Kind)).
		Str("reason", note.Reason).
		Str("action", note.Action).
		Msg("notification")
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
