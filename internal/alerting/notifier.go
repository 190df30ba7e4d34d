package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"bullionwatch/internal/rates"
)

// Alert kinds.
const (
	KindLargeMove     = "large_move"
	KindFailureStreak = "failure_streak"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind          string
	Metal         rates.Metal
	AsOf          time.Time
	Rate          string
	Baseline      string
	Delta         rates.Delta
	Threshold     int64
	Estimate      bool
	Streak        int
	LastError     string
	Channels      []string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    Render(note),
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", note.Kind).
		Str("metal", string(note.Metal)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// Render formats a notification as plain text.
func Render(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindFailureStreak:
		builder.WriteString("[Bullion Feed Alert]\n")
		builder.WriteString(fmt.Sprintf("Consecutive failed refreshes: %d\n", note.Streak))
		if note.LastError != "" {
			builder.WriteString(fmt.Sprintf("Last error: %s\n", note.LastError))
		}
	default:
		builder.WriteString("[Bullion Move Alert]\n")
		builder.WriteString(fmt.Sprintf("As of: %s UTC\n", note.AsOf.UTC().Format(time.RFC3339)))
		builder.WriteString(fmt.Sprintf("%s: %s (%s)\n", strings.ToUpper(string(note.Metal)), note.Rate, note.Delta.String()))
		if note.Baseline != "" {
			builder.WriteString(fmt.Sprintf("Baseline: %s", note.Baseline))
			if note.Estimate {
				builder.WriteString(" (estimated)")
			}
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("Threshold: %s\n", humanize.Comma(note.Threshold)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
