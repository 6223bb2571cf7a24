package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"predixaai-alert-engine/internal/outbound"
)

var ErrNotConfigured = errors.New("channel credentials not configured")

// Notifier delivers a rendered message to a chat channel.
type Notifier interface {
	Send(ctx context.Context, channel, text string) error
}

const DefaultTelegramAPI = "https://api.telegram.org"

type TelegramConfig struct {
	Token         string
	ChatID        string
	APIBase       string
	RatePerSecond float64
	Timeout       time.Duration
}

// TelegramNotifier posts messages through the Bot API sendMessage method.
type TelegramNotifier struct {
	client  *outbound.Client
	token   string
	chatID  string
	limiter *rate.Limiter
}

func NewTelegramNotifier(cfg TelegramConfig, opts ...outbound.Option) *TelegramNotifier {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultTelegramAPI
	}
	if cfg.Timeout > 0 {
		opts = append([]outbound.Option{outbound.WithTimeout(cfg.Timeout)}, opts...)
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &TelegramNotifier{
		client:  outbound.New(base, "", opts...),
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		limiter: limiter,
	}
}

// Send maps an empty or "default" channel to the configured chat id.
func (n *TelegramNotifier) Send(ctx context.Context, channel, text string) error {
	if n == nil || n.token == "" {
		return fmt.Errorf("telegram: %w", ErrNotConfigured)
	}
	chat := strings.TrimSpace(channel)
	if chat == "" || strings.EqualFold(chat, "default") {
		chat = n.chatID
	}
	if chat == "" {
		return fmt.Errorf("telegram: no chat id for channel %q: %w", channel, ErrNotConfigured)
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram: rate limit wait: %w", err)
		}
	}
	var resp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	body := map[string]any{"chat_id": chat, "text": text}
	if err := n.client.PostJSON(ctx, "/bot"+n.token+"/sendMessage", body, &resp); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram: send rejected: %s", resp.Description)
	}
	return nil
}
