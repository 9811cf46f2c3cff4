package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// Notifier delivers an out-of-band message to a recipient.
type Notifier interface {
	Send(ctx context.Context, chatID, message string) error
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	BotToken string
	BaseURL  string // override for tests; defaults to the Bot API
	Timeout  time.Duration
}

// TelegramNotifier sends messages through the Telegram Bot API.
type TelegramNotifier struct {
	cfg    TelegramConfig
	client *http.Client
}

func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (n *TelegramNotifier) Send(ctx context.Context, chatID, message string) error {
	if n.cfg.BotToken == "" {
		return fmt.Errorf("telegram bot token is not configured")
	}
	body, err := jsonx.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.BaseURL, n.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call telegram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("failed to read telegram error body: %w", readErr)
		}
		return fmt.Errorf("telegram error (%d): %s", resp.StatusCode, string(b))
	}

	var decoded struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("telegram rejected message: %s", decoded.Description)
	}
	return nil
}
