package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/yieldloop/engine/internal/logger"
	"github.com/yieldloop/engine/internal/types"
)

const telegramMaxRetries = 3

// TelegramDispatcher sends execution reports via the Telegram Bot API.
type TelegramDispatcher struct {
	log         zerolog.Logger
	botToken    string
	chatID      string
	apiBase     string
	backoffUnit time.Duration
	client      *http.Client
}

// NewTelegramDispatcher creates a dispatcher for the configured bot and chat.
func NewTelegramDispatcher(botToken, chatID string) *TelegramDispatcher {
	return &TelegramDispatcher{
		log:         logger.GetForComponent("telegram_notifier"),
		botToken:    botToken,
		chatID:      chatID,
		apiBase:     "https://api.telegram.org",
		backoffUnit: time.Second,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Notify formats the execution result and delivers it with bounded retries.
func (t *TelegramDispatcher) Notify(ctx context.Context, strategy types.Strategy, execution types.StrategyExecution) error {
	report := FormatExecutionReport(strategy, execution)
	return t.sendWithRetry(ctx, report, telegramMaxRetries)
}

// send posts one message to the configured chat.
func (t *TelegramDispatcher) send(ctx context.Context, text string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// sendWithRetry sends a message with exponential backoff retry. No backoff is
// taken after the final attempt; the error returns immediately.
func (t *TelegramDispatcher) sendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := t.send(ctx, text); err != nil {
			lastErr = err
			if i == maxRetries {
				break
			}
			backoff := time.Duration(1<<uint(i)) * t.backoffUnit
			t.log.Warn().Err(err).
				Int("attempt", i+1).
				Int("maxAttempts", maxRetries+1).
				Dur("backoff", backoff).
				Msg("Telegram send failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", maxRetries+1, lastErr)
}
