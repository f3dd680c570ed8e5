package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTelegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers via the Telegram Bot API sendMessage method.
type TelegramSender struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a Telegram sender for a bot token.
func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		baseURL: defaultTelegramAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (t *TelegramSender) WithBaseURL(baseURL string) *TelegramSender {
	t.baseURL = baseURL
	return t
}

// Method implements Sender.
func (t *TelegramSender) Method() Method { return MethodTelegram }

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send implements Sender.
func (t *TelegramSender) Send(ctx context.Context, _ *Notification, p Payload) SendResult {
	if p.Telegram == nil {
		return SendResult{Err: errors.New("telegram payload missing")}
	}
	if p.Telegram.ChatID == nil || *p.Telegram.ChatID == "" {
		return SendResult{Err: errors.New("user has no telegram chat id")}
	}
	if t.token == "" {
		return SendResult{Err: errors.New("telegram bot token not configured")}
	}

	body, err := json.Marshal(telegramRequest{
		ChatID:    *p.Telegram.ChatID,
		Text:      p.Telegram.Message,
		ParseMode: "Markdown",
	})
	if err != nil {
		return SendResult{Err: fmt.Errorf("failed to encode telegram request: %w", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Err: fmt.Errorf("failed to build telegram request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return SendResult{Err: fmt.Errorf("telegram request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiResp); err != nil {
		return SendResult{Err: fmt.Errorf("failed to decode telegram response (HTTP %d): %w", resp.StatusCode, err)}
	}
	if !apiResp.OK {
		return SendResult{Err: fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)}
	}
	return SendResult{Success: true}
}
