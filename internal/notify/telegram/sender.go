// Package telegram delivers reviewer notifications through the Telegram
// Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mttmxr-creator/BotAICurator/internal/notify"
)

const defaultBaseURL = "https://api.telegram.org"

// Config contains Telegram transport settings.
type Config struct {
	Enabled        bool
	Token          string
	BaseURL        string
	RequestTimeout time.Duration
	// MessagesPerSecond bounds outbound API calls; Telegram throttles
	// bots at roughly 30 messages per second overall.
	MessagesPerSecond float64
}

// DefaultConfig returns the default Telegram transport settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:           defaultBaseURL,
		RequestTimeout:    10 * time.Second,
		MessagesPerSecond: 25,
	}
}

// Sender implements notify.Sender over the Telegram Bot API. A disabled
// sender accepts every message and delivers nothing, which keeps the
// pipeline usable in development without a bot token.
type Sender struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewSender creates a Telegram sender.
func NewSender(config Config) *Sender {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = 25
	}
	return &Sender{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.MessagesPerSecond), 1),
	}
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type editMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// Send delivers a new message and returns its reference.
func (s *Sender) Send(ctx context.Context, msg notify.Message) (notify.MessageRef, error) {
	if !s.config.Enabled {
		slog.Debug("telegram sender disabled, dropping message", "chat_id", msg.ChatID, "item_id", msg.ItemID)
		return notify.MessageRef{}, nil
	}

	req := sendMessageRequest{
		ChatID:      msg.ChatID,
		Text:        msg.Text,
		ReplyMarkup: keyboardFor(msg),
	}

	var result messageResult
	if err := s.call(ctx, "sendMessage", req, &result); err != nil {
		return notify.MessageRef{}, err
	}

	return notify.MessageRef{ChatID: result.Chat.ID, MessageID: result.MessageID}, nil
}

// Update edits a previously delivered message in place.
func (s *Sender) Update(ctx context.Context, ref notify.MessageRef, msg notify.Message) error {
	if !s.config.Enabled {
		slog.Debug("telegram sender disabled, dropping update", "chat_id", ref.ChatID, "item_id", msg.ItemID)
		return nil
	}

	req := editMessageRequest{
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		Text:        msg.Text,
		ReplyMarkup: keyboardFor(msg),
	}

	return s.call(ctx, "editMessageText", req, nil)
}

func (s *Sender) call(ctx context.Context, method string, payload any, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", s.config.BaseURL, s.config.Token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return notify.NewRetryableError(fmt.Errorf("%s request failed: %w", method, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return notify.NewRetryableError(fmt.Errorf("failed to read %s response: %w", method, err))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return classify(resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", method, err))
	}
	if !apiResp.OK {
		return classify(resp.StatusCode, fmt.Errorf("%s rejected: %s", method, apiResp.Description))
	}

	if result != nil {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// classify maps a Telegram HTTP status to the retry policy: rate limits
// and server errors are worth retrying, other client errors are not.
func classify(status int, err error) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return notify.NewRetryableError(err)
	}
	return notify.NewNonRetryableError(err)
}

func keyboardFor(msg notify.Message) *inlineKeyboardMarkup {
	if !msg.Actionable {
		return nil
	}
	return &inlineKeyboardMarkup{
		InlineKeyboard: [][]inlineKeyboardButton{
			{
				{Text: "Approve", CallbackData: "approve:" + msg.ItemID},
				{Text: "Reject", CallbackData: "reject:" + msg.ItemID},
			},
			{
				{Text: "Edit", CallbackData: "edit:" + msg.ItemID},
			},
		},
	}
}
