package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mttmxr-creator/BotAICurator/internal/notify"
)

type apiCall struct {
	method string
	body   map[string]any
}

func telegramFixture(t *testing.T, status int, response string) (*Sender, *[]apiCall) {
	t.Helper()

	var calls []apiCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, apiCall{method: r.URL.Path, body: body})

		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	sender := NewSender(Config{
		Enabled:           true,
		Token:             "test-token",
		BaseURL:           srv.URL,
		MessagesPerSecond: 1000,
	})
	return sender, &calls
}

func TestSender_Send(t *testing.T) {
	sender, calls := telegramFixture(t, http.StatusOK,
		`{"ok":true,"result":{"message_id":77,"chat":{"id":100}}}`)

	ref, err := sender.Send(context.Background(), notify.Message{
		ChatID:     100,
		Text:       "New answer awaiting review",
		ItemID:     "item-1",
		Actionable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, notify.MessageRef{ChatID: 100, MessageID: 77}, ref)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/bottest-token/sendMessage", call.method)
	assert.Equal(t, float64(100), call.body["chat_id"])

	markup, ok := call.body["reply_markup"].(map[string]any)
	require.True(t, ok, "actionable message carries an inline keyboard")
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "Approve", first["text"])
	assert.Equal(t, "approve:item-1", first["callback_data"])
}

func TestSender_SendNonActionableOmitsKeyboard(t *testing.T) {
	sender, calls := telegramFixture(t, http.StatusOK,
		`{"ok":true,"result":{"message_id":1,"chat":{"id":100}}}`)

	_, err := sender.Send(context.Background(), notify.Message{ChatID: 100, Text: "Rejected"})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.NotContains(t, (*calls)[0].body, "reply_markup")
}

func TestSender_Update(t *testing.T) {
	sender, calls := telegramFixture(t, http.StatusOK, `{"ok":true,"result":true}`)

	err := sender.Update(context.Background(),
		notify.MessageRef{ChatID: 100, MessageID: 77},
		notify.Message{ChatID: 100, Text: "Approved", ItemID: "item-1"})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/bottest-token/editMessageText", call.method)
	assert.Equal(t, float64(77), call.body["message_id"])
}

func TestSender_RateLimitIsRetryable(t *testing.T) {
	sender, _ := telegramFixture(t, http.StatusTooManyRequests,
		`{"ok":false,"description":"Too Many Requests: retry after 5"}`)

	_, err := sender.Send(context.Background(), notify.Message{ChatID: 100, Text: "hi"})
	require.Error(t, err)

	var retryable *notify.RetryableError
	require.True(t, errors.As(err, &retryable))
	assert.True(t, retryable.IsRetryable())
}

func TestSender_ServerErrorIsRetryable(t *testing.T) {
	sender, _ := telegramFixture(t, http.StatusBadGateway, `{"ok":false,"description":"Bad Gateway"}`)

	_, err := sender.Send(context.Background(), notify.Message{ChatID: 100, Text: "hi"})
	require.Error(t, err)

	var retryable *notify.RetryableError
	require.True(t, errors.As(err, &retryable))
	assert.True(t, retryable.IsRetryable())
}

func TestSender_BadRequestIsNotRetryable(t *testing.T) {
	sender, _ := telegramFixture(t, http.StatusBadRequest,
		`{"ok":false,"description":"Bad Request: chat not found"}`)

	_, err := sender.Send(context.Background(), notify.Message{ChatID: 100, Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	var retryable *notify.RetryableError
	require.True(t, errors.As(err, &retryable))
	assert.False(t, retryable.IsRetryable())
}

func TestSender_DisabledDeliversNothing(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	sender := NewSender(Config{Enabled: false, BaseURL: srv.URL})

	ref, err := sender.Send(context.Background(), notify.Message{ChatID: 100, Text: "hi"})
	require.NoError(t, err)
	// Zero reference: the notifier must not register a live view for it.
	assert.Equal(t, notify.MessageRef{}, ref)

	err = sender.Update(context.Background(), notify.MessageRef{ChatID: 100, MessageID: 1}, notify.Message{})
	require.NoError(t, err)
	assert.False(t, called)
}
