//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mttmxr-creator/BotAICurator/internal/testutil"
)

var submitSeq atomic.Int64

// reviewItem mirrors the API shape of a review item.
type reviewItem struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversation_id"`
	UserDisplayName string `json:"user_display_name"`
	OriginalInput   string `json:"original_input"`
	Answer          string `json:"answer"`
	OriginalAnswer  string `json:"original_answer"`
	Status          string `json:"status"`
	EditorID        string `json:"editor_id"`
	RejectionReason string `json:"rejection_reason"`
	ExpiresAt       *string `json:"expires_at"`
}

// deliveryEnvelope mirrors the API shape of a delivery envelope.
type deliveryEnvelope struct {
	ID             string `json:"id"`
	ItemID         string `json:"item_id"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
}

type submitOption func(map[string]interface{})

func withTimeoutSeconds(seconds int) submitOption {
	return func(m map[string]interface{}) {
		m["timeout_seconds"] = seconds
	}
}

// submitItem pushes an answer into the approval queue through the
// pipeline API and returns the created item. Each call gets a fresh
// conversation so tests stay isolated from each other.
func submitItem(t *testing.T, client *testutil.Client, opts ...submitOption) reviewItem {
	t.Helper()

	seq := submitSeq.Add(1)
	payload := map[string]interface{}{
		"conversation_id":   fmt.Sprintf("conv-%d", seq),
		"user_id":           fmt.Sprintf("user-%d", seq),
		"user_display_name": "Dana",
		"original_input":    "What is the refund policy?",
		"answer":            "Refunds are available within 30 days.",
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := client.POST("/api/v1/items", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, testutil.ReadBody(t, resp))

	var result struct {
		Data reviewItem `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Data.ID)
	return result.Data
}

// getItem fetches a review item as a reviewer.
func getItem(t *testing.T, client *testutil.Client, id string) reviewItem {
	t.Helper()

	resp, err := client.GET("/api/v1/items/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data reviewItem `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// pollEnvelopes fetches pending envelopes for a conversation through the
// delivery API.
func pollEnvelopes(t *testing.T, client *testutil.Client, conversationID string) []deliveryEnvelope {
	t.Helper()

	resp, err := client.GET("/api/v1/delivery/envelopes?conversation_id=" + conversationID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []deliveryEnvelope `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}
