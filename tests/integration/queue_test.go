//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mttmxr-creator/BotAICurator/internal/testutil"
)

func TestQueue_SubmitAndGet(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	item := submitItem(t, pipeline)
	assert.Equal(t, "pending", item.Status)
	assert.NotNil(t, item.ExpiresAt)

	got := getItem(t, reviewer, item.ID)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, "Refunds are available within 30 days.", got.Answer)
	assert.Equal(t, got.Answer, got.OriginalAnswer)
}

func TestQueue_SubmitWithoutExpiry(t *testing.T) {
	pipeline := newPipelineClient(t)

	item := submitItem(t, pipeline, withTimeoutSeconds(-1))
	assert.Nil(t, item.ExpiresAt)
}

func TestQueue_SubmitValidation(t *testing.T) {
	pipeline := newPipelineClient(t)

	resp, err := pipeline.POST("/api/v1/items", map[string]interface{}{
		"conversation_id": "conv-x",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueue_ListFiltersByStatus(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	item := submitItem(t, pipeline)

	resp, err := reviewer.GET("/api/v1/items?status=pending")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []reviewItem `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)

	found := false
	for _, it := range result.Data {
		require.Equal(t, "pending", it.Status)
		if it.ID == item.ID {
			found = true
		}
	}
	assert.True(t, found, "submitted item missing from pending list")
}

func TestQueue_ApproveDelivers(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	item := submitItem(t, pipeline)

	resp, err := reviewer.POST("/api/v1/items/"+item.ID+"/approve", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, testutil.ReadBody(t, resp))

	var result struct {
		Data reviewItem `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "sent", result.Data.Status)

	envelopes := pollEnvelopes(t, pipeline, item.ConversationID)
	require.Len(t, envelopes, 1)
	assert.Equal(t, item.ID, envelopes[0].ItemID)
	assert.Equal(t, "Refunds are available within 30 days.", envelopes[0].Text)
	assert.Equal(t, "pending", envelopes[0].Status)
}

func TestQueue_ApproveTwiceConflicts(t *testing.T) {
	pipeline := newPipelineClient(t)
	alice := newReviewerClient(t, "alice", aliceKey)
	bob := newReviewerClient(t, "bob", bobKey)

	item := submitItem(t, pipeline)

	resp, err := alice.POST("/api/v1/items/"+item.ID+"/approve", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Bob lost the race: the decision already happened.
	resp, err = bob.POST("/api/v1/items/"+item.ID+"/reject", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The answer went out exactly once.
	envelopes := pollEnvelopes(t, pipeline, item.ConversationID)
	assert.Len(t, envelopes, 1)
}

func TestQueue_RejectWithReason(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "bob", bobKey)

	item := submitItem(t, pipeline)

	resp, err := reviewer.POST("/api/v1/items/"+item.ID+"/reject", map[string]string{
		"reason": "factually wrong",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data reviewItem `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "rejected", result.Data.Status)
	assert.Equal(t, "factually wrong", result.Data.RejectionReason)

	// Nothing reaches the delivery channel for a rejected answer.
	assert.Empty(t, pollEnvelopes(t, pipeline, item.ConversationID))
}

func TestQueue_ExtendTimeout(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	item := submitItem(t, pipeline)
	require.NotNil(t, item.ExpiresAt)

	resp, err := reviewer.POST("/api/v1/items/"+item.ID+"/extend", map[string]int{
		"extension_seconds": 1800,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data reviewItem `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotNil(t, result.Data.ExpiresAt)
	assert.Greater(t, *result.Data.ExpiresAt, *item.ExpiresAt)
}

func TestQueue_GetUnknownItem(t *testing.T) {
	reviewer := newReviewerClient(t, "alice", aliceKey)

	resp, err := reviewer.GET("/api/v1/items/no-such-item")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueue_Stats(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	submitItem(t, pipeline)

	resp, err := reviewer.GET("/api/v1/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Pending int `json:"pending"`
			Sent    int `json:"sent"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.GreaterOrEqual(t, result.Data.Pending, 1)
}
