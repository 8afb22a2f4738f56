//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mttmxr-creator/BotAICurator/internal/testutil"
)

// approveForDelivery submits an item and approves it, returning the
// pending envelope.
func approveForDelivery(t *testing.T, pipeline, reviewer *testutil.Client) (reviewItem, deliveryEnvelope) {
	t.Helper()

	item := submitItem(t, pipeline)

	resp, err := reviewer.POST("/api/v1/items/"+item.ID+"/approve", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, testutil.ReadBody(t, resp))

	envelopes := pollEnvelopes(t, pipeline, item.ConversationID)
	require.Len(t, envelopes, 1)
	return item, envelopes[0]
}

func TestDelivery_PollRequiresConversation(t *testing.T) {
	pipeline := newPipelineClient(t)

	resp, err := pipeline.GET("/api/v1/delivery/envelopes")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelivery_PollIsNonMutating(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	item, env := approveForDelivery(t, pipeline, reviewer)
	assert.Equal(t, 0, env.Attempts)

	// Polling again returns the same envelope unchanged: the consumer
	// crashing between poll and ack must not lose the answer.
	again := pollEnvelopes(t, pipeline, item.ConversationID)
	require.Len(t, again, 1)
	assert.Equal(t, env.ID, again[0].ID)
	assert.Equal(t, 0, again[0].Attempts)
}

func TestDelivery_Acknowledge(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	item, env := approveForDelivery(t, pipeline, reviewer)

	resp, err := pipeline.POST("/api/v1/delivery/envelopes/"+env.ID+"/ack", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, pollEnvelopes(t, pipeline, item.ConversationID))

	// Ack is idempotent: the consumer may retry after a lost response.
	resp, err = pipeline.POST("/api/v1/delivery/envelopes/"+env.ID+"/ack", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDelivery_AcknowledgeUnknown(t *testing.T) {
	pipeline := newPipelineClient(t)

	resp, err := pipeline.POST("/api/v1/delivery/envelopes/no-such-envelope/ack", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelivery_FailureExhaustion(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	item, env := approveForDelivery(t, pipeline, reviewer)

	// First failure stays pending; the configured bound is two attempts.
	resp, err := pipeline.POST("/api/v1/delivery/envelopes/"+env.ID+"/nack", map[string]string{
		"error": "connection reset",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data deliveryEnvelope `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "pending", result.Data.Status)
	assert.Equal(t, 1, result.Data.Attempts)

	// Second failure exhausts the envelope.
	resp, err = pipeline.POST("/api/v1/delivery/envelopes/"+env.ID+"/nack", map[string]string{
		"error": "connection reset",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	assert.Empty(t, pollEnvelopes(t, pipeline, item.ConversationID))

	// The dead letter is inspectable.
	resp, err = pipeline.GET("/api/v1/delivery/failed")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var failed struct {
		Data []deliveryEnvelope `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &failed)

	found := false
	for _, e := range failed.Data {
		if e.ID == env.ID {
			found = true
			assert.Equal(t, "failed", e.Status)
		}
	}
	assert.True(t, found, "exhausted envelope missing from failed list")
}

func TestDelivery_NackRequiresError(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	_, env := approveForDelivery(t, pipeline, reviewer)

	resp, err := pipeline.POST("/api/v1/delivery/envelopes/"+env.ID+"/nack", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelivery_Stats(t *testing.T) {
	pipeline := newPipelineClient(t)
	reviewer := newReviewerClient(t, "alice", aliceKey)

	approveForDelivery(t, pipeline, reviewer)

	resp, err := pipeline.GET("/api/v1/delivery/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Pending int `json:"pending"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.GreaterOrEqual(t, result.Data.Pending, 1)
}
