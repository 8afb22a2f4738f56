//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mttmxr-creator/BotAICurator/internal/testutil"
)

func TestAuth_TokenExchange(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/auth/token", map[string]string{
		"reviewer_id": "alice",
		"access_key":  aliceKey,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Token        string `json:"token"`
			ReviewerID   string `json:"reviewer_id"`
			ReviewerName string `json:"reviewer_name"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.NotEmpty(t, result.Data.Token)
	assert.Equal(t, "alice", result.Data.ReviewerID)
	assert.Equal(t, "Alice", result.Data.ReviewerName)
}

func TestAuth_WrongAccessKey(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/auth/token", map[string]string{
		"reviewer_id": "alice",
		"access_key":  "wrong-key",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_UnknownReviewerSameError(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/auth/token", map[string]string{
		"reviewer_id": "mallory",
		"access_key":  "anything",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_MissingFields(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/auth/token", map[string]string{"reviewer_id": "alice"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth_ReviewerEndpointsRequireToken(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.GET("/api/v1/items")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client.Token = "not-a-valid-token"
	resp, err = client.GET("/api/v1/items")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_PipelineEndpointsRequireServiceToken(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/items", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client.ServiceToken = "wrong-token"
	resp, err = client.GET("/api/v1/delivery/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_ReviewerTokenDoesNotOpenPipeline(t *testing.T) {
	client := newReviewerClient(t, "alice", aliceKey)

	// A reviewer session is not a service credential.
	resp, err := client.POST("/api/v1/items", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
