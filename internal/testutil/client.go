// Package testutil provides testing utilities for integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
)

// Client is an HTTP client for testing API endpoints.
type Client struct {
	BaseURL      string
	Token        string // reviewer session token, sent as Authorization bearer
	ServiceToken string // machine client token, sent as X-Service-Token
	HTTPClient   *http.Client
	Validator    *OpenAPIValidator
	ValidateAPI  bool
	t            *testing.T
}

// NewClient creates a new test client without validation.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
	}
}

// NewClientWithValidation creates a new test client with OpenAPI validation enabled.
// The specPath should be the path to the OpenAPI specification file.
func NewClientWithValidation(t *testing.T, baseURL, specPath string) *Client {
	t.Helper()
	return &Client{
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{},
		Validator:   NewOpenAPIValidator(t, specPath),
		ValidateAPI: true,
		t:           t,
	}
}

// NewClientWithValidator creates a new test client with a pre-loaded OpenAPI validator.
// Use this in TestMain where *testing.T is not available during initialization.
func NewClientWithValidator(baseURL string, validator *OpenAPIValidator) *Client {
	return &Client{
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{},
		Validator:   validator,
		ValidateAPI: true,
	}
}

// SetT sets the testing.T for validation error reporting.
// This should be called at the beginning of each test when using a shared client.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithoutValidation returns a copy of the client with validation disabled.
// Use this for negative tests where you expect invalid responses.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.ValidateAPI = false
	return &clone
}

// LoginAs exchanges a reviewer access key for a session token and stores
// it for subsequent requests.
func (c *Client) LoginAs(t *testing.T, reviewerID, accessKey string) {
	t.Helper()
	c.t = t

	resp, err := c.POST("/api/v1/auth/token", map[string]string{
		"reviewer_id": reviewerID,
		"access_key":  accessKey,
	})
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("token exchange failed: status=%d body=%s", resp.StatusCode, body)
	}

	var tokenResp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	c.Token = tokenResp.Data.Token
}

// ClearToken removes the stored tokens.
func (c *Client) ClearToken() {
	c.Token = ""
	c.ServiceToken = ""
}

// GET performs a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.do("GET", path, nil)
}

// POST performs a POST request with JSON body.
func (c *Client) POST(path string, body interface{}) (*http.Response, error) {
	return c.do("POST", path, body)
}

// PUT performs a PUT request with JSON body.
func (c *Client) PUT(path string, body interface{}) (*http.Response, error) {
	return c.do("PUT", path, body)
}

// PATCH performs a PATCH request with JSON body.
func (c *Client) PATCH(path string, body interface{}) (*http.Response, error) {
	return c.do("PATCH", path, body)
}

// DELETE performs a DELETE request.
func (c *Client) DELETE(path string) (*http.Response, error) {
	return c.do("DELETE", path, nil)
}

func (c *Client) do(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	var bodyBytes []byte

	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.ServiceToken != "" {
		req.Header.Set("X-Service-Token", c.ServiceToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	// Validate response against OpenAPI spec if enabled
	if c.ValidateAPI && c.Validator != nil && c.t != nil {
		// Create a new request for validation (original body was consumed)
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		validationReq, _ := http.NewRequest(method, c.BaseURL+path, bodyReader)
		validationReq.Header = req.Header
		validationReq.URL = req.URL

		c.Validator.ValidateResponse(c.t, validationReq, resp)
	}

	return resp, nil
}

// DecodeJSON decodes response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads and returns response body as string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
