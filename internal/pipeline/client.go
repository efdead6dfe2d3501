// Package pipeline calls the external LLM generation gateway that scheduled
// task payloads are handed to. The scheduler treats the call as opaque: a
// payload and user id go in, a result document or an error comes out.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Minute

// Client invokes the generation gateway over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a gateway client. timeout <= 0 uses the default.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway url is empty")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type invokeRequest struct {
	Payload   json.RawMessage `json:"payload"`
	UserID    string          `json:"user_id"`
	StartTime int64           `json:"start_time_ms"`
}

type gatewayError struct {
	Error string `json:"error"`
}

// Invoke submits the payload for the given user and returns the gateway's
// result document. Non-2xx responses become errors carrying the gateway's
// message when one is present.
func (c *Client) Invoke(ctx context.Context, payload json.RawMessage, userID string, startTime time.Time) (json.RawMessage, error) {
	body, err := json.Marshal(invokeRequest{
		Payload:   payload,
		UserID:    userID,
		StartTime: startTime.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate-message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke generation gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gwErr gatewayError
		if err := json.Unmarshal(data, &gwErr); err == nil && gwErr.Error != "" {
			return nil, fmt.Errorf("%s", gwErr.Error)
		}
		return nil, fmt.Errorf("generation gateway returned status %d", resp.StatusCode)
	}
	return data, nil
}
