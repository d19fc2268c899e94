package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Publisher submits a message to a consensus topic. The workflow uses it
// to announce settlement transitions on the well's topic; delivery is
// best-effort from the workflow's point of view.
type Publisher interface {
	Publish(ctx context.Context, topicID string, payload []byte) error
}

// RelayClient publishes through an HTTP relay that holds the submit keys.
type RelayClient struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay API error (%d): %s", e.Status, e.Body)
}

func NewRelayClient(httpClient *http.Client, host string) *RelayClient {
	host = strings.TrimRight(host, "/")
	return &RelayClient{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *RelayClient) Publish(ctx context.Context, topicID string, payload []byte) error {
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return fmt.Errorf("topic_id is required")
	}
	body := []byte(`{"message":"` + base64.StdEncoding.EncodeToString(payload) + `"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/api/v1/topics/"+url.PathEscape(topicID)+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
