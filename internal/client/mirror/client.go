package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client pulls topic messages from a consensus-log mirror REST API. The log
// is append-only and ordered; all queries here are ascending with an
// exclusive lower timestamp bound.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mirror API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	if host == "" {
		host = "https://testnet.mirrornode.hedera.com"
	}
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// MessagesAfter returns up to limit messages of a topic strictly after the
// given consensus position, in ascending consensus order. The boundary
// message itself is never refetched.
func (c *Client) MessagesAfter(ctx context.Context, topicID string, afterNanos int64, limit int) ([]TopicMessage, error) {
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return nil, fmt.Errorf("topic_id is required")
	}
	query := url.Values{}
	query.Set("order", "asc")
	query.Set("limit", strconv.Itoa(limit))
	if afterNanos > 0 {
		query.Set("timestamp", "gt:"+FormatTimestamp(afterNanos))
	}
	body, err := c.doRequest(ctx, "/api/v1/topics/"+url.PathEscape(topicID)+"/messages", query)
	if err != nil {
		return nil, err
	}
	var parsed topicMessagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return parsed.Messages, nil
}
