package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
)

// Request is one transfer the treasury service should perform.
type Request struct {
	RecipientAccount string          `json:"recipient_account"`
	AssetType        string          `json:"asset_type"`
	Amount           decimal.Decimal `json:"amount"`
}

// Outcome is the treasury service's report for one recipient. The caller
// trusts it as-is; no ledger balances are computed or validated here.
type Outcome struct {
	RecipientAccount string `json:"recipient_account"`
	ExternalTxRef    string `json:"external_tx_ref"`
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
}

// Executor moves funds. The settlement workflow only computes what should
// be transferred; this collaborator is what actually does it.
type Executor interface {
	ExecuteTransfers(ctx context.Context, requests []Request) ([]Outcome, error)
}

type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("treasury API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

type executeRequest struct {
	Transfers []Request `json:"transfers"`
}

type executeResponse struct {
	Outcomes []Outcome `json:"outcomes"`
}

func (c *Client) ExecuteTransfers(ctx context.Context, requests []Request) ([]Outcome, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(executeRequest{Transfers: requests})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfers: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	var parsed executeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode outcomes: %w", err)
	}
	return parsed.Outcomes, nil
}
