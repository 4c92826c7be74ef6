package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
)

const errorBodyReadLimit int64 = 1024

// restClient is the shared HTTP plumbing for the JSON payment rails.
type restClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// restOption configures optional client behavior.
type restOption func(*restClient)

// withHTTPClient overrides the default HTTP client.
func withHTTPClient(client *http.Client) restOption {
	return func(c *restClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func newRESTClient(baseURL, apiKey string, opts ...restOption) (*restClient, error) {
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, fmt.Errorf("provider api key is required")
	}

	client := &restClient{
		baseURL:    strings.TrimRight(trimmedURL, "/"),
		apiKey:     trimmedKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return client, nil
}

// postJSON sends the request and decodes a 2xx response into out. Transport
// errors and 5xx responses map to ProviderUnavailable so the retry queue picks
// them up; 4xx responses map to ProviderRejected and are terminal.
func (c *restClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal provider request")
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build provider request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, "execute provider request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "provider unavailable")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeProviderRejected,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "provider rejected request")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode provider response")
	}
	return nil
}

// asyncWebhookPayload is the callback shape shared by the async JSON rails.
type asyncWebhookPayload struct {
	EventID       string `json:"event_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// mapAsyncStatus translates the async rails' event vocabulary. Unknown values
// map to processing so a late terminal webhook can still land.
func mapAsyncStatus(status string) enums.TransactionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "confirmed", "paid", "completed":
		return enums.TransactionStatusCompleted
	case "declined", "failed", "rejected", "canceled":
		return enums.TransactionStatusFailed
	default:
		return enums.TransactionStatusProcessing
	}
}
