package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
	"github.com/frahmantamala/stkpush-checkout/internal/transport"
)

var _ API = (*HTTPClient)(nil)

// HTTPClient calls the checkout endpoints of a running server.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("checkout api: status %d: %s", e.StatusCode, e.Message)
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *HTTPClient) InitiatePayment(ctx context.Context, req transaction.InitiatePaymentRequest) (*transaction.InitiatePaymentResponse, error) {
	var resp transaction.InitiatePaymentResponse
	if err := c.do(ctx, http.MethodPost, "/initiate-payment", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.TransactionRequestID == "" {
		return nil, fmt.Errorf("checkout api: initiation returned no transaction_request_id")
	}
	return &resp, nil
}

func (c *HTTPClient) CheckStatusDB(ctx context.Context, requestID string) (*transaction.CachedStatusResponse, error) {
	var resp transaction.CachedStatusResponse
	if err := c.do(ctx, http.MethodGet, "/check-status-db/"+url.PathEscape(requestID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CheckProviderStatus(ctx context.Context, requestID string) (*transaction.ProviderStatusResponse, error) {
	var resp transaction.ProviderStatusResponse
	body := transaction.StatusRequest{TransactionRequestID: requestID}
	if err := c.do(ctx, http.MethodPost, "/check-pesaflux-status", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp transport.ErrorResponse
		message := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		c.logger.Debug("checkout api error", "path", path, "status_code", resp.StatusCode, "message", message)
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
