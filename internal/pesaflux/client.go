package pesaflux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	types "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/pesaflux"
)

const (
	initiatePath    = "/v1/initiatestk"
	checkStatusPath = "/v1/checkstatus"

	maxResponseBytes = 1 << 20
)

var (
	// ErrRejected means the provider answered but refused the push request.
	ErrRejected = errors.New("pesaflux: request rejected")
	// ErrMalformedResponse means the provider body could not be decoded.
	ErrMalformedResponse = errors.New("pesaflux: malformed response")
)

type Config struct {
	BaseURL string
	APIKey  string
	Email   string
	Timeout time.Duration
}

// Client talks to the PesaFlux STK push API with one fixed merchant identity.
type Client struct {
	baseURL    string
	apiKey     string
	email      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		email:      config.Email,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// InitiateSTKPush asks the provider to prompt msisdn for amount. It returns
// ErrRejected when the provider does not hand back a transaction request id.
func (c *Client) InitiateSTKPush(ctx context.Context, msisdn string, amount int64, reference string) (*types.STKPushResponse, error) {
	reqBody := types.STKPushRequest{
		APIKey:    c.apiKey,
		Email:     c.email,
		Amount:    amount,
		MSISDN:    msisdn,
		Reference: reference,
	}

	c.logger.Info("pesaflux: initiating stk push",
		"msisdn", msisdn,
		"amount", amount,
		"reference", reference)

	respBody, statusCode, err := c.post(ctx, initiatePath, reqBody)
	if err != nil {
		return nil, err
	}

	var resp types.STKPushResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		c.logger.Error("pesaflux: failed to decode stk push response", "error", err, "status_code", statusCode)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if statusCode >= http.StatusBadRequest || !resp.Accepted() {
		c.logger.Warn("pesaflux: stk push rejected",
			"status_code", statusCode,
			"success", resp.Success.String(),
			"message", resp.Message,
			"reference", reference)
		return &resp, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}

	c.logger.Info("pesaflux: stk push accepted",
		"transaction_request_id", resp.TransactionRequestID,
		"reference", reference)

	return &resp, nil
}

// CheckStatus queries the provider for the outcome of a push request. The
// raw body is kept on the response for callers that echo it.
func (c *Client) CheckStatus(ctx context.Context, transactionRequestID string) (*types.StatusResponse, error) {
	reqBody := types.StatusRequest{
		APIKey:               c.apiKey,
		Email:                c.email,
		TransactionRequestID: transactionRequestID,
	}

	respBody, statusCode, err := c.post(ctx, checkStatusPath, reqBody)
	if err != nil {
		return nil, err
	}

	var resp types.StatusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		c.logger.Error("pesaflux: failed to decode status response",
			"error", err,
			"status_code", statusCode,
			"transaction_request_id", transactionRequestID)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp.Raw = json.RawMessage(respBody)

	c.logger.Debug("pesaflux: status response",
		"transaction_request_id", transactionRequestID,
		"status_code", statusCode,
		"result_code", resp.ResultCode.String(),
		"result_desc", resp.Description())

	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("pesaflux: request failed", "path", path, "error", err)
		return nil, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Error("pesaflux: server error", "path", path, "status_code", resp.StatusCode, "response", string(body))
		return nil, resp.StatusCode, fmt.Errorf("pesaflux returned status %d", resp.StatusCode)
	}

	return body, resp.StatusCode, nil
}
