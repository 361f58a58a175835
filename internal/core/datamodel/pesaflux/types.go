package pesaflux

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Code is a provider code that may arrive as a JSON string, a JSON number
// or null. It always holds the trimmed textual form, "" for null.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("pesaflux: code must be a string or a number")
	}
	*c = Code(n.String())
	return nil
}

func (c Code) String() string {
	return string(c)
}

// STKPushRequest is the body of POST /v1/initiatestk.
type STKPushRequest struct {
	APIKey    string `json:"api_key"`
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	MSISDN    string `json:"msisdn"`
	Reference string `json:"reference"`
}

type STKPushResponse struct {
	Success              Code   `json:"success"`
	Message              string `json:"massage"`
	TransactionRequestID string `json:"transaction_request_id"`
}

func (r *STKPushResponse) Accepted() bool {
	return r.Success == "200" && r.TransactionRequestID != ""
}

// StatusRequest is the body of POST /v1/checkstatus.
type StatusRequest struct {
	APIKey               string `json:"api_key"`
	Email                string `json:"email"`
	TransactionRequestID string `json:"transaction_request_id"`
}

type StatusResponse struct {
	ResultCode         Code   `json:"ResultCode"`
	ResultDesc         string `json:"ResultDesc"`
	Massage            string `json:"massage"`
	Message            string `json:"message"`
	TransactionID      string `json:"TransactionID"`
	TransactionReceipt string `json:"TransactionReceipt"`
	TransactionAmount  Code   `json:"TransactionAmount"`

	// Raw is the undecoded provider body, echoed back to callers as details.
	Raw json.RawMessage `json:"-"`
}

// Description picks the first non-empty provider description field.
func (r *StatusResponse) Description() string {
	for _, d := range []string{r.ResultDesc, r.Massage, r.Message} {
		if d != "" {
			return d
		}
	}
	return ""
}

// CallbackPayload is what PesaFlux posts to the webhook once the payer acts
// on the STK prompt.
type CallbackPayload struct {
	TransactionRequestID string `json:"TransactionRequestID"`
	RequestIDSnake       string `json:"transaction_request_id"`
	ResultCode           Code   `json:"ResultCode"`
	ResultDesc           string `json:"ResultDesc"`
	TransactionID        string `json:"TransactionID"`
	TransactionReceipt   string `json:"TransactionReceipt"`
	TransactionAmount    Code   `json:"TransactionAmount"`
	MSISDN               string `json:"Msisdn"`
}

func (p *CallbackPayload) RequestID() string {
	if p.TransactionRequestID != "" {
		return strings.TrimSpace(p.TransactionRequestID)
	}
	return strings.TrimSpace(p.RequestIDSnake)
}
