// Package gateway talks to the card acquirer's HTTP API and verifies its
// webhook signatures.
package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/config"
)

// Client issues Init requests against the acquirer API.
type Client struct {
	cfg  config.GatewayConfig
	http *http.Client
}

// New builds a gateway client from configuration.
func New(cfg config.GatewayConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// InitRequest describes a payment to initialize.
type InitRequest struct {
	OrderKey    string
	Amount      decimal.Decimal
	Description string
	CustomerKey string
}

// InitResult carries the acquirer's response to a successful Init call.
type InitResult struct {
	PaymentID  string
	PaymentURL string
	Status     string
}

type initResponse struct {
	Success    bool   `json:"Success"`
	ErrorCode  string `json:"ErrorCode"`
	Message    string `json:"Message"`
	Details    string `json:"Details"`
	PaymentID  string `json:"PaymentId"`
	PaymentURL string `json:"PaymentURL"`
	Status     string `json:"Status"`
}

// Init registers a payment and returns the hosted payment page URL. Amount is
// converted to the acquirer's minor units.
func (c *Client) Init(ctx context.Context, req InitRequest) (*InitResult, error) {
	if !c.cfg.Enabled() {
		return nil, fmt.Errorf("payment gateway is not configured")
	}

	params := map[string]any{
		"TerminalKey": c.cfg.TerminalKey,
		"Amount":      req.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
		"OrderId":     req.OrderKey,
		"Description": req.Description,
	}
	if c.cfg.SuccessURL != "" {
		params["SuccessURL"] = c.cfg.SuccessURL
	}
	if c.cfg.FailURL != "" {
		params["FailURL"] = c.cfg.FailURL
	}
	if c.cfg.NotificationURL != "" {
		params["NotificationURL"] = c.cfg.NotificationURL
	}
	if req.CustomerKey != "" {
		params["CustomerKey"] = req.CustomerKey
	}
	params["Token"] = ComputeToken(params, c.cfg.Password)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding init request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/Init", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building init request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling gateway init: %w", err)
	}
	defer resp.Body.Close()

	var decoded initResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding init response: %w", err)
	}
	if !decoded.Success {
		if decoded.Details != "" {
			return nil, fmt.Errorf("gateway init failed (%s): %s: %s", decoded.ErrorCode, decoded.Message, decoded.Details)
		}
		return nil, fmt.Errorf("gateway init failed (%s): %s", decoded.ErrorCode, decoded.Message)
	}

	return &InitResult{
		PaymentID:  decoded.PaymentID,
		PaymentURL: decoded.PaymentURL,
		Status:     decoded.Status,
	}, nil
}

// Notification is the payload the acquirer POSTs on every status change.
type Notification struct {
	TerminalKey string `json:"TerminalKey"`
	OrderID     string `json:"OrderId"`
	PaymentID   any    `json:"PaymentId"`
	Status      string `json:"Status"`
	Success     bool   `json:"Success"`
	Amount      int64  `json:"Amount"`
	Token       string `json:"Token"`
	ErrorCode   string `json:"ErrorCode"`
}

// PaymentIDString normalizes the acquirer's numeric-or-string payment id.
func (n Notification) PaymentIDString() string {
	switch v := n.PaymentID.(type) {
	case string:
		return v
	case float64:
		return decimal.NewFromFloat(v).String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// VerifyNotification recomputes the signature over the raw notification body
// and compares it with the supplied token in constant time.
func VerifyNotification(raw []byte, password string) (bool, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false, fmt.Errorf("decoding notification: %w", err)
	}
	supplied, _ := fields["Token"].(string)
	if supplied == "" {
		return false, nil
	}
	expected := ComputeToken(fields, password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1, nil
}
