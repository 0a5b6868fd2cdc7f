package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
)

type Request struct {
	Phone       string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// Client sends STK push prompts through the mobile-money provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type pushPayload struct {
	Phone       string `json:"phone"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

type pushResult struct {
	TransactionID     string `json:"transactionId"`
	TransactionIDAlt  string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkoutRequestID"`
}

func (r pushResult) id() string {
	switch {
	case r.TransactionID != "":
		return r.TransactionID
	case r.TransactionIDAlt != "":
		return r.TransactionIDAlt
	}
	return r.CheckoutRequestID
}

// Push prompts the payer and returns the provider transaction id. A non-2xx
// status or a response without an id is an ErrGatewayFailure.
func (c *Client) Push(ctx context.Context, req Request) (string, error) {
	// provider takes whole shillings
	body, err := json.Marshal(pushPayload{
		Phone:       req.Phone,
		Amount:      req.Amount.IntPart(),
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/push-stk", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("push request failed", "reference", req.Reference, "error", err)
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", pkgerrors.ErrGatewayFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("push rejected by provider", "reference", req.Reference, "status", resp.StatusCode, "body", string(raw))
		return "", fmt.Errorf("%w: provider returned status %d", pkgerrors.ErrGatewayFailure, resp.StatusCode)
	}

	// The id is either at the top level or wrapped in "data".
	var envelope struct {
		pushResult
		Data *pushResult `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("%w: invalid response body: %v", pkgerrors.ErrGatewayFailure, err)
	}
	txID := envelope.id()
	if envelope.Data != nil && envelope.Data.id() != "" {
		txID = envelope.Data.id()
	}
	if txID == "" {
		return "", fmt.Errorf("%w: response without transaction id", pkgerrors.ErrGatewayFailure)
	}

	slog.Info("push sent", "reference", req.Reference, "provider_tx_id", txID)
	return txID, nil
}
