package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	service "github.com/honeynil/PromoPaymentService/internal/services"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

// Signature headers in order of preference.
var signatureHeaders = []string{"X-Signature", "X-Lipana-Signature"}

var successEvents = map[string]bool{
	"success":             true,
	"payment.success":     true,
	"transaction.success": true,
	"payment.completed":   true,
}

type webhookPayload struct {
	Event            string           `json:"event"`
	TransactionID    string           `json:"transactionId"`
	TransactionIDAlt string           `json:"transaction_id"`
	Phone            string           `json:"phone"`
	Amount           *decimal.Decimal `json:"amount"`
	Currency         string           `json:"currency"`
	Reference        string           `json:"reference"`
	Timestamp        *time.Time       `json:"timestamp"`
}

func (p *webhookPayload) transactionID() string {
	if id := strings.TrimSpace(p.TransactionID); id != "" {
		return id
	}
	return strings.TrimSpace(p.TransactionIDAlt)
}

func signatureHeader(r *http.Request) string {
	for _, name := range signatureHeaders {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// Webhook receives provider callbacks. Anything the provider may retry on
// (duplicates, events we do not act on) gets a 200.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: unreadable body", pkgerrors.ErrValidation))
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: malformed JSON", pkgerrors.ErrValidation))
		return
	}

	event := strings.ToLower(strings.TrimSpace(payload.Event))
	if event == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: event is required", pkgerrors.ErrValidation))
		return
	}
	if !successEvents[event] {
		slog.Info("webhook event ignored", "event", payload.Event, "provider_reference", payload.transactionID())
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "detail": "event not handled"})
		return
	}

	txID := payload.transactionID()
	var missing []string
	if txID == "" {
		missing = append(missing, "transactionId")
	}
	if strings.TrimSpace(payload.Phone) == "" {
		missing = append(missing, "phone")
	}
	if payload.Amount == nil {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: missing %s", pkgerrors.ErrValidation, strings.Join(missing, ", ")))
		return
	}

	n := service.Notification{
		ProviderReference: txID,
		Phone:             payload.Phone,
		Amount:            *payload.Amount,
		Currency:          payload.Currency,
		AccountReference:  payload.Reference,
		Source:            models.SourceWebhook,
	}
	if payload.Timestamp != nil {
		n.OccurredAt = *payload.Timestamp
	}

	res, err := h.reconciler.ProcessNotification(r.Context(), n, &service.Signature{Payload: body, Value: signatureHeader(r)})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidSignature) {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}
		h.fail(w, r, err)
		return
	}

	if res.Ingest.Outcome == service.IngestDuplicate {
		slog.Info("webhook duplicate ignored", "provider_reference", txID)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "detail": "transaction already processed"})
		return
	}

	resp := map[string]any{"status": "success", "processed": true, "matched": res.Matched()}
	if res.Matched() {
		resp["order_id"] = res.Match.Order.ID
	}
	slog.Info("webhook processed", "provider_reference", txID, "matched", res.Matched())
	h.writeJSON(w, http.StatusOK, resp)
}

type manualPaymentRequest struct {
	ProviderReference string          `json:"provider_reference"`
	Phone             string          `json:"phone"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	AccountReference  string          `json:"account_reference"`
	OccurredAt        *time.Time      `json:"occurred_at"`
}

// IngestPayment records a payment an operator saw outside the webhook, then
// runs it through the same matching as any other notification.
func (h *Handler) IngestPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var req manualPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	n := service.Notification{
		ProviderReference: req.ProviderReference,
		Phone:             req.Phone,
		Amount:            req.Amount,
		Currency:          req.Currency,
		AccountReference:  req.AccountReference,
		Source:            models.SourceManual,
	}
	if req.OccurredAt != nil {
		n.OccurredAt = *req.OccurredAt
	}

	res, err := h.reconciler.ProcessNotification(r.Context(), n, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Ingest.Outcome == service.IngestDuplicate {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "detail": "transaction already processed"})
		return
	}

	slog.Info("manual payment recorded", "payment_id", res.Ingest.Payment.ID, "agent_id", actor.UserID, "matched", res.Matched())
	resp := map[string]any{"payment": res.Ingest.Payment, "matched": res.Matched()}
	if res.Match != nil {
		resp["outcome"] = res.Match.Outcome
		if res.Match.Order != nil {
			resp["order_id"] = res.Match.Order.ID
		}
	}
	h.writeJSON(w, http.StatusCreated, resp)
}
