package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
)

type createOrderRequest struct {
	ListingID int64  `json:"listing_id"`
	PlanID    int64  `json:"plan_id"`
	Phone     string `json:"phone"`
}

// CreateOrder answers 201 once the payer has been prompted. If the prompt
// failed the order still exists and is returned with a 502.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), actor.UserID, req.ListingID, req.PlanID, req.Phone)
	if err != nil {
		if order != nil && errors.Is(err, pkgerrors.ErrGatewayFailure) {
			h.writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "order": order})
			return
		}
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListUserOrders(r.Context(), actor.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.orders.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) OrderCandidates(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	candidates, err := h.orders.Candidates(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, candidates)
}

type walletBoostRequest struct {
	ListingID int64 `json:"listing_id"`
	PlanID    int64 `json:"plan_id"`
}

func (h *Handler) PurchaseWithWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var req walletBoostRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, wallet, err := h.orders.PurchaseWithWallet(r.Context(), actor.UserID, req.ListingID, req.PlanID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"order": order, "wallet": wallet})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var statuses []models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			s, err := models.ParseOrderStatus(part)
			if err != nil {
				h.fail(w, r, fmt.Errorf("%w: %v", pkgerrors.ErrValidation, err))
				return
			}
			statuses = append(statuses, s)
		}
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), statuses, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

type linkRequest struct {
	PaymentID int64 `json:"payment_id"`
}

func (h *Handler) LinkPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req linkRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.LinkPayment(r.Context(), actor, id, req.PaymentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) FinalizeOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.orders.Finalize(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type approveRequest struct {
	PlanID int64 `json:"plan_id"`
}

func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req approveRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.Approve(r.Context(), actor, id, req.PlanID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.Reject(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type directPromoteRequest struct {
	ListingID int64 `json:"listing_id"`
	PlanID    int64 `json:"plan_id"`
}

func (h *Handler) DirectPromote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var req directPromoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.DirectPromote(r.Context(), actor, req.ListingID, req.PlanID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) ListUnmatchedPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payments, err := h.orders.ListUnmatchedPayments(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.orders.RejectPayment(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
