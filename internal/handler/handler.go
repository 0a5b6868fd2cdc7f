package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/auth"
	service "github.com/honeynil/PromoPaymentService/internal/services"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
)

type Handler struct {
	orders     *service.OrderService
	ledger     *service.LedgerService
	reconciler *service.Reconciler
}

func NewHandler(orders *service.OrderService, ledger *service.LedgerService, reconciler *service.Reconciler) *Handler {
	return &Handler{orders: orders, ledger: ledger, reconciler: reconciler}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = pkgerrors.ErrInternal.Error()
	}
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps domain errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrValidation), errors.Is(err, pkgerrors.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrAlreadyTerminal),
		errors.Is(err, pkgerrors.ErrAlreadyApproved),
		errors.Is(err, pkgerrors.ErrAlreadyRedeemed),
		errors.Is(err, pkgerrors.ErrPaymentAlreadyLinked),
		errors.Is(err, pkgerrors.ErrPaymentRejected),
		errors.Is(err, pkgerrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrGatewayFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/mobile-money", h.Webhook).Methods("POST")
	r.HandleFunc("/plans", h.ListPlans).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	r.HandleFunc("/orders", h.ListMyOrders).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}/candidates", h.OrderCandidates).Methods("GET")
	r.HandleFunc("/boosts/wallet", h.PurchaseWithWallet).Methods("POST")
	r.HandleFunc("/wallet", h.GetWallet).Methods("GET")
	r.HandleFunc("/wallet/entries", h.ListWalletEntries).Methods("GET")
	r.HandleFunc("/wallet/vouchers/redeem", h.RedeemVoucher).Methods("POST")
}

// RegisterStaffRoutes expects a router already restricted to agents and admins.
func (h *Handler) RegisterStaffRoutes(r *mux.Router) {
	r.HandleFunc("/payments/unmatched", h.ListUnmatchedPayments).Methods("GET")
	r.HandleFunc("/payments", h.IngestPayment).Methods("POST")
	r.HandleFunc("/payments/{id:[0-9]+}/reject", h.RejectPayment).Methods("POST")
	r.HandleFunc("/orders", h.ListOrders).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}/link", h.LinkPayment).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/finalize", h.FinalizeOrder).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/approve", h.ApproveOrder).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/reject", h.RejectOrder).Methods("POST")
	r.HandleFunc("/promotions/direct", h.DirectPromote).Methods("POST")
}

// RegisterAdminRoutes expects a router already restricted to admins.
func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/vouchers", h.GenerateVoucher).Methods("POST")
}

func actorFrom(r *http.Request) (service.Actor, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{UserID: id.UserID, Role: id.Role}, true
}

// authorized writes 401 and reports false when no identity is attached.
func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
	}
	return actor, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: malformed request body", pkgerrors.ErrValidation))
		return false
	}
	return true
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", pkgerrors.ErrValidation)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", pkgerrors.ErrValidation, name)
	}
	return n, nil
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.orders.ListPlans(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plans)
}
