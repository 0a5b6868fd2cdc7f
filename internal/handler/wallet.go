package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
)

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	wallet, err := h.ledger.GetWallet(r.Context(), actor.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) ListWalletEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.ledger.ListEntries(r.Context(), actor.UserID, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (h *Handler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if !h.decode(w, r, &req) {
		return
	}
	voucher, wallet, err := h.ledger.RedeemVoucher(r.Context(), req.Code, actor.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"voucher": voucher, "wallet": wallet})
}

type voucherRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) GenerateVoucher(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var req voucherRequest
	if !h.decode(w, r, &req) {
		return
	}
	voucher, err := h.ledger.GenerateVoucher(r.Context(), req.Amount, actor.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, voucher)
}
