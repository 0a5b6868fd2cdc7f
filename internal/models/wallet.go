package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type EntryKind string

const (
	KindDeposit EntryKind = "deposit"
	KindPayment EntryKind = "payment"
	KindRefund  EntryKind = "refund"
	KindVoucher EntryKind = "voucher"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindDeposit, KindPayment, KindRefund, KindVoucher:
		return true
	}
	return false
}

// LedgerEntry is append-only. Amount is signed: credits are positive,
// debits negative.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	WalletID    int64           `json:"wallet_id"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        EntryKind       `json:"kind"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Voucher struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	Amount     decimal.Decimal `json:"amount"`
	Redeemed   bool            `json:"redeemed"`
	RedeemedBy *int64          `json:"redeemed_by,omitempty"`
	RedeemedAt *time.Time      `json:"redeemed_at,omitempty"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}
