package errors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInternal         = errors.New("internal error")

	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
	ErrPlanNotFound    = fmt.Errorf("plan %w", ErrNotFound)
	ErrListingNotFound = fmt.Errorf("listing %w", ErrNotFound)
	ErrPaymentNotFound = fmt.Errorf("payment %w", ErrNotFound)
	ErrVoucherNotFound = fmt.Errorf("voucher %w", ErrNotFound)
	ErrWalletNotFound  = fmt.Errorf("wallet %w", ErrNotFound)

	// State machine guards. These are client errors, not server faults.
	ErrAlreadyTerminal      = errors.New("order already in a terminal state")
	ErrAlreadyApproved      = errors.New("order already approved")
	ErrAlreadyRedeemed      = errors.New("voucher already redeemed")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrPaymentAlreadyLinked = errors.New("payment already linked to an order")
	ErrPaymentRejected      = errors.New("payment was rejected")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrGatewayFailure    = errors.New("push gateway failure")
	ErrDuplicatePayment  = errors.New("payment with this provider reference already exists")
	ErrVoucherExists     = errors.New("voucher code already exists")
	ErrNilOrder          = errors.New("order is nil")
	ErrNilPayment        = errors.New("payment is nil")
)
