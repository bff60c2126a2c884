package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Settlement and wallet errors. Precondition errors are always returned
// before a vendor is contacted.
var (
	ErrPinNotSet           = errors.New("transaction pin not set")
	ErrPinMismatch         = errors.New("transaction pin mismatch")
	ErrInvalidPIN          = errors.New("pin must be exactly 4 digits")
	ErrMissingPlanID       = errors.New("bundle has no vendor plan id")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBundleNotFound      = errors.New("bundle not found")
	ErrAlreadyResolved     = errors.New("transaction is not pending")
	ErrNotFundingRequest   = errors.New("transaction is not a wallet funding request")
	ErrUnknownNetwork      = errors.New("unknown network")
	ErrReferenceConflict   = errors.New("gateway reference already used")
)

// ErrSettlementNotRecorded is returned when the vendor delivered but the
// debit and ledger entry could not be committed. The purchase needs manual
// reconciliation and must not be retried.
var ErrSettlementNotRecorded = errors.New("settlement delivered but not recorded")

// InsufficientFundsError is returned when the balance cannot cover the gross amount.
type InsufficientFundsError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

// VendorError is returned when the vendor rejects, fails or times out.
// No balance or ledger change has happened when it is returned.
type VendorError struct {
	Vendor string
	Reason string
	Err    error
}

func (e *VendorError) Error() string {
	if e.Vendor == "" {
		return "vendor error: " + e.Reason
	}
	return fmt.Sprintf("vendor %s: %s", e.Vendor, e.Reason)
}

func (e *VendorError) Unwrap() error { return e.Err }

// InvalidAmountError is returned for non-positive or malformed amounts.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount.String(), e.Reason)
}

// IsInsufficientFunds reports whether err is an InsufficientFundsError.
func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}

// IsVendorError reports whether err is a VendorError.
func IsVendorError(err error) bool {
	var target *VendorError
	return errors.As(err, &target)
}

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &InvalidAmountError{Amount: amount, Reason: "must be greater than zero"}
	}
	if !amount.Equal(amount.Round(2)) {
		return &InvalidAmountError{Amount: amount, Reason: "at most two decimal places"}
	}
	return nil
}
