package domain

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of ledger entry
type TransactionType string

const (
	TypeAirtime       TransactionType = "AIRTIME"
	TypeData          TransactionType = "DATA"
	TypeCable         TransactionType = "CABLE"
	TypeElectricity   TransactionType = "ELECTRICITY"
	TypeWalletFunding TransactionType = "WALLET_FUNDING"
	TypeAdjustment    TransactionType = "ADJUSTMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeAirtime, TypeData, TypeCable, TypeElectricity, TypeWalletFunding, TypeAdjustment:
		return true
	}
	return false
}

var referencePrefixes = map[TransactionType]string{
	TypeAirtime:       "AIR",
	TypeData:          "DAT",
	TypeCable:         "CAB",
	TypeElectricity:   "ELE",
	TypeWalletFunding: "FND",
	TypeAdjustment:    "ADJ",
}

// Status represents the settlement status of a transaction
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSuccess || s == StatusFailed
}

// Transaction is an immutable ledger record of a settled or pending operation.
// Only PENDING wallet funding entries may transition, and only once.
type Transaction struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Type            TransactionType `json:"type"`
	Provider        string          `json:"provider"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	Profit          decimal.Decimal `json:"profit"`
	Destination     string          `json:"destination"`
	PlanName        string          `json:"plan_name,omitempty"`
	Status          Status          `json:"status"`
	Reference       string          `json:"reference"`
	VendorReference string          `json:"vendor_reference,omitempty"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	ProofOfPayment  string          `json:"proof_of_payment,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	Token           string          `json:"token,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewReference returns a unique customer-facing reference such as "AIR-01HV...".
func NewReference(t TransactionType) string {
	prefix, ok := referencePrefixes[t]
	if !ok {
		prefix = "TXN"
	}
	return prefix + "-" + ulid.Make().String()
}

// NewTransaction creates a transaction with a fresh id and reference.
func NewTransaction(accountID string, t TransactionType, status Status, amount decimal.Decimal, at time.Time) (*Transaction, error) {
	if accountID == "" {
		return nil, errors.New("account_id is required")
	}
	if !t.Valid() {
		return nil, errors.New("invalid transaction type")
	}
	if !status.Valid() {
		return nil, errors.New("invalid status")
	}
	if amount.IsNegative() {
		return nil, errors.New("amount must not be negative")
	}

	return &Transaction{
		ID:        ulid.Make().String(),
		AccountID: accountID,
		Type:      t,
		Amount:    amount,
		Status:    status,
		Reference: NewReference(t),
		CreatedAt: at.UTC(),
	}, nil
}

// IsTerminal returns true if the transaction can no longer change.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

// Resolution describes the one-time transition of a pending transaction.
type Resolution struct {
	Status          Status
	ResolvedBy      string
	Reason          string
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	At              time.Time
}

// CanResolve checks that t is a pending wallet funding request.
func (t *Transaction) CanResolve() error {
	if t.Type != TypeWalletFunding {
		return ErrNotFundingRequest
	}
	if t.Status != StatusPending {
		return ErrAlreadyResolved
	}
	return nil
}

// Resolve applies a resolution. It fails when t is not pending.
func (t *Transaction) Resolve(r Resolution) error {
	if t.Status != StatusPending {
		return ErrAlreadyResolved
	}
	if r.Status != StatusSuccess && r.Status != StatusFailed {
		return errors.New("resolution must be SUCCESS or FAILED")
	}
	at := r.At.UTC()
	t.Status = r.Status
	t.ResolvedBy = r.ResolvedBy
	t.ResolvedAt = &at
	t.FailureReason = r.Reason
	if r.Status == StatusSuccess {
		t.PreviousBalance = r.PreviousBalance
		t.NewBalance = r.NewBalance
	}
	return nil
}

// Clone returns a deep copy of t.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.ExpiresAt != nil {
		e := *t.ExpiresAt
		c.ExpiresAt = &e
	}
	if t.ResolvedAt != nil {
		r := *t.ResolvedAt
		c.ResolvedAt = &r
	}
	return &c
}

// ProductSummary aggregates successful sales for one transaction type.
type ProductSummary struct {
	Type   TransactionType `json:"type"`
	Count  int64           `json:"count"`
	Gross  decimal.Decimal `json:"gross"`
	Cost   decimal.Decimal `json:"cost"`
	Profit decimal.Decimal `json:"profit"`
}
