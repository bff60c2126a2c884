// Package domain contains core domain types for the VTU platform.
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// Role represents an account role
type Role string

const (
	RoleUser     Role = "USER"
	RoleReseller Role = "RESELLER"
	RoleAdmin    Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleReseller, RoleAdmin:
		return true
	}
	return false
}

// Account is a wallet-holding user of the platform.
type Account struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone"`
	Email          string          `json:"email,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	SavingsBalance decimal.Decimal `json:"savings_balance"`
	BonusBalance   decimal.Decimal `json:"bonus_balance"`
	Role           Role            `json:"role"`
	PINHash        string          `json:"-"`
	Verified       bool            `json:"verified"`
	DataUsedGB     float64         `json:"data_used_gb"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewAccount creates a new account with a zero balance
func NewAccount(id, name, phone, email string, role Role) (*Account, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if phone == "" {
		return nil, errors.New("phone is required")
	}
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return nil, errors.New("invalid role")
	}

	now := time.Now().UTC()
	return &Account{
		ID:        id,
		Name:      name,
		Phone:     phone,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasPIN reports whether a transaction PIN has been set.
func (a *Account) HasPIN() bool {
	return a.PINHash != ""
}

// VerifyPIN checks pin against the stored hash in constant time.
func (a *Account) VerifyPIN(pin string) error {
	if !a.HasPIN() {
		return ErrPinNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PINHash), []byte(pin)); err != nil {
		return ErrPinMismatch
	}
	return nil
}

// CanAfford returns an InsufficientFundsError when the balance is below amount.
func (a *Account) CanAfford(amount decimal.Decimal) error {
	if a.Balance.LessThan(amount) {
		return &InsufficientFundsError{Available: a.Balance, Required: amount}
	}
	return nil
}

// HashPIN validates a 4-digit PIN and returns its bcrypt hash.
func HashPIN(pin string) (string, error) {
	if len(pin) != 4 {
		return "", ErrInvalidPIN
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return "", ErrInvalidPIN
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
