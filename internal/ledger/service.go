package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"vtuplatform/internal/common/events"
	"vtuplatform/internal/domain"
)

// EventSink accepts domain events without blocking.
type EventSink interface {
	Publish(evt *events.Event) bool
}

// Service provides account, PIN and transaction history operations
type Service struct {
	repo   Repository
	events EventSink
	logger *slog.Logger
}

// NewService creates a new ledger service
func NewService(repo Repository, sink EventSink, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: sink,
		logger: logger,
	}
}

// CreateAccountRequest is the request to create an account
type CreateAccountRequest struct {
	Name  string      `json:"name" validate:"required,max=255"`
	Phone string      `json:"phone" validate:"required,min=7,max=20"`
	Email string      `json:"email" validate:"omitempty,email"`
	Role  domain.Role `json:"role" validate:"omitempty,oneof=USER RESELLER ADMIN"`
}

// CreateAccount creates a new wallet account with a zero balance
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (*domain.Account, error) {
	acct, err := domain.NewAccount(ulid.Make().String(), req.Name, req.Phone, req.Email, req.Role)
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	if err := s.repo.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	if evt, err := events.NewEvent(events.EventAccountCreated, events.AggregateAccount, acct.ID, events.AccountCreatedData{
		AccountID: acct.ID,
		Role:      string(acct.Role),
	}); err == nil {
		s.events.Publish(evt)
	}

	s.logger.Info("account created",
		"account_id", acct.ID,
		"role", acct.Role,
	)

	return acct, nil
}

// GetAccount retrieves an account by ID
func (s *Service) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// SetPIN sets or changes the transaction PIN. Changing an existing PIN
// requires the current one.
func (s *Service) SetPIN(ctx context.Context, accountID, currentPIN, newPIN string) error {
	acct, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if acct.HasPIN() {
		if err := acct.VerifyPIN(currentPIN); err != nil {
			return err
		}
	}

	hash, err := domain.HashPIN(newPIN)
	if err != nil {
		return err
	}

	if err := s.repo.SetPINHash(ctx, accountID, hash); err != nil {
		return fmt.Errorf("saving pin: %w", err)
	}

	s.logger.Info("transaction pin updated", "account_id", accountID, "first_set", !acct.HasPIN())
	return nil
}

// History lists an account's transactions, newest first
func (s *Service) History(ctx context.Context, accountID string, f Filter) ([]*domain.Transaction, int64, error) {
	return s.repo.ListByAccount(ctx, accountID, f.Normalize())
}

// GetTransaction retrieves a transaction. Non-admin callers only see their own.
func (s *Service) GetTransaction(ctx context.Context, callerID string, callerRole domain.Role, id string) (*domain.Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerRole != domain.RoleAdmin && txn.AccountID != callerID {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

// PendingFunding lists manual funding requests awaiting review
func (s *Service) PendingFunding(ctx context.Context, limit, offset int) ([]*domain.Transaction, int64, error) {
	f := Filter{
		Type:   domain.TypeWalletFunding,
		Status: domain.StatusPending,
		Limit:  limit,
		Offset: offset,
	}
	return s.repo.ListTransactions(ctx, f.Normalize())
}

// Summary aggregates successful sales in [from, to)
func (s *Service) Summary(ctx context.Context, from, to time.Time) ([]domain.ProductSummary, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("summary window: to must be after from")
	}
	return s.repo.Summary(ctx, from, to)
}

// Bundles lists active catalog entries
func (s *Service) Bundles(ctx context.Context, kind domain.BundleKind, provider string) ([]*domain.Bundle, error) {
	return s.repo.ListBundles(ctx, kind, provider)
}
