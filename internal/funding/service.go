// Package funding credits wallets, either instantly from a confirmed payment
// gateway charge or after an admin reviews a manual bank transfer.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"vtuplatform/internal/common/events"
	"vtuplatform/internal/common/observability"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
	"vtuplatform/internal/notify"
)

// ErrReferenceConflict is returned when a gateway reference was already
// used to fund a different account or amount.
var ErrReferenceConflict = domain.ErrReferenceConflict

// Store is the storage funding needs.
type Store interface {
	ledger.AccountStore
	ledger.TransactionStore
	ledger.UnitOfWork
}

// Notifier accepts best-effort notifications without blocking.
type Notifier interface {
	Notify(msg notify.Message) bool
	Publish(evt *events.Event) bool
}

// Service orchestrates wallet credits.
type Service struct {
	store    Store
	locker   ledger.Locker
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new funding service. locker must be the one the
// settlement engine holds while a vendor call is in flight.
func NewService(store Store, locker ledger.Locker, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		locker:   locker,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// FundRequest is a gateway-confirmed credit.
type FundRequest struct {
	Amount           decimal.Decimal `json:"amount" validate:"gt=0"`
	GatewayReference string          `json:"gateway_reference" validate:"required,max=128"`
}

// ManualFundingRequest is a bank transfer awaiting admin review.
type ManualFundingRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	ProofOfPayment string          `json:"proof_of_payment" validate:"required,max=512"`
}

// AdjustRequest credits (positive) or debits (negative) a wallet.
type AdjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=255"`
}

// FundWallet credits the wallet for a confirmed gateway payment. Replaying
// the same gateway reference returns the original transaction without a
// second credit.
func (s *Service) FundWallet(ctx context.Context, accountID string, req FundRequest) (txn *domain.Transaction, replayed bool, err error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, false, err
	}

	err = s.store.WithinAccount(ctx, accountID, func(tx ledger.Tx) error {
		existing, err := tx.FindByVendorReference(ctx, domain.TypeWalletFunding, req.GatewayReference)
		switch {
		case err == nil:
			if existing.AccountID != accountID || !existing.Amount.Equal(req.Amount) {
				return ErrReferenceConflict
			}
			txn, replayed = existing, true
			return nil
		case !errors.Is(err, domain.ErrTransactionNotFound):
			return err
		}

		txn, err = domain.NewTransaction(accountID, domain.TypeWalletFunding, domain.StatusSuccess, req.Amount, s.now())
		if err != nil {
			return err
		}
		txn.Provider = "GATEWAY"
		txn.VendorReference = req.GatewayReference

		txn.PreviousBalance, txn.NewBalance, err = tx.AdjustBalance(ctx, accountID, req.Amount)
		if err != nil {
			return err
		}
		return tx.Append(ctx, txn)
	})
	if err != nil {
		return nil, false, fmt.Errorf("funding wallet: %w", err)
	}
	if replayed {
		s.logger.Info("duplicate gateway funding ignored",
			"account_id", accountID,
			"gateway_reference", req.GatewayReference,
		)
		return txn, true, nil
	}

	s.metrics.IncrFunding("gateway")
	s.announce(ctx, events.EventWalletFunded, txn)
	s.logger.Info("wallet funded",
		"account_id", accountID,
		"reference", txn.Reference,
		"amount", txn.Amount.StringFixed(2),
	)
	return txn, false, nil
}

// SubmitManualFunding records a PENDING funding request. The balance is
// credited only when an admin approves it.
func (s *Service) SubmitManualFunding(ctx context.Context, accountID string, req ManualFundingRequest) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	txn, err := domain.NewTransaction(acct.ID, domain.TypeWalletFunding, domain.StatusPending, req.Amount, s.now())
	if err != nil {
		return nil, err
	}
	txn.Provider = "BANK_TRANSFER"
	txn.ProofOfPayment = req.ProofOfPayment
	txn.PreviousBalance = acct.Balance
	txn.NewBalance = acct.Balance

	if err := s.store.Append(ctx, txn); err != nil {
		return nil, fmt.Errorf("recording funding request: %w", err)
	}

	s.metrics.IncrFunding("manual_submitted")
	s.announce(ctx, events.EventWalletFundingRequested, txn)
	s.logger.Info("manual funding submitted",
		"account_id", accountID,
		"reference", txn.Reference,
		"amount", txn.Amount.StringFixed(2),
	)
	return txn, nil
}

// ApproveTransaction credits a pending funding request. The credit and the
// status change commit together; a request that is no longer pending is
// rejected with ErrAlreadyResolved.
func (s *Service) ApproveTransaction(ctx context.Context, txID, adminID string) (*domain.Transaction, error) {
	return s.resolve(ctx, txID, func(tx ledger.Tx, pending *domain.Transaction) (domain.Resolution, error) {
		prev, next, err := tx.AdjustBalance(ctx, pending.AccountID, pending.Amount)
		if err != nil {
			return domain.Resolution{}, err
		}
		return domain.Resolution{
			Status:          domain.StatusSuccess,
			ResolvedBy:      adminID,
			PreviousBalance: prev,
			NewBalance:      next,
			At:              s.now(),
		}, nil
	})
}

// DeclineTransaction marks a pending funding request FAILED. The balance is
// untouched.
func (s *Service) DeclineTransaction(ctx context.Context, txID, adminID, reason string) (*domain.Transaction, error) {
	return s.resolve(ctx, txID, func(tx ledger.Tx, pending *domain.Transaction) (domain.Resolution, error) {
		return domain.Resolution{
			Status:     domain.StatusFailed,
			ResolvedBy: adminID,
			Reason:     reason,
			At:         s.now(),
		}, nil
	})
}

func (s *Service) resolve(ctx context.Context, txID string, decide func(tx ledger.Tx, pending *domain.Transaction) (domain.Resolution, error)) (*domain.Transaction, error) {
	pending, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if err := pending.CanResolve(); err != nil {
		return nil, err
	}

	var resolved *domain.Transaction
	err = s.store.WithinAccount(ctx, pending.AccountID, func(tx ledger.Tx) error {
		current, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if err := current.CanResolve(); err != nil {
			return err
		}

		r, err := decide(tx, current)
		if err != nil {
			return err
		}
		resolved, err = tx.UpdateStatus(ctx, txID, r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolving funding request: %w", err)
	}

	eventType, kind := events.EventWalletFundingApproved, "manual_approved"
	if resolved.Status == domain.StatusFailed {
		eventType, kind = events.EventWalletFundingDeclined, "manual_declined"
	}
	s.metrics.IncrFunding(kind)
	s.announce(ctx, eventType, resolved)
	s.logger.Info("funding request resolved",
		"transaction_id", resolved.ID,
		"account_id", resolved.AccountID,
		"status", resolved.Status,
		"resolved_by", resolved.ResolvedBy,
	)
	return resolved, nil
}

// AdjustBalance applies an admin credit or debit and records an ADJUSTMENT
// entry. A debit never takes the balance below zero and waits for any
// purchase on the account whose vendor call is still in flight.
func (s *Service) AdjustBalance(ctx context.Context, accountID, adminID string, req AdjustRequest) (*domain.Transaction, error) {
	if req.Amount.IsZero() {
		return nil, &domain.InvalidAmountError{Amount: req.Amount, Reason: "must not be zero"}
	}
	if err := domain.ValidateAmount(req.Amount.Abs()); err != nil {
		return nil, err
	}

	txn, err := domain.NewTransaction(accountID, domain.TypeAdjustment, domain.StatusSuccess, req.Amount.Abs(), s.now())
	if err != nil {
		return nil, err
	}
	txn.Provider = "ADMIN"
	txn.Destination = "CREDIT"
	if req.Amount.IsNegative() {
		txn.Destination = "DEBIT"
	}
	// The plan name column carries the adjustment note.
	txn.PlanName = req.Reason
	txn.ResolvedBy = adminID

	unlock, err := s.locker.Lock(ctx, ledger.AccountLockKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("locking account: %w", err)
	}
	defer unlock()

	err = s.store.WithinAccount(ctx, accountID, func(tx ledger.Tx) error {
		var err error
		txn.PreviousBalance, txn.NewBalance, err = tx.AdjustBalance(ctx, accountID, req.Amount)
		if err != nil {
			return err
		}
		return tx.Append(ctx, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("adjusting balance: %w", err)
	}

	s.metrics.IncrFunding("adjustment")
	s.announce(ctx, events.EventWalletAdjusted, txn)
	s.logger.Info("balance adjusted",
		"account_id", accountID,
		"admin_id", adminID,
		"delta", req.Amount.StringFixed(2),
		"reason", req.Reason,
	)
	return txn, nil
}

// announce queues the customer notice and the domain event.
func (s *Service) announce(ctx context.Context, eventType string, txn *domain.Transaction) {
	if acct, err := s.store.GetAccount(ctx, txn.AccountID); err == nil {
		s.notifier.Notify(notify.FundingMessage(acct, txn))
	} else {
		s.logger.Warn("skipping funding notification", "account_id", txn.AccountID, "error", err)
	}

	reason := txn.FailureReason
	if txn.Type == domain.TypeAdjustment {
		reason = txn.PlanName
	}
	evt, err := events.NewEvent(eventType, events.AggregateTransaction, txn.ID, events.WalletFundingData{
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		Amount:        txn.Amount,
		Reference:     txn.Reference,
		Status:        string(txn.Status),
		ResolvedBy:    txn.ResolvedBy,
		Reason:        reason,
		NewBalance:    txn.NewBalance,
	})
	if err != nil {
		s.logger.Error("failed to build event", "reference", txn.Reference, "error", err)
		return
	}
	s.notifier.Publish(evt)
}
