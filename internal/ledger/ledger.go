package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"vtuplatform/internal/domain"
)

// AccountStore reads and mutates wallet accounts. AdjustBalance is atomic per
// account and fails with an InsufficientFundsError instead of going negative.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (prev, next decimal.Decimal, err error)
	AdjustDataUsage(ctx context.Context, id string, deltaGB float64) error
}

// TransactionStore is the append-only transaction log. UpdateStatus only
// transitions PENDING entries and returns ErrAlreadyResolved otherwise.
type TransactionStore interface {
	Append(ctx context.Context, txn *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	FindByVendorReference(ctx context.Context, t domain.TransactionType, ref string) (*domain.Transaction, error)
	ListByAccount(ctx context.Context, accountID string, f Filter) ([]*domain.Transaction, int64, error)
	UpdateStatus(ctx context.Context, id string, r domain.Resolution) (*domain.Transaction, error)
}

// Tx is the view of the stores inside a unit of work.
type Tx interface {
	AccountStore
	TransactionStore
}

// Locker serializes callers per key, possibly across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// AccountLockKey is the Locker key held by every debit of an account that
// happens outside a single unit of work.
func AccountLockKey(accountID string) string {
	return "account:" + accountID
}

// UnitOfWork runs fn with the account locked. Everything fn writes through
// tx commits together when fn returns nil and is discarded otherwise.
type UnitOfWork interface {
	WithinAccount(ctx context.Context, accountID string, fn func(tx Tx) error) error
}

// CatalogStore reads data and cable bundles.
type CatalogStore interface {
	GetBundle(ctx context.Context, id string) (*domain.Bundle, error)
	ListBundles(ctx context.Context, kind domain.BundleKind, provider string) ([]*domain.Bundle, error)
}

// Repository is a complete storage backend.
type Repository interface {
	AccountStore
	TransactionStore
	UnitOfWork
	CatalogStore

	CreateAccount(ctx context.Context, acct *domain.Account) error
	SetPINHash(ctx context.Context, id, hash string) error
	ListTransactions(ctx context.Context, f Filter) ([]*domain.Transaction, int64, error)
	Summary(ctx context.Context, from, to time.Time) ([]domain.ProductSummary, error)
	Settings(ctx context.Context, prefix string) (map[string]string, error)
}

// Filter narrows transaction listings. Zero values mean no filter.
type Filter struct {
	Type   domain.TransactionType
	Status domain.Status
	Limit  int
	Offset int
}

// Normalize clamps the page size to 1..100, defaulting to 50.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether txn passes the type and status filters.
func (f Filter) Matches(txn *domain.Transaction) bool {
	if f.Type != "" && txn.Type != f.Type {
		return false
	}
	if f.Status != "" && txn.Status != f.Status {
		return false
	}
	return true
}
