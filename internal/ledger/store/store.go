package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"vtuplatform/internal/common/database"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
)

// Store provides PostgreSQL-backed ledger data access
type Store struct {
	queries
	db *database.DB
}

var _ ledger.Repository = (*Store)(nil)

// New creates a new ledger store
func New(db *database.DB) *Store {
	return &Store{queries: queries{q: db}, db: db}
}

// fundingReferenceIndex keeps one WALLET_FUNDING row per gateway reference.
const fundingReferenceIndex = "idx_transactions_funding_vendor_ref"

// WithinAccount locks the account row for the duration of a serializable
// transaction. Serialization failures are retried.
func (s *Store) WithinAccount(ctx context.Context, accountID string, fn func(tx ledger.Tx) error) error {
	return database.Retry(ctx, 3, func() error {
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			var id string
			err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
			if err != nil {
				if database.IsNotFound(err) {
					return domain.ErrAccountNotFound
				}
				return fmt.Errorf("locking account: %w", err)
			}
			return fn(queries{q: tx})
		})
	})
}

// AdjustBalance implements ledger.AccountStore in its own transaction.
func (s *Store) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (prev, next decimal.Decimal, err error) {
	err = s.WithinAccount(ctx, id, func(tx ledger.Tx) error {
		prev, next, err = tx.AdjustBalance(ctx, id, delta)
		return err
	})
	return prev, next, err
}

// queries runs statements against a pool or an open transaction.
type queries struct {
	q database.Querier
}

const accountColumns = `id, name, phone, email, balance, savings_balance, bonus_balance,
	role, pin_hash, verified, data_used_gb, created_at, updated_at`

// CreateAccount creates a new wallet account
func (s queries) CreateAccount(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.q.Exec(ctx, query,
		a.ID,
		a.Name,
		a.Phone,
		a.Email,
		a.Balance,
		a.SavingsBalance,
		a.BonusBalance,
		a.Role,
		a.PINHash,
		a.Verified,
		a.DataUsedGB,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (s queries) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return a, nil
}

// SetPINHash stores a new bcrypt PIN hash
func (s queries) SetPINHash(ctx context.Context, id, hash string) error {
	tag, err := s.q.Exec(ctx, `UPDATE accounts SET pin_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("setting pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// AdjustBalance applies delta only when the result stays non-negative.
func (s queries) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (prev, next decimal.Decimal, err error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance - $2, balance
	`

	err = s.q.QueryRow(ctx, query, id, delta).Scan(&prev, &next)
	if err == nil {
		return prev, next, nil
	}
	if !database.IsNotFound(err) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("adjusting balance: %w", err)
	}

	var balance decimal.Decimal
	if err := s.q.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&balance); err != nil {
		if database.IsNotFound(err) {
			return decimal.Zero, decimal.Zero, domain.ErrAccountNotFound
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("reading balance: %w", err)
	}
	return balance, balance, &domain.InsufficientFundsError{Available: balance, Required: delta.Neg()}
}

// AdjustDataUsage adds to the cumulative data usage counter
func (s queries) AdjustDataUsage(ctx context.Context, id string, deltaGB float64) error {
	tag, err := s.q.Exec(ctx, `UPDATE accounts SET data_used_gb = data_used_gb + $2, updated_at = now() WHERE id = $1`, id, deltaGB)
	if err != nil {
		return fmt.Errorf("adjusting data usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

const transactionColumns = `id, account_id, type, provider, amount, fee, cost_price, profit,
	destination, plan_name, status, reference, vendor_reference, previous_balance, new_balance,
	expires_at, proof_of_payment, customer_name, token, resolved_by, resolved_at, failure_reason,
	created_at`

// Append inserts a transaction
func (s queries) Append(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err := s.q.Exec(ctx, query,
		t.ID,
		t.AccountID,
		t.Type,
		t.Provider,
		t.Amount,
		t.Fee,
		t.CostPrice,
		t.Profit,
		t.Destination,
		t.PlanName,
		t.Status,
		t.Reference,
		t.VendorReference,
		t.PreviousBalance,
		t.NewBalance,
		t.ExpiresAt,
		t.ProofOfPayment,
		t.CustomerName,
		t.Token,
		t.ResolvedBy,
		t.ResolvedAt,
		t.FailureReason,
		t.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			if database.ConstraintName(err) == fundingReferenceIndex {
				return fmt.Errorf("gateway reference %s: %w", t.VendorReference, domain.ErrReferenceConflict)
			}
			return fmt.Errorf("transaction %s: %w", t.Reference, database.ErrAlreadyExists)
		}
		if database.IsForeignKeyViolation(err) {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("appending transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID
func (s queries) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return t, nil
}

// FindByVendorReference retrieves a transaction by type and vendor reference
func (s queries) FindByVendorReference(ctx context.Context, typ domain.TransactionType, ref string) (*domain.Transaction, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE type = $1 AND vendor_reference = $2`, typ, ref)
	t, err := scanTransaction(row)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("finding transaction: %w", err)
	}
	return t, nil
}

// ListByAccount lists an account's transactions, newest first
func (s queries) ListByAccount(ctx context.Context, accountID string, f ledger.Filter) ([]*domain.Transaction, int64, error) {
	return s.list(ctx, []string{"account_id = $1"}, []interface{}{accountID}, f)
}

// ListTransactions lists transactions across all accounts
func (s queries) ListTransactions(ctx context.Context, f ledger.Filter) ([]*domain.Transaction, int64, error) {
	return s.list(ctx, nil, nil, f)
}

func (s queries) list(ctx context.Context, where []string, args []interface{}, f ledger.Filter) ([]*domain.Transaction, int64, error) {
	f = f.Normalize()

	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions` + clause +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, f.Limit, f.Offset)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]*domain.Transaction, 0, f.Limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating transactions: %w", err)
	}

	return txns, total, nil
}

// UpdateStatus resolves a PENDING transaction exactly once
func (s queries) UpdateStatus(ctx context.Context, id string, r domain.Resolution) (*domain.Transaction, error) {
	if r.Status != domain.StatusSuccess && r.Status != domain.StatusFailed {
		return nil, errors.New("resolution must be SUCCESS or FAILED")
	}

	query := `
		UPDATE transactions
		SET status = $2,
			resolved_by = $3,
			resolved_at = $4,
			failure_reason = $5,
			previous_balance = CASE WHEN $2 = 'SUCCESS' THEN $6::numeric ELSE previous_balance END,
			new_balance = CASE WHEN $2 = 'SUCCESS' THEN $7::numeric ELSE new_balance END
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + transactionColumns

	row := s.q.QueryRow(ctx, query, id, r.Status, r.ResolvedBy, r.At.UTC(), r.Reason, r.PreviousBalance, r.NewBalance)
	t, err := scanTransaction(row)
	if err == nil {
		return t, nil
	}
	if !database.IsNotFound(err) {
		return nil, fmt.Errorf("updating transaction status: %w", err)
	}

	if _, err := s.GetTransaction(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrAlreadyResolved
}

// Summary aggregates successful sales by product type
func (s queries) Summary(ctx context.Context, from, to time.Time) ([]domain.ProductSummary, error) {
	query := `
		SELECT type, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(cost_price), 0), COALESCE(SUM(profit), 0)
		FROM transactions
		WHERE status = 'SUCCESS'
		  AND type NOT IN ('WALLET_FUNDING', 'ADJUSTMENT')
		  AND created_at >= $1 AND created_at < $2
		GROUP BY type
		ORDER BY type
	`

	rows, err := s.q.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarizing transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProductSummary, 0)
	for rows.Next() {
		var sum domain.ProductSummary
		if err := rows.Scan(&sum.Type, &sum.Count, &sum.Gross, &sum.Cost, &sum.Profit); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

const bundleColumns = `id, kind, provider, name, price, reseller_price, cost_price, plan_id, validity, data_volume, active`

// GetBundle retrieves an active catalog entry
func (s queries) GetBundle(ctx context.Context, id string) (*domain.Bundle, error) {
	row := s.q.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = $1 AND active`, id)
	b, err := scanBundle(row)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrBundleNotFound
		}
		return nil, fmt.Errorf("getting bundle: %w", err)
	}
	return b, nil
}

// ListBundles lists active catalog entries
func (s queries) ListBundles(ctx context.Context, kind domain.BundleKind, provider string) ([]*domain.Bundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM bundles WHERE active`
	var args []interface{}
	if kind != "" {
		args = append(args, kind)
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	if provider != "" {
		args = append(args, provider)
		query += fmt.Sprintf(` AND upper(provider) = upper($%d)`, len(args))
	}
	query += ` ORDER BY provider, price`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing bundles: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Bundle, 0)
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Settings reads key/value settings sharing a prefix
func (s queries) Settings(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.q.Query(ctx, `SELECT key, value FROM settings WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Scanner interface for pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Phone,
		&a.Email,
		&a.Balance,
		&a.SavingsBalance,
		&a.BonusBalance,
		&a.Role,
		&a.PINHash,
		&a.Verified,
		&a.DataUsedGB,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Type,
		&t.Provider,
		&t.Amount,
		&t.Fee,
		&t.CostPrice,
		&t.Profit,
		&t.Destination,
		&t.PlanName,
		&t.Status,
		&t.Reference,
		&t.VendorReference,
		&t.PreviousBalance,
		&t.NewBalance,
		&t.ExpiresAt,
		&t.ProofOfPayment,
		&t.CustomerName,
		&t.Token,
		&t.ResolvedBy,
		&t.ResolvedAt,
		&t.FailureReason,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanBundle(row scanner) (*domain.Bundle, error) {
	var b domain.Bundle
	err := row.Scan(
		&b.ID,
		&b.Kind,
		&b.Provider,
		&b.Name,
		&b.Price,
		&b.ResellerPrice,
		&b.CostPrice,
		&b.PlanID,
		&b.Validity,
		&b.DataVolume,
		&b.Active,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
