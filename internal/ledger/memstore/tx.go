package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
)

// WithinAccount implements ledger.UnitOfWork. Writes are staged and applied
// under the store lock only when fn succeeds.
func (s *Store) WithinAccount(ctx context.Context, accountID string, fn func(tx ledger.Tx) error) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	tx := &memTx{store: s, accountID: accountID, account: acct, updates: make(map[string]*domain.Transaction)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	store     *Store
	accountID string
	account   *domain.Account
	dirty     bool
	appends   []*domain.Transaction
	updates   map[string]*domain.Transaction
}

func (tx *memTx) own(id string) error {
	if id != tx.accountID {
		return fmt.Errorf("account %s is not locked by this unit of work", id)
	}
	return nil
}

func (tx *memTx) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if err := tx.own(id); err != nil {
		return nil, err
	}
	c := *tx.account
	return &c, nil
}

func (tx *memTx) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (prev, next decimal.Decimal, err error) {
	if err := tx.own(id); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	prev = tx.account.Balance
	next = prev.Add(delta)
	if next.IsNegative() {
		return prev, prev, &domain.InsufficientFundsError{Available: prev, Required: delta.Neg()}
	}
	tx.account.Balance = next
	tx.dirty = true
	return prev, next, nil
}

func (tx *memTx) AdjustDataUsage(ctx context.Context, id string, deltaGB float64) error {
	if err := tx.own(id); err != nil {
		return err
	}
	tx.account.DataUsedGB += deltaGB
	tx.dirty = true
	return nil
}

func (tx *memTx) Append(ctx context.Context, txn *domain.Transaction) error {
	if err := tx.own(txn.AccountID); err != nil {
		return err
	}
	tx.appends = append(tx.appends, txn.Clone())
	return nil
}

func (tx *memTx) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if t, ok := tx.updates[id]; ok {
		return t.Clone(), nil
	}
	for _, t := range tx.appends {
		if t.ID == id {
			return t.Clone(), nil
		}
	}
	return tx.store.GetTransaction(ctx, id)
}

func (tx *memTx) FindByVendorReference(ctx context.Context, typ domain.TransactionType, ref string) (*domain.Transaction, error) {
	for _, t := range tx.appends {
		if t.Type == typ && t.VendorReference == ref {
			return t.Clone(), nil
		}
	}
	return tx.store.FindByVendorReference(ctx, typ, ref)
}

func (tx *memTx) ListByAccount(ctx context.Context, accountID string, f ledger.Filter) ([]*domain.Transaction, int64, error) {
	return tx.store.ListByAccount(ctx, accountID, f)
}

func (tx *memTx) UpdateStatus(ctx context.Context, id string, r domain.Resolution) (*domain.Transaction, error) {
	t, err := tx.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.own(t.AccountID); err != nil {
		return nil, err
	}
	if err := t.Resolve(r); err != nil {
		return nil, err
	}
	tx.updates[id] = t
	return t.Clone(), nil
}

func (tx *memTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.updates {
		current, ok := s.txns[id]
		if !ok {
			continue
		}
		if current.Status != domain.StatusPending {
			return domain.ErrAlreadyResolved
		}
	}
	for _, t := range tx.appends {
		if err := s.checkAppendLocked(t); err != nil {
			return err
		}
	}

	if tx.dirty {
		a, ok := s.accounts[tx.accountID]
		if !ok {
			return domain.ErrAccountNotFound
		}
		a.Balance = tx.account.Balance
		a.DataUsedGB = tx.account.DataUsedGB
		a.UpdatedAt = time.Now().UTC()
	}
	for _, t := range tx.appends {
		s.txns[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	for id, t := range tx.updates {
		if _, ok := s.txns[id]; ok {
			s.txns[id] = t
		}
	}
	return nil
}
