// Package memstore is an in-process ledger.Repository for development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
)

// Store keeps accounts, transactions, bundles and settings in memory.
// Writes to one account are serialized by a per-account mutex.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	txns     map[string]*domain.Transaction
	order    []string
	bundles  map[string]*domain.Bundle
	settings map[string]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ ledger.Repository = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		txns:     make(map[string]*domain.Transaction),
		bundles:  make(map[string]*domain.Bundle),
		settings: make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) accountLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateAccount implements ledger.Repository.
func (s *Store) CreateAccount(ctx context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.ID]; ok {
		return domain.ErrAccountExists
	}
	for _, a := range s.accounts {
		if a.Phone == acct.Phone {
			return domain.ErrAccountExists
		}
	}
	c := *acct
	s.accounts[acct.ID] = &c
	return nil
}

// GetAccount implements ledger.AccountStore.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

// SetPINHash implements ledger.Repository.
func (s *Store) SetPINHash(ctx context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.PINHash = hash
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// AdjustBalance implements ledger.AccountStore.
func (s *Store) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (prev, next decimal.Decimal, err error) {
	err = s.WithinAccount(ctx, id, func(tx ledger.Tx) error {
		prev, next, err = tx.AdjustBalance(ctx, id, delta)
		return err
	})
	return prev, next, err
}

// AdjustDataUsage implements ledger.AccountStore.
func (s *Store) AdjustDataUsage(ctx context.Context, id string, deltaGB float64) error {
	return s.WithinAccount(ctx, id, func(tx ledger.Tx) error {
		return tx.AdjustDataUsage(ctx, id, deltaGB)
	})
}

// Append implements ledger.TransactionStore.
func (s *Store) Append(ctx context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAppendLocked(txn); err != nil {
		return err
	}
	s.txns[txn.ID] = txn.Clone()
	s.order = append(s.order, txn.ID)
	return nil
}

func (s *Store) checkAppendLocked(txn *domain.Transaction) error {
	if _, ok := s.txns[txn.ID]; ok {
		return fmt.Errorf("transaction %s already exists", txn.ID)
	}
	fundingRef := txn.Type == domain.TypeWalletFunding && txn.VendorReference != ""
	for _, t := range s.txns {
		if t.Reference == txn.Reference {
			return fmt.Errorf("reference %s already exists", txn.Reference)
		}
		if fundingRef && t.Type == domain.TypeWalletFunding && t.VendorReference == txn.VendorReference {
			return fmt.Errorf("gateway reference %s: %w", txn.VendorReference, domain.ErrReferenceConflict)
		}
	}
	return nil
}

// GetTransaction implements ledger.TransactionStore.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return t.Clone(), nil
}

// FindByVendorReference implements ledger.TransactionStore.
func (s *Store) FindByVendorReference(ctx context.Context, typ domain.TransactionType, ref string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.txns {
		if t.Type == typ && t.VendorReference == ref {
			return t.Clone(), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

// ListByAccount implements ledger.TransactionStore.
func (s *Store) ListByAccount(ctx context.Context, accountID string, f ledger.Filter) ([]*domain.Transaction, int64, error) {
	return s.list(func(t *domain.Transaction) bool {
		return t.AccountID == accountID && f.Matches(t)
	}, f)
}

// ListTransactions implements ledger.Repository.
func (s *Store) ListTransactions(ctx context.Context, f ledger.Filter) ([]*domain.Transaction, int64, error) {
	return s.list(f.Matches, f)
}

func (s *Store) list(match func(*domain.Transaction) bool, f ledger.Filter) ([]*domain.Transaction, int64, error) {
	f = f.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Transaction
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.txns[s.order[i]]
		if match(t) {
			matched = append(matched, t)
		}
	}

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return []*domain.Transaction{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*domain.Transaction, 0, end-f.Offset)
	for _, t := range matched[f.Offset:end] {
		page = append(page, t.Clone())
	}
	return page, total, nil
}

// UpdateStatus implements ledger.TransactionStore.
func (s *Store) UpdateStatus(ctx context.Context, id string, r domain.Resolution) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	updated := t.Clone()
	if err := updated.Resolve(r); err != nil {
		return nil, err
	}
	s.txns[id] = updated
	return updated.Clone(), nil
}

// Summary implements ledger.Repository.
func (s *Store) Summary(ctx context.Context, from, to time.Time) ([]domain.ProductSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := make(map[domain.TransactionType]*domain.ProductSummary)
	for _, t := range s.txns {
		if t.Status != domain.StatusSuccess || t.Type == domain.TypeWalletFunding || t.Type == domain.TypeAdjustment {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		sum, ok := byType[t.Type]
		if !ok {
			sum = &domain.ProductSummary{Type: t.Type}
			byType[t.Type] = sum
		}
		sum.Count++
		sum.Gross = sum.Gross.Add(t.Amount)
		sum.Cost = sum.Cost.Add(t.CostPrice)
		sum.Profit = sum.Profit.Add(t.Profit)
	}

	out := make([]domain.ProductSummary, 0, len(byType))
	for _, sum := range byType {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// PutBundle adds or replaces a catalog entry.
func (s *Store) PutBundle(b *domain.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *b
	s.bundles[b.ID] = &c
}

// GetBundle implements ledger.CatalogStore.
func (s *Store) GetBundle(ctx context.Context, id string) (*domain.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	if !ok || !b.Active {
		return nil, domain.ErrBundleNotFound
	}
	c := *b
	return &c, nil
}

// ListBundles implements ledger.CatalogStore.
func (s *Store) ListBundles(ctx context.Context, kind domain.BundleKind, provider string) ([]*domain.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Bundle, 0)
	for _, b := range s.bundles {
		if !b.Active || (kind != "" && b.Kind != kind) {
			continue
		}
		if provider != "" && !strings.EqualFold(b.Provider, provider) {
			continue
		}
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out, nil
}

// SetSetting stores a key/value setting.
func (s *Store) SetSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

// Settings implements pricing.SettingsReader.
func (s *Store) Settings(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range s.settings {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}
