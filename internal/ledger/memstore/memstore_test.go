package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
)

func seed(t *testing.T, s *Store, id string, balance int64) {
	t.Helper()
	acct, err := domain.NewAccount(id, "Test", "080"+id, "", domain.RoleUser)
	require.NoError(t, err)
	acct.Balance = decimal.NewFromInt(balance)
	require.NoError(t, s.CreateAccount(context.Background(), acct))
}

func TestAdjustBalance(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 1000)

	prev, next, err := s.AdjustBalance(ctx, "a1", decimal.NewFromInt(-400))
	require.NoError(t, err)
	assert.Equal(t, "1000", prev.String())
	assert.Equal(t, "600", next.String())

	_, _, err = s.AdjustBalance(ctx, "a1", decimal.NewFromInt(-601))
	assert.True(t, domain.IsInsufficientFunds(err))

	acct, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "600", acct.Balance.String())

	_, _, err = s.AdjustBalance(ctx, "missing", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestWithinAccountRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 1000)

	boom := errors.New("boom")
	err := s.WithinAccount(ctx, "a1", func(tx ledger.Tx) error {
		_, _, err := tx.AdjustBalance(ctx, "a1", decimal.NewFromInt(-500))
		require.NoError(t, err)
		require.NoError(t, tx.AdjustDataUsage(ctx, "a1", 1.5))
		txn, err := domain.NewTransaction("a1", domain.TypeData, domain.StatusSuccess, decimal.NewFromInt(500), time.Now())
		require.NoError(t, err)
		require.NoError(t, tx.Append(ctx, txn))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acct, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "1000", acct.Balance.String())
	assert.Zero(t, acct.DataUsedGB)

	txns, total, err := s.ListByAccount(ctx, "a1", ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Zero(t, total)
}

func TestWithinAccountCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 1000)

	txn, err := domain.NewTransaction("a1", domain.TypeData, domain.StatusSuccess, decimal.NewFromInt(500), time.Now())
	require.NoError(t, err)

	err = s.WithinAccount(ctx, "a1", func(tx ledger.Tx) error {
		prev, next, err := tx.AdjustBalance(ctx, "a1", decimal.NewFromInt(-500))
		if err != nil {
			return err
		}
		txn.PreviousBalance, txn.NewBalance = prev, next
		if err := tx.AdjustDataUsage(ctx, "a1", 2); err != nil {
			return err
		}
		return tx.Append(ctx, txn)
	})
	require.NoError(t, err)

	acct, _ := s.GetAccount(ctx, "a1")
	assert.Equal(t, "500", acct.Balance.String())
	assert.Equal(t, 2.0, acct.DataUsedGB)

	got, err := s.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000", got.PreviousBalance.String())
	assert.Equal(t, "500", got.NewBalance.String())
}

func TestWithinAccountRejectsOtherAccounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 1000)
	seed(t, s, "a2", 1000)

	err := s.WithinAccount(ctx, "a1", func(tx ledger.Tx) error {
		_, _, err := tx.AdjustBalance(ctx, "a2", decimal.NewFromInt(10))
		return err
	})
	assert.Error(t, err)

	acct, _ := s.GetAccount(ctx, "a2")
	assert.Equal(t, "1000", acct.Balance.String())
}

func TestGatewayReferenceUniqueAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 0)
	seed(t, s, "a2", 0)

	fund := func(accountID string) error {
		return s.WithinAccount(ctx, accountID, func(tx ledger.Tx) error {
			if _, _, err := tx.AdjustBalance(ctx, accountID, decimal.NewFromInt(700)); err != nil {
				return err
			}
			txn, err := domain.NewTransaction(accountID, domain.TypeWalletFunding, domain.StatusSuccess, decimal.NewFromInt(700), time.Now())
			require.NoError(t, err)
			txn.VendorReference = "PSK-42"
			return tx.Append(ctx, txn)
		})
	}

	require.NoError(t, fund("a1"))
	assert.ErrorIs(t, fund("a2"), domain.ErrReferenceConflict)

	acct, _ := s.GetAccount(ctx, "a2")
	assert.True(t, acct.Balance.IsZero())

	airtime, err := domain.NewTransaction("a2", domain.TypeAirtime, domain.StatusSuccess, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	airtime.VendorReference = "PSK-42"
	assert.NoError(t, s.Append(ctx, airtime))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 1000)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.AdjustBalance(ctx, "a1", decimal.NewFromInt(-300))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.True(t, domain.IsInsufficientFunds(err))
		}
	}
	assert.Equal(t, 3, ok)

	acct, _ := s.GetAccount(ctx, "a1")
	assert.Equal(t, "100", acct.Balance.String())
}

func TestUpdateStatusOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 0)

	txn, err := domain.NewTransaction("a1", domain.TypeWalletFunding, domain.StatusPending, decimal.NewFromInt(5000), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, txn))

	updated, err := s.UpdateStatus(ctx, txn.ID, domain.Resolution{Status: domain.StatusFailed, ResolvedBy: "admin", At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, updated.Status)

	_, err = s.UpdateStatus(ctx, txn.ID, domain.Resolution{Status: domain.StatusSuccess, At: time.Now()})
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	_, err = s.UpdateStatus(ctx, "nope", domain.Resolution{Status: domain.StatusSuccess, At: time.Now()})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestListPaginationAndFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a1", 0)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		typ := domain.TypeAirtime
		if i%2 == 1 {
			typ = domain.TypeData
		}
		txn, err := domain.NewTransaction("a1", typ, domain.StatusSuccess, decimal.NewFromInt(int64(100*(i+1))), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, txn))
	}

	page, total, err := s.ListByAccount(ctx, "a1", ledger.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "500", page[0].Amount.String(), "newest first")

	page, total, err = s.ListByAccount(ctx, "a1", ledger.Filter{Type: domain.TypeData})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, page, 2)

	page, _, err = s.ListByAccount(ctx, "a1", ledger.Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)

	summary, err := s.Summary(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, domain.TypeAirtime, summary[0].Type)
	assert.Equal(t, int64(3), summary[0].Count)
	assert.Equal(t, "900", summary[0].Gross.String())
}

func TestCatalogAndSettings(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutBundle(&domain.Bundle{ID: "b1", Kind: domain.BundleData, Provider: "MTN", Price: decimal.NewFromInt(500), PlanID: "m1", Active: true})
	s.PutBundle(&domain.Bundle{ID: "b2", Kind: domain.BundleCable, Provider: "DSTV", Price: decimal.NewFromInt(9000), PlanID: "d1", Active: true})
	s.PutBundle(&domain.Bundle{ID: "b3", Kind: domain.BundleData, Provider: "GLO", Price: decimal.NewFromInt(300), Active: false})

	b, err := s.GetBundle(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "m1", b.PlanID)

	_, err = s.GetBundle(ctx, "b3")
	assert.ErrorIs(t, err, domain.ErrBundleNotFound)

	list, err := s.ListBundles(ctx, domain.BundleData, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListBundles(ctx, "", "dstv")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b2", list[0].ID)

	s.SetSetting("pricing.airtime_fee", "10")
	s.SetSetting("other.key", "x")
	settings, err := s.Settings(ctx, "pricing.")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pricing.airtime_fee": "10"}, settings)
}
