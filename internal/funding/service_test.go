package funding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuplatform/internal/common/cache"
	"vtuplatform/internal/common/events"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
	"vtuplatform/internal/ledger/memstore"
	"vtuplatform/internal/notify"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	events   []*events.Event
}

func (n *recordingNotifier) Notify(msg notify.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return true
}

func (n *recordingNotifier) Publish(evt *events.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return true
}

func (n *recordingNotifier) eventTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

func setup(t *testing.T, balance string) (*Service, *memstore.Store, *recordingNotifier) {
	t.Helper()
	store := memstore.New()
	acct, err := domain.NewAccount("acct-1", "Ada", "08031234567", "", domain.RoleUser)
	require.NoError(t, err)
	acct.Balance = d(balance)
	require.NoError(t, store.CreateAccount(context.Background(), acct))

	n := &recordingNotifier{}
	svc := NewService(store, cache.NewLocalLocker(), n, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	svc.now = func() time.Time { return time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store, n
}

func balanceOf(t *testing.T, store *memstore.Store) decimal.Decimal {
	t.Helper()
	acct, err := store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	return acct.Balance
}

func TestFundWallet(t *testing.T) {
	svc, store, n := setup(t, "100")
	ctx := context.Background()

	txn, replayed, err := svc.FundWallet(ctx, "acct-1", FundRequest{Amount: d("2500"), GatewayReference: "PSK-001"})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, domain.StatusSuccess, txn.Status)
	assert.Equal(t, domain.TypeWalletFunding, txn.Type)
	assert.True(t, txn.PreviousBalance.Equal(d("100")))
	assert.True(t, txn.NewBalance.Equal(d("2600")))
	assert.True(t, balanceOf(t, store).Equal(d("2600")))
	assert.Equal(t, []string{events.EventWalletFunded}, n.eventTypes())

	again, replayed, err := svc.FundWallet(ctx, "acct-1", FundRequest{Amount: d("2500"), GatewayReference: "PSK-001"})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, txn.ID, again.ID)
	assert.True(t, balanceOf(t, store).Equal(d("2600")))
	assert.Len(t, n.events, 1)

	_, _, err = svc.FundWallet(ctx, "acct-1", FundRequest{Amount: d("9000"), GatewayReference: "PSK-001"})
	assert.ErrorIs(t, err, ErrReferenceConflict)
}

func TestFundWalletConcurrentReplay(t *testing.T) {
	svc, store, _ := setup(t, "0")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.FundWallet(context.Background(), "acct-1", FundRequest{Amount: d("500"), GatewayReference: "PSK-9"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, balanceOf(t, store).Equal(d("500")))
}

func TestFundWalletReferenceRaceAcrossAccounts(t *testing.T) {
	svc, store, _ := setup(t, "0")
	ctx := context.Background()
	other, err := domain.NewAccount("acct-2", "Bola", "08039876543", "", domain.RoleUser)
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(ctx, other))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"acct-1", "acct-2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, err := svc.FundWallet(ctx, id, FundRequest{Amount: d("500"), GatewayReference: "PSK-shared"})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrReferenceConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	credited := decimal.Zero
	for _, id := range []string{"acct-1", "acct-2"} {
		acct, err := store.GetAccount(ctx, id)
		require.NoError(t, err)
		credited = credited.Add(acct.Balance)
	}
	assert.True(t, credited.Equal(d("500")))
}

func TestAdjustBalanceWaitsForAccountLock(t *testing.T) {
	svc, store, _ := setup(t, "300")
	ctx := context.Background()

	unlock, err := svc.locker.Lock(ctx, ledger.AccountLockKey("acct-1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.AdjustBalance(ctx, "acct-1", "admin-1", AdjustRequest{Amount: d("-100"), Reason: "chargeback"})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("adjustment ran while the account was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, balanceOf(t, store).Equal(d("300")))

	unlock()
	require.NoError(t, <-done)
	assert.True(t, balanceOf(t, store).Equal(d("200")))
}

func TestManualFundingApproval(t *testing.T) {
	svc, store, n := setup(t, "100")
	ctx := context.Background()

	pending, err := svc.SubmitManualFunding(ctx, "acct-1", ManualFundingRequest{Amount: d("5000"), ProofOfPayment: "receipts/abc.jpg"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, pending.Status)
	assert.Equal(t, "receipts/abc.jpg", pending.ProofOfPayment)
	assert.True(t, balanceOf(t, store).Equal(d("100")), "no credit at submission")

	approved, err := svc.ApproveTransaction(ctx, pending.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, approved.Status)
	assert.Equal(t, "admin-1", approved.ResolvedBy)
	require.NotNil(t, approved.ResolvedAt)
	assert.True(t, approved.PreviousBalance.Equal(d("100")))
	assert.True(t, approved.NewBalance.Equal(d("5100")))
	assert.True(t, balanceOf(t, store).Equal(d("5100")))

	_, err = svc.ApproveTransaction(ctx, pending.ID, "admin-2")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	_, err = svc.DeclineTransaction(ctx, pending.ID, "admin-2", "late")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.True(t, balanceOf(t, store).Equal(d("5100")))

	assert.Equal(t, []string{events.EventWalletFundingRequested, events.EventWalletFundingApproved}, n.eventTypes())
}

func TestManualFundingDecline(t *testing.T) {
	svc, store, n := setup(t, "100")
	ctx := context.Background()

	pending, err := svc.SubmitManualFunding(ctx, "acct-1", ManualFundingRequest{Amount: d("2000"), ProofOfPayment: "ref-77"})
	require.NoError(t, err)

	declined, err := svc.DeclineTransaction(ctx, pending.ID, "admin-1", "blurry receipt")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, declined.Status)
	assert.Equal(t, "blurry receipt", declined.FailureReason)
	assert.True(t, balanceOf(t, store).Equal(d("100")))

	_, err = svc.ApproveTransaction(ctx, pending.ID, "admin-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	require.Len(t, n.messages, 2)
	assert.Contains(t, n.messages[1].Body, "blurry receipt")
}

func TestConcurrentApprovalCreditsOnce(t *testing.T) {
	svc, store, _ := setup(t, "0")
	ctx := context.Background()

	pending, err := svc.SubmitManualFunding(ctx, "acct-1", ManualFundingRequest{Amount: d("1000"), ProofOfPayment: "p"})
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ApproveTransaction(ctx, pending.ID, "admin"); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	assert.True(t, balanceOf(t, store).Equal(d("1000")))
}

func TestResolveRejectsNonFunding(t *testing.T) {
	svc, store, _ := setup(t, "100")
	ctx := context.Background()

	txn, err := domain.NewTransaction("acct-1", domain.TypeAirtime, domain.StatusSuccess, d("50"), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, txn))

	_, err = svc.ApproveTransaction(ctx, txn.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrNotFundingRequest)

	_, err = svc.ApproveTransaction(ctx, "missing", "admin")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestAdjustBalance(t *testing.T) {
	svc, store, n := setup(t, "300")
	ctx := context.Background()

	credit, err := svc.AdjustBalance(ctx, "acct-1", "admin-1", AdjustRequest{Amount: d("200"), Reason: "refund for failed vend"})
	require.NoError(t, err)
	assert.Equal(t, domain.TypeAdjustment, credit.Type)
	assert.Equal(t, "CREDIT", credit.Destination)
	assert.True(t, credit.NewBalance.Equal(d("500")))

	debit, err := svc.AdjustBalance(ctx, "acct-1", "admin-1", AdjustRequest{Amount: d("-150"), Reason: "chargeback"})
	require.NoError(t, err)
	assert.Equal(t, "DEBIT", debit.Destination)
	assert.True(t, debit.Amount.Equal(d("150")))
	assert.True(t, balanceOf(t, store).Equal(d("350")))
	assert.Contains(t, n.messages[1].Body, "debited")

	_, err = svc.AdjustBalance(ctx, "acct-1", "admin-1", AdjustRequest{Amount: d("-351"), Reason: "too much"})
	assert.True(t, domain.IsInsufficientFunds(err))
	assert.True(t, balanceOf(t, store).Equal(d("350")))

	_, err = svc.AdjustBalance(ctx, "acct-1", "admin-1", AdjustRequest{Amount: decimal.Zero, Reason: "noop"})
	var invalid *domain.InvalidAmountError
	assert.ErrorAs(t, err, &invalid)

	var data events.WalletFundingData
	require.NoError(t, n.events[0].DecodeData(&data))
	assert.Equal(t, "refund for failed vend", data.Reason)
}
