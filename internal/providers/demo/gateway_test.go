package demo

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuplatform/internal/domain"
	"vtuplatform/internal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDemoSucceeds(t *testing.T) {
	g := New(0, 0, testLogger())
	ctx := context.Background()

	res, err := g.BuyAirtime(ctx, providers.AirtimeOrder{Network: domain.NetworkMTN, Phone: "08030000000", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Reference, "DEMO-"))
	assert.Empty(t, res.Token)

	res, err = g.PayBill(ctx, providers.BillOrder{Kind: providers.BillElectricity, Customer: "45012345678", Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	assert.True(t, domain.IsMeterToken(res.Token), res.Token)
}

func TestDemoFailureRate(t *testing.T) {
	g := New(0, 1, testLogger())
	_, err := g.BuyData(context.Background(), providers.DataOrder{PlanID: "p1"})
	assert.True(t, domain.IsVendorError(err))

	g = New(0, 0.5, testLogger()).WithSeed(42)
	failures := 0
	for i := 0; i < 200; i++ {
		if _, err := g.BuyData(context.Background(), providers.DataOrder{PlanID: "p1"}); err != nil {
			failures++
		}
	}
	assert.InDelta(t, 100, failures, 30)
}

func TestDemoHonorsDeadline(t *testing.T) {
	g := New(time.Second, 0, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.BuyAirtime(ctx, providers.AirtimeOrder{})
	var vendorErr *domain.VendorError
	require.ErrorAs(t, err, &vendorErr)
	assert.Equal(t, "vendor timeout", vendorErr.Reason)
}
