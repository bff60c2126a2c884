package topupng

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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

func TestNetworkCodes(t *testing.T) {
	for n, want := range map[domain.Network]string{
		domain.NetworkMTN:     "mtn",
		domain.NetworkGlo:     "glo",
		domain.NetworkAirtel:  "airtel",
		domain.Network9Mobile: "9mobile",
	} {
		got, err := NetworkCode(n)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := NetworkCode("VODAFONE")
	assert.ErrorIs(t, err, domain.ErrUnknownNetwork)
}

func TestBuyAirtime(t *testing.T) {
	var got airtimeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/airtime", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(response{Status: "success", Reference: "TNG-1"})
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL+"/", "key", time.Second, testLogger())
	res, err := a.BuyAirtime(context.Background(), providers.AirtimeOrder{
		Network:   domain.NetworkAirtel,
		Phone:     "08020000000",
		Amount:    decimal.NewFromInt(500),
		Reference: "AIR-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "TNG-1", res.Reference)
	assert.Equal(t, "airtel", got.Network)
	assert.Equal(t, "500.00", got.Amount)
	assert.NotEmpty(t, got.RequestID)
}

func TestElectricityReturnsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bills/electricity", r.URL.Path)
		var req billRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ikedc", req.Service)
		assert.Equal(t, "5000.00", req.Amount)
		_ = json.NewEncoder(w).Encode(response{Status: "success", Reference: "TNG-2", Token: "1111222233334444"})
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL, "key", time.Second, testLogger())
	res, err := a.PayBill(context.Background(), providers.BillOrder{
		Kind:     providers.BillElectricity,
		Provider: "IKEDC",
		Customer: "45012345678",
		Amount:   decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	assert.Equal(t, "1111222233334444", res.Token)
}

func TestVendorFailures(t *testing.T) {
	t.Run("rejected in body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(response{Status: "failed", Message: "invalid plan"})
		}))
		defer srv.Close()

		_, err := NewAdapter(srv.URL, "k", time.Second, testLogger()).BuyData(context.Background(), providers.DataOrder{Network: domain.NetworkMTN, PlanID: "x"})
		var vendorErr *domain.VendorError
		require.ErrorAs(t, err, &vendorErr)
		assert.Equal(t, "invalid plan", vendorErr.Reason)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewAdapter(srv.URL, "k", time.Second, testLogger()).BuyData(context.Background(), providers.DataOrder{Network: domain.NetworkMTN, PlanID: "x"})
		var vendorErr *domain.VendorError
		require.ErrorAs(t, err, &vendorErr)
		assert.Equal(t, "vendor temporarily unavailable", vendorErr.Reason)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := NewAdapter(srv.URL, "k", time.Second, testLogger()).BuyData(ctx, providers.DataOrder{Network: domain.NetworkMTN, PlanID: "x"})
		var vendorErr *domain.VendorError
		require.ErrorAs(t, err, &vendorErr)
		assert.Equal(t, "vendor timeout", vendorErr.Reason)
	})

	t.Run("unknown network fails before calling vendor", func(t *testing.T) {
		_, err := NewAdapter("http://127.0.0.1:1", "k", time.Second, testLogger()).BuyAirtime(context.Background(), providers.AirtimeOrder{Network: "X"})
		assert.ErrorIs(t, err, domain.ErrUnknownNetwork)
	})
}
