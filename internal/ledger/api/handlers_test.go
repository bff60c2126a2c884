package api

import (
	"bytes"
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

	"vtuplatform/internal/common/events"
	"vtuplatform/internal/common/middleware"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
	"vtuplatform/internal/ledger/memstore"
)

var testSecret = []byte("handler-secret")

type nopSink struct{}

func (nopSink) Publish(*events.Event) bool { return true }

func newHandler(t *testing.T) (*Handler, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutBundle(&domain.Bundle{ID: "mtn-1gb", Kind: domain.BundleData, Provider: "MTN", Name: "1GB", Price: decimal.NewFromInt(300), PlanID: "m1", Active: true})
	store.PutBundle(&domain.Bundle{ID: "glo-2gb", Kind: domain.BundleData, Provider: "GLO", Name: "2GB", Price: decimal.NewFromInt(500), PlanID: "g2", Active: true})
	store.PutBundle(&domain.Bundle{ID: "dstv-padi", Kind: domain.BundleCable, Provider: "DSTV", Name: "Padi", Price: decimal.NewFromInt(2950), PlanID: "padi", Active: true})
	store.PutBundle(&domain.Bundle{ID: "retired", Kind: domain.BundleData, Provider: "MTN", Name: "Old", Price: decimal.NewFromInt(100), Active: false})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(ledger.NewService(store, nopSink{}, logger), testSecret, time.Hour, logger), store
}

func as(r *http.Request, userID string, role domain.Role) *http.Request {
	return r.WithContext(middleware.WithIdentity(r.Context(), userID, role))
}

func TestListBundles(t *testing.T) {
	h, _ := newHandler(t)

	tests := []struct {
		query  string
		status int
		ids    []string
	}{
		{"", http.StatusOK, []string{"dstv-padi", "glo-2gb", "mtn-1gb"}},
		{"?kind=DATA", http.StatusOK, []string{"glo-2gb", "mtn-1gb"}},
		{"?kind=DATA&provider=mtn", http.StatusOK, []string{"mtn-1gb"}},
		{"?kind=AIRTIME", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, "/catalog/bundles"+tt.query, nil), "u1", domain.RoleUser))
			require.Equal(t, tt.status, rec.Code)
			if tt.ids == nil {
				return
			}

			var resp struct {
				Data []domain.Bundle `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			var ids []string
			for _, b := range resp.Data {
				ids = append(ids, b.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestListTransactionsRejectsUnknownFilters(t *testing.T) {
	h, _ := newHandler(t)

	for _, q := range []string{"?type=LOTTERY", "?status=MAYBE"} {
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, "/transactions"+q, nil), "u1", domain.RoleUser))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestCreateAccountIssuesToken(t *testing.T) {
	h, store := newHandler(t)

	body, _ := json.Marshal(map[string]string{"name": "Bola", "phone": "08071234567", "role": "RESELLER"})
	rec := httptest.NewRecorder()
	h.AdminRoutes().ServeHTTP(rec, as(httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewReader(body)), "admin", domain.RoleAdmin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data CreateAccountResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.RoleReseller, resp.Data.Account.Role)

	claims, err := middleware.ParseToken(testSecret, resp.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Data.Account.ID, claims.Subject)
	assert.Equal(t, domain.RoleReseller, claims.Role)

	_, err = store.GetAccount(context.Background(), resp.Data.Account.ID)
	assert.NoError(t, err)

	rec = httptest.NewRecorder()
	h.AdminRoutes().ServeHTTP(rec, as(httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewReader(body)), "admin", domain.RoleAdmin))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.AdminRoutes().ServeHTTP(rec, as(httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewReader([]byte(`{"name":""}`))), "admin", domain.RoleAdmin))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWalletHidesPINHash(t *testing.T) {
	h, store := newHandler(t)

	acct, err := domain.NewAccount("u1", "Ada", "0803", "", domain.RoleUser)
	require.NoError(t, err)
	acct.PINHash, err = domain.HashPIN("1234")
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(context.Background(), acct))

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, "/wallet", nil), "u1", domain.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_pin":true`)
	assert.NotContains(t, rec.Body.String(), acct.PINHash)
}
