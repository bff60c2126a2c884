package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuplatform/internal/domain"
)

func TestWriteDomainError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrPinNotSet, http.StatusPreconditionFailed, ErrCodePinNotSet},
		{domain.ErrPinMismatch, http.StatusForbidden, ErrCodePinMismatch},
		{&domain.InsufficientFundsError{Available: decimal.NewFromInt(1), Required: decimal.NewFromInt(2)}, http.StatusPaymentRequired, ErrCodeInsufficientFunds},
		{fmt.Errorf("buying: %w", &domain.VendorError{Reason: "vendor timeout"}), http.StatusBadGateway, ErrCodeVendor},
		{domain.ErrMissingPlanID, http.StatusUnprocessableEntity, ErrCodeMissingPlanID},
		{domain.ErrAlreadyResolved, http.StatusConflict, ErrCodeAlreadyResolved},
		{domain.ErrTransactionNotFound, http.StatusNotFound, ErrCodeNotFound},
		{&domain.InvalidAmountError{Reason: "must be greater than zero"}, http.StatusUnprocessableEntity, ErrCodeValidation},
		{errors.New("db down"), http.StatusInternalServerError, ErrCodeInternalError},
		{fmt.Errorf("recording settlement: %w: %v", domain.ErrSettlementNotRecorded, &domain.InsufficientFundsError{}), http.StatusInternalServerError, ErrCodeNotRecorded},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteDomainError(rec, logger, tc.err)
			assert.Equal(t, tc.status, rec.Code)

			var resp Response[any]
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestVendorErrorMessageIsReason(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDomainError(rec, slog.New(slog.NewTextHandler(io.Discard, nil)), &domain.VendorError{Vendor: "topupng", Reason: "vendor timeout"})

	var resp Response[any]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "vendor timeout", resp.Error.Message)
}

func TestGetPaginationParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=40", nil)
	p := GetPaginationParams(r, 50, 100)
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, 40, p.Offset)

	r = httptest.NewRequest(http.MethodGet, "/?limit=500&offset=-1", nil)
	p = GetPaginationParams(r, 50, 100)
	assert.Equal(t, 50, p.Limit)
	assert.Equal(t, 0, p.Offset)

	assert.True(t, NewPagination(PaginationParams{Limit: 20, Offset: 0}, 21).HasMore)
	assert.False(t, NewPagination(PaginationParams{Limit: 20, Offset: 20}, 21).HasMore)
}

func TestValidateDecimal(t *testing.T) {
	type req struct {
		Amount decimal.Decimal `validate:"gt=0"`
	}
	assert.NoError(t, Validate.Struct(req{Amount: decimal.RequireFromString("0.01")}))
	assert.Error(t, Validate.Struct(req{Amount: decimal.Zero}))
	assert.Error(t, Validate.Struct(req{Amount: decimal.NewFromInt(-5)}))
}
