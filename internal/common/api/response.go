// Package api holds the JSON envelope and error mapping shared by HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"vtuplatform/internal/domain"
)

// ErrRequestTimeout is returned when a request deadline expires before the
// work finished.
var ErrRequestTimeout = errors.New("request timed out")

// Response is the standard API response envelope
type Response[T any] struct {
	Data  T      `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error represents an API error
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// PaginatedResponse is the standard paginated response envelope
type PaginatedResponse[T any] struct {
	Data       []T         `json:"data"`
	Pagination *Pagination `json:"pagination"`
	Error      *Error      `json:"error,omitempty"`
}

// Pagination holds pagination info
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// Common error codes
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeServiceUnavail    = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrCodePinNotSet         = "PIN_NOT_SET"
	ErrCodePinMismatch       = "PIN_MISMATCH"
	ErrCodeMissingPlanID     = "MISSING_PLAN_ID"
	ErrCodeVendor            = "VENDOR_ERROR"
	ErrCodeAlreadyResolved   = "ALREADY_RESOLVED"
	ErrCodeNotRecorded       = "SETTLEMENT_NOT_RECORDED"
)

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful data response
func WriteData[T any](w http.ResponseWriter, status int, data T) {
	WriteJSON(w, status, Response[T]{Data: data})
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Response[any]{
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// WriteErrorWithDetails writes an error response with details
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	WriteJSON(w, status, Response[any]{
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WritePaginated writes a paginated response
func WritePaginated[T any](w http.ResponseWriter, data []T, pagination *Pagination) {
	WriteJSON(w, http.StatusOK, PaginatedResponse[T]{
		Data:       data,
		Pagination: pagination,
	})
}

// BadRequest writes a 400 response
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized writes a 401 response
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden writes a 403 response
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound writes a 404 response
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict writes a 409 response
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeConflict, message)
}

// InternalError writes a 500 response
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ValidationError writes a 422 response with validation details
func ValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make(map[string]string)
		for _, e := range validationErrors {
			details[e.Field()] = formatValidationError(e)
		}
		WriteErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeValidation, "Validation failed", details)
		return
	}
	WriteError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "min":
		return "Must be at least " + e.Param()
	case "max":
		return "Must be at most " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "uuid":
		return "Must be a valid UUID"
	case "ulid":
		return "Must be a valid ULID"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "lt":
		return "Must be less than " + e.Param()
	default:
		return "Invalid value"
	}
}

// Validate is a shared validator instance. Decimal fields are validated
// as their numeric value.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// DecodeAndValidate decodes JSON and validates the result
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return Validate.Struct(v)
}

// PaginationParams extracts pagination parameters from query string
type PaginationParams struct {
	Limit  int
	Offset int
}

// GetPaginationParams extracts pagination from request
func GetPaginationParams(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	params := PaginationParams{
		Limit:  defaultLimit,
		Offset: 0,
	}

	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLimit {
		params.Limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		params.Offset = o
	}

	return params
}

// NewPagination builds pagination info for a page of a total result set.
func NewPagination(p PaginationParams, total int64) *Pagination {
	return &Pagination{
		Limit:   p.Limit,
		Offset:  p.Offset,
		Total:   total,
		HasMore: int64(p.Offset+p.Limit) < total,
	}
}

// WriteDomainError maps service errors to status codes. Unrecognized errors
// are logged and reported as 500 without detail.
func WriteDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		insufficient *domain.InsufficientFundsError
		vendorErr    *domain.VendorError
		invalid      *domain.InvalidAmountError
	)

	switch {
	case errors.Is(err, domain.ErrSettlementNotRecorded):
		logger.Error("settlement needs reconciliation", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeNotRecorded, "Purchase was delivered but not recorded; contact support")
	case errors.As(err, &insufficient):
		WriteErrorWithDetails(w, http.StatusPaymentRequired, ErrCodeInsufficientFunds, "Insufficient wallet balance", map[string]string{
			"available": insufficient.Available.StringFixed(2),
			"required":  insufficient.Required.StringFixed(2),
		})
	case errors.As(err, &vendorErr):
		WriteError(w, http.StatusBadGateway, ErrCodeVendor, vendorErr.Reason)
	case errors.As(err, &invalid):
		WriteError(w, http.StatusUnprocessableEntity, ErrCodeValidation, invalid.Error())
	case errors.Is(err, domain.ErrPinNotSet):
		WriteError(w, http.StatusPreconditionFailed, ErrCodePinNotSet, "Set a transaction PIN first")
	case errors.Is(err, domain.ErrPinMismatch):
		WriteError(w, http.StatusForbidden, ErrCodePinMismatch, "Incorrect transaction PIN")
	case errors.Is(err, domain.ErrMissingPlanID):
		WriteError(w, http.StatusUnprocessableEntity, ErrCodeMissingPlanID, "Plan is not available from the vendor")
	case errors.Is(err, domain.ErrInvalidPIN), errors.Is(err, domain.ErrUnknownNetwork):
		WriteError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, domain.ErrAlreadyResolved), errors.Is(err, domain.ErrNotFundingRequest):
		WriteError(w, http.StatusConflict, ErrCodeAlreadyResolved, err.Error())
	case errors.Is(err, domain.ErrAccountExists):
		Conflict(w, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrTransactionNotFound), errors.Is(err, domain.ErrBundleNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, ErrRequestTimeout):
		WriteError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "Request timed out")
	default:
		logger.Error("request failed", "error", err)
		InternalError(w, "Internal server error")
	}
}
