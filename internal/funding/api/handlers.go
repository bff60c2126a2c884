// Package api exposes wallet funding and admin review endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vtuplatform/internal/common/api"
	"vtuplatform/internal/common/middleware"
	"vtuplatform/internal/funding"
)

// Handler handles funding HTTP requests
type Handler struct {
	service *funding.Service
	logger  *slog.Logger
}

// NewHandler creates a new funding handler
func NewHandler(service *funding.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the account holder routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/wallet/fund", h.FundWallet)
	r.Post("/wallet/fund/manual", h.SubmitManualFunding)

	return r
}

// AdminRoutes returns the admin-only routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/transactions/{id}/approve", h.Approve)
	r.Post("/transactions/{id}/decline", h.Decline)
	r.Post("/accounts/{id}/adjust", h.Adjust)

	return r
}

// FundWallet handles POST /wallet/fund
func (h *Handler) FundWallet(w http.ResponseWriter, r *http.Request) {
	var req funding.FundRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, replayed, err := h.service.FundWallet(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	api.WriteData(w, status, txn)
}

// SubmitManualFunding handles POST /wallet/fund/manual
func (h *Handler) SubmitManualFunding(w http.ResponseWriter, r *http.Request) {
	var req funding.ManualFundingRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, err := h.service.SubmitManualFunding(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusAccepted, txn)
}

// Approve handles POST /admin/transactions/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	txn, err := h.service.ApproveTransaction(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, txn)
}

// DeclineRequest carries the reason shown to the customer
type DeclineRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// Decline handles POST /admin/transactions/{id}/decline
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	var req DeclineRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, err := h.service.DeclineTransaction(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, txn)
}

// Adjust handles POST /admin/accounts/{id}/adjust
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req funding.AdjustRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, err := h.service.AdjustBalance(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, txn)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, funding.ErrReferenceConflict) {
		api.Conflict(w, err.Error())
		return
	}
	api.WriteDomainError(w, h.logger, err)
}
