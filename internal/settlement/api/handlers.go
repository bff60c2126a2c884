// Package api exposes purchase endpoints and vendor status.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vtuplatform/internal/common/api"
	"vtuplatform/internal/common/middleware"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/providers"
	"vtuplatform/internal/settlement"
)

// Handler handles purchase HTTP requests
type Handler struct {
	engine  *settlement.Engine
	monitor *providers.Monitor
	logger  *slog.Logger
}

// NewHandler creates a new purchase handler
func NewHandler(engine *settlement.Engine, monitor *providers.Monitor, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, monitor: monitor, logger: logger}
}

// Routes returns the purchase routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/airtime", purchase(h, h.engine.BuyAirtime))
	r.Post("/data", purchase(h, h.engine.BuyData))
	r.Post("/cable", purchase(h, h.engine.PayCable))
	r.Post("/electricity", purchase(h, h.engine.PayElectricity))

	return r
}

// AdminRoutes returns the admin-only routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/vendors", h.VendorStatus)
	return r
}

// purchase adapts an engine operation to a handler. The request is
// decoded and validated before the engine sees it.
func purchase[Req any](h *Handler, settle func(ctx context.Context, accountID string, req Req) (*domain.Transaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := api.DecodeAndValidate(r, &req); err != nil {
			api.ValidationError(w, err)
			return
		}

		txn, err := settle(r.Context(), middleware.GetUserID(r.Context()), req)
		if err != nil {
			api.WriteDomainError(w, h.logger, err)
			return
		}
		api.WriteData(w, http.StatusCreated, txn)
	}
}

// VendorStatus handles GET /admin/vendors
func (h *Handler) VendorStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, h.monitor.Status())
}
