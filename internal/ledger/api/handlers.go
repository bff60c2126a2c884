// Package api exposes wallet, history and catalog endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vtuplatform/internal/common/api"
	"vtuplatform/internal/common/middleware"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/ledger"
)

// Handler handles wallet and ledger HTTP requests
type Handler struct {
	service   *ledger.Service
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *slog.Logger
}

// NewHandler creates a new ledger handler. jwtSecret and tokenTTL are used
// to issue tokens for accounts created by an admin.
func NewHandler(service *ledger.Service, jwtSecret []byte, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// Routes returns the account holder routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/wallet", h.GetWallet)
	r.Put("/wallet/pin", h.SetPIN)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.Get("/catalog/bundles", h.ListBundles)

	return r
}

// AdminRoutes returns the admin-only routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts/{id}", h.GetAccount)
	r.Get("/transactions/pending", h.ListPendingFunding)
	r.Get("/summary", h.Summary)

	return r
}

// CreateAccountResponse is the created account with an access token
type CreateAccountResponse struct {
	Account *domain.Account `json:"account"`
	Token   string          `json:"token"`
}

// CreateAccount handles POST /admin/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	acct, err := h.service.CreateAccount(r.Context(), req)
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}

	token, err := middleware.IssueToken(h.jwtSecret, acct.ID, acct.Role, h.tokenTTL)
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}

	api.WriteData(w, http.StatusCreated, CreateAccountResponse{Account: acct, Token: token})
}

// GetAccount handles GET /admin/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, acct)
}

// WalletResponse is the caller's account snapshot
type WalletResponse struct {
	*domain.Account
	HasPIN bool `json:"has_pin"`
}

// GetWallet handles GET /wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.GetAccount(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, WalletResponse{Account: acct, HasPIN: acct.HasPIN()})
}

// SetPINRequest sets or changes the transaction PIN
type SetPINRequest struct {
	CurrentPIN string `json:"current_pin" validate:"omitempty,len=4,numeric"`
	NewPIN     string `json:"new_pin" validate:"required,len=4,numeric"`
}

// SetPIN handles PUT /wallet/pin
func (h *Handler) SetPIN(w http.ResponseWriter, r *http.Request) {
	var req SetPINRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if err := h.service.SetPIN(r.Context(), middleware.GetUserID(r.Context()), req.CurrentPIN, req.NewPIN); err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTransactions handles GET /transactions?type=&status=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page := api.GetPaginationParams(r, 50, 100)
	f := ledger.Filter{
		Type:   domain.TransactionType(r.URL.Query().Get("type")),
		Status: domain.Status(r.URL.Query().Get("status")),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if f.Type != "" && !f.Type.Valid() {
		api.BadRequest(w, "unknown transaction type")
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		api.BadRequest(w, "unknown status")
		return
	}

	txns, total, err := h.service.History(r.Context(), middleware.GetUserID(r.Context()), f)
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	api.WritePaginated(w, txns, api.NewPagination(page, total))
}

// GetTransaction handles GET /transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txn, err := h.service.GetTransaction(ctx, middleware.GetUserID(ctx), middleware.GetRole(ctx), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, txn)
}

// ListBundles handles GET /catalog/bundles?kind=&provider=
func (h *Handler) ListBundles(w http.ResponseWriter, r *http.Request) {
	kind := domain.BundleKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != domain.BundleData && kind != domain.BundleCable {
		api.BadRequest(w, "kind must be DATA or CABLE")
		return
	}

	bundles, err := h.service.Bundles(r.Context(), kind, r.URL.Query().Get("provider"))
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, bundles)
}

// ListPendingFunding handles GET /admin/transactions/pending
func (h *Handler) ListPendingFunding(w http.ResponseWriter, r *http.Request) {
	page := api.GetPaginationParams(r, 50, 100)
	txns, total, err := h.service.PendingFunding(r.Context(), page.Limit, page.Offset)
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	api.WritePaginated(w, txns, api.NewPagination(page, total))
}

// Summary handles GET /admin/summary?from=&to= (RFC 3339). The window
// defaults to the last 30 days.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			api.BadRequest(w, "from must be an RFC 3339 timestamp")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			api.BadRequest(w, "to must be an RFC 3339 timestamp")
			return
		}
	}
	if !to.After(from) {
		api.BadRequest(w, "to must be after from")
		return
	}

	summary, err := h.service.Summary(r.Context(), from, to)
	if err != nil {
		api.WriteDomainError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, summary)
}
