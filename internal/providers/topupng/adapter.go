// Package topupng is the adapter for vendors speaking the TopUpNG API, which
// identifies networks by lower-case string codes.
package topupng

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"vtuplatform/internal/domain"
	"vtuplatform/internal/providers"
)

// Name is the vendor name
const Name = "topupng"

var networkCodes = map[domain.Network]string{
	domain.NetworkMTN:     "mtn",
	domain.NetworkGlo:     "glo",
	domain.NetworkAirtel:  "airtel",
	domain.Network9Mobile: "9mobile",
}

// NetworkCode maps a network to the vendor's code
func NetworkCode(n domain.Network) (string, error) {
	code, ok := networkCodes[n]
	if !ok {
		return "", domain.ErrUnknownNetwork
	}
	return code, nil
}

type airtimeRequest struct {
	RequestID string `json:"request_id"`
	Network   string `json:"network"`
	Phone     string `json:"phone"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

type dataRequest struct {
	RequestID string `json:"request_id"`
	Network   string `json:"network"`
	Phone     string `json:"phone"`
	PlanID    string `json:"plan_id"`
	Reference string `json:"reference"`
}

type billRequest struct {
	RequestID string `json:"request_id"`
	Service   string `json:"service"`
	Customer  string `json:"customer_id"`
	PlanID    string `json:"plan_id,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Reference string `json:"reference"`
}

type response struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Adapter implements providers.Gateway for TopUpNG.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *providers.Client
	logger  *slog.Logger
}

// NewAdapter creates a TopUpNG adapter
func NewAdapter(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  providers.NewClient(Name, timeout, logger),
		logger:  logger,
	}
}

// Name implements providers.Gateway
func (a *Adapter) Name() string { return Name }

// BuyAirtime implements providers.Gateway
func (a *Adapter) BuyAirtime(ctx context.Context, order providers.AirtimeOrder) (*providers.Result, error) {
	code, err := NetworkCode(order.Network)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, "/v1/airtime", airtimeRequest{
		RequestID: uuid.NewString(),
		Network:   code,
		Phone:     order.Phone,
		Amount:    order.Amount.StringFixed(2),
		Reference: order.Reference,
	})
}

// BuyData implements providers.Gateway
func (a *Adapter) BuyData(ctx context.Context, order providers.DataOrder) (*providers.Result, error) {
	code, err := NetworkCode(order.Network)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, "/v1/data", dataRequest{
		RequestID: uuid.NewString(),
		Network:   code,
		Phone:     order.Phone,
		PlanID:    order.PlanID,
		Reference: order.Reference,
	})
}

// PayBill implements providers.Gateway
func (a *Adapter) PayBill(ctx context.Context, order providers.BillOrder) (*providers.Result, error) {
	req := billRequest{
		RequestID: uuid.NewString(),
		Service:   strings.ToLower(order.Provider),
		Customer:  order.Customer,
		PlanID:    order.PlanID,
		Reference: order.Reference,
	}
	if order.Kind == providers.BillElectricity {
		req.Amount = order.Amount.StringFixed(2)
	}
	return a.submit(ctx, "/v1/bills/"+strings.ToLower(string(order.Kind)), req)
}

func (a *Adapter) submit(ctx context.Context, path string, req interface{}) (*providers.Result, error) {
	var resp response
	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}
	if err := a.client.PostJSON(ctx, a.baseURL+path, headers, req, &resp); err != nil {
		return nil, err
	}

	if !strings.EqualFold(resp.Status, "success") {
		return nil, providers.Rejected(Name, resp.Message)
	}

	a.logger.Debug("topupng order fulfilled", "path", path, "vendor_reference", resp.Reference)
	return &providers.Result{Reference: resp.Reference, Token: resp.Token, Message: resp.Message}, nil
}
