// Package datahub is the adapter for vendors speaking the DataHub API, which
// identifies networks by numeric string codes.
package datahub

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
const Name = "datahub"

var networkCodes = map[domain.Network]string{
	domain.NetworkMTN:     "1",
	domain.NetworkGlo:     "2",
	domain.Network9Mobile: "3",
	domain.NetworkAirtel:  "4",
}

// NetworkCode maps a network to the vendor's code
func NetworkCode(n domain.Network) (string, error) {
	code, ok := networkCodes[n]
	if !ok {
		return "", domain.ErrUnknownNetwork
	}
	return code, nil
}

type topupRequest struct {
	Network     string `json:"network"`
	Amount      string `json:"amount"`
	Mobile      string `json:"mobile_number"`
	Ported      bool   `json:"Ported_number"`
	AirtimeType string `json:"airtime_type"`
	RequestID   string `json:"request-id"`
}

type dataRequest struct {
	Network   string `json:"network"`
	Mobile    string `json:"mobile_number"`
	Plan      string `json:"plan"`
	Ported    bool   `json:"Ported_number"`
	RequestID string `json:"request-id"`
}

type cableRequest struct {
	CableName string `json:"cablename"`
	IUC       string `json:"iuc"`
	Plan      string `json:"cableplan"`
	RequestID string `json:"request-id"`
}

type billRequest struct {
	Disco     string `json:"disco_name"`
	Amount    string `json:"amount"`
	Meter     string `json:"meter_number"`
	MeterType string `json:"MeterType"`
	RequestID string `json:"request-id"`
}

type response struct {
	Status  string `json:"Status"`
	ID      string `json:"ident"`
	Token   string `json:"token,omitempty"`
	Message string `json:"api_response,omitempty"`
}

// Adapter implements providers.Gateway for DataHub.
type Adapter struct {
	baseURL string
	token   string
	client  *providers.Client
	logger  *slog.Logger
}

// NewAdapter creates a DataHub adapter
func NewAdapter(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
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
	return a.submit(ctx, "/api/topup/", topupRequest{
		Network:     code,
		Amount:      order.Amount.StringFixed(0),
		Mobile:      order.Phone,
		Ported:      true,
		AirtimeType: "VTU",
		RequestID:   requestID(order.Reference),
	})
}

// BuyData implements providers.Gateway
func (a *Adapter) BuyData(ctx context.Context, order providers.DataOrder) (*providers.Result, error) {
	code, err := NetworkCode(order.Network)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, "/api/data/", dataRequest{
		Network:   code,
		Mobile:    order.Phone,
		Plan:      order.PlanID,
		Ported:    true,
		RequestID: requestID(order.Reference),
	})
}

// PayBill implements providers.Gateway
func (a *Adapter) PayBill(ctx context.Context, order providers.BillOrder) (*providers.Result, error) {
	if order.Kind == providers.BillCable {
		return a.submit(ctx, "/api/cablesub/", cableRequest{
			CableName: strings.ToUpper(order.Provider),
			IUC:       order.Customer,
			Plan:      order.PlanID,
			RequestID: requestID(order.Reference),
		})
	}
	return a.submit(ctx, "/api/billpayment/", billRequest{
		Disco:     order.Provider,
		Amount:    order.Amount.StringFixed(0),
		Meter:     order.Customer,
		MeterType: "prepaid",
		RequestID: requestID(order.Reference),
	})
}

func (a *Adapter) submit(ctx context.Context, path string, req interface{}) (*providers.Result, error) {
	var resp response
	headers := map[string]string{"Authorization": "Token " + a.token}
	if err := a.client.PostJSON(ctx, a.baseURL+path, headers, req, &resp); err != nil {
		return nil, err
	}

	if !strings.EqualFold(resp.Status, "successful") {
		return nil, providers.Rejected(Name, resp.Message)
	}

	a.logger.Debug("datahub order fulfilled", "path", path, "vendor_reference", resp.ID)
	return &providers.Result{Reference: resp.ID, Token: resp.Token, Message: resp.Message}, nil
}

// requestID prefers our reference so vendor-side retries deduplicate.
func requestID(reference string) string {
	if reference != "" {
		return reference
	}
	return uuid.NewString()
}
