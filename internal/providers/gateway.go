// Package providers defines the vendor gateway contract shared by the
// top-up vendor adapters.
package providers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"vtuplatform/internal/domain"
)

// Config holds vendor selection and credentials.
type Config struct {
	Vendor  string        `envconfig:"VENDOR_NAME"`
	Timeout time.Duration `envconfig:"VENDOR_HTTP_TIMEOUT" default:"30s"`

	TopUpNGBaseURL string `envconfig:"TOPUPNG_BASE_URL"`
	TopUpNGAPIKey  string `envconfig:"TOPUPNG_API_KEY"`

	DataHubBaseURL string `envconfig:"DATAHUB_BASE_URL"`
	DataHubToken   string `envconfig:"DATAHUB_TOKEN"`

	DemoDelay       time.Duration `envconfig:"DEMO_VENDOR_DELAY" default:"1500ms"`
	DemoFailureRate float64       `envconfig:"DEMO_VENDOR_FAILURE_RATE" default:"0"`
}

// BillKind is the kind of bill being paid
type BillKind string

const (
	BillCable       BillKind = "CABLE"
	BillElectricity BillKind = "ELECTRICITY"
)

// AirtimeOrder is a vendor airtime request
type AirtimeOrder struct {
	Network   domain.Network
	Phone     string
	Amount    decimal.Decimal
	Reference string
}

// DataOrder is a vendor data bundle request
type DataOrder struct {
	Network   domain.Network
	Phone     string
	PlanID    string
	Reference string
}

// BillOrder is a vendor cable or electricity request. Provider is the
// disco or cable operator, Customer the meter or smartcard number.
type BillOrder struct {
	Kind      BillKind
	Provider  string
	Customer  string
	PlanID    string
	Amount    decimal.Decimal
	Reference string
}

// Result is a successful vendor response
type Result struct {
	Reference string `json:"reference"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Gateway fulfils top-up orders against one vendor. Failures are returned
// as *domain.VendorError.
type Gateway interface {
	Name() string
	BuyAirtime(ctx context.Context, order AirtimeOrder) (*Result, error)
	BuyData(ctx context.Context, order DataOrder) (*Result, error)
	PayBill(ctx context.Context, order BillOrder) (*Result, error)
}
