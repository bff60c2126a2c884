// Package pricing computes gross charge, vendor cost and profit for products.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"vtuplatform/internal/common/money"
	"vtuplatform/internal/domain"
)

// Config holds the admin-managed pricing settings
type Config struct {
	AirtimeFee        decimal.Decimal `envconfig:"PRICING_AIRTIME_FEE" default:"0"`
	DataFee           decimal.Decimal `envconfig:"PRICING_DATA_FEE" default:"0"`
	CableFee          decimal.Decimal `envconfig:"PRICING_CABLE_FEE" default:"0"`
	ElectricityFee    decimal.Decimal `envconfig:"PRICING_ELECTRICITY_FEE" default:"0"`
	AirtimeCostPct    decimal.Decimal `envconfig:"PRICING_AIRTIME_COST_PCT" default:"98"`
	AirtimeSellingPct decimal.Decimal `envconfig:"PRICING_AIRTIME_SELLING_PCT" default:"100"`
}

// DefaultConfig returns zero fees with airtime sold at face value and bought at 98%.
func DefaultConfig() Config {
	return Config{
		AirtimeCostPct:    decimal.NewFromInt(98),
		AirtimeSellingPct: decimal.NewFromInt(100),
	}
}

// Validate rejects negative settings and an airtime cost above the airtime
// selling price, which would sell below cost.
func (c Config) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"airtime fee":         c.AirtimeFee,
		"data fee":            c.DataFee,
		"cable fee":           c.CableFee,
		"electricity fee":     c.ElectricityFee,
		"airtime cost pct":    c.AirtimeCostPct,
		"airtime selling pct": c.AirtimeSellingPct,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.AirtimeCostPct.GreaterThan(c.AirtimeSellingPct) {
		return fmt.Errorf("airtime cost pct %s exceeds selling pct %s", c.AirtimeCostPct, c.AirtimeSellingPct)
	}
	return nil
}

// Fee returns the flat service fee for a transaction type.
func (c Config) Fee(t domain.TransactionType) decimal.Decimal {
	switch t {
	case domain.TypeAirtime:
		return c.AirtimeFee
	case domain.TypeData:
		return c.DataFee
	case domain.TypeCable:
		return c.CableFee
	case domain.TypeElectricity:
		return c.ElectricityFee
	}
	return decimal.Zero
}

// Quote is a priced product. Gross is what the wallet is charged.
type Quote struct {
	Base   decimal.Decimal
	Fee    decimal.Decimal
	Gross  decimal.Decimal
	Cost   decimal.Decimal
	Profit decimal.Decimal
}

var (
	defaultBundleMargin = decimal.RequireFromString("0.95")

	ErrUnsupportedProduct = errors.New("unsupported product")
)

// Price computes the quote for a product bought by an account with role.
//
//	airtime:      gross = amount*selling% + fee, cost = amount*cost%
//	data, cable:  gross = price + fee, cost = costPrice (or 95% of price)
//	electricity:  gross = amount + fee, cost = amount
//
// In every case profit = (selling - cost) + fee.
func Price(cfg Config, p domain.Product, role domain.Role) (Quote, error) {
	fee := money.Round(cfg.Fee(p.Type))

	switch p.Type {
	case domain.TypeAirtime:
		if err := domain.ValidateAmount(p.Amount); err != nil {
			return Quote{}, err
		}
		selling := money.Percentage(p.Amount, cfg.AirtimeSellingPct)
		cost := money.Percentage(p.Amount, cfg.AirtimeCostPct)
		return quote(selling, fee, cost), nil

	case domain.TypeData, domain.TypeCable:
		if p.Bundle == nil {
			return Quote{}, domain.ErrBundleNotFound
		}
		if p.Bundle.PlanID == "" {
			return Quote{}, domain.ErrMissingPlanID
		}
		price := money.Round(p.Bundle.PriceFor(role))
		if err := domain.ValidateAmount(price); err != nil {
			return Quote{}, err
		}
		cost := money.Round(p.Bundle.CostPrice)
		if !cost.IsPositive() {
			cost = money.Round(price.Mul(defaultBundleMargin))
		}
		return quote(price, fee, cost), nil

	case domain.TypeElectricity:
		if err := domain.ValidateAmount(p.Amount); err != nil {
			return Quote{}, err
		}
		return quote(p.Amount, fee, p.Amount), nil
	}

	return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedProduct, p.Type)
}

func quote(selling, fee, cost decimal.Decimal) Quote {
	return Quote{
		Base:   selling,
		Fee:    fee,
		Gross:  selling.Add(fee),
		Cost:   cost,
		Profit: selling.Sub(cost).Add(fee),
	}
}

// Source supplies the current pricing configuration
type Source interface {
	Pricing(ctx context.Context) (Config, error)
}

// Static is a Source backed by a fixed configuration.
type Static Config

// Pricing implements Source.
func (s Static) Pricing(context.Context) (Config, error) {
	return Config(s), nil
}
