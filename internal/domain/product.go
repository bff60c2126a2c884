package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Network is a mobile network operator.
type Network string

const (
	NetworkMTN     Network = "MTN"
	NetworkGlo     Network = "GLO"
	NetworkAirtel  Network = "AIRTEL"
	Network9Mobile Network = "9MOBILE"
)

// ParseNetwork normalizes user input such as "mtn" or "etisalat".
func ParseNetwork(s string) (Network, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MTN":
		return NetworkMTN, nil
	case "GLO":
		return NetworkGlo, nil
	case "AIRTEL":
		return NetworkAirtel, nil
	case "9MOBILE", "NINEMOBILE", "ETISALAT":
		return Network9Mobile, nil
	}
	return "", ErrUnknownNetwork
}

// BundleKind distinguishes catalog entries.
type BundleKind string

const (
	BundleData  BundleKind = "DATA"
	BundleCable BundleKind = "CABLE"
)

// Bundle is a data or cable plan from the catalog.
type Bundle struct {
	ID            string          `json:"id"`
	Kind          BundleKind      `json:"kind"`
	Provider      string          `json:"provider"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	ResellerPrice decimal.Decimal `json:"reseller_price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	PlanID        string          `json:"plan_id"`
	Validity      string          `json:"validity,omitempty"`
	DataVolume    string          `json:"data_volume,omitempty"`
	Active        bool            `json:"active"`
}

// PriceFor returns the selling price for an account role.
func (b *Bundle) PriceFor(role Role) decimal.Decimal {
	if role == RoleReseller && b.ResellerPrice.IsPositive() {
		return b.ResellerPrice
	}
	return b.Price
}

// Product is a purchasable item handed to the pricing policy.
// Amount is used for airtime and electricity, Bundle for data and cable.
type Product struct {
	Type   TransactionType
	Amount decimal.Decimal
	Bundle *Bundle
}

// AirtimeProduct returns an airtime product of the given face value.
func AirtimeProduct(amount decimal.Decimal) Product {
	return Product{Type: TypeAirtime, Amount: amount}
}

// DataProduct returns a data bundle product.
func DataProduct(b *Bundle) Product {
	return Product{Type: TypeData, Bundle: b}
}

// CableProduct returns a cable subscription product.
func CableProduct(b *Bundle) Product {
	return Product{Type: TypeCable, Bundle: b}
}

// ElectricityProduct returns an electricity top-up of the given value.
func ElectricityProduct(amount decimal.Decimal) Product {
	return Product{Type: TypeElectricity, Amount: amount}
}
