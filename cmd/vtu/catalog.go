package main

import (
	"github.com/shopspring/decimal"

	"vtuplatform/internal/domain"
)

// defaultCatalog mirrors the bundles seeded by the catalog migration so the
// in-memory backend has something to sell.
func defaultCatalog() []*domain.Bundle {
	bundle := func(id string, kind domain.BundleKind, provider, name string, price, reseller, cost int64, planID, validity, volume string) *domain.Bundle {
		return &domain.Bundle{
			ID:            id,
			Kind:          kind,
			Provider:      provider,
			Name:          name,
			Price:         decimal.NewFromInt(price),
			ResellerPrice: decimal.NewFromInt(reseller),
			CostPrice:     decimal.NewFromInt(cost),
			PlanID:        planID,
			Validity:      validity,
			DataVolume:    volume,
			Active:        true,
		}
	}

	return []*domain.Bundle{
		bundle("mtn-1gb-30d", domain.BundleData, "MTN", "MTN 1GB - 30 days", 300, 285, 270, "MTN-1000", "30 days", "1GB"),
		bundle("mtn-5gb-30d", domain.BundleData, "MTN", "MTN 5GB - 30 days", 1350, 1300, 1250, "MTN-5000", "30 days", "5GB"),
		bundle("glo-1.5gb-14d", domain.BundleData, "GLO", "Glo 1.5GB - 14 days", 450, 430, 410, "GLO-1500", "14 days", "1.5GB"),
		bundle("airtel-750mb", domain.BundleData, "AIRTEL", "Airtel 750MB - 7 days", 500, 480, 460, "AIRTEL-750", "7 days", "750MB"),
		bundle("dstv-padi", domain.BundleCable, "DSTV", "DStv Padi", 2950, 2900, 2850, "dstv-padi", "1 month", ""),
		bundle("dstv-compact", domain.BundleCable, "DSTV", "DStv Compact", 10500, 10400, 10300, "dstv-compact", "1 month", ""),
		bundle("gotv-jolli", domain.BundleCable, "GOTV", "GOtv Jolli", 3950, 3900, 3850, "gotv-jolli", "1 month", ""),
	}
}
