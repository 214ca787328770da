package pricing

import (
	"time"

	"salonhub-backend/internal/models"
)

// The calculator is deterministic and side-effect free: it is called both
// during invoice generation and for read-only subscription-info display.

// EffectiveBasePrice resolves the tenant's base price against platform
// settings, honoring a custom override once its valid-from date has passed.
func EffectiveBasePrice(tenant *models.Tenant, settings models.PlatformSettings, now time.Time) int64 {
	if tenant.CustomBasePrice != nil && overrideActive(tenant, now) {
		return *tenant.CustomBasePrice
	}
	return settings.BasePrice
}

// EffectiveLocationPrice resolves the per-location price the same way.
func EffectiveLocationPrice(tenant *models.Tenant, settings models.PlatformSettings, now time.Time) int64 {
	if tenant.CustomLocationPrice != nil && overrideActive(tenant, now) {
		return *tenant.CustomLocationPrice
	}
	return settings.LocationPrice
}

func overrideActive(tenant *models.Tenant, now time.Time) bool {
	return tenant.CustomPriceValidFrom == nil || !tenant.CustomPriceValidFrom.After(now)
}

// MonthlyTotal computes the tenant's effective monthly charge: the base
// price covers the first location, each additional active location is billed
// at the location price.
func MonthlyTotal(tenant *models.Tenant, settings models.PlatformSettings, locationCount int, now time.Time) int64 {
	extra := locationCount - 1
	if extra < 0 {
		extra = 0
	}
	return EffectiveBasePrice(tenant, settings, now) + int64(extra)*EffectiveLocationPrice(tenant, settings, now)
}

// LineItems builds the invoice lines for one billing period. The sum of the
// returned items always equals MonthlyTotal for the same inputs.
func LineItems(tenant *models.Tenant, settings models.PlatformSettings, locationCount int, now time.Time) []models.InvoiceItem {
	items := []models.InvoiceItem{
		{
			Kind:        models.InvoiceItemBase,
			Description: "Monthly subscription",
			Amount:      EffectiveBasePrice(tenant, settings, now),
		},
	}

	extra := locationCount - 1
	if extra > 0 {
		items = append(items, models.InvoiceItem{
			Kind:        models.InvoiceItemLocation,
			Description: "Additional locations",
			Amount:      int64(extra) * EffectiveLocationPrice(tenant, settings, now),
		})
	}

	return items
}
