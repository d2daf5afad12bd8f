package model

import "time"

// CurrentPricingID is the primary key of the single active pricing row.
const CurrentPricingID = "current"

// Pricing is the policy used to convert material counts into points.
type Pricing struct {
	ID             string             `gorm:"primaryKey;size:32" json:"-"`
	ItemsPerPoint  map[string]float64 `gorm:"serializer:json;type:text" json:"itemsPerPoint"`
	PricePerKg     map[string]float64 `gorm:"serializer:json;type:text" json:"pricePerKg"`
	ConversionRate float64            `gorm:"not null" json:"conversionRate"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// DefaultPricing mirrors the values the mobile app shipped with:
// 50 bottles = 1 point, 10 cans = 1 point, 100 points = 1 currency unit.
func DefaultPricing() Pricing {
	return Pricing{
		ID: CurrentPricingID,
		ItemsPerPoint: map[string]float64{
			"plastic": 50,
			"tin":     10,
		},
		PricePerKg:     map[string]float64{},
		ConversionRate: 100,
	}
}
