package plans

import "strings"

// Plan is a purchasable catalog entry mirrored from a Stripe price.
// Amount is in the smallest currency unit.
type Plan struct {
	ID            uint `gorm:"primaryKey"`
	Name          string
	Amount        int64  `gorm:"not null"`
	Currency      string `gorm:"type:varchar(3);not null;default:'usd'"`
	StripePriceID string `gorm:"column:stripe_price_id;not null;uniqueIndex:idx_plans_stripe_price_id"`
	Interval      string // "" for one-time prices, "month" | "year" otherwise
	Active        bool   `gorm:"not null;default:true"`
}

// Recurring reports whether checkout for this plan opens a subscription.
func (p *Plan) Recurring() bool { return p.Interval != "" }

// zeroDecimal lists currencies Stripe charges in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MajorUnits converts an amount in the smallest currency unit for display.
func MajorUnits(amount int64, currency string) float64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}
