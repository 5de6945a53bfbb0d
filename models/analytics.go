package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AlertLevel string

const (
	AlertLow      AlertLevel = "low"
	AlertMedium   AlertLevel = "medium"
	AlertHigh     AlertLevel = "high"
	AlertCritical AlertLevel = "critical"
)

func (l AlertLevel) Valid() bool {
	switch l {
	case AlertLow, AlertMedium, AlertHigh, AlertCritical:
		return true
	}
	return false
}

// Density thresholds in percent of nominal capacity.
var (
	mediumThreshold   = decimal.NewFromInt(85)
	highThreshold     = decimal.NewFromInt(110)
	criticalThreshold = decimal.NewFromInt(130)
	hundred           = decimal.NewFromInt(100)
)

// Density is occupancy expressed as a percentage of capacity. It is kept as
// an exact decimal so threshold comparisons never suffer float rounding.
type Density struct {
	decimal.Decimal
}

func DensityOf(occupancy, capacity int) Density {
	if capacity <= 0 {
		return Density{decimal.Zero}
	}
	return Density{decimal.NewFromInt(int64(occupancy)).Mul(hundred).Div(decimal.NewFromInt(int64(capacity)))}
}

// AlertLevel maps density to a risk level: critical >= 130, high >= 110,
// medium >= 85, low otherwise.
func (d Density) AlertLevel() AlertLevel {
	switch {
	case d.GreaterThanOrEqual(criticalThreshold):
		return AlertCritical
	case d.GreaterThanOrEqual(highThreshold):
		return AlertHigh
	case d.GreaterThanOrEqual(mediumThreshold):
		return AlertMedium
	default:
		return AlertLow
	}
}

// Percent rounds to two decimals for payloads.
func (d Density) Percent() float64 {
	return d.Round(2).InexactFloat64()
}

type AnalyticsSnapshot struct {
	SiteID     string          `json:"siteId"`
	CrowdCount int             `json:"crowdCount"`
	Density    decimal.Decimal `json:"density"`
	AlertLevel AlertLevel      `json:"alertLevel"`
	Timestamp  time.Time       `json:"timestamp"`
}

func NewSnapshot(site Site, at time.Time) AnalyticsSnapshot {
	density := site.Density()
	return AnalyticsSnapshot{
		SiteID:     site.ID,
		CrowdCount: site.CurrentOccupancy,
		Density:    density.Round(2),
		AlertLevel: density.AlertLevel(),
		Timestamp:  at,
	}
}
