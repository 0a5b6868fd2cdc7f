package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Plan struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days"`
	BoostLevel   int             `json:"boost_level"`
	Description  string          `json:"description,omitempty"`
}

func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Tier returns the listing boost level for the plan. Plans without an
// explicit level are mapped from their name.
func (p *Plan) Tier() int {
	if p.BoostLevel >= 1 && p.BoostLevel <= 3 {
		return p.BoostLevel
	}
	name := strings.ToLower(p.Name)
	switch {
	case strings.Contains(name, "diamond"), strings.Contains(name, "enterprise"):
		return 3
	case strings.Contains(name, "gold"), strings.Contains(name, "vip"), strings.Contains(name, "premium"):
		return 2
	default:
		return 1
	}
}

type Listing struct {
	ID             int64      `json:"id"`
	OwnerID        int64      `json:"owner_id"`
	Title          string     `json:"title"`
	Status         string     `json:"status"`
	BoostLevel     int        `json:"boost_level"`
	BoostExpiresAt *time.Time `json:"boost_expires_at,omitempty"`
}

const (
	ListingStatusPending = "pending"
	ListingStatusActive  = "active"
)
