package models

import (
	"time"
)

type SiteStatus string

const (
	SiteNormal      SiteStatus = "normal"
	SiteEmergency   SiteStatus = "emergency"
	SiteMaintenance SiteStatus = "maintenance"
	SiteClosed      SiteStatus = "closed"
)

func (s SiteStatus) Valid() bool {
	switch s {
	case SiteNormal, SiteEmergency, SiteMaintenance, SiteClosed:
		return true
	}
	return false
}

// Site is a monitored venue. Version is bumped by the store on every
// successful update and is the compare-and-swap token for writers.
type Site struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Location         string     `json:"location,omitempty"`
	Capacity         int        `json:"capacity"`
	CurrentOccupancy int        `json:"currentOccupancy"`
	Status           SiteStatus `json:"status"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Density returns the current occupancy as a percentage of capacity.
func (s Site) Density() Density {
	return DensityOf(s.CurrentOccupancy, s.Capacity)
}
