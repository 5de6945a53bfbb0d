package models

import (
	"time"
)

type EventName string

const (
	EventOccupancyUpdate       EventName = "occupancy-update"
	EventGlobalOccupancyUpdate EventName = "global-occupancy-update"
	EventQueueUpdate           EventName = "queue-update"
	EventQueueCall             EventName = "queue-call"
	EventEmergencyAlert        EventName = "emergency-alert"
	EventEmergencyStatusUpdate EventName = "emergency-status-update"
	EventCrowdAlert            EventName = "crowd-alert"
	EventGlobalAlert           EventName = "global-alert"
	EventSiteStatusUpdate      EventName = "site-status-update"
)

// Event is an ephemeral broadcast message. It is never persisted.
type Event struct {
	Name      EventName `json:"event"`
	SiteID    string    `json:"siteId"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type OccupancyPayload struct {
	SiteID     string     `json:"siteId"`
	SiteName   string     `json:"siteName"`
	Occupancy  int        `json:"occupancy"`
	Capacity   int        `json:"capacity"`
	DensityPct float64    `json:"densityPct"`
	AlertLevel AlertLevel `json:"alertLevel"`
	QueueCount int        `json:"queueCount"`
	Timestamp  time.Time  `json:"timestamp"`
}

type QueueUpdateType string

const (
	QueueNewBooking   QueueUpdateType = "new_booking"
	QueueStatusChange QueueUpdateType = "status_change"
	QueueCancellation QueueUpdateType = "cancellation"
)

type QueueUpdatePayload struct {
	Type        QueueUpdateType `json:"type"`
	SiteID      string          `json:"siteId"`
	Token       string          `json:"token"`
	Status      QueueStatus     `json:"status"`
	QueueLength int             `json:"queueLength"`
	Entry       *QueueEntry     `json:"entry,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type QueueCallPayload struct {
	SiteID    string    `json:"siteId"`
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

type EmergencyStatusPayload struct {
	ID        string          `json:"id"`
	SiteID    string          `json:"siteId"`
	Status    EmergencyStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

type CrowdAlertPayload struct {
	SiteID     string     `json:"siteId"`
	SiteName   string     `json:"siteName"`
	AlertLevel AlertLevel `json:"alertLevel"`
	Message    string     `json:"message"`
	Zones      []string   `json:"zones,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

type SiteStatusPayload struct {
	SiteID    string     `json:"siteId"`
	Status    SiteStatus `json:"status"`
	Occupancy int        `json:"occupancy"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewOccupancyEvent(site Site, queueCount int, at time.Time) Event {
	density := site.Density()
	return Event{
		Name:   EventOccupancyUpdate,
		SiteID: site.ID,
		Payload: OccupancyPayload{
			SiteID:     site.ID,
			SiteName:   site.Name,
			Occupancy:  site.CurrentOccupancy,
			Capacity:   site.Capacity,
			DensityPct: density.Percent(),
			AlertLevel: density.AlertLevel(),
			QueueCount: queueCount,
			Timestamp:  at,
		},
		Timestamp: at,
	}
}

func NewEmergencyAlertEvent(record EmergencyRecord, at time.Time) Event {
	return Event{Name: EventEmergencyAlert, SiteID: record.SiteID, Payload: record, Timestamp: at}
}
