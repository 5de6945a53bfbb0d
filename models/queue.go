package models

import (
	"time"
)

type QueueStatus string

const (
	QueueWaiting   QueueStatus = "waiting"
	QueueCalled    QueueStatus = "called"
	QueueCompleted QueueStatus = "completed"
	QueueCancelled QueueStatus = "cancelled"
	QueueNoShow    QueueStatus = "no_show"
)

// ActiveQueueStatuses are the statuses that hold a place in line.
var ActiveQueueStatuses = []QueueStatus{QueueWaiting, QueueCalled}

func (s QueueStatus) Valid() bool {
	switch s {
	case QueueWaiting, QueueCalled, QueueCompleted, QueueCancelled, QueueNoShow:
		return true
	}
	return false
}

func (s QueueStatus) Active() bool {
	return s == QueueWaiting || s == QueueCalled
}

func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueCancelled || s == QueueNoShow
}

type QueuePriority string

const (
	PriorityNormal QueuePriority = "normal"
	PriorityHigh   QueuePriority = "high"
)

func (p QueuePriority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh
}

type QueueEntry struct {
	ID                   string        `json:"id"`
	Seq                  int64         `json:"seq"`
	SiteID               string        `json:"siteId"`
	Token                string        `json:"token"`
	VisitorName          string        `json:"visitorName"`
	VisitorPhone         string        `json:"visitorPhone"`
	GroupSize            int           `json:"groupSize"`
	Priority             QueuePriority `json:"priority"`
	Status               QueueStatus   `json:"status"` // waiting, called, completed, cancelled, no_show
	EstimatedWaitMinutes int           `json:"estimatedWaitMinutes"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

type QueuePosition struct {
	Token                string      `json:"token"`
	SiteID               string      `json:"siteId"`
	Status               QueueStatus `json:"status"`
	Position             int         `json:"position"`
	EstimatedWaitMinutes int         `json:"estimatedWaitMinutes"`
}

type QueueSummary struct {
	SiteID               string          `json:"siteId"`
	SiteName             string          `json:"siteName"`
	SiteStatus           SiteStatus      `json:"siteStatus"`
	TotalWaiting         int             `json:"totalWaiting"`
	CurrentlyServing     string          `json:"currentlyServing,omitempty"`
	EstimatedWaitMinutes int             `json:"estimatedWaitMinutes"`
	NextFew              []QueuePosition `json:"nextFew"`
}
