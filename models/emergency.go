package models

import (
	"time"
)

type EmergencyType string

const (
	EmergencyMedical    EmergencyType = "medical"
	EmergencySecurity   EmergencyType = "security"
	EmergencyCrowd      EmergencyType = "crowd"
	EmergencyFire       EmergencyType = "fire"
	EmergencyStructural EmergencyType = "structural"
	EmergencyOther      EmergencyType = "other"
)

var EmergencyTypes = []EmergencyType{
	EmergencyMedical, EmergencySecurity, EmergencyCrowd, EmergencyFire, EmergencyStructural, EmergencyOther,
}

func (t EmergencyType) Valid() bool {
	for _, v := range EmergencyTypes {
		if t == v {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type EmergencyStatus string

const (
	EmergencyReported     EmergencyStatus = "reported"
	EmergencyAcknowledged EmergencyStatus = "acknowledged"
	EmergencyInProgress   EmergencyStatus = "in_progress"
	EmergencyResolved     EmergencyStatus = "resolved"
	EmergencyFalseAlarm   EmergencyStatus = "false_alarm"
)

var EmergencyStatuses = []EmergencyStatus{
	EmergencyReported, EmergencyAcknowledged, EmergencyInProgress, EmergencyResolved, EmergencyFalseAlarm,
}

func (s EmergencyStatus) Valid() bool {
	for _, v := range EmergencyStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Closed reports whether the record can no longer change.
func (s EmergencyStatus) Closed() bool {
	return s == EmergencyResolved || s == EmergencyFalseAlarm
}

type EmergencySource string

const (
	SourceGenerator EmergencySource = "generator"
	SourceReport    EmergencySource = "report"
)

type Reporter struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type EmergencyRecord struct {
	ID          string          `json:"id"`
	SiteID      string          `json:"siteId"`
	Type        EmergencyType   `json:"type"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description"`
	Status      EmergencyStatus `json:"status"` // reported, acknowledged, in_progress, resolved, false_alarm
	Source      EmergencySource `json:"source"`
	Reporter    Reporter        `json:"reporter"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type EmergencyFilter struct {
	SiteID     string
	Status     EmergencyStatus
	Severity   Severity
	Type       EmergencyType
	ActiveOnly bool
	Since      time.Time
}

func (f EmergencyFilter) Match(r EmergencyRecord) bool {
	if f.SiteID != "" && r.SiteID != f.SiteID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.ActiveOnly && r.Status.Closed() {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

type EmergencyStats struct {
	Total      int                     `json:"total"`
	ByStatus   map[EmergencyStatus]int `json:"byStatus"`
	BySeverity map[Severity]int        `json:"bySeverity"`
	ByType     map[EmergencyType]int   `json:"byType"`
}

func NewEmergencyStats(records []EmergencyRecord) EmergencyStats {
	stats := EmergencyStats{
		ByStatus:   make(map[EmergencyStatus]int, len(EmergencyStatuses)),
		BySeverity: make(map[Severity]int, len(Severities)),
		ByType:     make(map[EmergencyType]int, len(EmergencyTypes)),
	}
	for _, s := range EmergencyStatuses {
		stats.ByStatus[s] = 0
	}
	for _, s := range Severities {
		stats.BySeverity[s] = 0
	}
	for _, t := range EmergencyTypes {
		stats.ByType[t] = 0
	}
	for _, r := range records {
		stats.Total++
		stats.ByStatus[r.Status]++
		stats.BySeverity[r.Severity]++
		stats.ByType[r.Type]++
	}
	return stats
}
