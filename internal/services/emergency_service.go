package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"temple-safety/internal/status"
	"temple-safety/internal/store"
	"temple-safety/models"
	"temple-safety/monitoring"
)

// DefaultStatsWindow is the look-back of Stats when none is given.
const DefaultStatsWindow = 24 * time.Hour

type EmergencyService struct {
	store    store.Store
	bus      Dispatcher
	sites    *SiteService
	escalate bool
	monitor  *monitoring.Monitor
	locks    *siteLocks
	now      func() time.Time
}

// NewEmergencyService builds the shared record path used by both operator
// reports and the generator. With escalate set, critical emergencies move
// their site into the emergency status.
func NewEmergencyService(st store.Store, bus Dispatcher, sites *SiteService, escalate bool, monitor *monitoring.Monitor) *EmergencyService {
	return &EmergencyService{
		store:    st,
		bus:      bus,
		sites:    sites,
		escalate: escalate,
		monitor:  monitor,
		locks:    newSiteLocks(),
		now:      utcNow,
	}
}

type ReportRequest struct {
	SiteID      string               `json:"siteId"`
	Type        models.EmergencyType `json:"type"`
	Severity    models.Severity      `json:"severity"`
	Description string               `json:"description"`
	Reporter    models.Reporter      `json:"reporter"`
}

func (r *ReportRequest) validate() error {
	r.Description = strings.TrimSpace(r.Description)
	if r.SiteID == "" {
		return status.Invalid("siteId is required")
	}
	if !r.Type.Valid() {
		return status.Invalid("unknown emergency type %q", r.Type)
	}
	if r.Severity == "" {
		r.Severity = models.SeverityMedium
	}
	if !r.Severity.Valid() {
		return status.Invalid("unknown severity %q", r.Severity)
	}
	if r.Description == "" {
		return status.Invalid("description is required")
	}
	return nil
}

// Report records an emergency submitted by a person.
func (s *EmergencyService) Report(ctx context.Context, req ReportRequest) (models.EmergencyRecord, error) {
	if err := req.validate(); err != nil {
		return models.EmergencyRecord{}, err
	}
	return s.record(ctx, req, models.SourceReport)
}

// record persists a new emergency in reported status and publishes
// emergency-alert to the site and global topics.
func (s *EmergencyService) record(ctx context.Context, req ReportRequest, source models.EmergencySource) (models.EmergencyRecord, error) {
	if _, err := s.store.GetSite(ctx, req.SiteID); err != nil {
		return models.EmergencyRecord{}, err
	}

	at := s.now()
	rec := models.EmergencyRecord{
		ID:          uuid.NewString(),
		SiteID:      req.SiteID,
		Type:        req.Type,
		Severity:    req.Severity,
		Description: req.Description,
		Status:      models.EmergencyReported,
		Source:      source,
		Reporter:    req.Reporter,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := s.store.CreateEmergency(ctx, rec); err != nil {
		slog.Error("Failed to store emergency", "site_id", req.SiteID, "error", err)
		return models.EmergencyRecord{}, err
	}

	slog.Info("Emergency recorded",
		"emergency_id", rec.ID,
		"site_id", rec.SiteID,
		"type", rec.Type,
		"severity", rec.Severity,
		"source", rec.Source,
	)
	s.monitor.TrackEmergency(rec)
	dispatch(s.bus, models.NewEmergencyAlertEvent(rec, at))

	if s.escalate && rec.Severity == models.SeverityCritical && s.sites != nil {
		if _, err := s.sites.setStatusIf(ctx, rec.SiteID, models.SiteEmergency, models.SiteNormal); err != nil {
			slog.Error("Failed to escalate site", "site_id", rec.SiteID, "emergency_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

// UpdateStatus moves an open emergency to any status. Resolved and false
// alarm records are final.
func (s *EmergencyService) UpdateStatus(ctx context.Context, id string, to models.EmergencyStatus) (models.EmergencyRecord, error) {
	if !to.Valid() {
		return models.EmergencyRecord{}, status.Invalid("unknown emergency status %q", to)
	}

	rec, err := s.store.GetEmergency(ctx, id)
	if err != nil {
		return models.EmergencyRecord{}, err
	}

	// The closed check and the write must not interleave with another
	// update of the same record. Re-read under the site lock.
	unlock := s.locks.lock(rec.SiteID)
	defer unlock()

	rec, err = s.store.GetEmergency(ctx, id)
	if err != nil {
		return models.EmergencyRecord{}, err
	}
	if rec.Status.Closed() {
		return rec, status.ErrInvalidTransition
	}
	if rec.Status == to {
		return rec, nil
	}

	rec.Status = to
	rec.UpdatedAt = s.now()
	if err := s.store.UpdateEmergency(ctx, rec); err != nil {
		return models.EmergencyRecord{}, err
	}

	slog.Info("Emergency status updated", "emergency_id", rec.ID, "site_id", rec.SiteID, "status", rec.Status)
	dispatch(s.bus, models.Event{
		Name:   models.EventEmergencyStatusUpdate,
		SiteID: rec.SiteID,
		Payload: models.EmergencyStatusPayload{
			ID:        rec.ID,
			SiteID:    rec.SiteID,
			Status:    rec.Status,
			Timestamp: rec.UpdatedAt,
		},
		Timestamp: rec.UpdatedAt,
	})

	if s.escalate && to.Closed() && rec.Severity == models.SeverityCritical && s.sites != nil {
		s.deescalate(ctx, rec.SiteID)
	}
	return rec, nil
}

// deescalate returns a site to normal once no critical emergency is open.
func (s *EmergencyService) deescalate(ctx context.Context, siteID string) {
	open, err := s.store.ListEmergencies(ctx, models.EmergencyFilter{
		SiteID:     siteID,
		Severity:   models.SeverityCritical,
		ActiveOnly: true,
	})
	if err != nil {
		slog.Error("Failed to list open emergencies", "site_id", siteID, "error", err)
		return
	}
	if len(open) > 0 {
		return
	}
	if _, err := s.sites.setStatusIf(ctx, siteID, models.SiteNormal, models.SiteEmergency); err != nil {
		slog.Error("Failed to restore site status", "site_id", siteID, "error", err)
	}
}

func (s *EmergencyService) Get(ctx context.Context, id string) (models.EmergencyRecord, error) {
	return s.store.GetEmergency(ctx, id)
}

// List returns matching emergencies, newest first, truncated to limit when
// limit is positive.
func (s *EmergencyService) List(ctx context.Context, filter models.EmergencyFilter, limit int) ([]models.EmergencyRecord, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, status.Invalid("unknown emergency status %q", filter.Status)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, status.Invalid("unknown severity %q", filter.Severity)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, status.Invalid("unknown emergency type %q", filter.Type)
	}

	records, err := s.store.ListEmergencies(ctx, filter)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Active returns every emergency that is neither resolved nor a false alarm.
func (s *EmergencyService) Active(ctx context.Context, siteID string) ([]models.EmergencyRecord, error) {
	return s.store.ListEmergencies(ctx, models.EmergencyFilter{SiteID: siteID, ActiveOnly: true})
}

// Stats counts emergencies created within window, optionally for one site.
func (s *EmergencyService) Stats(ctx context.Context, siteID string, window time.Duration) (models.EmergencyStats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	records, err := s.store.ListEmergencies(ctx, models.EmergencyFilter{
		SiteID: siteID,
		Since:  s.now().Add(-window),
	})
	if err != nil {
		return models.EmergencyStats{}, err
	}
	return models.NewEmergencyStats(records), nil
}
