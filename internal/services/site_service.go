package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"temple-safety/config"
	"temple-safety/internal/status"
	"temple-safety/internal/store"
	"temple-safety/models"
	"temple-safety/monitoring"
)

type SiteService struct {
	store   store.Store
	bus     Dispatcher
	monitor *monitoring.Monitor
	now     func() time.Time
}

func NewSiteService(st store.Store, bus Dispatcher, monitor *monitoring.Monitor) *SiteService {
	return &SiteService{store: st, bus: bus, monitor: monitor, now: utcNow}
}

func (s *SiteService) List(ctx context.Context) ([]models.Site, error) {
	return s.store.ListSites(ctx)
}

func (s *SiteService) Get(ctx context.Context, id string) (models.Site, error) {
	return s.store.GetSite(ctx, id)
}

type SiteStatusUpdate struct {
	Status    models.SiteStatus `json:"status"`
	Occupancy *int              `json:"currentOccupancy,omitempty"`
}

// UpdateStatus sets a site's status, optionally overriding its occupancy,
// and publishes site-status-update.
func (s *SiteService) UpdateStatus(ctx context.Context, id string, update SiteStatusUpdate) (models.Site, error) {
	if !update.Status.Valid() {
		return models.Site{}, status.Invalid("unknown site status %q", update.Status)
	}

	site, _, err := updateSite(ctx, s.store, id, func(site *models.Site) (bool, error) {
		if update.Occupancy != nil {
			limit := site.Capacity * 3 / 2
			if *update.Occupancy < 0 || *update.Occupancy > limit {
				return false, status.Invalid("occupancy must be between 0 and %d", limit)
			}
			site.CurrentOccupancy = *update.Occupancy
		}
		site.Status = update.Status
		site.UpdatedAt = s.now()
		return true, nil
	})
	if err != nil {
		return models.Site{}, err
	}

	slog.Info("Site status updated", "site_id", id, "status", site.Status)
	s.monitor.TrackOccupancy(site)
	s.publishStatus(site)
	return site, nil
}

// setStatusIf moves a site to the target status when its current status is
// one of from. It reports whether the site changed.
func (s *SiteService) setStatusIf(ctx context.Context, id string, to models.SiteStatus, from ...models.SiteStatus) (bool, error) {
	site, changed, err := updateSite(ctx, s.store, id, func(site *models.Site) (bool, error) {
		for _, f := range from {
			if site.Status == f {
				site.Status = to
				site.UpdatedAt = s.now()
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil || !changed {
		return false, err
	}
	s.publishStatus(site)
	return true, nil
}

func (s *SiteService) publishStatus(site models.Site) {
	at := s.now()
	dispatch(s.bus, models.Event{
		Name:   models.EventSiteStatusUpdate,
		SiteID: site.ID,
		Payload: models.SiteStatusPayload{
			SiteID:    site.ID,
			Status:    site.Status,
			Occupancy: site.CurrentOccupancy,
			Timestamp: at,
		},
		Timestamp: at,
	})
}

type CrowdAlertRequest struct {
	AlertLevel models.AlertLevel `json:"alertLevel"`
	Message    string            `json:"message"`
	Zones      []string          `json:"zones"`
}

// RaiseCrowdAlert publishes an operator alert on the site topic and as
// global-alert on the global topic. Alerts are not stored.
func (s *SiteService) RaiseCrowdAlert(ctx context.Context, id string, req CrowdAlertRequest) (models.CrowdAlertPayload, error) {
	if !req.AlertLevel.Valid() {
		return models.CrowdAlertPayload{}, status.Invalid("unknown alert level %q", req.AlertLevel)
	}
	if strings.TrimSpace(req.Message) == "" {
		return models.CrowdAlertPayload{}, status.Invalid("message is required")
	}

	site, err := s.store.GetSite(ctx, id)
	if err != nil {
		return models.CrowdAlertPayload{}, err
	}

	at := s.now()
	alert := models.CrowdAlertPayload{
		SiteID:     site.ID,
		SiteName:   site.Name,
		AlertLevel: req.AlertLevel,
		Message:    req.Message,
		Zones:      req.Zones,
		Timestamp:  at,
	}
	dispatch(s.bus, models.Event{Name: models.EventCrowdAlert, SiteID: site.ID, Payload: alert, Timestamp: at})
	return alert, nil
}

// Analytics returns the most recent snapshots of a site, newest first.
func (s *SiteService) Analytics(ctx context.Context, id string, limit int) ([]models.AnalyticsSnapshot, error) {
	if _, err := s.store.GetSite(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListSnapshots(ctx, id, limit)
}

// Seed creates the given sites, skipping ids that already exist.
func (s *SiteService) Seed(ctx context.Context, seeds []config.SiteSeed) (int, error) {
	created := 0
	at := s.now()
	for _, seed := range seeds {
		_, err := s.store.CreateSite(ctx, models.Site{
			ID:               seed.ID,
			Name:             seed.Name,
			Location:         seed.Location,
			Capacity:         seed.Capacity,
			CurrentOccupancy: seed.CurrentOccupancy,
			Status:           seed.Status,
			CreatedAt:        at,
			UpdatedAt:        at,
		})
		if errors.Is(err, status.ErrSiteExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed site %s: %w", seed.ID, err)
		}
		created++
	}
	return created, nil
}

// SeedIfEmpty seeds only a store without any sites.
func (s *SiteService) SeedIfEmpty(ctx context.Context, seeds []config.SiteSeed) (int, error) {
	sites, err := s.store.ListSites(ctx)
	if err != nil {
		return 0, err
	}
	if len(sites) > 0 {
		return 0, nil
	}
	return s.Seed(ctx, seeds)
}
