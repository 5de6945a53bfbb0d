package handlers

import (
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"temple-safety/internal/services"
	"temple-safety/models"
)

type SiteHandler struct {
	sites *services.SiteService
}

func NewSiteHandler(sites *services.SiteService) *SiteHandler {
	return &SiteHandler{sites: sites}
}

// SiteView adds derived crowd figures to a site.
type SiteView struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Location         string  `json:"location"`
	Capacity         int     `json:"capacity"`
	CurrentOccupancy int     `json:"currentOccupancy"`
	Status           string  `json:"status"`
	DensityPct       float64 `json:"densityPct"`
	AlertLevel       string  `json:"alertLevel"`
	UpdatedAt        string  `json:"updatedAt"`
}

// ListSites - GET /api/v1/sites
func (h *SiteHandler) ListSites(e *core.RequestEvent) error {
	sites, err := h.sites.List(e.Request.Context())
	if err != nil {
		return respondError(e, err)
	}
	views := make([]SiteView, 0, len(sites))
	for _, s := range sites {
		views = append(views, newSiteView(s))
	}
	return e.JSON(http.StatusOK, views)
}

// GetSite - GET /api/v1/sites/{id}
func (h *SiteHandler) GetSite(e *core.RequestEvent) error {
	site, err := h.sites.Get(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, newSiteView(site))
}

// UpdateStatus - PUT /api/v1/sites/{id}/status
func (h *SiteHandler) UpdateStatus(e *core.RequestEvent) error {
	var req services.SiteStatusUpdate
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	site, err := h.sites.UpdateStatus(e.Request.Context(), e.Request.PathValue("id"), req)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, newSiteView(site))
}

// RaiseAlert - POST /api/v1/sites/{id}/alert
func (h *SiteHandler) RaiseAlert(e *core.RequestEvent) error {
	var req services.CrowdAlertRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	alert, err := h.sites.RaiseCrowdAlert(e.Request.Context(), e.Request.PathValue("id"), req)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusCreated, alert)
}

// GetAnalytics - GET /api/v1/sites/{id}/analytics?limit=
func (h *SiteHandler) GetAnalytics(e *core.RequestEvent) error {
	limit, err := queryInt(e, "limit", 100)
	if err != nil {
		return respondError(e, err)
	}
	snaps, err := h.sites.Analytics(e.Request.Context(), e.Request.PathValue("id"), limit)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, snaps)
}

func newSiteView(s models.Site) SiteView {
	density := s.Density()
	return SiteView{
		ID:               s.ID,
		Name:             s.Name,
		Location:         s.Location,
		Capacity:         s.Capacity,
		CurrentOccupancy: s.CurrentOccupancy,
		Status:           string(s.Status),
		DensityPct:       density.Percent(),
		AlertLevel:       string(density.AlertLevel()),
		UpdatedAt:        s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
