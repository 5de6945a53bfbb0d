package handlers

import (
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"temple-safety/internal/services"
	"temple-safety/internal/status"
	"temple-safety/models"
)

type EmergencyHandler struct {
	emergencies *services.EmergencyService
	generator   *services.EmergencyGenerator
}

func NewEmergencyHandler(emergencies *services.EmergencyService, generator *services.EmergencyGenerator) *EmergencyHandler {
	return &EmergencyHandler{emergencies: emergencies, generator: generator}
}

// Report - POST /api/v1/emergency/report
func (h *EmergencyHandler) Report(e *core.RequestEvent) error {
	var req services.ReportRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	rec, err := h.emergencies.Report(e.Request.Context(), req)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusCreated, rec)
}

// List - GET /api/v1/emergency?siteId=&status=&severity=&type=&limit=
func (h *EmergencyHandler) List(e *core.RequestEvent) error {
	q := e.Request.URL.Query()
	limit, err := queryInt(e, "limit", 50)
	if err != nil {
		return respondError(e, err)
	}

	records, err := h.emergencies.List(e.Request.Context(), models.EmergencyFilter{
		SiteID:   q.Get("siteId"),
		Status:   models.EmergencyStatus(q.Get("status")),
		Severity: models.Severity(q.Get("severity")),
		Type:     models.EmergencyType(q.Get("type")),
	}, limit)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, records)
}

// Active - GET /api/v1/emergency/active?siteId=
func (h *EmergencyHandler) Active(e *core.RequestEvent) error {
	records, err := h.emergencies.Active(e.Request.Context(), e.Request.URL.Query().Get("siteId"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, records)
}

// Stats - GET /api/v1/emergency/stats?siteId=&window=24h
func (h *EmergencyHandler) Stats(e *core.RequestEvent) error {
	q := e.Request.URL.Query()

	window := services.DefaultStatsWindow
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return respondError(e, status.Invalid("window must be a positive duration"))
		}
		window = d
	}

	stats, err := h.emergencies.Stats(e.Request.Context(), q.Get("siteId"), window)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, stats)
}

// UpdateStatus - PUT /api/v1/emergency/{id}/status
func (h *EmergencyHandler) UpdateStatus(e *core.RequestEvent) error {
	var req struct {
		Status models.EmergencyStatus `json:"status"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	rec, err := h.emergencies.UpdateStatus(e.Request.Context(), e.Request.PathValue("id"), req.Status)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, rec)
}

// GeneratorStatus - GET /api/v1/emergency/generator/status
func (h *EmergencyHandler) GeneratorStatus(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, h.generator.Status())
}

// StartGenerator - POST /api/v1/emergency/generator/start
func (h *EmergencyHandler) StartGenerator(e *core.RequestEvent) error {
	started := h.generator.Start()
	message := "Emergency generator started"
	if !started {
		message = "Emergency generator already running"
	}
	return e.JSON(http.StatusOK, map[string]any{"message": message, "status": h.generator.Status()})
}

// StopGenerator - POST /api/v1/emergency/generator/stop
func (h *EmergencyHandler) StopGenerator(e *core.RequestEvent) error {
	stopped := h.generator.Stop()
	message := "Emergency generator stopped"
	if !stopped {
		message = "Emergency generator already stopped"
	}
	return e.JSON(http.StatusOK, map[string]any{"message": message, "status": h.generator.Status()})
}

// TriggerGenerator - POST /api/v1/emergency/generator/trigger
func (h *EmergencyHandler) TriggerGenerator(e *core.RequestEvent) error {
	rec, err := h.generator.TriggerNow(e.Request.Context())
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusCreated, map[string]any{"message": "Emergency generated", "emergency": rec})
}
