package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"temple-safety/internal/services"
)

// Pinger reports whether the state store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store     Pinger
	generator *services.EmergencyGenerator
	clients   func() int
}

func NewHealthHandler(store Pinger, generator *services.EmergencyGenerator, clients func() int) *HealthHandler {
	return &HealthHandler{store: store, generator: generator, clients: clients}
}

// Health - GET /health
func (h *HealthHandler) Health(e *core.RequestEvent) error {
	ctx, cancel := context.WithTimeout(e.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return e.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.generator != nil {
		body["generator"] = h.generator.Status()
	}
	if h.clients != nil {
		body["websocketClients"] = h.clients()
	}
	return e.JSON(http.StatusOK, body)
}
