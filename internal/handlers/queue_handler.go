package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"temple-safety/internal/services"
	"temple-safety/models"
)

type QueueHandler struct {
	queue *services.QueueService
}

func NewQueueHandler(queue *services.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// Book - POST /api/v1/queue/book
func (h *QueueHandler) Book(e *core.RequestEvent) error {
	var req services.BookingRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	booking, err := h.queue.Book(e.Request.Context(), req)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusCreated, booking)
}

// GetStatus - GET /api/v1/queue/{siteId}/status
func (h *QueueHandler) GetStatus(e *core.RequestEvent) error {
	summary, err := h.queue.Summary(e.Request.Context(), e.Request.PathValue("siteId"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, summary)
}

// GetEntries - GET /api/v1/queue/{siteId}/entries?status=&limit=
func (h *QueueHandler) GetEntries(e *core.RequestEvent) error {
	limit, err := queryInt(e, "limit", 0)
	if err != nil {
		return respondError(e, err)
	}
	entries, err := h.queue.ListEntries(
		e.Request.Context(),
		e.Request.PathValue("siteId"),
		e.Request.URL.Query().Get("status"),
		limit,
	)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, entries)
}

// CallNext - POST /api/v1/queue/{siteId}/call-next
func (h *QueueHandler) CallNext(e *core.RequestEvent) error {
	entry, err := h.queue.CallNext(e.Request.Context(), e.Request.PathValue("siteId"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, entry)
}

type tokenView struct {
	Entry    models.QueueEntry    `json:"entry"`
	Position models.QueuePosition `json:"position"`
}

// GetToken - GET /api/v1/queue/token/{token}
func (h *QueueHandler) GetToken(e *core.RequestEvent) error {
	ctx := e.Request.Context()
	token := e.Request.PathValue("token")

	entry, err := h.queue.Entry(ctx, token)
	if err != nil {
		return respondError(e, err)
	}
	pos, err := h.queue.Position(ctx, token)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, tokenView{Entry: entry, Position: pos})
}

// UpdateToken - PUT /api/v1/queue/token/{token}
func (h *QueueHandler) UpdateToken(e *core.RequestEvent) error {
	var req struct {
		Status models.QueueStatus `json:"status"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	entry, err := h.queue.UpdateStatus(e.Request.Context(), e.Request.PathValue("token"), req.Status)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, entry)
}

// CancelToken - DELETE /api/v1/queue/token/{token}
func (h *QueueHandler) CancelToken(e *core.RequestEvent) error {
	entry, err := h.queue.Cancel(e.Request.Context(), e.Request.PathValue("token"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, entry)
}
