package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"temple-safety/config"
	"temple-safety/internal/status"
	"temple-safety/internal/store"
	"temple-safety/models"
	"temple-safety/monitoring"
	"temple-safety/utils"
)

// tokenAttempts bounds regeneration when the store reports a token clash.
const tokenAttempts = 5

type QueueService struct {
	store   store.Store
	bus     Dispatcher
	cfg     config.QueueConfig
	monitor *monitoring.Monitor
	tokens  *utils.TokenGenerator
	locks   *siteLocks
	now     func() time.Time
}

func NewQueueService(st store.Store, bus Dispatcher, cfg config.QueueConfig, monitor *monitoring.Monitor) *QueueService {
	return &QueueService{
		store:   st,
		bus:     bus,
		cfg:     cfg,
		monitor: monitor,
		tokens:  utils.NewTokenGenerator(nil),
		locks:   newSiteLocks(),
		now:     utcNow,
	}
}

type BookingRequest struct {
	SiteID       string               `json:"siteId"`
	VisitorName  string               `json:"visitorName"`
	VisitorPhone string               `json:"visitorPhone"`
	GroupSize    int                  `json:"groupSize"`
	Priority     models.QueuePriority `json:"priority"`
}

type Booking struct {
	Entry                models.QueueEntry `json:"entry"`
	Token                string            `json:"token"`
	Position             int               `json:"position"`
	EstimatedWaitMinutes int               `json:"estimatedWaitMinutes"`
}

func (s *QueueService) validate(req *BookingRequest) error {
	req.VisitorName = strings.TrimSpace(req.VisitorName)
	req.VisitorPhone = strings.TrimSpace(req.VisitorPhone)
	if req.SiteID == "" {
		return status.Invalid("siteId is required")
	}
	if req.VisitorName == "" || req.VisitorPhone == "" {
		return status.Invalid("visitorName and visitorPhone are required")
	}
	if req.GroupSize == 0 {
		req.GroupSize = 1
	}
	if req.GroupSize < 1 || (s.cfg.MaxGroupSize > 0 && req.GroupSize > s.cfg.MaxGroupSize) {
		return status.Invalid("groupSize must be between 1 and %d", s.cfg.MaxGroupSize)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !req.Priority.Valid() {
		return status.Invalid("unknown priority %q", req.Priority)
	}
	return nil
}

// Book places a visitor at the end of a site's queue.
func (s *QueueService) Book(ctx context.Context, req BookingRequest) (booking Booking, err error) {
	defer func() { s.monitor.TrackQueueOperation("book", req.SiteID, err) }()

	if err := s.validate(&req); err != nil {
		return Booking{}, err
	}

	unlock := s.locks.lock(req.SiteID)
	defer unlock()

	site, err := s.store.GetSite(ctx, req.SiteID)
	if err != nil {
		return Booking{}, err
	}
	if site.Status == models.SiteMaintenance {
		return Booking{}, status.ErrSiteUnavailable
	}

	active, err := s.store.ListEntries(ctx, req.SiteID, models.ActiveQueueStatuses...)
	if err != nil {
		return Booking{}, err
	}
	for _, e := range active {
		if e.VisitorPhone == req.VisitorPhone {
			return Booking{}, &status.DuplicateBookingError{SiteID: req.SiteID, ExistingToken: e.Token}
		}
	}

	waitingAhead := 0
	for _, e := range active {
		if e.Status == models.QueueWaiting {
			waitingAhead++
		}
	}

	at := s.now()
	// Called visitors still occupy the counter, so they count towards the wait.
	wait := len(active) * s.cfg.ServiceMinutesPerVisitor
	entry := models.QueueEntry{
		ID:                   uuid.NewString(),
		SiteID:               req.SiteID,
		VisitorName:          req.VisitorName,
		VisitorPhone:         req.VisitorPhone,
		GroupSize:            req.GroupSize,
		Priority:             req.Priority,
		Status:               models.QueueWaiting,
		EstimatedWaitMinutes: wait,
		CreatedAt:            at,
		UpdatedAt:            at,
	}

	for attempt := 0; ; attempt++ {
		entry.Token = s.tokens.Next(req.SiteID)
		created, err := s.store.CreateEntry(ctx, entry)
		if err == nil {
			entry = created
			break
		}
		if !errors.Is(err, status.ErrDuplicateToken) || attempt+1 >= tokenAttempts {
			return Booking{}, err
		}
		slog.Warn("Token collision, regenerating", "site_id", req.SiteID, "token", entry.Token)
	}

	slog.Info("Visitor booked", "site_id", req.SiteID, "token", entry.Token, "position", waitingAhead+1)
	s.publishUpdate(models.QueueNewBooking, entry, len(active)+1, true)

	return Booking{
		Entry:                entry,
		Token:                entry.Token,
		Position:             waitingAhead + 1,
		EstimatedWaitMinutes: wait,
	}, nil
}

// CallNext moves the oldest waiting entry of a site to called.
func (s *QueueService) CallNext(ctx context.Context, siteID string) (entry models.QueueEntry, err error) {
	defer func() { s.monitor.TrackQueueOperation("call_next", siteID, err) }()

	unlock := s.locks.lock(siteID)
	defer unlock()

	if _, err := s.store.GetSite(ctx, siteID); err != nil {
		return models.QueueEntry{}, err
	}

	waiting, err := s.store.ListEntries(ctx, siteID, models.QueueWaiting)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if len(waiting) == 0 {
		return models.QueueEntry{}, status.ErrEmptyQueue
	}

	entry = waiting[0]
	entry.Status = models.QueueCalled
	entry.UpdatedAt = s.now()
	if err := s.store.UpdateEntry(ctx, entry); err != nil {
		return models.QueueEntry{}, err
	}

	slog.Info("Visitor called", "site_id", siteID, "token", entry.Token)
	dispatch(s.bus, models.Event{
		Name:   models.EventQueueCall,
		SiteID: siteID,
		Payload: models.QueueCallPayload{
			SiteID:    siteID,
			Token:     entry.Token,
			Name:      entry.VisitorName,
			Timestamp: entry.UpdatedAt,
		},
		Timestamp: entry.UpdatedAt,
	})
	return entry, nil
}

// UpdateStatus moves an entry to any later status. Terminal entries and
// moves back to waiting are rejected.
func (s *QueueService) UpdateStatus(ctx context.Context, token string, to models.QueueStatus) (models.QueueEntry, error) {
	if !to.Valid() || to == models.QueueWaiting {
		return models.QueueEntry{}, status.Invalid("status must be one of called, completed, cancelled, no_show")
	}
	updateType := models.QueueStatusChange
	if to == models.QueueCancelled {
		updateType = models.QueueCancellation
	}
	return s.transition(ctx, "update_status", token, to, updateType, func(from models.QueueStatus) bool {
		return !from.Terminal()
	})
}

// Cancel withdraws a waiting or called entry.
func (s *QueueService) Cancel(ctx context.Context, token string) (models.QueueEntry, error) {
	return s.transition(ctx, "cancel", token, models.QueueCancelled, models.QueueCancellation, func(from models.QueueStatus) bool {
		return from.Active()
	})
}

func (s *QueueService) transition(ctx context.Context, op, token string, to models.QueueStatus, updateType models.QueueUpdateType, allowed func(models.QueueStatus) bool) (entry models.QueueEntry, err error) {
	var siteID string
	defer func() { s.monitor.TrackQueueOperation(op, siteID, err) }()

	entry, err = s.store.GetEntryByToken(ctx, token)
	if err != nil {
		return models.QueueEntry{}, err
	}
	siteID = entry.SiteID

	unlock := s.locks.lock(siteID)
	defer unlock()

	// Re-read under the site lock.
	entry, err = s.store.GetEntryByToken(ctx, token)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !allowed(entry.Status) {
		return entry, status.ErrInvalidTransition
	}

	from := entry.Status
	entry.Status = to
	entry.UpdatedAt = s.now()
	if err := s.store.UpdateEntry(ctx, entry); err != nil {
		return models.QueueEntry{}, err
	}

	length, err := s.activeCount(ctx, entry.SiteID)
	if err != nil {
		slog.Warn("Failed to count active entries", "site_id", entry.SiteID, "error", err)
	}

	slog.Info("Queue entry updated", "site_id", entry.SiteID, "token", token, "from", from, "to", to)
	s.publishUpdate(updateType, entry, length, false)
	return entry, nil
}

func (s *QueueService) publishUpdate(updateType models.QueueUpdateType, entry models.QueueEntry, length int, withEntry bool) {
	payload := models.QueueUpdatePayload{
		Type:        updateType,
		SiteID:      entry.SiteID,
		Token:       entry.Token,
		Status:      entry.Status,
		QueueLength: length,
		Timestamp:   entry.UpdatedAt,
	}
	if withEntry {
		e := entry
		payload.Entry = &e
	}
	dispatch(s.bus, models.Event{
		Name:      models.EventQueueUpdate,
		SiteID:    entry.SiteID,
		Payload:   payload,
		Timestamp: entry.UpdatedAt,
	})
}

// Position reports how far a waiting entry is from the counter: one plus
// the waiting entries booked before it. Called entries are being served
// and report position 0, as do entries that left the queue.
func (s *QueueService) Position(ctx context.Context, token string) (models.QueuePosition, error) {
	entry, err := s.store.GetEntryByToken(ctx, token)
	if err != nil {
		return models.QueuePosition{}, err
	}

	pos := models.QueuePosition{Token: entry.Token, SiteID: entry.SiteID, Status: entry.Status}
	if entry.Status != models.QueueWaiting {
		return pos, nil
	}

	waiting, err := s.store.ListEntries(ctx, entry.SiteID, models.QueueWaiting)
	if err != nil {
		return models.QueuePosition{}, err
	}
	pos.Position = 1
	for _, e := range waiting {
		if e.Seq < entry.Seq {
			pos.Position++
		}
	}
	pos.EstimatedWaitMinutes = pos.Position * s.cfg.ServiceMinutesPerVisitor
	return pos, nil
}

func (s *QueueService) Entry(ctx context.Context, token string) (models.QueueEntry, error) {
	return s.store.GetEntryByToken(ctx, token)
}

// Summary describes the live state of one site's queue.
func (s *QueueService) Summary(ctx context.Context, siteID string) (models.QueueSummary, error) {
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return models.QueueSummary{}, err
	}
	active, err := s.store.ListEntries(ctx, siteID, models.ActiveQueueStatuses...)
	if err != nil {
		return models.QueueSummary{}, err
	}

	summary := models.QueueSummary{
		SiteID:     site.ID,
		SiteName:   site.Name,
		SiteStatus: site.Status,
		NextFew:    []models.QueuePosition{},
	}

	var serving *models.QueueEntry
	for i := range active {
		e := active[i]
		if e.Status == models.QueueCalled {
			if serving == nil || !e.UpdatedAt.Before(serving.UpdatedAt) {
				serving = &active[i]
			}
			continue
		}
		summary.TotalWaiting++
		if len(summary.NextFew) < s.cfg.SummarySize {
			position := len(summary.NextFew) + 1
			summary.NextFew = append(summary.NextFew, models.QueuePosition{
				Token:                e.Token,
				SiteID:               e.SiteID,
				Status:               e.Status,
				Position:             position,
				EstimatedWaitMinutes: position * s.cfg.ServiceMinutesPerVisitor,
			})
		}
	}
	if serving != nil {
		summary.CurrentlyServing = serving.Token
	}
	summary.EstimatedWaitMinutes = summary.TotalWaiting * s.cfg.ServiceMinutesPerVisitor
	return summary, nil
}

// ListEntries returns a site's entries in booking order. An empty filter
// means waiting; "all" disables filtering.
func (s *QueueService) ListEntries(ctx context.Context, siteID, statusFilter string, limit int) ([]models.QueueEntry, error) {
	if _, err := s.store.GetSite(ctx, siteID); err != nil {
		return nil, err
	}

	var statuses []models.QueueStatus
	switch statusFilter {
	case "all":
	case "":
		statuses = []models.QueueStatus{models.QueueWaiting}
	default:
		st := models.QueueStatus(statusFilter)
		if !st.Valid() {
			return nil, status.Invalid("unknown queue status %q", statusFilter)
		}
		statuses = []models.QueueStatus{st}
	}

	entries, err := s.store.ListEntries(ctx, siteID, statuses...)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	if limit <= 0 {
		limit = s.cfg.DefaultListLimit
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ActiveCount is the number of waiting and called entries at a site.
func (s *QueueService) ActiveCount(ctx context.Context, siteID string) (int, error) {
	return s.activeCount(ctx, siteID)
}

func (s *QueueService) activeCount(ctx context.Context, siteID string) (int, error) {
	active, err := s.store.ListEntries(ctx, siteID, models.ActiveQueueStatuses...)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}
