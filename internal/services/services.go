package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"temple-safety/internal/status"
	"temple-safety/internal/store"
	"temple-safety/models"
)

// Dispatcher publishes an event under the broadcast routing policy.
type Dispatcher interface {
	Dispatch(event models.Event) error
}

const casAttempts = 3

func dispatch(bus Dispatcher, event models.Event) {
	if bus == nil {
		return
	}
	if err := bus.Dispatch(event); err != nil {
		slog.Error("Failed to dispatch event", "event", event.Name, "site_id", event.SiteID, "error", err)
	}
}

// updateSite applies mutate to a fresh copy of the site and writes it with
// compare-and-swap, re-reading and re-applying on version conflicts. mutate
// returns false to leave the site untouched.
func updateSite(ctx context.Context, st store.Store, id string, mutate func(site *models.Site) (bool, error)) (models.Site, bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		site, err := st.GetSite(ctx, id)
		if err != nil {
			return models.Site{}, false, err
		}

		next := site
		changed, err := mutate(&next)
		if err != nil || !changed {
			return site, false, err
		}

		saved, err := st.UpdateSite(ctx, next)
		if errors.Is(err, status.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return models.Site{}, false, err
		}
		return saved, true, nil
	}
	return models.Site{}, false, status.ErrVersionConflict
}

// siteLocks serializes queue and emergency updates per site. Locks are never removed;
// the number of sites is small and fixed.
type siteLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSiteLocks() *siteLocks {
	return &siteLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *siteLocks) lock(siteID string) func() {
	l.mu.Lock()
	m, ok := l.locks[siteID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[siteID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func utcNow() time.Time {
	return time.Now().UTC()
}
