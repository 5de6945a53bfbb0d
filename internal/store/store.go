// Package store holds the shared state of sites, queue entries, emergencies
// and crowd analytics. Every backend implements the same Store contract.
package store

import (
	"context"
	"fmt"

	"temple-safety/models"
)

type Store interface {
	CreateSite(ctx context.Context, site models.Site) (models.Site, error)
	GetSite(ctx context.Context, id string) (models.Site, error)
	ListSites(ctx context.Context) ([]models.Site, error)
	// UpdateSite writes site only if the stored version still equals
	// site.Version and returns the stored copy with the version bumped.
	UpdateSite(ctx context.Context, site models.Site) (models.Site, error)

	// CreateEntry assigns the creation sequence. Tokens are unique store-wide.
	CreateEntry(ctx context.Context, entry models.QueueEntry) (models.QueueEntry, error)
	GetEntryByToken(ctx context.Context, token string) (models.QueueEntry, error)
	UpdateEntry(ctx context.Context, entry models.QueueEntry) error
	// ListEntries returns a site's entries in creation order, optionally
	// restricted to the given statuses.
	ListEntries(ctx context.Context, siteID string, statuses ...models.QueueStatus) ([]models.QueueEntry, error)

	CreateEmergency(ctx context.Context, record models.EmergencyRecord) error
	GetEmergency(ctx context.Context, id string) (models.EmergencyRecord, error)
	UpdateEmergency(ctx context.Context, record models.EmergencyRecord) error
	// ListEmergencies returns matching records newest first.
	ListEmergencies(ctx context.Context, filter models.EmergencyFilter) ([]models.EmergencyRecord, error)

	AppendSnapshot(ctx context.Context, snapshot models.AnalyticsSnapshot) error
	// ListSnapshots returns at most limit snapshots for a site, newest first.
	ListSnapshots(ctx context.Context, siteID string, limit int) ([]models.AnalyticsSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

type Options struct {
	Driver            string
	RedisURL          string
	SQLitePath        string
	SnapshotRetention int
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(opts.SnapshotRetention), nil
	case DriverRedis:
		return OpenRedisStore(ctx, opts.RedisURL, opts.SnapshotRetention)
	case DriverSQLite:
		return OpenSQLiteStore(ctx, opts.SQLitePath, opts.SnapshotRetention)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}

func statusSet(statuses []models.QueueStatus) map[models.QueueStatus]bool {
	if len(statuses) == 0 {
		return nil
	}
	set := make(map[models.QueueStatus]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}

func matchStatus(set map[models.QueueStatus]bool, s models.QueueStatus) bool {
	return set == nil || set[s]
}
