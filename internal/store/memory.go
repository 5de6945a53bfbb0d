package store

import (
	"context"
	"sort"
	"sync"

	"temple-safety/internal/status"
	"temple-safety/models"
)

// MemoryStore keeps all state in process. It is the default backend for
// development and the reference the other backends are tested against.
type MemoryStore struct {
	mu          sync.RWMutex
	sites       map[string]models.Site
	seq         int64
	entries     map[string]models.QueueEntry // by token
	bySite      map[string][]string          // site -> tokens in creation order
	emergencies map[string]models.EmergencyRecord
	snapshots   map[string][]models.AnalyticsSnapshot
	retention   int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(retention int) *MemoryStore {
	return &MemoryStore{
		sites:       make(map[string]models.Site),
		entries:     make(map[string]models.QueueEntry),
		bySite:      make(map[string][]string),
		emergencies: make(map[string]models.EmergencyRecord),
		snapshots:   make(map[string][]models.AnalyticsSnapshot),
		retention:   retention,
	}
}

func (m *MemoryStore) CreateSite(_ context.Context, site models.Site) (models.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sites[site.ID]; ok {
		return models.Site{}, status.ErrSiteExists
	}
	site.Version = 1
	m.sites[site.ID] = site
	return site, nil
}

func (m *MemoryStore) GetSite(_ context.Context, id string) (models.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	site, ok := m.sites[id]
	if !ok {
		return models.Site{}, status.ErrSiteNotFound
	}
	return site, nil
}

func (m *MemoryStore) ListSites(_ context.Context) ([]models.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sites := make([]models.Site, 0, len(m.sites))
	for _, s := range m.sites {
		sites = append(sites, s)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })
	return sites, nil
}

func (m *MemoryStore) UpdateSite(_ context.Context, site models.Site) (models.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sites[site.ID]
	if !ok {
		return models.Site{}, status.ErrSiteNotFound
	}
	if current.Version != site.Version {
		return models.Site{}, status.ErrVersionConflict
	}
	site.Version++
	site.CreatedAt = current.CreatedAt
	m.sites[site.ID] = site
	return site, nil
}

func (m *MemoryStore) CreateEntry(_ context.Context, entry models.QueueEntry) (models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.Token]; ok {
		return models.QueueEntry{}, status.ErrDuplicateToken
	}
	m.seq++
	entry.Seq = m.seq
	m.entries[entry.Token] = entry
	m.bySite[entry.SiteID] = append(m.bySite[entry.SiteID], entry.Token)
	return entry, nil
}

func (m *MemoryStore) GetEntryByToken(_ context.Context, token string) (models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[token]
	if !ok {
		return models.QueueEntry{}, status.ErrEntryNotFound
	}
	return entry, nil
}

func (m *MemoryStore) UpdateEntry(_ context.Context, entry models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.entries[entry.Token]
	if !ok || current.ID != entry.ID {
		return status.ErrEntryNotFound
	}
	entry.Seq = current.Seq
	entry.SiteID = current.SiteID
	m.entries[entry.Token] = entry
	return nil
}

func (m *MemoryStore) ListEntries(_ context.Context, siteID string, statuses ...models.QueueStatus) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := statusSet(statuses)
	var entries []models.QueueEntry
	for _, token := range m.bySite[siteID] {
		entry := m.entries[token]
		if matchStatus(set, entry.Status) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m *MemoryStore) CreateEmergency(_ context.Context, record models.EmergencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emergencies[record.ID] = record
	return nil
}

func (m *MemoryStore) GetEmergency(_ context.Context, id string) (models.EmergencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.emergencies[id]
	if !ok {
		return models.EmergencyRecord{}, status.ErrEmergencyNotFound
	}
	return record, nil
}

func (m *MemoryStore) UpdateEmergency(_ context.Context, record models.EmergencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.emergencies[record.ID]; !ok {
		return status.ErrEmergencyNotFound
	}
	m.emergencies[record.ID] = record
	return nil
}

func (m *MemoryStore) ListEmergencies(_ context.Context, filter models.EmergencyFilter) ([]models.EmergencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []models.EmergencyRecord
	for _, r := range m.emergencies {
		if filter.Match(r) {
			records = append(records, r)
		}
	}
	sortNewestFirst(records)
	return records, nil
}

func (m *MemoryStore) AppendSnapshot(_ context.Context, snapshot models.AnalyticsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.snapshots[snapshot.SiteID], snapshot)
	if m.retention > 0 && len(list) > m.retention {
		list = list[len(list)-m.retention:]
	}
	m.snapshots[snapshot.SiteID] = list
	return nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context, siteID string, limit int) ([]models.AnalyticsSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.snapshots[siteID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]models.AnalyticsSnapshot, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func sortNewestFirst(records []models.EmergencyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
