package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temple-safety/internal/status"
	"temple-safety/models"
)

const contractRetention = 3

var contractEpoch = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore(contractRetention)
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state.db"), contractRetention)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// Runs against a real server only when REDIS_TEST_URL is set; the database
// is flushed before every subtest.
func TestRedisStore_Contract(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		client := redis.NewClient(opts)
		require.NoError(t, client.FlushDB(context.Background()).Err())
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisStore(client, contractRetention)
	})
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("sites", func(t *testing.T) { testSites(t, newStore(t)) })
	t.Run("site compare and swap", func(t *testing.T) { testSiteCAS(t, newStore(t)) })
	t.Run("queue entries", func(t *testing.T) { testEntries(t, newStore(t)) })
	t.Run("emergencies", func(t *testing.T) { testEmergencies(t, newStore(t)) })
	t.Run("snapshots", func(t *testing.T) { testSnapshots(t, newStore(t)) })
}

func contractSite(id string, capacity int) models.Site {
	return models.Site{
		ID:               id,
		Name:             "Site " + id,
		Location:         "Gujarat",
		Capacity:         capacity,
		CurrentOccupancy: capacity / 2,
		Status:           models.SiteNormal,
		CreatedAt:        contractEpoch,
		UpdatedAt:        contractEpoch,
	}
}

func testSites(t *testing.T, s Store) {
	ctx := context.Background()

	created, err := s.CreateSite(ctx, contractSite("site-b", 3000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = s.CreateSite(ctx, contractSite("site-a", 5000))
	require.NoError(t, err)

	_, err = s.CreateSite(ctx, contractSite("site-a", 10))
	assert.ErrorIs(t, err, status.ErrSiteExists)

	got, err := s.GetSite(ctx, "site-b")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.GetSite(ctx, "missing")
	assert.ErrorIs(t, err, status.ErrSiteNotFound)

	sites, err := s.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "site-a", sites[0].ID)
	assert.Equal(t, "site-b", sites[1].ID)
}

func testSiteCAS(t *testing.T, s Store) {
	ctx := context.Background()

	site, err := s.CreateSite(ctx, contractSite("site-1", 5000))
	require.NoError(t, err)

	first := site
	first.CurrentOccupancy = 3100
	first.UpdatedAt = contractEpoch.Add(time.Minute)
	updated, err := s.UpdateSite(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, 3100, updated.CurrentOccupancy)

	stale := site
	stale.Status = models.SiteEmergency
	_, err = s.UpdateSite(ctx, stale)
	assert.ErrorIs(t, err, status.ErrVersionConflict)

	got, err := s.GetSite(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.SiteNormal, got.Status)
	assert.Equal(t, 3100, got.CurrentOccupancy)
	assert.Equal(t, contractEpoch, got.CreatedAt)

	missing := contractSite("ghost", 10)
	missing.Version = 1
	_, err = s.UpdateSite(ctx, missing)
	assert.ErrorIs(t, err, status.ErrSiteNotFound)
}

func contractEntry(siteID string, n int) models.QueueEntry {
	return models.QueueEntry{
		ID:           fmt.Sprintf("entry-%s-%d", siteID, n),
		SiteID:       siteID,
		Token:        fmt.Sprintf("T%s%03d", siteID[len(siteID)-1:], n),
		VisitorName:  fmt.Sprintf("Visitor %d", n),
		VisitorPhone: fmt.Sprintf("+91-90000000%02d", n),
		GroupSize:    1,
		Priority:     models.PriorityNormal,
		Status:       models.QueueWaiting,
		CreatedAt:    contractEpoch.Add(time.Duration(n) * time.Second),
		UpdatedAt:    contractEpoch.Add(time.Duration(n) * time.Second),
	}
}

func testEntries(t *testing.T, s Store) {
	ctx := context.Background()

	var seqs []int64
	for i := 1; i <= 3; i++ {
		e, err := s.CreateEntry(ctx, contractEntry("site-1", i))
		require.NoError(t, err)
		seqs = append(seqs, e.Seq)
	}
	_, err := s.CreateEntry(ctx, contractEntry("site-2", 9))
	require.NoError(t, err)
	assert.Less(t, seqs[0], seqs[1])
	assert.Less(t, seqs[1], seqs[2])

	dup := contractEntry("site-1", 1)
	dup.ID = "another-id"
	_, err = s.CreateEntry(ctx, dup)
	assert.ErrorIs(t, err, status.ErrDuplicateToken)

	second, err := s.GetEntryByToken(ctx, contractEntry("site-1", 2).Token)
	require.NoError(t, err)
	assert.Equal(t, "Visitor 2", second.VisitorName)
	assert.Equal(t, seqs[1], second.Seq)

	second.Status = models.QueueCalled
	second.UpdatedAt = contractEpoch.Add(time.Hour)
	require.NoError(t, s.UpdateEntry(ctx, second))

	waiting, err := s.ListEntries(ctx, "site-1", models.QueueWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "Visitor 1", waiting[0].VisitorName)
	assert.Equal(t, "Visitor 3", waiting[1].VisitorName)

	active, err := s.ListEntries(ctx, "site-1", models.ActiveQueueStatuses...)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, models.QueueCalled, active[1].Status)

	all, err := s.ListEntries(ctx, "site-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.ListEntries(ctx, "site-empty")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetEntryByToken(ctx, "T-nope")
	assert.ErrorIs(t, err, status.ErrEntryNotFound)

	ghost := contractEntry("site-1", 99)
	assert.ErrorIs(t, s.UpdateEntry(ctx, ghost), status.ErrEntryNotFound)
}

func testEmergencies(t *testing.T, s Store) {
	ctx := context.Background()

	records := []models.EmergencyRecord{
		{ID: "em-1", SiteID: "site-1", Type: models.EmergencyMedical, Severity: models.SeverityHigh, Status: models.EmergencyReported, Source: models.SourceGenerator, Reporter: models.Reporter{Name: "Security Guard Ramesh", Phone: "+91-9876543210"}, CreatedAt: contractEpoch, UpdatedAt: contractEpoch},
		{ID: "em-2", SiteID: "site-2", Type: models.EmergencyFire, Severity: models.SeverityCritical, Status: models.EmergencyResolved, Source: models.SourceReport, CreatedAt: contractEpoch.Add(time.Minute), UpdatedAt: contractEpoch.Add(time.Minute)},
		{ID: "em-3", SiteID: "site-1", Type: models.EmergencyCrowd, Severity: models.SeverityHigh, Status: models.EmergencyAcknowledged, Source: models.SourceReport, CreatedAt: contractEpoch.Add(2 * time.Minute), UpdatedAt: contractEpoch.Add(2 * time.Minute)},
	}
	for _, r := range records {
		require.NoError(t, s.CreateEmergency(ctx, r))
	}

	got, err := s.GetEmergency(ctx, "em-1")
	require.NoError(t, err)
	assert.Equal(t, records[0], got)

	_, err = s.GetEmergency(ctx, "em-404")
	assert.ErrorIs(t, err, status.ErrEmergencyNotFound)

	all, err := s.ListEmergencies(ctx, models.EmergencyFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"em-3", "em-2", "em-1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	active, err := s.ListEmergencies(ctx, models.EmergencyFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	bySite, err := s.ListEmergencies(ctx, models.EmergencyFilter{SiteID: "site-1", Severity: models.SeverityHigh})
	require.NoError(t, err)
	assert.Len(t, bySite, 2)

	recent, err := s.ListEmergencies(ctx, models.EmergencyFilter{Since: contractEpoch.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "em-3", recent[0].ID)

	update := records[0]
	update.Status = models.EmergencyInProgress
	update.UpdatedAt = contractEpoch.Add(time.Hour)
	require.NoError(t, s.UpdateEmergency(ctx, update))

	got, err = s.GetEmergency(ctx, "em-1")
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyInProgress, got.Status)

	assert.ErrorIs(t, s.UpdateEmergency(ctx, models.EmergencyRecord{ID: "em-404"}), status.ErrEmergencyNotFound)
}

func testSnapshots(t *testing.T, s Store) {
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		site := contractSite("site-1", 1000)
		site.CurrentOccupancy = 800 + i*100
		require.NoError(t, s.AppendSnapshot(ctx, models.NewSnapshot(site, contractEpoch.Add(time.Duration(i)*10*time.Second))))
	}

	snaps, err := s.ListSnapshots(ctx, "site-1", 0)
	require.NoError(t, err)
	require.Len(t, snaps, contractRetention)
	assert.Equal(t, 1300, snaps[0].CrowdCount)
	assert.Equal(t, 1100, snaps[2].CrowdCount)
	assert.True(t, snaps[0].Density.Equal(decimal.NewFromInt(130)))
	assert.Equal(t, models.AlertCritical, snaps[0].AlertLevel)
	assert.Equal(t, contractEpoch.Add(50*time.Second), snaps[0].Timestamp)

	limited, err := s.ListSnapshots(ctx, "site-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	empty, err := s.ListSnapshots(ctx, "site-9", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
