package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temple-safety/internal/broadcast"
	"temple-safety/internal/status"
	"temple-safety/internal/store"
	"temple-safety/models"
	"temple-safety/utils"
)

func TestBaseMultiplier_Bands(t *testing.T) {
	cases := map[int]float64{
		0: 0.70, 3: 0.70, 4: 1.10, 10: 1.10, 11: 0.95, 14: 0.95,
		15: 0.85, 17: 0.85, 18: 1.25, 22: 1.25, 23: 0.70,
	}
	for hour, want := range cases {
		assert.Equal(t, want, BaseMultiplier(hour), "hour %d", hour)
	}
	for hour := 0; hour < 24; hour++ {
		m := BaseMultiplier(hour)
		assert.True(t, m >= 0.6 && m <= 1.3, "hour %d multiplier %v", hour, m)
	}
}

func TestOccupancyModel_BoundsAndRateLimit(t *testing.T) {
	f := newFixture(t)
	model := NewOccupancyModel(f.cfg.Simulator)
	rnd := utils.NewRandom(2025)

	for _, capacity := range []int{1, 7, 299, 2500, 5000, 12345} {
		lo, hi := model.Bounds(capacity)
		step := model.MaxStep(capacity)
		current := lo + rnd.IntN(hi-lo+1)

		for i := 0; i < 500; i++ {
			variation := rnd.Between(f.cfg.Simulator.VariationMin, f.cfg.Simulator.VariationMax)
			if i%50 == 0 {
				variation = f.cfg.Simulator.VariationMax
			}
			next := model.Next(current, capacity, rnd.IntN(5000), rnd.IntN(24), variation)

			require.GreaterOrEqual(t, float64(next), 0.6*float64(capacity), "capacity %d", capacity)
			require.LessOrEqual(t, float64(next), 1.5*float64(capacity), "capacity %d", capacity)
			require.LessOrEqual(t, int(math.Abs(float64(next-current))), step, "capacity %d", capacity)
			current = next
		}
	}
}

func TestOccupancyModel_QueuePressureIsCapped(t *testing.T) {
	f := newFixture(t)
	model := NewOccupancyModel(f.cfg.Simulator)

	// 0.85 at 15:00 keeps the target well inside the band.
	base := model.Target(5000, 0, 15, 1.0)
	assert.InDelta(t, 5525, base, 1)
	assert.Equal(t, base+20, model.Target(5000, 10, 15, 1.0))
	assert.Equal(t, base+500, model.Target(5000, 10000, 15, 1.0))
}

func TestOccupancyModel_OutOfBandSiteReturnsGradually(t *testing.T) {
	f := newFixture(t)
	model := NewOccupancyModel(f.cfg.Simulator)

	assert.Equal(t, 400, model.Next(0, 5000, 0, 18, 1.15))
	assert.Equal(t, 9600, model.Next(10000, 5000, 0, 2, 0.85))
}

func newTestSimulator(f *fixture, seed uint64) *OccupancySimulator {
	sim := NewOccupancySimulator(f.store, f.bus, f.cfg.Simulator, utils.NewRandom(seed), nil)
	sim.now = func() time.Time { return testEpoch }
	sim.location = time.UTC
	return sim
}

func TestSimulator_TickUpdatesSnapshotsAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1250)
	f.addSite(t, "pavagadh", 2500, 600)
	_, err := f.sites.UpdateStatus(f.ctx, "pavagadh", SiteStatusUpdate{Status: models.SiteMaintenance})
	require.NoError(t, err)
	f.book(t, "somnath", "1")

	sub := f.bus.SubscribeAll()
	sim := newTestSimulator(f, 9)

	report := sim.Tick(f.ctx)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	// 06:00 UTC is in the morning band; 1250 is far below, so the step is capped.
	site, err := f.sites.Get(f.ctx, "somnath")
	require.NoError(t, err)
	assert.Equal(t, 1250+400, site.CurrentOccupancy)

	parked, err := f.sites.Get(f.ctx, "pavagadh")
	require.NoError(t, err)
	assert.Equal(t, 600, parked.CurrentOccupancy)

	snaps, err := f.store.ListSnapshots(f.ctx, "somnath", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1650, snaps[0].CrowdCount)
	assert.Equal(t, models.AlertLow, snaps[0].AlertLevel)

	envs := drain(sub)
	site1 := named(envs, models.EventOccupancyUpdate)
	global := named(envs, models.EventGlobalOccupancyUpdate)
	require.Len(t, site1, 1)
	require.Len(t, global, 1)
	assert.Equal(t, broadcast.SiteTopic("somnath"), site1[0].Topic)
	assert.Equal(t, broadcast.GlobalTopic, global[0].Topic)

	payload := site1[0].Event.Payload.(models.OccupancyPayload)
	assert.Equal(t, 1650, payload.Occupancy)
	assert.Equal(t, 1, payload.QueueCount)
	assert.Equal(t, 33.0, payload.DensityPct)
}

func TestSimulator_RepeatedTicksStayWithinBounds(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1250)
	f.addSite(t, "dwarka", 3000, 4400)
	sim := newTestSimulator(f, 77)

	prev := map[string]int{"somnath": 1250, "dwarka": 4400}
	for i := 0; i < 200; i++ {
		hour := i % 24
		sim.now = func() time.Time { return time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC) }
		sim.Tick(f.ctx)

		sites, err := f.sites.List(f.ctx)
		require.NoError(t, err)
		for _, site := range sites {
			step := int(math.Floor(0.08 * float64(site.Capacity)))
			diff := site.CurrentOccupancy - prev[site.ID]
			require.LessOrEqual(t, int(math.Abs(float64(diff))), step)
			if i >= 10 {
				require.GreaterOrEqual(t, float64(site.CurrentOccupancy), 0.6*float64(site.Capacity))
				require.LessOrEqual(t, float64(site.CurrentOccupancy), 1.5*float64(site.Capacity))
			}
			prev[site.ID] = site.CurrentOccupancy
		}
	}
}

type flakySiteStore struct {
	store.Store
	failSite string
	failures int
}

func (s *flakySiteStore) UpdateSite(ctx context.Context, site models.Site) (models.Site, error) {
	if site.ID == s.failSite {
		s.failures++
		return models.Site{}, errors.New("disk full")
	}
	return s.Store.UpdateSite(ctx, site)
}

func TestSimulator_FailingSiteDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "ambaji", 4000, 1000)
	f.addSite(t, "somnath", 5000, 1250)

	flaky := &flakySiteStore{Store: f.store, failSite: "ambaji"}
	sim := NewOccupancySimulator(flaky, f.bus, f.cfg.Simulator, utils.NewRandom(5), nil)
	sim.now = func() time.Time { return testEpoch }
	sim.location = time.UTC

	report := sim.Tick(f.ctx)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, flaky.failures)

	site, err := f.sites.Get(f.ctx, "somnath")
	require.NoError(t, err)
	assert.NotEqual(t, 1250, site.CurrentOccupancy)
}

type conflictOnceStore struct {
	store.Store
	conflicts int
}

func (s *conflictOnceStore) UpdateSite(ctx context.Context, site models.Site) (models.Site, error) {
	if s.conflicts == 0 {
		s.conflicts++
		// Someone else wins the race first.
		current, err := s.Store.GetSite(ctx, site.ID)
		if err != nil {
			return models.Site{}, err
		}
		current.Status = models.SiteEmergency
		if _, err := s.Store.UpdateSite(ctx, current); err != nil {
			return models.Site{}, err
		}
		return models.Site{}, status.ErrVersionConflict
	}
	return s.Store.UpdateSite(ctx, site)
}

func TestSimulator_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1250)

	cas := &conflictOnceStore{Store: f.store}
	sim := NewOccupancySimulator(cas, f.bus, f.cfg.Simulator, utils.NewRandom(5), nil)
	sim.now = func() time.Time { return testEpoch }
	sim.location = time.UTC

	report := sim.Tick(f.ctx)
	assert.Equal(t, 1, report.Updated)

	site, err := f.sites.Get(f.ctx, "somnath")
	require.NoError(t, err)
	assert.Equal(t, models.SiteEmergency, site.Status, "concurrent status change survives")
	assert.Equal(t, 1650, site.CurrentOccupancy)
}

func TestSimulator_RunStops(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1250)
	cfg := f.cfg.Simulator
	cfg.StartDelay = 0
	cfg.TickInterval = 5 * time.Millisecond
	sim := NewOccupancySimulator(f.store, f.bus, cfg, utils.NewRandom(1), nil)

	done := make(chan struct{})
	go func() {
		sim.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		snaps, err := f.store.ListSnapshots(f.ctx, "somnath", 10)
		return err == nil && len(snaps) > 0
	}, time.Second, 5*time.Millisecond)

	sim.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop")
	}
	sim.Stop()
}
