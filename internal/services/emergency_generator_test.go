package services

import (
	"context"
	"errors"
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

func newTestGenerator(t *testing.T, f *fixture) (*EmergencyGenerator, *utils.ManualScheduler) {
	t.Helper()
	sched := utils.NewManualScheduler(testEpoch)
	g := NewEmergencyGenerator(f.emergencies, f.store, sched, utils.NewRandom(42), f.cfg.Generator)
	g.now = sched.Now
	f.emergencies.now = sched.Now
	return g, sched
}

func countEmergencies(t *testing.T, f *fixture) int {
	t.Helper()
	records, err := f.store.ListEmergencies(f.ctx, models.EmergencyFilter{})
	require.NoError(t, err)
	return len(records)
}

func TestGenerator_StartSchedulesWithinWindow(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1000)
	g, sched := newTestGenerator(t, f)

	assert.False(t, g.Status().Running)
	require.True(t, g.Start())
	assert.False(t, g.Start(), "second start is a no-op")
	assert.Equal(t, 1, sched.Pending())

	st := g.Status()
	assert.True(t, st.Running)
	assert.True(t, st.Scheduled)
	require.NotNil(t, st.NextRunAt)
	delay := st.NextRunAt.Sub(testEpoch)
	assert.GreaterOrEqual(t, delay, f.cfg.Generator.MinDelay)
	assert.LessOrEqual(t, delay, f.cfg.Generator.MaxDelay)

	assert.Equal(t, 0, sched.Advance(f.cfg.Generator.MinDelay-time.Second))
	assert.Equal(t, 0, countEmergencies(t, f))

	sched.Advance(f.cfg.Generator.MaxDelay)
	assert.GreaterOrEqual(t, countEmergencies(t, f), 1)
	assert.Equal(t, 1, sched.Pending(), "generation reschedules itself")
	assert.True(t, g.Status().Scheduled)
}

func TestGenerator_StopPreventsFurtherRecordsAndStartResumes(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1000)
	g, sched := newTestGenerator(t, f)

	require.True(t, g.Start())
	sched.Advance(f.cfg.Generator.MaxDelay)
	before := countEmergencies(t, f)
	require.GreaterOrEqual(t, before, 1)

	require.True(t, g.Stop())
	assert.False(t, g.Stop(), "stop is idempotent")
	assert.Equal(t, 0, sched.Pending())

	st := g.Status()
	assert.False(t, st.Running)
	assert.False(t, st.Scheduled)
	assert.Nil(t, st.NextRunAt)

	sched.Advance(10 * f.cfg.Generator.MaxDelay)
	assert.Equal(t, before, countEmergencies(t, f))

	require.True(t, g.Start())
	sched.Advance(f.cfg.Generator.MaxDelay)
	assert.Greater(t, countEmergencies(t, f), before)
}

func TestGenerator_StaleCallbackAfterRestartIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1000)

	// A scheduler whose Cancel never succeeds, like a timer that already fired.
	sched := &stickyScheduler{ManualScheduler: utils.NewManualScheduler(testEpoch)}
	g := NewEmergencyGenerator(f.emergencies, f.store, sched, utils.NewRandom(1), f.cfg.Generator)
	g.now = sched.Now

	require.True(t, g.Start())
	require.True(t, g.Stop())
	sched.Advance(f.cfg.Generator.MaxDelay)
	assert.Equal(t, 0, countEmergencies(t, f))
	assert.Equal(t, 0, sched.Pending())
}

type stickyScheduler struct {
	*utils.ManualScheduler
}

func (s *stickyScheduler) AfterFunc(d time.Duration, f func()) utils.Task {
	s.ManualScheduler.AfterFunc(d, f)
	return noCancel{}
}

type noCancel struct{}

func (noCancel) Cancel() bool { return false }

func TestGenerator_ReschedulesAfterFailure(t *testing.T) {
	f := newFixture(t)
	failing := &failingListStore{Store: f.store, err: errors.New("store offline")}
	sched := utils.NewManualScheduler(testEpoch)
	g := NewEmergencyGenerator(f.emergencies, failing, sched, utils.NewRandom(3), f.cfg.Generator)
	g.now = sched.Now

	require.True(t, g.Start())
	sched.Advance(f.cfg.Generator.MaxDelay)
	assert.Equal(t, 1, sched.Pending())
	assert.True(t, g.Status().Running)
	assert.Zero(t, g.Status().Generated)

	_, err := g.TriggerNow(context.Background())
	assert.Error(t, err)
}

type failingListStore struct {
	store.Store
	err error
}

func (s *failingListStore) ListSites(context.Context) ([]models.Site, error) {
	return nil, s.err
}

type panickingListStore struct {
	store.Store
}

func (panickingListStore) ListSites(context.Context) ([]models.Site, error) {
	panic("site index corrupted")
}

func TestGenerator_RecoversFromPanicAndReschedules(t *testing.T) {
	f := newFixture(t)
	sched := utils.NewManualScheduler(testEpoch)
	g := NewEmergencyGenerator(f.emergencies, panickingListStore{Store: f.store}, sched, utils.NewRandom(3), f.cfg.Generator)
	g.now = sched.Now

	require.True(t, g.Start())
	require.NotPanics(t, func() { sched.Advance(f.cfg.Generator.MaxDelay) })
	assert.Equal(t, 1, sched.Pending())
	assert.True(t, g.Status().Scheduled)
	assert.Zero(t, g.Status().Generated)

	assert.True(t, g.Stop())
	assert.Zero(t, sched.Pending())
}

func TestGenerator_NoSites(t *testing.T) {
	f := newFixture(t)
	g, _ := newTestGenerator(t, f)

	_, err := g.TriggerNow(f.ctx)
	assert.ErrorIs(t, err, status.ErrNoSites)
}

func TestGenerator_TriggerNowTwice(t *testing.T) {
	f := newFixture(t)
	f.addSite(t, "somnath", 5000, 1000)
	f.addSite(t, "ambaji", 4000, 1000)
	g, sched := newTestGenerator(t, f)
	sub := f.bus.SubscribeAll()

	first, err := g.TriggerNow(f.ctx)
	require.NoError(t, err)
	second, err := g.TriggerNow(f.ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, 2, countEmergencies(t, f))
	assert.Equal(t, 0, sched.Pending(), "trigger does not touch the schedule")
	assert.EqualValues(t, 2, g.Status().Generated)

	alerts := named(drain(sub), models.EventEmergencyAlert)
	require.Len(t, alerts, 4)
	for _, rec := range []models.EmergencyRecord{first, second} {
		var site, global int
		for _, env := range alerts {
			payload := env.Event.Payload.(models.EmergencyRecord)
			if payload.ID != rec.ID {
				continue
			}
			switch env.Topic {
			case broadcast.SiteTopic(rec.SiteID):
				site++
			case broadcast.GlobalTopic:
				global++
			}
		}
		assert.Equal(t, 1, site, "site publish for %s", rec.ID)
		assert.Equal(t, 1, global, "global publish for %s", rec.ID)
	}
}

func TestGenerator_RecordsComeFromCatalog(t *testing.T) {
	f := newFixture(t)
	f.emergencies.escalate = false
	f.addSite(t, "somnath", 5000, 1000)
	g, _ := newTestGenerator(t, f)

	byType := map[models.EmergencyType]Scenario{}
	for _, s := range Scenarios() {
		byType[s.Type] = s
	}
	roster := Reporters()
	require.Len(t, roster, 10)

	for i := 0; i < 50; i++ {
		rec, err := g.Generate(f.ctx)
		require.NoError(t, err)

		scenario, ok := byType[rec.Type]
		require.True(t, ok)
		assert.Equal(t, scenario.Severity, rec.Severity)
		assert.Contains(t, scenario.Descriptions, rec.Description)
		assert.Contains(t, roster, rec.Reporter)
		assert.Equal(t, models.SourceGenerator, rec.Source)
		assert.Equal(t, models.EmergencyReported, rec.Status)
		assert.Equal(t, "somnath", rec.SiteID)
	}
}
