package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"temple-safety/config"
	"temple-safety/internal/broadcast"
	"temple-safety/internal/store"
	"temple-safety/models"
	"temple-safety/utils"
)

var testEpoch = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

type fixture struct {
	ctx         context.Context
	cfg         *config.Config
	store       store.Store
	bus         *broadcast.Bus
	sites       *SiteService
	queue       *QueueService
	emergencies *EmergencyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	st := store.NewMemoryStore(cfg.SnapshotRetention)
	bus := broadcast.NewBus(256, nil)
	t.Cleanup(bus.Close)

	clock := func() time.Time { return testEpoch }

	sites := NewSiteService(st, bus, nil)
	sites.now = clock
	queue := NewQueueService(st, bus, cfg.Queue, nil)
	queue.now = clock
	queue.tokens = utils.NewTokenGenerator(clock)
	emergencies := NewEmergencyService(st, bus, sites, cfg.EscalateCriticalEmergencies, nil)
	emergencies.now = clock

	return &fixture{
		ctx:         context.Background(),
		cfg:         cfg,
		store:       st,
		bus:         bus,
		sites:       sites,
		queue:       queue,
		emergencies: emergencies,
	}
}

func (f *fixture) addSite(t *testing.T, id string, capacity, occupancy int) models.Site {
	t.Helper()
	site, err := f.store.CreateSite(f.ctx, models.Site{
		ID:               id,
		Name:             "Site " + id,
		Location:         "Gujarat",
		Capacity:         capacity,
		CurrentOccupancy: occupancy,
		Status:           models.SiteNormal,
		CreatedAt:        testEpoch,
		UpdatedAt:        testEpoch,
	})
	require.NoError(t, err)
	return site
}

func (f *fixture) book(t *testing.T, siteID, phone string) Booking {
	t.Helper()
	b, err := f.queue.Book(f.ctx, BookingRequest{SiteID: siteID, VisitorName: "Visitor " + phone, VisitorPhone: phone})
	require.NoError(t, err)
	return b
}

// drain returns everything buffered on sub without blocking.
func drain(sub *broadcast.Subscription) []broadcast.Envelope {
	var out []broadcast.Envelope
	for {
		select {
		case env := <-sub.Events():
			out = append(out, env)
		default:
			return out
		}
	}
}

func named(envs []broadcast.Envelope, name models.EventName) []broadcast.Envelope {
	var out []broadcast.Envelope
	for _, env := range envs {
		if env.Event.Name == name {
			out = append(out, env)
		}
	}
	return out
}
