package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"temple-safety/config"
	"temple-safety/internal/store"
	"temple-safety/models"
	"temple-safety/monitoring"
	"temple-safety/utils"
)

// BaseMultiplier is the crowd level expected at a given hour of the day.
func BaseMultiplier(hour int) float64 {
	switch {
	case hour >= 4 && hour < 11:
		return 1.10 // morning prayers
	case hour >= 11 && hour < 15:
		return 0.95
	case hour >= 15 && hour < 18:
		return 0.85
	case hour >= 18 && hour < 23:
		return 1.25 // evening aarti
	default:
		return 0.70
	}
}

// OccupancyModel computes the next occupancy of a site from its current
// value. It holds no state and draws no randomness itself.
type OccupancyModel struct {
	cfg config.SimulatorConfig
}

func NewOccupancyModel(cfg config.SimulatorConfig) OccupancyModel {
	return OccupancyModel{cfg: cfg}
}

// Bounds returns the band a target occupancy is clamped to.
func (m OccupancyModel) Bounds(capacity int) (lo, hi int) {
	c := float64(capacity)
	return int(math.Ceil(m.cfg.MinOccupancyFactor * c)), int(math.Floor(m.cfg.MaxOccupancyFactor * c))
}

// MaxStep is the largest change allowed in one tick.
func (m OccupancyModel) MaxStep(capacity int) int {
	return int(math.Floor(m.cfg.MaxStepFraction * float64(capacity)))
}

// Target is the clamped occupancy the site drifts towards.
func (m OccupancyModel) Target(capacity, queueCount, hour int, variation float64) int {
	c := float64(capacity)
	pressure := math.Min(float64(queueCount)*m.cfg.QueuePressurePerEntry, m.cfg.QueuePressureCap*c)
	raw := int(math.Floor(c*BaseMultiplier(hour)*variation*m.cfg.OvercrowdingFactor + pressure))

	lo, hi := m.Bounds(capacity)
	return max(lo, min(hi, raw))
}

// Next moves current towards the target by at most MaxStep. A site that
// starts outside the band re-enters it gradually.
func (m OccupancyModel) Next(current, capacity, queueCount, hour int, variation float64) int {
	target := m.Target(capacity, queueCount, hour, variation)
	step := m.MaxStep(capacity)
	switch {
	case target-current > step:
		return current + step
	case current-target > step:
		return current - step
	default:
		return target
	}
}

type TickReport struct {
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// OccupancySimulator periodically evolves the occupancy of every site that
// is not under maintenance.
type OccupancySimulator struct {
	store    store.Store
	bus      Dispatcher
	model    OccupancyModel
	cfg      config.SimulatorConfig
	rnd      *utils.Random
	monitor  *monitoring.Monitor
	now      func() time.Time
	location *time.Location

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOccupancySimulator(st store.Store, bus Dispatcher, cfg config.SimulatorConfig, rnd *utils.Random, monitor *monitoring.Monitor) *OccupancySimulator {
	if rnd == nil {
		rnd = utils.NewTimeSeededRandom()
	}
	return &OccupancySimulator{
		store:    st,
		bus:      bus,
		model:    NewOccupancyModel(cfg),
		cfg:      cfg,
		rnd:      rnd,
		monitor:  monitor,
		now:      time.Now,
		location: time.Local,
	}
}

// Run ticks until ctx is cancelled or Stop is called. Only one Run may be
// active at a time.
func (s *OccupancySimulator) Run(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		slog.Warn("Occupancy simulator already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel, s.done = nil, nil
		s.mu.Unlock()
		close(done)
	}()

	slog.Info("Occupancy simulator started", "interval", s.cfg.TickInterval, "start_delay", s.cfg.StartDelay)

	if s.cfg.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartDelay):
		}
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Occupancy simulator stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop cancels a running Run and waits for it to return.
func (s *OccupancySimulator) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs one pass over all sites. A failing site is logged and counted
// and never stops the others.
func (s *OccupancySimulator) Tick(ctx context.Context) TickReport {
	start := time.Now()
	var report TickReport

	sites, err := s.store.ListSites(ctx)
	if err != nil {
		slog.Error("Failed to list sites for simulation", "error", err)
		report.Failed++
		report.Duration = time.Since(start)
		s.monitor.TrackSimulatorTick(report.Duration, 0, 0, report.Failed)
		return report
	}

	for _, site := range sites {
		if ctx.Err() != nil {
			break
		}
		if site.Status == models.SiteMaintenance {
			report.Skipped++
			continue
		}

		changed, err := s.tickSite(ctx, site.ID)
		switch {
		case err != nil:
			report.Failed++
			slog.Error("Failed to update occupancy", "site_id", site.ID, "error", err)
		case changed:
			report.Updated++
		default:
			report.Unchanged++
		}
	}

	report.Duration = time.Since(start)
	s.monitor.TrackSimulatorTick(report.Duration, report.Updated, report.Unchanged, report.Failed)
	slog.Debug("Simulator tick complete",
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report
}

var errSkipped = errors.New("simulator: site under maintenance")

func (s *OccupancySimulator) tickSite(ctx context.Context, id string) (bool, error) {
	active, err := s.store.ListEntries(ctx, id, models.ActiveQueueStatuses...)
	if err != nil {
		return false, err
	}
	queueCount := len(active)

	at := s.now()
	hour := at.In(s.location).Hour()
	variation := s.rnd.Between(s.cfg.VariationMin, s.cfg.VariationMax)

	site, changed, err := updateSite(ctx, s.store, id, func(site *models.Site) (bool, error) {
		if site.Status == models.SiteMaintenance {
			return false, errSkipped
		}
		next := s.model.Next(site.CurrentOccupancy, site.Capacity, queueCount, hour, variation)
		if next == site.CurrentOccupancy {
			return false, nil
		}
		site.CurrentOccupancy = next
		site.UpdatedAt = at.UTC()
		return true, nil
	})
	if errors.Is(err, errSkipped) {
		return false, nil
	}
	if err != nil || !changed {
		return false, err
	}

	s.monitor.TrackOccupancy(site)
	snapErr := s.store.AppendSnapshot(ctx, models.NewSnapshot(site, at.UTC()))

	// The site row already changed, so observers hear about it either way.
	dispatch(s.bus, models.NewOccupancyEvent(site, queueCount, at.UTC()))

	slog.Debug("Occupancy updated",
		"site_id", site.ID,
		"occupancy", site.CurrentOccupancy,
		"capacity", site.Capacity,
		"queue", queueCount,
	)
	return true, snapErr
}
