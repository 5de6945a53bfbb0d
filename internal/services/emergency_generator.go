package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"temple-safety/config"
	"temple-safety/internal/status"
	"temple-safety/internal/store"
	"temple-safety/models"
	"temple-safety/utils"
)

// generateTimeout bounds one scheduled generation.
const generateTimeout = 30 * time.Second

type GeneratorStatus struct {
	Running         bool       `json:"running"`
	Scheduled       bool       `json:"scheduled"`
	NextRunAt       *time.Time `json:"nextRunAt,omitempty"`
	Generated       uint64     `json:"generated"`
	LastGeneratedAt *time.Time `json:"lastGeneratedAt,omitempty"`
}

// EmergencyGenerator synthesizes emergencies at random intervals while it
// is running. Each scheduled run reschedules itself, even after a failure.
type EmergencyGenerator struct {
	emergencies *EmergencyService
	store       store.Store
	scheduler   utils.Scheduler
	rnd         *utils.Random
	minDelay    time.Duration
	maxDelay    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	idle     *sync.Cond
	running  bool
	epoch    uint64
	task     utils.Task
	nextRun  time.Time
	inFlight int

	generated atomic.Uint64
	lastAt    atomic.Pointer[time.Time]
}

func NewEmergencyGenerator(emergencies *EmergencyService, st store.Store, scheduler utils.Scheduler, rnd *utils.Random, cfg config.GeneratorConfig) *EmergencyGenerator {
	if scheduler == nil {
		scheduler = utils.TimerScheduler{}
	}
	if rnd == nil {
		rnd = utils.NewTimeSeededRandom()
	}
	g := &EmergencyGenerator{
		emergencies: emergencies,
		store:       st,
		scheduler:   scheduler,
		rnd:         rnd,
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		now:         utcNow,
	}
	g.idle = sync.NewCond(&g.mu)
	return g
}

// Start schedules the first generation. It reports false when the
// generator was already running.
func (g *EmergencyGenerator) Start() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return false
	}
	g.running = true
	g.epoch++
	g.scheduleLocked()
	slog.Info("Emergency generator started", "next_run", g.nextRun)
	return true
}

// Stop cancels the pending generation and waits for one that is already
// running. It reports false when the generator was already stopped.
func (g *EmergencyGenerator) Stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return false
	}
	g.running = false
	g.epoch++
	if g.task != nil {
		g.task.Cancel()
		g.task = nil
	}
	g.nextRun = time.Time{}
	for g.inFlight > 0 {
		g.idle.Wait()
	}
	slog.Info("Emergency generator stopped")
	return true
}

func (g *EmergencyGenerator) scheduleLocked() {
	delay := g.rnd.DurationBetween(g.minDelay, g.maxDelay)
	epoch := g.epoch
	g.nextRun = g.now().Add(delay)
	g.task = g.scheduler.AfterFunc(delay, func() { g.fire(epoch) })
}

func (g *EmergencyGenerator) fire(epoch uint64) {
	g.mu.Lock()
	if !g.running || g.epoch != epoch {
		g.mu.Unlock()
		return
	}
	g.task = nil
	g.nextRun = time.Time{}
	g.inFlight++
	g.mu.Unlock()

	if err := g.generateScheduled(); err != nil {
		slog.Error("Failed to generate emergency", "error", err)
	}

	g.mu.Lock()
	g.inFlight--
	if g.running && g.epoch == epoch {
		g.scheduleLocked()
	}
	g.idle.Broadcast()
	g.mu.Unlock()
}

// generateScheduled runs one timed generation. A panic is turned into an
// error so the caller can still reschedule.
func (g *EmergencyGenerator) generateScheduled() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	defer cancel()

	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("generator panic: %v", e)
		}
	}()

	_, err = g.Generate(ctx)
	return err
}

// TriggerNow generates one emergency immediately. The schedule is left as is.
func (g *EmergencyGenerator) TriggerNow(ctx context.Context) (models.EmergencyRecord, error) {
	return g.Generate(ctx)
}

// Generate records one emergency for a random site, scenario and reporter.
func (g *EmergencyGenerator) Generate(ctx context.Context) (models.EmergencyRecord, error) {
	sites, err := g.store.ListSites(ctx)
	if err != nil {
		return models.EmergencyRecord{}, err
	}
	if len(sites) == 0 {
		return models.EmergencyRecord{}, status.ErrNoSites
	}

	site := sites[g.rnd.IntN(len(sites))]
	scenario := scenarios[g.rnd.IntN(len(scenarios))]
	reporter := reporters[g.rnd.IntN(len(reporters))]

	rec, err := g.emergencies.record(ctx, ReportRequest{
		SiteID:      site.ID,
		Type:        scenario.Type,
		Severity:    scenario.Severity,
		Description: scenario.Descriptions[g.rnd.IntN(len(scenario.Descriptions))],
		Reporter:    reporter,
	}, models.SourceGenerator)
	if err != nil {
		return models.EmergencyRecord{}, err
	}

	g.generated.Add(1)
	at := rec.CreatedAt
	g.lastAt.Store(&at)
	return rec, nil
}

func (g *EmergencyGenerator) Status() GeneratorStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := GeneratorStatus{
		Running:         g.running,
		Scheduled:       g.task != nil,
		Generated:       g.generated.Load(),
		LastGeneratedAt: g.lastAt.Load(),
	}
	if !g.nextRun.IsZero() {
		next := g.nextRun
		st.NextRunAt = &next
	}
	return st
}
