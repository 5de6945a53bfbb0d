package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"temple-safety/models"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_length_total",
			Help: "Current queue length per site and status",
		},
		[]string{"site_id", "status"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "site_id", "status"},
	)

	siteOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "site_occupancy",
			Help: "Current simulated occupancy per site",
		},
		[]string{"site_id"},
	)

	siteDensity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "site_density_percent",
			Help: "Current occupancy as a percentage of capacity",
		},
		[]string{"site_id"},
	)

	simulatorTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulator_site_updates_total",
			Help: "Per-site simulator outcomes",
		},
		[]string{"result"},
	)

	simulatorTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of a full simulator pass over all sites",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	emergencies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergencies_total",
			Help: "Emergency records created",
		},
		[]string{"source", "type", "severity"},
	)

	broadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_total",
			Help: "Events published on the broadcast bus",
		},
		[]string{"event", "topic"},
	)

	broadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"event"},
	)

	websocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected websocket subscribers",
		},
	)

	relayPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_publishes_total",
			Help: "Events forwarded to the external realtime relay",
		},
		[]string{"result"},
	)
)

// QueueSource is the read side of the state store the collector needs.
type QueueSource interface {
	ListSites(ctx context.Context) ([]models.Site, error)
	ListEntries(ctx context.Context, siteID string, statuses ...models.QueueStatus) ([]models.QueueEntry, error)
}

// Monitor records domain metrics. A nil *Monitor is valid and records nothing,
// which keeps services usable without metrics in tests.
type Monitor struct {
	source   QueueSource
	interval time.Duration
}

func NewMonitor(source QueueSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{source: source, interval: interval}
}

// Run collects store-derived gauges until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil || m.source == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CollectQueueMetrics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CollectQueueMetrics(ctx)
		}
	}
}

func (m *Monitor) CollectQueueMetrics(ctx context.Context) {
	if m == nil || m.source == nil {
		return
	}
	sites, err := m.source.ListSites(ctx)
	if err != nil {
		slog.Warn("collect queue metrics", "error", err)
		return
	}
	for _, site := range sites {
		entries, err := m.source.ListEntries(ctx, site.ID, models.ActiveQueueStatuses...)
		if err != nil {
			slog.Warn("collect queue metrics", "site_id", site.ID, "error", err)
			continue
		}
		counts := map[models.QueueStatus]int{models.QueueWaiting: 0, models.QueueCalled: 0}
		for _, e := range entries {
			counts[e.Status]++
		}
		for st, n := range counts {
			queueLength.WithLabelValues(site.ID, string(st)).Set(float64(n))
		}
		m.TrackOccupancy(site)
	}
}

// Track queue operations
func (m *Monitor) TrackQueueOperation(operation, siteID string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	queueOperations.WithLabelValues(operation, siteID, result).Inc()
}

func (m *Monitor) TrackOccupancy(site models.Site) {
	if m == nil {
		return
	}
	siteOccupancy.WithLabelValues(site.ID).Set(float64(site.CurrentOccupancy))
	siteDensity.WithLabelValues(site.ID).Set(site.Density().Percent())
}

func (m *Monitor) TrackSimulatorTick(duration time.Duration, updated, unchanged, failed int) {
	if m == nil {
		return
	}
	simulatorTickDuration.Observe(duration.Seconds())
	simulatorTicks.WithLabelValues("updated").Add(float64(updated))
	simulatorTicks.WithLabelValues("unchanged").Add(float64(unchanged))
	simulatorTicks.WithLabelValues("failed").Add(float64(failed))
}

func (m *Monitor) TrackEmergency(record models.EmergencyRecord) {
	if m == nil {
		return
	}
	emergencies.WithLabelValues(string(record.Source), string(record.Type), string(record.Severity)).Inc()
}

func (m *Monitor) TrackBroadcast(event models.EventName, topicKind string) {
	if m == nil {
		return
	}
	broadcastEvents.WithLabelValues(string(event), topicKind).Inc()
}

func (m *Monitor) TrackBroadcastDrop(event models.EventName) {
	if m == nil {
		return
	}
	broadcastDropped.WithLabelValues(string(event)).Inc()
}

func (m *Monitor) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	websocketClients.Set(float64(n))
}

func (m *Monitor) TrackRelayPublish(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	relayPublishes.WithLabelValues(result).Inc()
}
