package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"temple-safety/config"
	"temple-safety/internal/broadcast"
	"temple-safety/internal/handlers"
	"temple-safety/internal/services"
	"temple-safety/internal/store"
	"temple-safety/monitoring"
	"temple-safety/security"
	"temple-safety/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the state store
	st, err := store.Open(ctx, store.Options{
		Driver:            cfg.StoreDriver,
		RedisURL:          cfg.RedisURL,
		SQLitePath:        cfg.SQLitePath,
		SnapshotRetention: cfg.SnapshotRetention,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	log.Printf("State store ready (driver=%s)", cfg.StoreDriver)

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(st, cfg.MetricsInterval)
	}

	// Broadcast
	bus := broadcast.NewBus(cfg.SubscriberBuffer, monitor)
	defer bus.Close()
	hub := broadcast.NewHub(bus, monitor)

	// Initialize services
	siteService := services.NewSiteService(st, bus, monitor)
	queueService := services.NewQueueService(st, bus, cfg.Queue, monitor)
	emergencyService := services.NewEmergencyService(st, bus, siteService, cfg.EscalateCriticalEmergencies, monitor)
	generator := services.NewEmergencyGenerator(emergencyService, st, utils.TimerScheduler{}, utils.NewTimeSeededRandom(), cfg.Generator)
	simulator := services.NewOccupancySimulator(st, bus, cfg.Simulator, utils.NewTimeSeededRandom(), monitor)

	seeds, err := config.LoadSites(cfg.SitesFile)
	if err != nil {
		return err
	}
	if n, err := siteService.SeedIfEmpty(ctx, seeds); err != nil {
		return err
	} else if n > 0 {
		log.Printf("Seeded %d sites", n)
	}

	// Rate limiting shares Redis whatever the store driver is.
	var limiterRedis redis.UniversalClient
	if cfg.RateLimitPerMinute > 0 {
		rc, err := utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("Rate limiting disabled", "error", err)
		} else {
			defer rc.Close()
			limiterRedis = rc
		}
	}
	limiter := security.NewRateLimiter(limiterRedis, cfg.RateLimitPerMinute)

	// Initialize handlers
	siteHandler := handlers.NewSiteHandler(siteService)
	queueHandler := handlers.NewQueueHandler(queueService)
	emergencyHandler := handlers.NewEmergencyHandler(emergencyService, generator)
	healthHandler := handlers.NewHealthHandler(st, generator, hub.ClientCount)

	app.RootCmd.AddCommand(newSeedCommand(siteService))

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		startBackground(ctx, cfg, bus, monitor, simulator, generator)

		// Site endpoints
		e.Router.GET("/api/v1/sites", siteHandler.ListSites)
		e.Router.GET("/api/v1/sites/{id}", siteHandler.GetSite)
		e.Router.PUT("/api/v1/sites/{id}/status", siteHandler.UpdateStatus)
		e.Router.POST("/api/v1/sites/{id}/alert", siteHandler.RaiseAlert)
		e.Router.GET("/api/v1/sites/{id}/analytics", siteHandler.GetAnalytics)

		// Queue endpoints
		e.Router.POST("/api/v1/queue/book", queueHandler.Book).BindFunc(limiter.Middleware)
		e.Router.GET("/api/v1/queue/{siteId}/status", queueHandler.GetStatus)
		e.Router.GET("/api/v1/queue/{siteId}/entries", queueHandler.GetEntries)
		e.Router.POST("/api/v1/queue/{siteId}/call-next", queueHandler.CallNext)
		e.Router.GET("/api/v1/queue/token/{token}", queueHandler.GetToken)
		e.Router.PUT("/api/v1/queue/token/{token}", queueHandler.UpdateToken)
		e.Router.DELETE("/api/v1/queue/token/{token}", queueHandler.CancelToken).BindFunc(limiter.Middleware)

		// Emergency endpoints
		e.Router.POST("/api/v1/emergency/report", emergencyHandler.Report).BindFunc(limiter.Middleware)
		e.Router.GET("/api/v1/emergency", emergencyHandler.List)
		e.Router.GET("/api/v1/emergency/active", emergencyHandler.Active)
		e.Router.GET("/api/v1/emergency/stats", emergencyHandler.Stats)
		e.Router.PUT("/api/v1/emergency/{id}/status", emergencyHandler.UpdateStatus)

		// Generator control
		e.Router.GET("/api/v1/emergency/generator/status", emergencyHandler.GeneratorStatus)
		e.Router.POST("/api/v1/emergency/generator/start", emergencyHandler.StartGenerator)
		e.Router.POST("/api/v1/emergency/generator/stop", emergencyHandler.StopGenerator)
		e.Router.POST("/api/v1/emergency/generator/trigger", emergencyHandler.TriggerGenerator)

		// Realtime
		e.Router.GET("/api/v1/ws", handlers.WebSocket(hub))

		// Health check
		e.Router.GET("/health", healthHandler.Health)

		log.Println("Server routes registered")

		return e.Next()
	})

	go func() {
		<-ctx.Done()
		generator.Stop()
		simulator.Stop()
		hub.Shutdown()
	}()

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// startBackground launches the simulator, generator, metrics and relay.
// It runs once per serve.
func startBackground(ctx context.Context, cfg *config.Config, bus *broadcast.Bus, monitor *monitoring.Monitor, simulator *services.OccupancySimulator, generator *services.EmergencyGenerator) {
	go simulator.Run(ctx)

	if cfg.Generator.Autostart {
		time.AfterFunc(cfg.Generator.StartDelay, func() {
			if ctx.Err() == nil {
				generator.Start()
			}
		})
	}

	if monitor != nil {
		go monitor.Run(ctx)
		go serveMetrics(ctx, cfg.MetricsPort)
	}

	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		publisher := broadcast.NewPubNubPublisher(broadcast.PubNubConfig{
			PublishKey:   cfg.PubNubPublishKey,
			SubscribeKey: cfg.PubNubSubscribeKey,
			SecretKey:    cfg.PubNubSecretKey,
		})
		breaker := utils.NewCircuitBreakerWithSettings("pubnub", utils.BreakerSettings{
			OnStateChange: func(name string, from, to utils.State) {
				slog.Warn("Circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		})
		relay := broadcast.NewRelay(bus, publisher, breaker, cfg.PubNubChannelPrefix, monitor)
		go relay.Run(ctx)
		log.Println("PubNub relay enabled")
	}
}

func serveMetrics(ctx context.Context, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Metrics listening on :%s/metrics", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "error", err)
	}
}

func newSeedCommand(sites *services.SiteService) *cobra.Command {
	var file string
	command := &cobra.Command{
		Use:   "seed",
		Short: "Create the reference sites that are missing from the state store",
		RunE: func(c *cobra.Command, args []string) error {
			seeds, err := config.LoadSites(file)
			if err != nil {
				return err
			}
			n, err := sites.Seed(c.Context(), seeds)
			if err != nil {
				return err
			}
			log.Printf("Seeded %d of %d sites", n, len(seeds))
			return nil
		},
	}
	command.Flags().StringVar(&file, "file", "", "YAML site catalog (defaults to the embedded catalog)")
	return command
}

func setupLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.Environment == "development" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
