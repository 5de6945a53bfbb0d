package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Environment string

	// Store configuration
	StoreDriver       string
	RedisURL          string
	SQLitePath        string
	SnapshotRetention int

	// PubNub configuration
	PubNubPublishKey    string
	PubNubSubscribeKey  string
	PubNubSecretKey     string
	PubNubChannelPrefix string

	Simulator SimulatorConfig
	Queue     QueueConfig
	Generator GeneratorConfig

	// Emergencies
	EscalateCriticalEmergencies bool

	// Broadcast
	SubscriberBuffer int

	// Seed data
	SitesFile string

	// Security
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics   bool
	MetricsPort     string
	MetricsInterval time.Duration
}

// SimulatorConfig holds the occupancy model parameters. Factors are
// multiples of site capacity.
type SimulatorConfig struct {
	TickInterval          time.Duration
	StartDelay            time.Duration
	OvercrowdingFactor    float64
	VariationMin          float64
	VariationMax          float64
	MinOccupancyFactor    float64
	MaxOccupancyFactor    float64
	MaxStepFraction       float64
	QueuePressurePerEntry float64
	QueuePressureCap      float64
}

type QueueConfig struct {
	ServiceMinutesPerVisitor int
	MaxGroupSize             int
	SummarySize              int
	DefaultListLimit         int
}

type GeneratorConfig struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Autostart  bool
	StartDelay time.Duration
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables from system")
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		StoreDriver:       getEnv("STORE_DRIVER", "memory"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath:        getEnv("SQLITE_PATH", "pb_data/temple_safety.db"),
		SnapshotRetention: getEnvAsInt("SNAPSHOT_RETENTION", 1000),

		PubNubPublishKey:    getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:  getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:     getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubChannelPrefix: getEnv("PUBNUB_CHANNEL_PREFIX", "temple-safety"),

		Simulator: SimulatorConfig{
			TickInterval:          getEnvAsDuration("TICK_INTERVAL", "10s"),
			StartDelay:            getEnvAsDuration("SIMULATOR_START_DELAY", "5s"),
			OvercrowdingFactor:    getEnvAsFloat("OVERCROWDING_FACTOR", 1.3),
			VariationMin:          getEnvAsFloat("VARIATION_MIN", 0.85),
			VariationMax:          getEnvAsFloat("VARIATION_MAX", 1.15),
			MinOccupancyFactor:    getEnvAsFloat("MIN_OCCUPANCY_FACTOR", 0.6),
			MaxOccupancyFactor:    getEnvAsFloat("MAX_OCCUPANCY_FACTOR", 1.5),
			MaxStepFraction:       getEnvAsFloat("MAX_STEP_FRACTION", 0.08),
			QueuePressurePerEntry: getEnvAsFloat("QUEUE_PRESSURE_PER_ENTRY", 2),
			QueuePressureCap:      getEnvAsFloat("QUEUE_PRESSURE_CAP", 0.1),
		},

		Queue: QueueConfig{
			ServiceMinutesPerVisitor: getEnvAsInt("SERVICE_MINUTES_PER_VISITOR", 5),
			MaxGroupSize:             getEnvAsInt("MAX_GROUP_SIZE", 20),
			SummarySize:              5,
			DefaultListLimit:         50,
		},

		Generator: GeneratorConfig{
			MinDelay:   getEnvAsDuration("GENERATOR_MIN_DELAY", "2m"),
			MaxDelay:   getEnvAsDuration("GENERATOR_MAX_DELAY", "5m"),
			Autostart:  getEnvAsBool("GENERATOR_AUTOSTART", true),
			StartDelay: getEnvAsDuration("GENERATOR_START_DELAY", "10s"),
		},

		EscalateCriticalEmergencies: getEnvAsBool("ESCALATE_CRITICAL_EMERGENCIES", true),

		SubscriberBuffer: getEnvAsInt("SUBSCRIBER_BUFFER", 64),

		SitesFile: getEnv("SITES_FILE", ""),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),

		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", "30s"),
	}
}

// Default returns the configuration used when no environment is set.
// Tests start from it and override single fields.
func Default() *Config {
	return &Config{
		Environment:         "development",
		StoreDriver:         "memory",
		RedisURL:            "redis://localhost:6379/0",
		SQLitePath:          "pb_data/temple_safety.db",
		SnapshotRetention:   1000,
		PubNubChannelPrefix: "temple-safety",
		Simulator: SimulatorConfig{
			TickInterval:          10 * time.Second,
			StartDelay:            5 * time.Second,
			OvercrowdingFactor:    1.3,
			VariationMin:          0.85,
			VariationMax:          1.15,
			MinOccupancyFactor:    0.6,
			MaxOccupancyFactor:    1.5,
			MaxStepFraction:       0.08,
			QueuePressurePerEntry: 2,
			QueuePressureCap:      0.1,
		},
		Queue: QueueConfig{
			ServiceMinutesPerVisitor: 5,
			MaxGroupSize:             20,
			SummarySize:              5,
			DefaultListLimit:         50,
		},
		Generator: GeneratorConfig{
			MinDelay:   2 * time.Minute,
			MaxDelay:   5 * time.Minute,
			Autostart:  true,
			StartDelay: 10 * time.Second,
		},
		EscalateCriticalEmergencies: true,
		SubscriberBuffer:            64,
		RateLimitPerMinute:          60,
		EnableMetrics:               true,
		MetricsPort:                 "9090",
		MetricsInterval:             30 * time.Second,
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "memory", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be memory, redis or sqlite, got %q", c.StoreDriver))
	}

	s := c.Simulator
	if s.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if s.VariationMin <= 0 || s.VariationMax < s.VariationMin {
		errs = append(errs, fmt.Errorf("variation range [%v, %v] is invalid", s.VariationMin, s.VariationMax))
	}
	if s.MinOccupancyFactor < 0 || s.MaxOccupancyFactor < s.MinOccupancyFactor {
		errs = append(errs, fmt.Errorf("occupancy bounds [%v, %v] are invalid", s.MinOccupancyFactor, s.MaxOccupancyFactor))
	}
	if s.MaxStepFraction <= 0 || s.MaxStepFraction > 1 {
		errs = append(errs, fmt.Errorf("MAX_STEP_FRACTION must be in (0, 1], got %v", s.MaxStepFraction))
	}
	if s.QueuePressurePerEntry < 0 || s.QueuePressureCap < 0 {
		errs = append(errs, errors.New("queue pressure settings must not be negative"))
	}

	if c.Queue.ServiceMinutesPerVisitor <= 0 {
		errs = append(errs, errors.New("SERVICE_MINUTES_PER_VISITOR must be positive"))
	}
	if c.Queue.MaxGroupSize <= 0 {
		errs = append(errs, errors.New("MAX_GROUP_SIZE must be positive"))
	}

	g := c.Generator
	if g.MinDelay <= 0 || g.MaxDelay < g.MinDelay {
		errs = append(errs, fmt.Errorf("generator delay window [%v, %v] is invalid", g.MinDelay, g.MaxDelay))
	}

	if c.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("SUBSCRIBER_BUFFER must be positive"))
	}
	if c.SnapshotRetention < 0 {
		errs = append(errs, errors.New("SNAPSHOT_RETENTION must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
