package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Database DatabaseConfig
	Feeds    FeedsConfig
	Detector DetectorConfig
	Runner   RunnerConfig
	Logging  LoggingConfig

	// RoutesFile points at the versioned route classification reference.
	RoutesFile string `validate:"required"`
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
}

// FeedsConfig describes the two NTA GTFS-realtime endpoints. The API key is
// checked where polling is wired up, so commands that never fetch do not
// require it.
type FeedsConfig struct {
	APIKey              string
	TripUpdatesURL      string        `validate:"required,url"`
	VehiclePositionsURL string        `validate:"required,url"`
	Timeout             time.Duration `validate:"gt=0"`
}

// DetectorConfig carries the ghost detection policy knobs. The window and
// threshold are tuning choices, not derived invariants, so they stay
// configurable.
type DetectorConfig struct {
	StalenessWindow     time.Duration `validate:"gt=0"`
	CompletionThreshold float64       `validate:"gt=0,lte=1"`
}

// RunnerConfig drives daemon mode. The two intervals are independent
// schedules; MetricsAddr empty disables the metrics server.
type RunnerConfig struct {
	CollectInterval time.Duration `validate:"gt=0"`
	DetectInterval  time.Duration `validate:"gt=0"`
	MetricsAddr     string
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "busconnects"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   getEnv("DB_NAME", "busconnects"),
		},
		Feeds: FeedsConfig{
			APIKey:              os.Getenv("NTA_API_KEY"),
			TripUpdatesURL:      getEnv("TRIP_UPDATES_URL", "https://api.nationaltransport.ie/gtfsr/v2/TripUpdates"),
			VehiclePositionsURL: getEnv("VEHICLE_POSITIONS_URL", "https://api.nationaltransport.ie/gtfsr/v2/Vehicles"),
			Timeout:             getDurationEnv("FEED_TIMEOUT", 30*time.Second),
		},
		Detector: DetectorConfig{
			StalenessWindow:     getDurationEnv("GHOST_STALENESS_WINDOW", 15*time.Minute),
			CompletionThreshold: getFloatEnv("GHOST_COMPLETION_THRESHOLD", 0.80),
		},
		Runner: RunnerConfig{
			CollectInterval: getDurationEnv("COLLECT_INTERVAL", time.Minute),
			DetectInterval:  getDurationEnv("DETECT_INTERVAL", 5*time.Minute),
			MetricsAddr:     os.Getenv("METRICS_ADDR"),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "busconnects-audit.log"),
		},
		RoutesFile: getEnv("ROUTES_FILE", "configs/routes.yml"),
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
