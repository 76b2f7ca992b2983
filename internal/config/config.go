// Package config loads service settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultBulletinURL is the DWD MOSMIX_S all-stations bundle.
const DefaultBulletinURL = "https://opendata.dwd.de/weather/local_forecasts/mos/MOSMIX_S/all_stations/kml/MOSMIX_S_LATEST_240.kmz"

// Config holds all service settings, populated from environment variables.
type Config struct {
	BulletinURL     string
	FetchTimeout    time.Duration
	FetchRetries    int
	MatchRadiusKm   float64
	BucketWidth     time.Duration
	EvalMaxGap      int
	Workers         int
	RunTimeout      time.Duration
	RunInterval     time.Duration
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Dedup cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DedupTTL      time.Duration
	DedupFailOpen bool

	// Subscriber feed: a JSON file path, or Redis when empty.
	SubscriberFile string

	// Notification provider.
	FCMEndpoint  string
	FCMServerKey string
	FCMTimeout   time.Duration
	FCMBatchSize int
	FCMDryRun    bool

	// Optional outcome telemetry.
	KafkaBrokers      []string
	KafkaOutcomeTopic string
	KafkaEnabled      bool
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	cfg := &Config{
		BulletinURL:       envOrDefault("BULLETIN_URL", DefaultBulletinURL),
		HTTPAddr:          envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("LOG_FORMAT", "json"),
		RedisAddr:         envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		SubscriberFile:    os.Getenv("SUBSCRIBER_FILE"),
		FCMEndpoint:       os.Getenv("FCM_ENDPOINT"),
		FCMServerKey:      os.Getenv("FCM_SERVER_KEY"),
		KafkaOutcomeTopic: envOrDefault("KAFKA_OUTCOME_TOPIC", "alert-dispatch-outcomes"),
	}

	var err error
	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FetchRetries, err = intEnv("FETCH_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.MatchRadiusKm, err = floatEnv("MATCH_RADIUS_KM", 30); err != nil {
		return nil, err
	}
	if cfg.BucketWidth, err = durationEnv("DEDUP_BUCKET", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.EvalMaxGap, err = intEnv("EVAL_MAX_GAP", 2); err != nil {
		return nil, err
	}
	if cfg.Workers, err = intEnv("WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = durationEnv("RUN_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RunInterval, err = durationEnv("RUN_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.DedupTTL, err = durationEnv("DEDUP_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DedupFailOpen, err = boolEnv("DEDUP_FAIL_OPEN", false); err != nil {
		return nil, err
	}
	if cfg.FCMTimeout, err = durationEnv("FCM_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FCMBatchSize, err = intEnv("FCM_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.FCMDryRun, err = boolEnv("FCM_DRY_RUN", false); err != nil {
		return nil, err
	}
	if cfg.KafkaEnabled, err = boolEnv("KAFKA_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092"))

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.BulletinURL == "" {
		return errors.New("BULLETIN_URL is required")
	}
	if c.MatchRadiusKm <= 0 {
		return errors.New("MATCH_RADIUS_KM must be positive")
	}
	if c.BucketWidth <= 0 {
		return errors.New("DEDUP_BUCKET must be positive")
	}
	if c.EvalMaxGap < 0 {
		return errors.New("EVAL_MAX_GAP must not be negative")
	}
	if c.DedupTTL < c.BucketWidth {
		return errors.New("DEDUP_TTL must cover at least one DEDUP_BUCKET window")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
