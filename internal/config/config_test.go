package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultBulletinURL, cfg.BulletinURL)
	assert.Equal(t, 2*time.Minute, cfg.FetchTimeout)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.InDelta(t, 30.0, cfg.MatchRadiusKm, 1e-9)
	assert.Equal(t, 6*time.Hour, cfg.BucketWidth)
	assert.Equal(t, 2, cfg.EvalMaxGap)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 12*time.Hour, cfg.DedupTTL)
	assert.False(t, cfg.DedupFailOpen)
	assert.Equal(t, 100, cfg.FCMBatchSize)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "alert-dispatch-outcomes", cfg.KafkaOutcomeTopic)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BULLETIN_URL", "https://example.com/bulletin.kmz")
	t.Setenv("MATCH_RADIUS_KM", "15.5")
	t.Setenv("DEDUP_BUCKET", "3h")
	t.Setenv("DEDUP_TTL", "24h")
	t.Setenv("DEDUP_FAIL_OPEN", "true")
	t.Setenv("EVAL_MAX_GAP", "0")
	t.Setenv("WORKERS", "16")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("SUBSCRIBER_FILE", "/etc/alerts/locations.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/bulletin.kmz", cfg.BulletinURL)
	assert.InDelta(t, 15.5, cfg.MatchRadiusKm, 1e-9)
	assert.Equal(t, 3*time.Hour, cfg.BucketWidth)
	assert.Equal(t, 24*time.Hour, cfg.DedupTTL)
	assert.True(t, cfg.DedupFailOpen)
	assert.Zero(t, cfg.EvalMaxGap)
	assert.Equal(t, 16, cfg.Workers)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "/etc/alerts/locations.json", cfg.SubscriberFile)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparsable duration", "FETCH_TIMEOUT", "soon"},
		{"negative duration", "RUN_INTERVAL", "-5m"},
		{"unparsable int", "WORKERS", "many"},
		{"unparsable float", "MATCH_RADIUS_KM", "close"},
		{"unparsable bool", "DEDUP_FAIL_OPEN", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("negative max gap rejected", func(t *testing.T) {
		t.Setenv("EVAL_MAX_GAP", "-1")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive radius rejected", func(t *testing.T) {
		t.Setenv("MATCH_RADIUS_KM", "0")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("ttl shorter than bucket rejected", func(t *testing.T) {
		t.Setenv("DEDUP_BUCKET", "6h")
		t.Setenv("DEDUP_TTL", "1h")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("kafka enabled needs brokers", func(t *testing.T) {
		t.Setenv("KAFKA_ENABLED", "true")
		t.Setenv("KAFKA_BROKERS", " , ")
		_, err := Load()
		assert.Error(t, err)
	})
}
