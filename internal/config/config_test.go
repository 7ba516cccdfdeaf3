package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "postgrest", cfg.Sink.Driver)
	assert.Equal(t, 500, cfg.Sink.ChunkSize)
	assert.Equal(t, "permits", cfg.PostgREST.Table)
	assert.Equal(t, "upsert_leads_from_permits", cfg.PostgREST.RPC)
	assert.Equal(t, 1000, cfg.Materialize.Limit)
	assert.Equal(t, 7, cfg.Materialize.Days)
	assert.Equal(t, "Public_AR_Current", cfg.Geocode.Benchmark)
	assert.Equal(t, 10, cfg.Geocode.TimeoutSecs)
	assert.True(t, cfg.Geocode.CacheFailures)
	assert.False(t, cfg.Geocode.DelayOnHit)
	assert.Equal(t, "memory", cfg.Geocode.CacheDriver)
	assert.Equal(t, 500, cfg.Dedupe.WindowSize)
	assert.Equal(t, 60, cfg.Dedupe.PrefixLen)
	assert.InDelta(t, 92, cfg.Dedupe.Threshold, 0.001)
	assert.Equal(t, 90, cfg.Scorer.DecayAfterDays)
	assert.InDelta(t, 0.5, cfg.Scorer.DecayFactor, 0.001)
	assert.Equal(t, 30, cfg.Scorer.WindowDays)
	assert.InDelta(t, 50, cfg.Scorer.DefaultScore, 0.001)
	assert.InDelta(t, 150, cfg.Scorer.MaxScore, 0.001)
	assert.Equal(t, 5, cfg.Scorer.ReviewMinLeads)
	assert.InDelta(t, 30, cfg.Scorer.ReviewThreshold, 0.001)
	assert.Equal(t, "none", cfg.Lock.Driver)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
sink:
  driver: postgres
  chunk_size: 250
dedupe:
  window_size: 1000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "postgres", cfg.Sink.Driver)
	assert.Equal(t, 250, cfg.Sink.ChunkSize)
	assert.Equal(t, 1000, cfg.Dedupe.WindowSize)
	// Defaults still apply for unset values
	assert.Equal(t, 60, cfg.Dedupe.PrefixLen)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
sink:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PERMITS_SINK_DRIVER", "postgrest")
	t.Setenv("PERMITS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgrest", cfg.Sink.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PERMITS_SCORER_WINDOW_DAYS", "14")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Scorer.WindowDays)
}

func TestLoadEnvSetsKeysWithoutDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PERMITS_STORE_DATABASE_URL", "postgres://localhost/permits")
	t.Setenv("PERMITS_POSTGREST_URL", "https://example.supabase.co/rest/v1")
	t.Setenv("PERMITS_POSTGREST_SERVICE_KEY", "service-key")
	t.Setenv("PERMITS_METRICS_PUSHGATEWAY_URL", "http://pushgateway:9091")
	t.Setenv("PERMITS_LOCK_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/permits", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://example.supabase.co/rest/v1", cfg.PostgREST.URL)
	assert.Equal(t, "service-key", cfg.PostgREST.ServiceKey)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushgatewayURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Lock.RedisURL)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults validation depends on.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Sink.Driver = "postgrest"
	cfg.Sink.ChunkSize = 500
	cfg.Scorer.MinScore = 0
	cfg.Scorer.MaxScore = 150
	cfg.Scorer.DecayFactor = 0.5
	cfg.Lock.Driver = "none"
	cfg.Geocode.CacheDriver = "memory"
	return cfg
}

func TestValidateSink_PostgREST(t *testing.T) {
	cfg := validDefaults()
	cfg.PostgREST.URL = "https://example.supabase.co/rest/v1"
	cfg.PostgREST.ServiceKey = "service-key"

	assert.NoError(t, cfg.Validate("sink"))
}

func TestValidateSink_PostgRESTMissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.PostgREST.URL = "https://example.supabase.co/rest/v1"

	err := cfg.Validate("sink")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgrest.service_key is required")
}

func TestValidateSink_PostgresNeedsDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Sink.Driver = "postgres"

	err := cfg.Validate("sink")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/permits"
	assert.NoError(t, cfg.Validate("sink"))
}

func TestValidateSink_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Sink.Driver = "kafka"

	err := cfg.Validate("sink")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sink driver")
}

func TestValidateScorer(t *testing.T) {
	cfg := validDefaults()
	assert.Error(t, cfg.Validate("scorer"))

	cfg.Store.DatabaseURL = "postgres://localhost/permits"
	assert.NoError(t, cfg.Validate("scorer"))

	cfg.Scorer.DecayFactor = 1.5
	assert.Error(t, cfg.Validate("scorer"))
}

func TestValidateScorer_DecayFactorOpenInterval(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/permits"

	for _, f := range []float64{0, 1, -0.5, 1.5} {
		cfg.Scorer.DecayFactor = f
		err := cfg.Validate("scorer")
		require.Error(t, err, "decay_factor %v", f)
		assert.Contains(t, err.Error(), "scorer.decay_factor must be within (0,1)")
	}

	for _, f := range []float64{0.01, 0.5, 0.99} {
		cfg.Scorer.DecayFactor = f
		assert.NoError(t, cfg.Validate("scorer"), "decay_factor %v", f)
	}
}

func TestValidateScorer_RedisLockNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/permits"
	cfg.Lock.Driver = "redis"

	err := cfg.Validate("scorer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock.redis_url")
}

func TestValidateGeocode_CacheDriver(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("geocode"))

	cfg.Geocode.CacheDriver = "memcached"
	assert.Error(t, cfg.Validate("geocode"))
}

func TestValidate_UnknownScope(t *testing.T) {
	cfg := validDefaults()
	assert.Error(t, cfg.Validate("bogus"))
}
