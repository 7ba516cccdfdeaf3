package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Sink        SinkConfig        `yaml:"sink" mapstructure:"sink"`
	PostgREST   PostgRESTConfig   `yaml:"postgrest" mapstructure:"postgrest"`
	Materialize MaterializeConfig `yaml:"materialize" mapstructure:"materialize"`
	Geocode     GeocodeConfig     `yaml:"geocode" mapstructure:"geocode"`
	Dedupe      DedupeConfig      `yaml:"dedupe" mapstructure:"dedupe"`
	Scorer      ScorerConfig      `yaml:"scorer" mapstructure:"scorer"`
	Lock        LockConfig        `yaml:"lock" mapstructure:"lock"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Sources     SourcesConfig     `yaml:"sources" mapstructure:"sources"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the direct Postgres connection.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SinkConfig selects and sizes the upsert sink.
type SinkConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"` // "postgrest" or "postgres"
	ChunkSize int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	Table     string `yaml:"table" mapstructure:"table"`
}

// PostgRESTConfig holds the REST endpoint of the persisted store.
type PostgRESTConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	ServiceKey  string `yaml:"service_key" mapstructure:"service_key"`
	Table       string `yaml:"table" mapstructure:"table"`
	RPC         string `yaml:"rpc" mapstructure:"rpc"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MaterializeConfig bounds the permits-to-leads procedure call.
type MaterializeConfig struct {
	Limit int `yaml:"limit" mapstructure:"limit"`
	Days  int `yaml:"days" mapstructure:"days"`
}

// GeocodeConfig configures the census geocoder and its cache.
type GeocodeConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Benchmark        string `yaml:"benchmark" mapstructure:"benchmark"`
	Vintage          string `yaml:"vintage" mapstructure:"vintage"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DelayMs          int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	DelayOnHit       bool   `yaml:"delay_on_hit" mapstructure:"delay_on_hit"`
	CacheFailures    bool   `yaml:"cache_failures" mapstructure:"cache_failures"`
	CacheDriver      string `yaml:"cache_driver" mapstructure:"cache_driver"` // "memory" or "sqlite"
	CachePath        string `yaml:"cache_path" mapstructure:"cache_path"`
	CircuitThreshold int    `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int    `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// DedupeConfig configures duplicate grouping.
type DedupeConfig struct {
	WindowSize int     `yaml:"window_size" mapstructure:"window_size"`
	PrefixLen  int     `yaml:"prefix_len" mapstructure:"prefix_len"`
	Threshold  float64 `yaml:"threshold" mapstructure:"threshold"`
}

// ScorerConfig configures the nightly lead quality scorer.
type ScorerConfig struct {
	DecayAfterDays  int     `yaml:"decay_after_days" mapstructure:"decay_after_days"`
	DecayFactor     float64 `yaml:"decay_factor" mapstructure:"decay_factor"`
	WindowDays      int     `yaml:"window_days" mapstructure:"window_days"`
	DefaultScore    float64 `yaml:"default_score" mapstructure:"default_score"`
	MinScore        float64 `yaml:"min_score" mapstructure:"min_score"`
	MaxScore        float64 `yaml:"max_score" mapstructure:"max_score"`
	ReviewMinLeads  int     `yaml:"review_min_leads" mapstructure:"review_min_leads"`
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	Schedule        string  `yaml:"schedule" mapstructure:"schedule"`
	AdvisoryLockKey int64   `yaml:"advisory_lock_key" mapstructure:"advisory_lock_key"`
}

// LockConfig configures the optional cross-host run lease.
type LockConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // "none" or "redis"
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	Key      string `yaml:"key" mapstructure:"key"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// RetryConfig configures retries around external HTTP calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// MetricsConfig configures the Prometheus Pushgateway target.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// SourcesConfig points at the per-source column mapping file.
type SourcesConfig struct {
	MappingFile string `yaml:"mapping_file" mapstructure:"mapping_file"`
}

// FetchConfig configures source file downloads.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PERMITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a useful default are still registered so that
	// AutomaticEnv overrides reach Unmarshal.
	for _, key := range []string{
		"store.database_url", "postgrest.url", "postgrest.service_key",
		"scorer.schedule", "lock.redis_url", "metrics.pushgateway_url",
		"sources.mapping_file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sink.driver", "postgrest")
	v.SetDefault("sink.chunk_size", 500)
	v.SetDefault("sink.table", "public.permits")
	v.SetDefault("postgrest.table", "permits")
	v.SetDefault("postgrest.rpc", "upsert_leads_from_permits")
	v.SetDefault("postgrest.timeout_secs", 60)
	v.SetDefault("materialize.limit", 1000)
	v.SetDefault("materialize.days", 7)
	v.SetDefault("geocode.base_url", "https://geocoding.geo.census.gov/geocoder/geographies/onelineaddress")
	v.SetDefault("geocode.benchmark", "Public_AR_Current")
	v.SetDefault("geocode.vintage", "Current_Current")
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.delay_ms", 200)
	v.SetDefault("geocode.delay_on_hit", false)
	v.SetDefault("geocode.cache_failures", true)
	v.SetDefault("geocode.cache_driver", "memory")
	v.SetDefault("geocode.cache_path", "geocode_cache.db")
	v.SetDefault("geocode.circuit_threshold", 10)
	v.SetDefault("geocode.circuit_reset_secs", 60)
	v.SetDefault("dedupe.window_size", 500)
	v.SetDefault("dedupe.prefix_len", 60)
	v.SetDefault("dedupe.threshold", 92)
	v.SetDefault("scorer.decay_after_days", 90)
	v.SetDefault("scorer.decay_factor", 0.5)
	v.SetDefault("scorer.window_days", 30)
	v.SetDefault("scorer.default_score", 50)
	v.SetDefault("scorer.min_score", 0)
	v.SetDefault("scorer.max_score", 150)
	v.SetDefault("scorer.review_min_leads", 5)
	v.SetDefault("scorer.review_threshold", 30)
	v.SetDefault("scorer.advisory_lock_key", 724501)
	v.SetDefault("lock.driver", "none")
	v.SetDefault("lock.key", "permit-leads:scorer")
	v.SetDefault("lock.ttl_secs", 1800)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("metrics.job", "permit-leads")
	v.SetDefault("fetch.user_agent", "permit-leads/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.rate_limit", 2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by a command scope are present.
func (c *Config) Validate(scope string) error {
	switch scope {
	case "sink":
		switch c.Sink.Driver {
		case "postgrest":
			if c.PostgREST.URL == "" {
				return eris.New("config: postgrest.url is required (PERMITS_POSTGREST_URL)")
			}
			if c.PostgREST.ServiceKey == "" {
				return eris.New("config: postgrest.service_key is required (PERMITS_POSTGREST_SERVICE_KEY)")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				return eris.New("config: store.database_url is required (PERMITS_STORE_DATABASE_URL)")
			}
		default:
			return eris.Errorf("config: unsupported sink driver %q", c.Sink.Driver)
		}
		if c.Sink.ChunkSize <= 0 {
			return eris.New("config: sink.chunk_size must be positive")
		}
	case "scorer":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required (PERMITS_STORE_DATABASE_URL)")
		}
		if c.Scorer.MinScore > c.Scorer.MaxScore {
			return eris.Errorf("config: scorer.min_score %.1f exceeds scorer.max_score %.1f", c.Scorer.MinScore, c.Scorer.MaxScore)
		}
		// Decay must move every nonzero weight strictly toward zero.
		if c.Scorer.DecayFactor <= 0 || c.Scorer.DecayFactor >= 1 {
			return eris.Errorf("config: scorer.decay_factor must be within (0,1) (got %.2f)", c.Scorer.DecayFactor)
		}
		if c.Lock.Driver == "redis" && c.Lock.RedisURL == "" {
			return eris.New("config: lock.redis_url is required when lock.driver=redis")
		}
	case "geocode":
		if c.Geocode.CacheDriver != "memory" && c.Geocode.CacheDriver != "sqlite" {
			return eris.Errorf("config: unsupported geocode cache driver %q", c.Geocode.CacheDriver)
		}
	default:
		return eris.Errorf("config: unknown validation scope %q", scope)
	}
	return nil
}

// InitLogger initializes the global zap logger. Output goes to stderr so
// stage commands can keep stdout for NDJSON rows.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
