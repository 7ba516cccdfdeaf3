package main

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/db"
	"github.com/sells-group/permit-leads/internal/dedupe"
	"github.com/sells-group/permit-leads/internal/lock"
	"github.com/sells-group/permit-leads/internal/parser"
	"github.com/sells-group/permit-leads/internal/resilience"
	"github.com/sells-group/permit-leads/internal/sink"
	"github.com/sells-group/permit-leads/pkg/geocode"
)

func newParser() (*parser.Parser, error) {
	m, err := parser.LoadMappings(cfg.Sources.MappingFile)
	if err != nil {
		return nil, err
	}
	return parser.New(m), nil
}

// sourceName defaults the source to the file name without its extension.
func sourceName(source, path string) string {
	if source != "" {
		return source
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func dedupeConfig() dedupe.Config {
	return dedupe.Config{
		WindowSize: cfg.Dedupe.WindowSize,
		PrefixLen:  cfg.Dedupe.PrefixLen,
		Threshold:  cfg.Dedupe.Threshold,
	}
}

// newGeocoder builds the census client, its cache and breaker. The returned
// close func releases the cache.
func newGeocoder(ctx context.Context) (*geocode.Geocoder, func(), error) {
	if err := cfg.Validate("geocode"); err != nil {
		return nil, nil, err
	}

	cache, err := geocode.OpenCache(ctx, cfg.Geocode.CacheDriver, cfg.Geocode.CachePath)
	if err != nil {
		return nil, nil, err
	}

	client := geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithBenchmark(cfg.Geocode.Benchmark, cfg.Geocode.Vintage),
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second}),
		geocode.WithRetry(resilience.FromRetryConfig(cfg.Retry, "geocode")),
	)
	breaker := resilience.NewCircuitBreaker(
		resilience.FromCircuitConfig(cfg.Geocode.CircuitThreshold, cfg.Geocode.CircuitResetSecs),
	)

	g := geocode.NewGeocoder(client, cache,
		geocode.WithDelay(time.Duration(cfg.Geocode.DelayMs)*time.Millisecond),
		geocode.WithDelayOnHit(cfg.Geocode.DelayOnHit),
		geocode.WithCacheFailures(cfg.Geocode.CacheFailures),
		geocode.WithCircuitBreaker(breaker),
	)

	closeFn := func() {
		s := g.Stats()
		zap.L().Info("geocode: stats",
			zap.Int("rows", s.Rows),
			zap.Int("cache_hits", s.Hits),
			zap.Int("cache_misses", s.Misses),
			zap.Int("matched", s.Matched),
			zap.Int("no_match", s.NoMatch),
			zap.Int("failed", s.Failed),
			zap.Int("skipped", s.Skipped),
			zap.String("circuit", breaker.State().String()),
		)
		if err := cache.Close(); err != nil {
			zap.L().Warn("geocode: close cache", zap.Error(err))
		}
	}
	return g, closeFn, nil
}

// newSink builds the configured sink. The returned close func releases any
// database pool.
func newSink(ctx context.Context) (sink.Sink, func(), error) {
	if err := cfg.Validate("sink"); err != nil {
		return nil, nil, err
	}

	switch cfg.Sink.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := sink.NewPostgres(pool, sink.PostgresConfig{
			Table:     cfg.Sink.Table,
			RPC:       cfg.PostgREST.RPC,
			ChunkSize: cfg.Sink.ChunkSize,
			Limit:     cfg.Materialize.Limit,
			Days:      cfg.Materialize.Days,
		})
		return s, pool.Close, nil
	default:
		s := sink.NewPostgREST(sink.PostgRESTConfig{
			BaseURL:    cfg.PostgREST.URL,
			ServiceKey: cfg.PostgREST.ServiceKey,
			Table:      cfg.PostgREST.Table,
			RPC:        cfg.PostgREST.RPC,
			ChunkSize:  cfg.Sink.ChunkSize,
			Limit:      cfg.Materialize.Limit,
			Days:       cfg.Materialize.Days,
			Retry:      resilience.FromRetryConfig(cfg.Retry, "postgrest"),
		}, &http.Client{Timeout: time.Duration(cfg.PostgREST.TimeoutSecs) * time.Second})
		return s, func() {}, nil
	}
}

// newLocker returns the cross-host run lease for the scorer.
func newLocker(ctx context.Context) (lock.Locker, func(), error) {
	switch cfg.Lock.Driver {
	case "redis":
		r, err := lock.OpenRedis(ctx, cfg.Lock.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "", "none":
		return lock.Noop{}, func() {}, nil
	default:
		return nil, nil, eris.Errorf("unsupported lock driver %q", cfg.Lock.Driver)
	}
}
