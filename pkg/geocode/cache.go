package geocode

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Entry is a cached lookup. Outcome is Matched, NoMatch or Failed; only a
// Matched entry carries coordinates.
type Entry struct {
	Outcome Outcome
	Lat     float64
	Lon     float64
	County  string
}

// Found reports whether the entry holds a match.
func (e Entry) Found() bool { return e.Outcome == Matched }

// Cache memoizes lookups by assembled query string.
type Cache interface {
	Get(ctx context.Context, query string) (Entry, bool, error)
	Put(ctx context.Context, query string, e Entry) error
	Close() error
}

// MemoryCache is a process-local cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

// Get returns the entry for query.
func (c *MemoryCache) Get(_ context.Context, query string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[query]
	return e, ok, nil
}

// Put stores the entry for query.
func (c *MemoryCache) Put(_ context.Context, query string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[query] = e
	return nil
}

// Close is a no-op.
func (c *MemoryCache) Close() error { return nil }

// SQLiteCache persists lookups across runs in a local SQLite file.
type SQLiteCache struct {
	db *sql.DB
}

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	query     TEXT PRIMARY KEY,
	outcome   TEXT NOT NULL,
	lat       REAL,
	lon       REAL,
	county    TEXT,
	cached_at DATETIME NOT NULL DEFAULT (datetime('now'))
);`

// NewSQLiteCache opens (creating if needed) the cache at dsn.
func NewSQLiteCache(ctx context.Context, dsn string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: open sqlite cache")
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteCacheSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "geocode: init sqlite cache")
		}
	}
	return &SQLiteCache{db: db}, nil
}

// Get returns the entry for query.
func (c *SQLiteCache) Get(ctx context.Context, query string) (Entry, bool, error) {
	var (
		e       Entry
		outcome string
		lat     sql.NullFloat64
		lon     sql.NullFloat64
		county  sql.NullString
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT outcome, lat, lon, county FROM geocode_cache WHERE query = ?`, query,
	).Scan(&outcome, &lat, &lon, &county)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "geocode: sqlite cache get")
	}
	e.Outcome = Outcome(outcome)
	e.Lat, e.Lon, e.County = lat.Float64, lon.Float64, county.String
	return e, true, nil
}

// Put stores the entry for query, replacing any earlier one.
func (c *SQLiteCache) Put(ctx context.Context, query string, e Entry) error {
	var lat, lon, county any
	if e.Found() {
		lat, lon = e.Lat, e.Lon
		if e.County != "" {
			county = e.County
		}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (query, outcome, lat, lon, county, cached_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (query) DO UPDATE SET
			outcome = excluded.outcome,
			lat = excluded.lat,
			lon = excluded.lon,
			county = excluded.county,
			cached_at = excluded.cached_at`,
		query, string(e.Outcome), lat, lon, county,
	)
	return eris.Wrap(err, "geocode: sqlite cache put")
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// OpenCache returns the cache for driver ("memory" or "sqlite").
func OpenCache(ctx context.Context, driver, path string) (Cache, error) {
	switch driver {
	case "", "memory":
		return NewMemoryCache(), nil
	case "sqlite":
		return NewSQLiteCache(ctx, path)
	default:
		return nil, eris.Errorf("geocode: unsupported cache driver %q", driver)
	}
}
