package geocode

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/permit-leads/internal/metrics"
	"github.com/sells-group/permit-leads/internal/model"
	"github.com/sells-group/permit-leads/internal/resilience"
)

// Geocoder attaches coordinates and county to normalized permits. It is safe
// for use by a single goroutine at a time.
type Geocoder struct {
	client  Client
	cache   Cache
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker

	delayOnHit    bool
	cacheFailures bool

	stats Stats
}

// Stats summarizes a geocoding pass.
type Stats struct {
	Rows    int
	Hits    int
	Misses  int
	Matched int
	NoMatch int
	Failed  int
	Skipped int
}

// GeocoderOption configures a Geocoder.
type GeocoderOption func(*Geocoder)

// WithDelay spaces external lookups at least d apart. Zero disables spacing.
func WithDelay(d time.Duration) GeocoderOption {
	return func(g *Geocoder) {
		if d <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		g.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithDelayOnHit also waits on the limiter for cache hits, keeping one delay
// per input row.
func WithDelayOnHit(on bool) GeocoderOption {
	return func(g *Geocoder) { g.delayOnHit = on }
}

// WithCacheFailures controls whether failed lookups are memoized. Non-matches
// are always cached.
func WithCacheFailures(on bool) GeocoderOption {
	return func(g *Geocoder) { g.cacheFailures = on }
}

// WithCircuitBreaker short-circuits lookups once the service keeps failing.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) GeocoderOption {
	return func(g *Geocoder) { g.breaker = cb }
}

// NewGeocoder returns a Geocoder that memoizes failures and waits 200ms
// between external calls unless configured otherwise.
func NewGeocoder(client Client, cache Cache, opts ...GeocoderOption) *Geocoder {
	g := &Geocoder{
		client:        client,
		cache:         cache,
		limiter:       rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		cacheFailures: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Query assembles the lookup string: address, city, state and zip joined by
// ", " with empty parts dropped.
func Query(p model.Permit) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Address, p.City, p.State, p.Zipcode} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Geocode returns p with Lat, Lon and County resolved. Lat and Lon are set
// together or cleared together. An existing County is kept unless a new one
// was found. Only context cancellation is returned as an error; lookup
// failures resolve to a null result.
func (g *Geocoder) Geocode(ctx context.Context, p model.Permit) (model.Permit, Outcome, error) {
	g.stats.Rows++
	out := p
	query := Query(p)

	entry, hit, err := g.cache.Get(ctx, query)
	if err != nil {
		zap.L().Warn("geocode: cache get failed", zap.String("query", query), zap.Error(err))
		hit = false
	}

	var outcome Outcome
	if hit {
		g.stats.Hits++
		if g.delayOnHit {
			if err := g.limiter.Wait(ctx); err != nil {
				return p, Skipped, err
			}
		}
		outcome = entry.Outcome
		if outcome == "" {
			outcome = NoMatch
		}
	} else {
		g.stats.Misses++
		entry, outcome, err = g.lookup(ctx, query)
		if err != nil {
			return p, Skipped, err
		}
	}

	g.count(outcome)
	metrics.ObserveGeocode(string(outcome), hit)

	if entry.Found() {
		lat, lon := entry.Lat, entry.Lon
		out.SetCoordinates(&lat, &lon)
	} else {
		out.SetCoordinates(nil, nil)
	}
	if entry.County != "" {
		county := entry.County
		out.County = &county
	}
	return out, outcome, nil
}

func (g *Geocoder) lookup(ctx context.Context, query string) (Entry, Outcome, error) {
	if query == "" {
		return Entry{}, Skipped, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return Entry{}, Skipped, err
	}

	var (
		res Result
		err error
	)
	if g.breaker != nil {
		res, err = resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (Result, error) {
			return g.client.Lookup(ctx, query)
		})
	} else {
		res, err = g.client.Lookup(ctx, query)
	}
	if ctx.Err() != nil {
		return Entry{}, Skipped, ctx.Err()
	}

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return Entry{}, Skipped, nil
	case err != nil:
		zap.L().Debug("geocode: lookup failed", zap.String("query", query), zap.Error(err))
		if g.cacheFailures {
			g.put(ctx, query, Entry{Outcome: Failed})
		}
		return Entry{}, Failed, nil
	}

	e := Entry{Outcome: NoMatch}
	if res.Outcome == Matched {
		e = Entry{Outcome: Matched, Lat: res.Lat, Lon: res.Lon, County: res.County}
	}
	g.put(ctx, query, e)
	return e, res.Outcome, nil
}

func (g *Geocoder) put(ctx context.Context, query string, e Entry) {
	if err := g.cache.Put(ctx, query, e); err != nil {
		zap.L().Warn("geocode: cache put failed", zap.String("query", query), zap.Error(err))
	}
}

func (g *Geocoder) count(o Outcome) {
	switch o {
	case Matched:
		g.stats.Matched++
	case NoMatch:
		g.stats.NoMatch++
	case Failed:
		g.stats.Failed++
	case Skipped:
		g.stats.Skipped++
	}
}

// Stats returns counters for the rows geocoded so far.
func (g *Geocoder) Stats() Stats {
	return g.stats
}
