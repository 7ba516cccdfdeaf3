// Package geocode resolves one-line US addresses to coordinates and county
// through the Census Bureau geographies geocoder.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-leads/internal/resilience"
)

const (
	// DefaultBaseURL is the census one-line geographies endpoint.
	DefaultBaseURL   = "https://geocoding.geo.census.gov/geocoder/geographies/onelineaddress"
	defaultBenchmark = "Public_AR_Current"
	defaultVintage   = "Current_Current"
)

// Outcome classifies a lookup.
type Outcome string

const (
	// Matched means the service returned coordinates.
	Matched Outcome = "matched"
	// NoMatch means the service answered but found no address.
	NoMatch Outcome = "no_match"
	// Failed means the call errored or the response could not be parsed.
	Failed Outcome = "failed"
	// Skipped means no call was made: empty query or an open circuit.
	Skipped Outcome = "skipped"
)

// Result is the outcome of one lookup. Lat, Lon and County are only
// meaningful when Outcome is Matched; County may still be empty then.
type Result struct {
	Outcome Outcome
	Lat     float64
	Lon     float64
	County  string
}

// Client looks up one assembled address query.
type Client interface {
	Lookup(ctx context.Context, query string) (Result, error)
}

// Option configures the census client.
type Option func(*census)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *census) { c.http = hc }
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(c *census) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithBenchmark sets the benchmark and vintage query parameters.
func WithBenchmark(benchmark, vintage string) Option {
	return func(c *census) {
		if benchmark != "" {
			c.benchmark = benchmark
		}
		if vintage != "" {
			c.vintage = vintage
		}
	}
}

// WithRetry enables retries on transient failures.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *census) { c.retry = rc }
}

type census struct {
	http      *http.Client
	baseURL   string
	benchmark string
	vintage   string
	retry     resilience.RetryConfig
}

// NewClient returns a census geographies client. The default HTTP client
// carries a 10 second timeout.
func NewClient(opts ...Option) Client {
	c := &census{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   DefaultBaseURL,
		benchmark: defaultBenchmark,
		vintage:   defaultVintage,
		retry:     resilience.RetryConfig{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type geographiesResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				X float64 `json:"x"` // longitude
				Y float64 `json:"y"` // latitude
			} `json:"coordinates"`
			Geographies map[string][]struct {
				Name string `json:"NAME"`
			} `json:"geographies"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Lookup geocodes query. A service answer without matches is NoMatch with a
// nil error; any other failure is Failed with the error.
func (c *census) Lookup(ctx context.Context, query string) (Result, error) {
	if query == "" {
		return Result{Outcome: Skipped}, nil
	}
	res, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (Result, error) {
		return c.lookupOnce(ctx, query)
	})
	if err != nil {
		return Result{Outcome: Failed}, err
	}
	return res, nil
}

func (c *census) lookupOnce(ctx context.Context, query string) (Result, error) {
	params := url.Values{
		"address":   {query},
		"benchmark": {c.benchmark},
		"vintage":   {c.vintage},
		"format":    {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Result{}, eris.Wrap(err, "geocode: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: census returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return Result{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		return Result{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, eris.Wrap(err, "geocode: read body")
	}

	var gr geographiesResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return Result{}, eris.Wrap(err, "geocode: parse response")
	}
	if len(gr.Result.AddressMatches) == 0 {
		return Result{Outcome: NoMatch}, nil
	}

	m := gr.Result.AddressMatches[0]
	res := Result{
		Outcome: Matched,
		Lat:     m.Coordinates.Y,
		Lon:     m.Coordinates.X,
	}
	if counties := m.Geographies["Counties"]; len(counties) > 0 {
		res.County = counties[0].Name
	}
	return res, nil
}
