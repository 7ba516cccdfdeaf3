package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// newRewriteClient returns an HTTP client that sends requests aimed at
// targetPrefix to the test server instead.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	orig := req.URL.String()
	if !strings.HasPrefix(orig, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + orig[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL = parsed
	out.Host = parsed.Host
	return t.base.RoundTrip(out)
}

// stubClient returns canned results and counts calls per query.
type stubClient struct {
	mu      sync.Mutex
	results map[string]Result
	errs    map[string]error
	calls   map[string]int
}

func newStubClient() *stubClient {
	return &stubClient{
		results: map[string]Result{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (s *stubClient) Lookup(_ context.Context, query string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[query]++
	if err, ok := s.errs[query]; ok {
		return Result{Outcome: Failed}, err
	}
	if r, ok := s.results[query]; ok {
		return r, nil
	}
	return Result{Outcome: NoMatch}, nil
}

func (s *stubClient) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

const matchJSON = `{
  "result": {
    "input": {"address": {"address": "100 Main St, Austin, TX, 78701"}},
    "addressMatches": [{
      "matchedAddress": "100 MAIN ST, AUSTIN, TX, 78701",
      "coordinates": {"x": -97.7431, "y": 30.2672},
      "geographies": {
        "Counties": [{"NAME": "Travis County", "GEOID": "48453"}],
        "States": [{"NAME": "Texas"}]
      }
    }]
  }
}`

const noCountyJSON = `{
  "result": {
    "addressMatches": [{
      "coordinates": {"x": -95.3698, "y": 29.7604},
      "geographies": {}
    }]
  }
}`

const noMatchJSON = `{"result": {"addressMatches": []}}`
