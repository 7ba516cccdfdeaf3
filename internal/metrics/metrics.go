// Package metrics exposes Prometheus collectors for pipeline and scorer runs.
// Batch jobs are short-lived, so the registry is pushed to a Pushgateway at
// the end of a run instead of being scraped.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

// Registry holds every collector this package defines.
var Registry = prometheus.NewRegistry()

var (
	rowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permit_pipeline_rows_total",
			Help: "Rows emitted by each pipeline stage.",
		},
		[]string{"stage"},
	)

	geocodeLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permit_geocode_lookups_total",
			Help: "Geocode lookups, labeled by outcome and cache result.",
		},
		[]string{"outcome", "cache"},
	)

	dupeGroupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "permit_dedupe_groups_total",
			Help: "Duplicate groups allocated.",
		},
	)

	fuzzyMatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "permit_dedupe_fuzzy_matches_total",
			Help: "Rows joined to an existing group by fuzzy address match.",
		},
	)

	upsertChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permit_upsert_chunks_total",
			Help: "Upsert requests sent to the persisted store, labeled by sink driver.",
		},
		[]string{"driver"},
	)

	scorerLeadsUpdated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lead_scorer_leads_updated",
			Help: "Leads whose score was recomputed in the last scorer run.",
		},
	)

	scorerEventsDecayed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lead_scorer_events_decayed",
			Help: "Quality events decayed in the last scorer run.",
		},
	)

	scorerCohortsFlagged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lead_scorer_cohorts_flagged",
			Help: "Jurisdiction and trade cohorts flagged for review in the last scorer run.",
		},
	)
)

func init() {
	Registry.MustRegister(
		rowsTotal,
		geocodeLookupsTotal,
		dupeGroupsTotal,
		fuzzyMatchesTotal,
		upsertChunksTotal,
		scorerLeadsUpdated,
		scorerEventsDecayed,
		scorerCohortsFlagged,
	)
}

// ObserveRows adds n rows to the stage counter.
func ObserveRows(stage string, n int) {
	rowsTotal.WithLabelValues(stage).Add(float64(n))
}

// ObserveGeocode records one geocode lookup.
func ObserveGeocode(outcome string, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	geocodeLookupsTotal.WithLabelValues(outcome, cache).Inc()
}

// ObserveDupeGroup records a newly allocated dupe group.
func ObserveDupeGroup() {
	dupeGroupsTotal.Inc()
}

// ObserveFuzzyMatch records a row joined to a group by fuzzy match.
func ObserveFuzzyMatch() {
	fuzzyMatchesTotal.Inc()
}

// ObserveUpsertChunk records one upsert request.
func ObserveUpsertChunk(driver string) {
	upsertChunksTotal.WithLabelValues(driver).Inc()
}

// ObserveScorerRun sets the gauges describing the last scorer run.
func ObserveScorerRun(leadsUpdated, eventsDecayed, cohortsFlagged int) {
	scorerLeadsUpdated.Set(float64(leadsUpdated))
	scorerEventsDecayed.Set(float64(eventsDecayed))
	scorerCohortsFlagged.Set(float64(cohortsFlagged))
}

// Push sends the registry to a Pushgateway. An empty URL is a no-op.
func Push(ctx context.Context, gatewayURL, job string, groupings map[string]string) error {
	if gatewayURL == "" {
		return nil
	}
	p := push.New(gatewayURL, job).Gatherer(Registry)
	for k, v := range groupings {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return eris.Wrap(err, "metrics: push")
	}
	return nil
}
