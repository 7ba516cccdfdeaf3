// Package scorer recomputes lead quality scores from recent feedback events
// and flags jurisdiction and trade cohorts that score poorly.
package scorer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/config"
	"github.com/sells-group/permit-leads/internal/db"
	"github.com/sells-group/permit-leads/internal/lock"
	"github.com/sells-group/permit-leads/internal/metrics"
	"github.com/sells-group/permit-leads/internal/model"
)

// Config controls one scoring run.
type Config struct {
	DecayAfter      time.Duration
	DecayFactor     float64
	Window          time.Duration
	DefaultScore    float64
	MinScore        float64
	MaxScore        float64
	ReviewMinLeads  int
	ReviewThreshold float64
	AdvisoryLockKey int64
}

// ConfigFrom converts the scorer config section.
func ConfigFrom(c config.ScorerConfig) Config {
	day := 24 * time.Hour
	return Config{
		DecayAfter:      time.Duration(c.DecayAfterDays) * day,
		DecayFactor:     c.DecayFactor,
		Window:          time.Duration(c.WindowDays) * day,
		DefaultScore:    c.DefaultScore,
		MinScore:        c.MinScore,
		MaxScore:        c.MaxScore,
		ReviewMinLeads:  c.ReviewMinLeads,
		ReviewThreshold: c.ReviewThreshold,
		AdvisoryLockKey: c.AdvisoryLockKey,
	}
}

// DefaultConfig returns the standard nightly settings.
func DefaultConfig() Config {
	return Config{
		DecayAfter:      90 * 24 * time.Hour,
		DecayFactor:     0.5,
		Window:          30 * 24 * time.Hour,
		DefaultScore:    50,
		MinScore:        0,
		MaxScore:        150,
		ReviewMinLeads:  5,
		ReviewThreshold: 30,
		AdvisoryLockKey: 724501,
	}
}

// Report summarizes a committed run.
type Report struct {
	RunID         string
	EventsDecayed int64
	EventsRead    int
	EventsByType  map[model.QualityEventType]int
	LeadsUpdated  int
	LeadErrors    int
	Cohorts       []model.ReviewCohort
	Flagged       int
}

// Scorer runs the nightly scoring job against a pool.
type Scorer struct {
	pool db.Pool
	cfg  Config
	now  func() time.Time
}

// New returns a Scorer.
func New(pool db.Pool, cfg Config) *Scorer {
	return &Scorer{pool: pool, cfg: cfg, now: time.Now}
}

// Run decays old events, recomputes scores for leads with recent events,
// writes them back, and reports low-scoring cohorts, all in one transaction.
// Any failure rolls the whole run back. A run that loses the advisory lock
// returns lock.ErrNotAcquired and writes nothing.
func (s *Scorer) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("run_id", rep.RunID))
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return rep, eris.Wrap(err, "scorer: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, s.cfg.AdvisoryLockKey).Scan(&locked); err != nil {
		return rep, eris.Wrap(err, "scorer: advisory lock")
	}
	if !locked {
		return rep, eris.Wrap(lock.ErrNotAcquired, "scorer: another run holds the advisory lock")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE lead_quality_events SET weight = weight * $1 WHERE created_at < $2 AND weight <> 0`,
		s.cfg.DecayFactor, now.Add(-s.cfg.DecayAfter),
	)
	if err != nil {
		return rep, eris.Wrap(err, "scorer: decay events")
	}
	rep.EventsDecayed = tag.RowsAffected()
	log.Info("scorer: decayed old events", zap.Int64("events", rep.EventsDecayed))

	events, err := fetchEvents(ctx, tx, now.Add(-s.cfg.Window))
	if err != nil {
		return rep, err
	}
	rep.EventsRead = len(events)
	rep.EventsByType = CountByType(events)
	for typ, n := range rep.EventsByType {
		log.Debug("scorer: recent events", zap.String("event_type", string(typ)), zap.Int("events", n))
	}

	scores, errs := ComputeScores(events, s.cfg)
	rep.LeadErrors = len(errs)
	for _, e := range errs {
		log.Error("scorer: lead skipped", zap.Error(e))
	}

	if err := persistScores(ctx, tx, scores, now); err != nil {
		return rep, err
	}
	rep.LeadsUpdated = len(scores)
	log.Info("scorer: updated lead scores", zap.Int("leads", rep.LeadsUpdated))

	cohorts, err := reviewCohorts(ctx, tx, s.cfg)
	if err != nil {
		return rep, err
	}
	rep.Cohorts = cohorts
	for _, c := range cohorts {
		if !c.Flagged {
			continue
		}
		rep.Flagged++
		log.Warn("scorer: cohort flagged for review",
			zap.String("jurisdiction", c.Jurisdiction),
			zap.String("trade", c.Trade),
			zap.Int("leads", c.Leads),
			zap.Float64("avg_score", c.AvgScore),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return rep, eris.Wrap(err, "scorer: commit")
	}

	metrics.ObserveScorerRun(rep.LeadsUpdated, int(rep.EventsDecayed), rep.Flagged)
	log.Info("scorer: run complete",
		zap.Int("events_read", rep.EventsRead),
		zap.Int("leads_updated", rep.LeadsUpdated),
		zap.Int("lead_errors", rep.LeadErrors),
		zap.Int("cohorts_flagged", rep.Flagged),
	)
	return rep, nil
}
