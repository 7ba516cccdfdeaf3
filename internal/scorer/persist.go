package scorer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-leads/internal/model"
)

func fetchEvents(ctx context.Context, tx pgx.Tx, since time.Time) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT e.lead_id::text, e.event_type, e.weight, l.global_score
		FROM lead_quality_events e
		JOIN leads l ON l.id = e.lead_id
		WHERE e.created_at >= $1
		ORDER BY e.lead_id, e.created_at`, since)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: query recent events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.LeadID, &typ, &e.Weight, &e.CurrentScore); err != nil {
			return nil, eris.Wrap(err, "scorer: scan event")
		}
		e.Type = model.QualityEventType(typ)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "scorer: iterate events")
	}
	return events, nil
}

// persistScores writes every update in one statement.
func persistScores(ctx context.Context, tx pgx.Tx, updates []Update, at time.Time) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	scores := make([]float64, len(updates))
	for i, u := range updates {
		ids[i] = u.LeadID
		scores[i] = u.Score
	}

	_, err := tx.Exec(ctx, `
		UPDATE leads AS l
		SET global_score = u.score, last_quality_update = $3
		FROM unnest($1::text[], $2::float8[]) AS u(id, score)
		WHERE l.id::text = u.id`, ids, scores, at)
	if err != nil {
		return eris.Wrap(err, "scorer: update lead scores")
	}
	return nil
}

// reviewCohorts averages scores per jurisdiction and trade tag. A lead with
// several tags counts toward each of them.
func reviewCohorts(ctx context.Context, tx pgx.Tx, cfg Config) ([]model.ReviewCohort, error) {
	rows, err := tx.Query(ctx, `
		SELECT COALESCE(l.jurisdiction, ''), t.trade, count(*)::int, avg(l.global_score)::float8
		FROM leads l
		CROSS JOIN LATERAL unnest(l.trade_tags) AS t(trade)
		WHERE l.global_score IS NOT NULL
		GROUP BY l.jurisdiction, t.trade
		HAVING count(*) >= $1
		ORDER BY l.jurisdiction, t.trade`, cfg.ReviewMinLeads)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: query review cohorts")
	}
	defer rows.Close()

	var out []model.ReviewCohort
	for rows.Next() {
		var c model.ReviewCohort
		if err := rows.Scan(&c.Jurisdiction, &c.Trade, &c.Leads, &c.AvgScore); err != nil {
			return nil, eris.Wrap(err, "scorer: scan cohort")
		}
		c.Flagged = c.AvgScore < cfg.ReviewThreshold
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "scorer: iterate cohorts")
	}
	return out, nil
}
