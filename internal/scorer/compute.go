package scorer

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-leads/internal/model"
)

// Event is a recent quality event joined with its lead's current score.
type Event struct {
	LeadID       string
	Type         model.QualityEventType
	Weight       float64
	CurrentScore *float64
}

// Update is a recomputed score for one lead.
type Update struct {
	LeadID string
	Score  float64
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ComputeScores sums event weights per lead on top of the lead's current
// score (the default when null) and clamps the result. Leads whose sum is not
// a finite number are skipped and reported. Updates are ordered by lead id.
func ComputeScores(events []Event, cfg Config) ([]Update, []error) {
	type acc struct {
		base float64
		sum  float64
	}
	byLead := make(map[string]*acc)
	for _, e := range events {
		a, ok := byLead[e.LeadID]
		if !ok {
			a = &acc{base: cfg.DefaultScore}
			if e.CurrentScore != nil {
				a.base = *e.CurrentScore
			}
			byLead[e.LeadID] = a
		}
		a.sum += e.Weight
	}

	ids := make([]string, 0, len(byLead))
	for id := range byLead {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		out  = make([]Update, 0, len(ids))
		errs []error
	)
	for _, id := range ids {
		a := byLead[id]
		v := a.base + a.sum
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, eris.Errorf("scorer: lead %s has non-finite score (base %v, delta %v)", id, a.base, a.sum))
			continue
		}
		out = append(out, Update{LeadID: id, Score: Clamp(v, cfg.MinScore, cfg.MaxScore)})
	}
	return out, errs
}

// CountByType tallies events per event type.
func CountByType(events []Event) map[model.QualityEventType]int {
	out := make(map[model.QualityEventType]int)
	for _, e := range events {
		out[e.Type]++
	}
	return out
}
