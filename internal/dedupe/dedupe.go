// Package dedupe assigns duplicate-group ids to a materialized batch of
// permits.
package dedupe

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/metrics"
	"github.com/sells-group/permit-leads/internal/model"
)

// Config controls duplicate grouping.
type Config struct {
	// WindowSize is how many recent entries the fuzzy fallback compares
	// against: one per distinct key, plus one per keyless row that started
	// its own group. Keyless rows therefore shorten how far back a keyed
	// entry stays matchable. Evicted entries can no longer be fuzzy-matched.
	WindowSize int
	// PrefixLen is how many leading characters of the lowercased address are
	// compared.
	PrefixLen int
	// Threshold is the partial-ratio score a match must exceed.
	Threshold float64
}

// DefaultConfig returns the standard grouping settings.
func DefaultConfig() Config {
	return Config{WindowSize: 500, PrefixLen: 60, Threshold: 92}
}

// Stats summarizes one batch.
type Stats struct {
	Rows         int
	Groups       int
	ExactMatches int
	FuzzyMatches int
}

// Deduplicator holds the seen-key state for one pipeline run.
type Deduplicator struct {
	cfg    Config
	seen   map[string]int64
	recent *window
	nextID int64
	stats  Stats
}

// New returns a Deduplicator with empty state.
func New(cfg Config) *Deduplicator {
	d := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = d.WindowSize
	}
	if cfg.PrefixLen <= 0 {
		cfg.PrefixLen = d.PrefixLen
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	return &Deduplicator{
		cfg:    cfg,
		seen:   make(map[string]int64),
		recent: newWindow(cfg.WindowSize),
	}
}

// Assign sets DupeGroupID on every row, in order. Rows with a dedupe key
// group by exact key. Rows without one are fuzzy-matched by address prefix
// against the recent window and join the first group scoring above the
// threshold, or start a new group.
func (d *Deduplicator) Assign(rows []model.Permit) []model.Permit {
	out := make([]model.Permit, len(rows))
	for i, p := range rows {
		id := d.group(p)
		p.DupeGroupID = &id
		out[i] = p
	}

	zap.L().Info("dedupe: assigned groups",
		zap.Int("rows", d.stats.Rows),
		zap.Int("groups", d.stats.Groups),
		zap.Int("exact", d.stats.ExactMatches),
		zap.Int("fuzzy", d.stats.FuzzyMatches),
	)
	return out
}

func (d *Deduplicator) group(p model.Permit) int64 {
	d.stats.Rows++
	text := d.matchText(p)

	if p.DedupeKey != "" {
		if id, ok := d.seen[p.DedupeKey]; ok {
			d.stats.ExactMatches++
			return id
		}
		id := d.allocate()
		d.seen[p.DedupeKey] = id
		d.recent.push(entry{key: p.DedupeKey, text: text, group: id})
		return id
	}

	if id, ok := d.fuzzy(text); ok {
		d.stats.FuzzyMatches++
		metrics.ObserveFuzzyMatch()
		return id
	}
	id := d.allocate()
	if len(text) > 0 {
		d.recent.push(entry{text: text, group: id})
	}
	return id
}

func (d *Deduplicator) fuzzy(text []rune) (int64, bool) {
	if len(text) == 0 {
		return 0, false
	}
	var (
		match int64
		found bool
	)
	d.recent.each(func(e entry) bool {
		if partialRatio(text, e.text, d.cfg.Threshold) > d.cfg.Threshold {
			match, found = e.group, true
			return false
		}
		return true
	})
	return match, found
}

func (d *Deduplicator) allocate() int64 {
	d.nextID++
	d.stats.Groups++
	metrics.ObserveDupeGroup()
	return d.nextID
}

// matchText is the lowercased address prefix used for fuzzy comparison,
// falling back to the raw address text when no street line was extracted.
func (d *Deduplicator) matchText(p model.Permit) []rune {
	addr := p.Address
	if strings.TrimSpace(addr) == "" {
		addr = p.AddressRaw
	}
	r := []rune(strings.ToLower(strings.Join(strings.Fields(addr), " ")))
	if len(r) > d.cfg.PrefixLen {
		r = r[:d.cfg.PrefixLen]
	}
	return r
}

// Stats returns counters for the rows assigned so far.
func (d *Deduplicator) Stats() Stats {
	return d.stats
}
