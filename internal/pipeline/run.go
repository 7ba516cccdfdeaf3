package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/permit-leads/internal/address"
	"github.com/sells-group/permit-leads/internal/dedupe"
	"github.com/sells-group/permit-leads/internal/metrics"
	"github.com/sells-group/permit-leads/internal/model"
	"github.com/sells-group/permit-leads/internal/parser"
	"github.com/sells-group/permit-leads/internal/sink"
)

// bufferSize bounds how far the parser may run ahead of normalize/geocode.
const bufferSize = 256

// Runner executes parse, normalize, geocode, dedupe and upsert in one process.
type Runner struct {
	parser   *parser.Parser
	geocoder Geocoder
	dedupe   dedupe.Config
	sink     sink.Sink
}

// NewRunner returns a Runner. A nil geocoder skips geocoding; a nil sink
// requires RunOptions.Output.
func NewRunner(p *parser.Parser, g Geocoder, d dedupe.Config, s sink.Sink) *Runner {
	return &Runner{parser: p, geocoder: g, dedupe: d, sink: s}
}

// RunOptions selects the input file and what happens to the final batch.
type RunOptions struct {
	File   string
	Source string
	// Output, when set, receives the final rows as NDJSON instead of the
	// sink (dry run).
	Output io.Writer
}

// Report summarizes one run.
type Report struct {
	RunID    string
	Rows     int
	Located  int
	Groups   int
	Upsert   sink.Result
	DryRun   bool
	Duration time.Duration
}

// Run parses opts.File and pushes every row through the chain. The parser
// streams into the normalize/geocode loop over a bounded channel; dedupe and
// upsert then work on the materialized batch.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Report, error) {
	start := time.Now()
	rep := Report{RunID: uuid.NewString(), DryRun: opts.Output != nil}
	log := zap.L().With(
		zap.String("run_id", rep.RunID),
		zap.String("source", opts.Source),
		zap.String("file", opts.File),
	)
	if !rep.DryRun && r.sink == nil {
		return rep, eris.New("pipeline: no sink configured and no dry-run output")
	}

	batch, err := r.collect(ctx, opts)
	if err != nil {
		return rep, err
	}
	rep.Rows = len(batch)
	rep.Located = countLocated(batch)
	log.Info("pipeline: rows collected", zap.Int("rows", rep.Rows), zap.Int("located", rep.Located))

	final := dedupe.New(r.dedupe).Assign(batch)
	rep.Groups = countGroups(final)
	metrics.ObserveRows(StageDedupe, len(final))

	if rep.DryRun {
		w := NewWriter(opts.Output)
		if err := w.WriteAll(final); err != nil {
			return rep, err
		}
		if err := w.Flush(); err != nil {
			return rep, err
		}
	} else {
		res, err := r.sink.Upsert(ctx, final)
		rep.Upsert = res
		if err != nil {
			return rep, eris.Wrap(err, "pipeline: upsert")
		}
		metrics.ObserveRows(StageUpsert, res.Rows)
	}

	rep.Duration = time.Since(start)
	log.Info("pipeline: run complete",
		zap.Int("rows", rep.Rows),
		zap.Int("groups", rep.Groups),
		zap.Int("chunks", rep.Upsert.Chunks),
		zap.Bool("dry_run", rep.DryRun),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

// collect runs parse as a producer and normalize/geocode as its consumer.
func (r *Runner) collect(ctx context.Context, opts RunOptions) ([]model.Permit, error) {
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan model.Permit, bufferSize)

	var parsed int
	g.Go(func() error {
		defer close(ch)
		rows, errs := r.parser.Stream(gctx, opts.File, opts.Source)
		for p := range rows {
			select {
			case ch <- p:
				parsed++
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return <-errs
	})

	var batch []model.Permit
	var geocoded int
	g.Go(func() error {
		for p := range ch {
			p = address.Normalize(p)
			if r.geocoder != nil {
				out, _, err := r.geocoder.Geocode(gctx, p)
				if err != nil {
					return eris.Wrap(err, "pipeline: geocode")
				}
				p = out
				geocoded++
			}
			batch = append(batch, p)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.ObserveRows(StageParse, parsed)
	metrics.ObserveRows(StageNormalize, len(batch))
	if r.geocoder != nil {
		metrics.ObserveRows(StageGeocode, geocoded)
	}
	return batch, nil
}

func countLocated(rows []model.Permit) int {
	n := 0
	for i := range rows {
		if rows[i].HasCoordinates() {
			n++
		}
	}
	return n
}

func countGroups(rows []model.Permit) int {
	seen := make(map[int64]struct{})
	for _, p := range rows {
		if p.DupeGroupID != nil {
			seen[*p.DupeGroupID] = struct{}{}
		}
	}
	return len(seen)
}
