// Package pipeline wires the permit stages together: each stage as an NDJSON
// filter, and the whole chain as one in-process run.
package pipeline

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/address"
	"github.com/sells-group/permit-leads/internal/dedupe"
	"github.com/sells-group/permit-leads/internal/metrics"
	"github.com/sells-group/permit-leads/internal/model"
	"github.com/sells-group/permit-leads/internal/parser"
	"github.com/sells-group/permit-leads/internal/sink"
	"github.com/sells-group/permit-leads/pkg/geocode"
)

// Stage names used in logs and metrics.
const (
	StageParse     = "parse"
	StageNormalize = "normalize"
	StageGeocode   = "geocode"
	StageDedupe    = "dedupe"
	StageUpsert    = "upsert"
)

// Geocoder resolves coordinates for one row.
type Geocoder interface {
	Geocode(ctx context.Context, p model.Permit) (model.Permit, geocode.Outcome, error)
}

// Parse streams path through the parser and writes raw rows.
func Parse(ctx context.Context, p *parser.Parser, path, source string, w *Writer) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rows, errs := p.Stream(ctx, path, source)

	n := 0
	for row := range rows {
		if err := w.Write(row); err != nil {
			return n, err
		}
		n++
	}
	if err := <-errs; err != nil {
		return n, err
	}
	metrics.ObserveRows(StageParse, n)
	return n, w.Flush()
}

// Normalize adds address components and the dedupe key to every row.
func Normalize(ctx context.Context, r *Reader, w *Writer) (int, error) {
	return filter(ctx, StageNormalize, r, w, func(_ context.Context, p model.Permit) (model.Permit, error) {
		return address.Normalize(p), nil
	})
}

// Geocode resolves coordinates and county for every row.
func Geocode(ctx context.Context, g Geocoder, r *Reader, w *Writer) (int, error) {
	return filter(ctx, StageGeocode, r, w, func(ctx context.Context, p model.Permit) (model.Permit, error) {
		out, _, err := g.Geocode(ctx, p)
		return out, err
	})
}

// Dedupe reads the whole batch, assigns dupe groups and writes it back.
func Dedupe(ctx context.Context, d *dedupe.Deduplicator, r *Reader, w *Writer) (int, error) {
	rows, err := r.ReadAll()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, eris.Wrap(err, "pipeline: dedupe cancelled")
	}

	out := d.Assign(rows)
	if err := w.WriteAll(out); err != nil {
		return 0, err
	}
	metrics.ObserveRows(StageDedupe, len(out))
	return len(out), w.Flush()
}

// Upsert reads the whole batch and sends it to the sink.
func Upsert(ctx context.Context, s sink.Sink, r *Reader) (sink.Result, error) {
	rows, err := r.ReadAll()
	if err != nil {
		return sink.Result{}, err
	}
	res, err := s.Upsert(ctx, rows)
	if err != nil {
		return res, err
	}
	metrics.ObserveRows(StageUpsert, res.Rows)
	return res, nil
}

// filter applies fn row by row, writing each result as soon as it is ready.
func filter(ctx context.Context, stage string, r *Reader, w *Writer, fn func(context.Context, model.Permit) (model.Permit, error)) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, eris.Wrapf(err, "pipeline: %s cancelled", stage)
		}

		p, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}

		out, err := fn(ctx, p)
		if err != nil {
			return n, eris.Wrapf(err, "pipeline: %s record %d", stage, n+1)
		}
		if err := w.Write(out); err != nil {
			return n, err
		}
		n++
	}

	metrics.ObserveRows(stage, n)
	zap.L().Info("pipeline: stage complete", zap.String("stage", stage), zap.Int("rows", n))
	return n, w.Flush()
}
