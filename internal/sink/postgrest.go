package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/metrics"
	"github.com/sells-group/permit-leads/internal/model"
	"github.com/sells-group/permit-leads/internal/resilience"
)

// PostgRESTConfig configures the REST sink.
type PostgRESTConfig struct {
	BaseURL    string // e.g. https://project.supabase.co/rest/v1
	ServiceKey string
	Table      string
	RPC        string
	ChunkSize  int
	Limit      int // materialization row limit
	Days       int // materialization lookback window
	Retry      resilience.RetryConfig
}

// PostgREST upserts through a PostgREST endpoint.
type PostgREST struct {
	cfg  PostgRESTConfig
	http *http.Client
}

// NewPostgREST returns a REST sink. A nil client gets a 60 second timeout.
func NewPostgREST(cfg PostgRESTConfig, hc *http.Client) *PostgREST {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.Table == "" {
		cfg.Table = "permits"
	}
	if cfg.RPC == "" {
		cfg.RPC = "upsert_leads_from_permits"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PostgREST{cfg: cfg, http: hc}
}

// Upsert sends rows in chunks with merge-on-conflict, then calls the
// materialization procedure once. Any non-2xx answer aborts the batch.
func (s *PostgREST) Upsert(ctx context.Context, permits []model.Permit) (Result, error) {
	rows := make([]Row, len(permits))
	for i, p := range permits {
		rows[i] = ToRow(p)
	}

	res := Result{Rows: len(rows)}
	endpoint := s.cfg.BaseURL + "/" + url.PathEscape(s.cfg.Table) +
		"?on_conflict=" + url.QueryEscape(strings.Join(ConflictColumns, ","))

	for i, chunk := range chunks(rows, s.cfg.ChunkSize) {
		body, err := json.Marshal(chunk)
		if err != nil {
			return res, eris.Wrap(err, "sink: marshal chunk")
		}
		if _, err := s.post(ctx, "upsert", endpoint, body, "resolution=merge-duplicates,return=minimal"); err != nil {
			return res, eris.Wrapf(err, "sink: chunk %d", i)
		}
		res.Chunks++
		metrics.ObserveUpsertChunk("postgrest")
		zap.L().Debug("sink: chunk upserted", zap.Int("chunk", i), zap.Int("rows", len(chunk)))
	}

	leads, err := s.materialize(ctx)
	if err != nil {
		return res, err
	}
	res.Leads = leads
	return res, nil
}

func (s *PostgREST) materialize(ctx context.Context) (Materialized, error) {
	body, err := json.Marshal(map[string]int{"limit": s.cfg.Limit, "days": s.cfg.Days})
	if err != nil {
		return Materialized{}, eris.Wrap(err, "sink: marshal rpc params")
	}
	resp, err := s.post(ctx, "rpc", s.cfg.BaseURL+"/rpc/"+url.PathEscape(s.cfg.RPC), body, "")
	if err != nil {
		return Materialized{}, eris.Wrap(err, "sink: materialize leads")
	}
	return decodeMaterialized(resp)
}

// decodeMaterialized accepts the report as an object or, for set-returning
// procedures, a one-element array.
func decodeMaterialized(body []byte) (Materialized, error) {
	var m Materialized
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return m, nil
	}
	if trimmed[0] == '[' {
		var list []Materialized
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return m, eris.Wrap(err, "sink: decode rpc response")
		}
		if len(list) > 0 {
			m = list[0]
		}
		return m, nil
	}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return m, eris.Wrap(err, "sink: decode rpc response")
	}
	return m, nil
}

func (s *PostgREST) post(ctx context.Context, op, endpoint string, body []byte, prefer string) ([]byte, error) {
	return resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "sink: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", s.cfg.ServiceKey)
		req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "sink: %s request", op)
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, eris.Wrapf(err, "sink: %s read body", op)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(serr, resp.StatusCode)
			}
			return nil, serr
		}
		return data, nil
	})
}
