package sink

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/db"
	"github.com/sells-group/permit-leads/internal/metrics"
	"github.com/sells-group/permit-leads/internal/model"
)

// PostgresConfig configures the direct Postgres sink.
type PostgresConfig struct {
	Table     string // e.g. public.permits
	RPC       string
	ChunkSize int
	Limit     int
	Days      int
}

// Postgres upserts over a pgx pool, one transaction per chunk.
type Postgres struct {
	cfg  PostgresConfig
	pool db.Pool
}

// NewPostgres returns a Postgres sink.
func NewPostgres(pool db.Pool, cfg PostgresConfig) *Postgres {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.Table == "" {
		cfg.Table = "public.permits"
	}
	if cfg.RPC == "" {
		cfg.RPC = "upsert_leads_from_permits"
	}
	return &Postgres{cfg: cfg, pool: pool}
}

// Upsert writes rows chunk by chunk, then calls the materialization function.
func (s *Postgres) Upsert(ctx context.Context, permits []model.Permit) (Result, error) {
	res := Result{Rows: len(permits)}
	ucfg := db.UpsertConfig{
		Table:        s.cfg.Table,
		Columns:      Columns,
		ConflictKeys: ConflictColumns,
	}

	for i, chunk := range chunks(permits, s.cfg.ChunkSize) {
		values := make([][]any, len(chunk))
		for j, p := range chunk {
			values[j] = ToRow(p).Values()
		}
		n, err := db.BulkUpsert(ctx, s.pool, ucfg, values)
		if err != nil {
			return res, eris.Wrapf(err, "sink: chunk %d", i)
		}
		res.Chunks++
		metrics.ObserveUpsertChunk("postgres")
		zap.L().Debug("sink: chunk upserted", zap.Int("chunk", i), zap.Int64("rows", n))
	}

	var m Materialized
	err := s.pool.QueryRow(ctx,
		"SELECT inserted_count, updated_count, total_processed FROM "+rpcIdent(s.cfg.RPC)+"($1, $2)",
		s.cfg.Limit, s.cfg.Days,
	).Scan(&m.Inserted, &m.Updated, &m.Total)
	if err != nil {
		return res, eris.Wrap(err, "sink: materialize leads")
	}
	res.Leads = m
	return res, nil
}

func rpcIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
