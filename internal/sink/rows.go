// Package sink writes finished permit batches to the persisted store and
// triggers the permits-to-leads materialization.
package sink

import (
	"context"
	"strings"

	"github.com/sells-group/permit-leads/internal/model"
)

// Sink upserts a batch and materializes leads from it.
type Sink interface {
	Upsert(ctx context.Context, rows []model.Permit) (Result, error)
}

// Materialized is the store procedure's report.
type Materialized struct {
	Inserted int `json:"inserted_count"`
	Updated  int `json:"updated_count"`
	Total    int `json:"total_processed"`
}

// Result summarizes one Upsert call.
type Result struct {
	Rows   int
	Chunks int
	Leads  Materialized
}

// ConflictColumns is the store's unique constraint on permits.
var ConflictColumns = []string{"source", "external_permit_id"}

// Row is the store's column shape for one permit.
type Row struct {
	Source           string            `json:"source"`
	ExternalPermitID string            `json:"external_permit_id"`
	IssuedDate       *string           `json:"issued_date"`
	Trade            *string           `json:"trade"`
	Address          *string           `json:"address"`
	City             *string           `json:"city"`
	State            *string           `json:"state"`
	Zipcode          *string           `json:"zipcode"`
	County           *string           `json:"county"`
	Lat              *float64          `json:"lat"`
	Lon              *float64          `json:"lon"`
	DedupeKey        *string           `json:"dedupe_key"`
	DupeGroupID      *int64            `json:"dupe_group_id"`
	Raw              map[string]string `json:"raw"`
}

// Columns lists Row's store columns in Values order.
var Columns = []string{
	"source", "external_permit_id", "issued_date", "trade",
	"address", "city", "state", "zipcode", "county",
	"lat", "lon", "dedupe_key", "dupe_group_id", "raw",
}

// ToRow maps a permit to the store shape. The normalized street line wins
// over the raw address, the zip is cut to five characters, and the raw
// source record rides along unchanged for audit.
func ToRow(p model.Permit) Row {
	addr := p.Address
	if strings.TrimSpace(addr) == "" {
		addr = p.AddressRaw
	}
	zip := p.Zipcode
	if r := []rune(zip); len(r) > 5 {
		zip = string(r[:5])
	}
	raw := p.Raw
	if raw == nil {
		raw = map[string]string{}
	}
	return Row{
		Source:           p.Source,
		ExternalPermitID: p.ExternalPermitID,
		IssuedDate:       nullable(p.IssuedDate),
		Trade:            nullable(p.Trade),
		Address:          nullable(addr),
		City:             nullable(p.City),
		State:            nullable(p.State),
		Zipcode:          nullable(zip),
		County:           p.County,
		Lat:              p.Lat,
		Lon:              p.Lon,
		DedupeKey:        nullable(p.DedupeKey),
		DupeGroupID:      p.DupeGroupID,
		Raw:              raw,
	}
}

// Values returns the row in Columns order for COPY.
func (r Row) Values() []any {
	return []any{
		r.Source, r.ExternalPermitID, r.IssuedDate, r.Trade,
		r.Address, r.City, r.State, r.Zipcode, r.County,
		r.Lat, r.Lon, r.DedupeKey, r.DupeGroupID, r.Raw,
	}
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// chunks splits rows into consecutive slices of at most size.
func chunks[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]T
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
