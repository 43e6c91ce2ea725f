package seriesstore

import (
	"context"

	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
)

// seriesTable exposes one Series as a `series.<name>` query.Table with
// columns (ts, value).
type seriesTable struct {
	series *Series
}

// AsTable wraps s for exposure through the query engine.
func AsTable(s *Series) query.Table { return &seriesTable{series: s} }

func (t *seriesTable) Schema() proto.Schema {
	return proto.Schema{
		{Name: "ts", Type: proto.TypeTimestamp},
		{Name: "value", Type: proto.TypeFloat64},
	}
}

func (t *seriesTable) Scan(ctx context.Context, opts query.ScanOptions) (query.PageIterator, error) {
	rows, err := t.series.Snapshot()
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	ts := make([]int64, len(rows))
	vals := make([]float64, len(rows))
	for i, r := range rows {
		ts[i] = r.Timestamp
		vals[i] = r.Value
	}
	page := proto.Page{Columns: []proto.Column{
		{Name: "ts", Type: proto.TypeTimestamp, Timestamps: ts},
		{Name: "value", Type: proto.TypeFloat64, Floats: vals},
	}}
	return query.NewSliceIterator(query.Paginate(page)), nil
}

// Namespace exposes every series in a Store as the `series` query
// namespace.
type Namespace struct {
	store *Store
}

// NewNamespace wraps store for registration with the extension registry.
func NewNamespace(store *Store) *Namespace { return &Namespace{store: store} }

func (n *Namespace) Tables() []string { return n.store.Names() }

func (n *Namespace) Table(name string) (query.Table, bool) {
	s, ok := n.store.Get(name)
	if !ok {
		return nil, false
	}
	return AsTable(s), true
}
