package query

import (
	"context"
	"strings"

	"github.com/reiase/probing/internal/proto"
)

// relColumn names one column of an in-flight relation, qualified by the
// table alias it came from so joins can disambiguate.
type relColumn struct {
	Table string
	Name  string
	Type  proto.ColumnType
}

func (c relColumn) qualified() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// relation is the executor's row-oriented intermediate representation.
// Tabular diagnostic queries run over small result sets, so row-major
// storage keeps joins, grouping, and window evaluation straightforward
// at the cost of the columnar layout the wire format uses; pages are
// rebuilt at the end of execution.
type relation struct {
	columns []relColumn
	rows    [][]proto.Value
}

// materialize pulls every page of a table scan into a relation whose
// columns are qualified by alias.
func materialize(ctx context.Context, t Table, alias string) (*relation, error) {
	it, err := t.Scan(ctx, ScanOptions{})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	schema := t.Schema()
	rel := &relation{columns: make([]relColumn, len(schema))}
	for i, d := range schema {
		rel.columns[i] = relColumn{Table: alias, Name: d.Name, Type: d.Type}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, proto.NewError(proto.ErrCancelled, "%v", err)
		}
		page, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		n := page.NumRows()
		for row := 0; row < n; row++ {
			vals := make([]proto.Value, len(page.Columns))
			for c, col := range page.Columns {
				vals[c] = valueAt(col, row)
			}
			rel.rows = append(rel.rows, vals)
		}
	}
	return rel, nil
}

// valueAt extracts row i of column c as a proto.Value.
func valueAt(c proto.Column, i int) proto.Value {
	if c.Nulls != nil && i < len(c.Nulls) && c.Nulls[i] {
		return proto.NullValue(c.Type)
	}
	switch c.Type {
	case proto.TypeBool:
		return proto.BoolValue(c.Bools[i])
	case proto.TypeInt8, proto.TypeInt16, proto.TypeInt32, proto.TypeInt64:
		return proto.IntValue(c.Ints[i])
	case proto.TypeUint8, proto.TypeUint16, proto.TypeUint32, proto.TypeUint64:
		return proto.Value{Type: c.Type, Uint: c.Uints[i]}
	case proto.TypeFloat32, proto.TypeFloat64:
		return proto.FloatValue(c.Floats[i])
	case proto.TypeString:
		return proto.StringValue(c.Strings[i])
	case proto.TypeBytes:
		return proto.Value{Type: proto.TypeBytes, Bytes: c.Bytes[i]}
	case proto.TypeTimestamp:
		return proto.Value{Type: proto.TypeTimestamp, Timestamp: c.Timestamps[i]}
	default:
		return proto.NullValue(c.Type)
	}
}

// nestedLoopJoin returns the inner join of left and right under cond,
// evaluated row by row. Both sides must already be fully materialized.
func nestedLoopJoin(left, right *relation, cond Expr) (*relation, error) {
	out := &relation{columns: append(append([]relColumn(nil), left.columns...), right.columns...)}
	for _, lr := range left.rows {
		for _, rr := range right.rows {
			row := append(append([]proto.Value(nil), lr...), rr...)
			env := newEnv(out.columns, row)
			v, err := evalExpr(env, cond)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				out.rows = append(out.rows, row)
			}
		}
	}
	return out, nil
}

// env resolves column references against one row of a relation during
// expression evaluation.
type env struct {
	columns []relColumn
	row     []proto.Value
}

func newEnv(columns []relColumn, row []proto.Value) *env {
	return &env{columns: columns, row: row}
}

func (e *env) lookup(table, name string) (proto.Value, error) {
	for i, c := range e.columns {
		if c.Name == name && (table == "" || c.Table == table) {
			return e.row[i], nil
		}
	}
	return proto.Value{}, proto.NewError(proto.ErrBadRequest, "unknown column %q", strings.TrimPrefix(table+"."+name, "."))
}

func toPages(r *relation, projection []SelectItem) (proto.Page, error) {
	cols, indices, err := resolveProjection(r.columns, projection)
	if err != nil {
		return proto.Page{}, err
	}

	page := proto.Page{Columns: make([]proto.Column, len(cols))}
	for i, c := range cols {
		page.Columns[i] = proto.Column{Name: c.Name, Type: c.Type}
	}
	for _, row := range r.rows {
		for ci, idx := range indices {
			appendValue(&page.Columns[ci], row[idx])
		}
	}
	return page, nil
}

// resolveProjection expands `*` and named expressions against the
// relation's columns. For MVP purposes, projected expressions beyond
// plain column references must already exist as materialized columns
// (aggregates/windows are added to the relation before projection).
func resolveProjection(columns []relColumn, items []SelectItem) ([]relColumn, []int, error) {
	if len(items) == 1 && items[0].Star {
		idx := make([]int, len(columns))
		for i := range columns {
			idx[i] = i
		}
		return columns, idx, nil
	}

	var outCols []relColumn
	var outIdx []int
	for _, item := range items {
		if item.Star {
			for i, c := range columns {
				outCols = append(outCols, c)
				outIdx = append(outIdx, i)
			}
			continue
		}
		ref, ok := item.Expr.(ColumnRef)
		if !ok {
			// Aggregates and window calls were materialized into the
			// relation under their output name before projection.
			name := item.OutputName()
			idx := -1
			for i, c := range columns {
				if c.Name == name {
					idx = i
					break
				}
			}
			if idx == -1 {
				return nil, nil, proto.NewError(proto.ErrUnsupported, "projected expression %q must reference a materialized column", name)
			}
			outCols = append(outCols, relColumn{Name: name, Type: columns[idx].Type})
			outIdx = append(outIdx, idx)
			continue
		}
		idx := -1
		for i, c := range columns {
			if c.Name == ref.Name && (ref.Table == "" || c.Table == ref.Table) {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, nil, proto.NewError(proto.ErrBadRequest, "unknown column %q", ref.String())
		}
		name := item.OutputName()
		if name == "" {
			name = ref.Name
		}
		outCols = append(outCols, relColumn{Name: name, Type: columns[idx].Type})
		outIdx = append(outIdx, idx)
	}
	return outCols, outIdx, nil
}

func appendValue(c *proto.Column, v proto.Value) {
	null := v.Null
	c.Nulls = append(c.Nulls, null)
	switch c.Type {
	case proto.TypeBool:
		c.Bools = append(c.Bools, v.Bool)
	case proto.TypeInt8, proto.TypeInt16, proto.TypeInt32, proto.TypeInt64:
		c.Ints = append(c.Ints, v.Int)
	case proto.TypeUint8, proto.TypeUint16, proto.TypeUint32, proto.TypeUint64:
		c.Uints = append(c.Uints, v.Uint)
	case proto.TypeFloat32, proto.TypeFloat64:
		c.Floats = append(c.Floats, v.Float)
	case proto.TypeString:
		c.Strings = append(c.Strings, v.Str)
	case proto.TypeBytes:
		c.Bytes = append(c.Bytes, v.Bytes)
	case proto.TypeTimestamp:
		c.Timestamps = append(c.Timestamps, v.Timestamp)
	}
}

func truthy(v proto.Value) bool {
	if v.Null {
		return false
	}
	return v.Type == proto.TypeBool && v.Bool
}
