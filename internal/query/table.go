// Package query implements the tabular planner/executor: a hand-written
// recursive-descent SQL-like parser, a logical planner resolving table
// references against the extension registry, and a pull-style executor
// that yields bounded columnar pages.
package query

import (
	"context"

	"github.com/reiase/probing/internal/proto"
)

// PageRowCap is the server-wide bound on the number of rows the engine
// puts in a single page.
const PageRowCap = 4096

// ScanOptions carries the predicates and limits a Table MAY push down.
// A Table that does not implement PredicatePusher simply ignores these
// and returns all of its rows; the engine applies filtering itself.
type ScanOptions struct {
	// Projection, if non-empty, restricts which columns the table need
	// materialize. Extensions unable to project simply return every
	// column; the engine drops the rest.
	Projection []string

	// Limit caps the total number of rows the table should produce, or
	// 0 for unbounded.
	Limit int
}

// PageIterator yields successive pages of a table scan. Next returns
// (Page{}, false, nil) once exhausted, or a non-nil error on failure.
// Implementations must check ctx between pages so cancellation
// propagates at batch boundaries.
type PageIterator interface {
	Next(ctx context.Context) (proto.Page, bool, error)
	Close() error
}

// Table is a named source of rows with a fixed schema, static or
// dynamic.
type Table interface {
	Schema() proto.Schema
	Scan(ctx context.Context, opts ScanOptions) (PageIterator, error)
}

// PredicatePusher is implemented by tables that can evaluate simple
// predicates themselves instead of having the engine filter returned
// pages. Predicates not accepted here are applied by the engine.
type PredicatePusher interface {
	PushPredicates(preds []Predicate) (accepted []Predicate, remaining []Predicate)
}

// CmpOp enumerates the comparison operators a simple predicate may use.
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
	CmpLike
)

// Predicate is a single `column OP literal` comparison. Conjunctions and
// disjunctions of these form a query's WHERE clause.
type Predicate struct {
	Column string
	Op     CmpOp
	Value  proto.Value
}

// sliceIterator is a convenience PageIterator over pre-built pages, used
// by static tables and by the engine's own intermediate results.
type sliceIterator struct {
	pages []proto.Page
	pos   int
}

// NewSliceIterator returns a PageIterator that yields pages in order.
func NewSliceIterator(pages []proto.Page) PageIterator {
	return &sliceIterator{pages: pages}
}

func (it *sliceIterator) Next(ctx context.Context) (proto.Page, bool, error) {
	if err := ctx.Err(); err != nil {
		return proto.Page{}, false, err
	}
	if it.pos >= len(it.pages) {
		return proto.Page{}, false, nil
	}
	p := it.pages[it.pos]
	it.pos++
	return p, true, nil
}

func (it *sliceIterator) Close() error { return nil }

// Paginate splits rows (already laid out column-major in one logical
// page) into PageRowCap-sized pages.
func Paginate(full proto.Page) []proto.Page {
	total := full.NumRows()
	if total <= PageRowCap {
		if total == 0 {
			return nil
		}
		return []proto.Page{full}
	}
	var out []proto.Page
	for start := 0; start < total; start += PageRowCap {
		end := start + PageRowCap
		if end > total {
			end = total
		}
		out = append(out, slicePage(full, start, end))
	}
	return out
}

func slicePage(p proto.Page, start, end int) proto.Page {
	cols := make([]proto.Column, len(p.Columns))
	for i, c := range p.Columns {
		nc := proto.Column{Name: c.Name, Type: c.Type}
		if c.Nulls != nil {
			nc.Nulls = append([]bool(nil), c.Nulls[start:end]...)
		}
		switch c.Type {
		case proto.TypeBool:
			nc.Bools = append([]bool(nil), c.Bools[start:end]...)
		case proto.TypeInt8, proto.TypeInt16, proto.TypeInt32, proto.TypeInt64:
			nc.Ints = append([]int64(nil), c.Ints[start:end]...)
		case proto.TypeUint8, proto.TypeUint16, proto.TypeUint32, proto.TypeUint64:
			nc.Uints = append([]uint64(nil), c.Uints[start:end]...)
		case proto.TypeFloat32, proto.TypeFloat64:
			nc.Floats = append([]float64(nil), c.Floats[start:end]...)
		case proto.TypeString:
			nc.Strings = append([]string(nil), c.Strings[start:end]...)
		case proto.TypeBytes:
			nc.Bytes = append([][]byte(nil), c.Bytes[start:end]...)
		case proto.TypeTimestamp:
			nc.Timestamps = append([]int64(nil), c.Timestamps[start:end]...)
		}
		cols[i] = nc
	}
	return proto.Page{Columns: cols}
}
