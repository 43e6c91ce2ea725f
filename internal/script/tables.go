package script

import (
	"context"
	"sync"

	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
)

// backtraceTable backs script.backtrace. A plain query (no predicate)
// captures the main thread (tid 0); a
// `WHERE tid = N` is pushed down to capture goroutine N instead.
type backtraceTable struct {
	interp     Interpreter
	tid        int64
	withLocals bool
}

func (t *backtraceTable) Schema() proto.Schema {
	return proto.Schema{
		{Name: "tid", Type: proto.TypeInt64},
		{Name: "depth", Type: proto.TypeInt64},
		{Name: "func", Type: proto.TypeString},
		{Name: "file", Type: proto.TypeString},
		{Name: "lineno", Type: proto.TypeInt64},
		{Name: "frame_type", Type: proto.TypeString},
		{Name: "ip", Type: proto.TypeUint64},
	}
}

// PushPredicates accepts a single `tid = <int>` equality predicate,
// selecting which goroutine Scan captures.
func (t *backtraceTable) PushPredicates(preds []query.Predicate) (accepted, remaining []query.Predicate) {
	for _, p := range preds {
		if p.Column == "tid" && p.Op == query.CmpEq {
			t.tid = p.Value.Int
			accepted = append(accepted, p)
			continue
		}
		remaining = append(remaining, p)
	}
	return accepted, remaining
}

func (t *backtraceTable) Scan(ctx context.Context, opts query.ScanOptions) (query.PageIterator, error) {
	frames, err := t.interp.Backtrace(ctx, t.tid, t.withLocals)
	if err != nil {
		return nil, proto.AsError(err)
	}
	if opts.Limit > 0 && len(frames) > opts.Limit {
		frames = frames[:opts.Limit]
	}
	n := len(frames)
	tids := make([]int64, n)
	depths := make([]int64, n)
	funcs := make([]string, n)
	files := make([]string, n)
	lines := make([]int64, n)
	kinds := make([]string, n)
	ips := make([]uint64, n)
	ipNulls := make([]bool, n)
	for i, f := range frames {
		tids[i] = t.tid
		depths[i] = int64(f.Depth)
		funcs[i] = f.Func
		files[i] = f.File
		lines[i] = int64(f.Line)
		if f.Kind == FrameInterpreted {
			kinds[i] = "interpreted"
		} else {
			kinds[i] = "native"
		}
		if f.HasIP {
			ips[i] = f.IP
		} else {
			ipNulls[i] = true
		}
	}
	page := proto.Page{Columns: []proto.Column{
		{Name: "tid", Type: proto.TypeInt64, Ints: tids},
		{Name: "depth", Type: proto.TypeInt64, Ints: depths},
		{Name: "func", Type: proto.TypeString, Strings: funcs},
		{Name: "file", Type: proto.TypeString, Strings: files},
		{Name: "lineno", Type: proto.TypeInt64, Ints: lines},
		{Name: "frame_type", Type: proto.TypeString, Strings: kinds},
		{Name: "ip", Type: proto.TypeUint64, Uints: ips, Nulls: ipNulls},
	}}
	return query.NewSliceIterator(query.Paginate(page)), nil
}

// ringTable is a fixed-schema, bounded-capacity dynamic table fed by an
// explicit Append API rather than the query engine — the shape shared
// by script.variables and script.sampled_trace, both populated by a
// running instrumentation session rather than derived from a
// point-in-time capture.
type ringTable struct {
	mu       sync.RWMutex
	schema   proto.Schema
	rows     [][]proto.Value
	capacity int
}

func newRingTable(schema proto.Schema, capacity int) *ringTable {
	return &ringTable{schema: schema, capacity: capacity}
}

func (t *ringTable) Schema() proto.Schema { return t.schema }

func (t *ringTable) Append(values []proto.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, values)
	if t.capacity > 0 && len(t.rows) > t.capacity {
		t.rows = t.rows[len(t.rows)-t.capacity:]
	}
}

func (t *ringTable) Scan(ctx context.Context, opts query.ScanOptions) (query.PageIterator, error) {
	t.mu.RLock()
	rows := append([][]proto.Value(nil), t.rows...)
	t.mu.RUnlock()

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	page := columnarize(t.schema, rows)
	return query.NewSliceIterator(query.Paginate(page)), nil
}

func columnarize(schema proto.Schema, rows [][]proto.Value) proto.Page {
	cols := make([]proto.Column, len(schema))
	for ci, cd := range schema {
		col := proto.Column{Name: cd.Name, Type: cd.Type}
		switch cd.Type {
		case proto.TypeBool:
			col.Bools = make([]bool, len(rows))
		case proto.TypeFloat32, proto.TypeFloat64:
			col.Floats = make([]float64, len(rows))
		case proto.TypeString:
			col.Strings = make([]string, len(rows))
		case proto.TypeTimestamp:
			col.Timestamps = make([]int64, len(rows))
		case proto.TypeUint8, proto.TypeUint16, proto.TypeUint32, proto.TypeUint64:
			col.Uints = make([]uint64, len(rows))
		default:
			col.Ints = make([]int64, len(rows))
		}
		for ri, row := range rows {
			if ci >= len(row) {
				continue
			}
			v := row[ci]
			switch cd.Type {
			case proto.TypeBool:
				col.Bools[ri] = v.Bool
			case proto.TypeFloat32, proto.TypeFloat64:
				col.Floats[ri] = v.Float
			case proto.TypeString:
				col.Strings[ri] = v.Str
			case proto.TypeTimestamp:
				col.Timestamps[ri] = v.Timestamp
			case proto.TypeUint8, proto.TypeUint16, proto.TypeUint32, proto.TypeUint64:
				col.Uints[ri] = v.Uint
			default:
				col.Ints[ri] = v.Int
			}
		}
		cols[ci] = col
	}
	return proto.Page{Columns: cols}
}

// dynamicTable backs one user-declared table created through
// TableBuilder.Declare.
type dynamicTable struct {
	ring *ringTable
}

func (t *dynamicTable) Schema() proto.Schema { return t.ring.Schema() }
func (t *dynamicTable) Scan(ctx context.Context, opts query.ScanOptions) (query.PageIterator, error) {
	return t.ring.Scan(ctx, opts)
}

// dynamicAppender adapts a ringTable to the Appender contract user code
// calls with loosely-typed positional values.
type dynamicAppender struct {
	ring   *ringTable
	schema RecordSchema
}

func (a *dynamicAppender) Append(values []any) error {
	if len(values) != len(a.schema.Columns) {
		return proto.NewError(proto.ErrBadRequest,
			"script: table expects %d values, got %d", len(a.schema.Columns), len(values))
	}
	row := make([]proto.Value, len(values))
	for i, rc := range a.schema.Columns {
		row[i] = recordValue(rc.Type, values[i])
	}
	a.ring.Append(row)
	return nil
}

func recordValue(t RecordColumnType, v any) proto.Value {
	switch t {
	case RecBool:
		b, _ := v.(bool)
		return proto.Value{Type: proto.TypeBool, Bool: b}
	case RecInt:
		switch n := v.(type) {
		case int:
			return proto.IntValue(int64(n))
		case int64:
			return proto.IntValue(n)
		default:
			return proto.IntValue(0)
		}
	case RecFloat:
		switch n := v.(type) {
		case float64:
			return proto.FloatValue(n)
		case float32:
			return proto.FloatValue(float64(n))
		default:
			return proto.FloatValue(0)
		}
	default:
		return proto.StringValue(StringifyLocal(v))
	}
}

func toProtoType(t RecordColumnType) proto.ColumnType {
	switch t {
	case RecBool:
		return proto.TypeBool
	case RecInt:
		return proto.TypeInt64
	case RecFloat:
		return proto.TypeFloat64
	default:
		return proto.TypeString
	}
}
