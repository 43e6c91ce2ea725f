package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
)

func scanAll(t *testing.T, tbl query.Table) proto.Page {
	t.Helper()
	it, err := tbl.Scan(context.Background(), query.ScanOptions{})
	require.NoError(t, err)
	defer it.Close()
	var merged proto.Page
	for {
		page, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return merged
		}
		if merged.Columns == nil {
			merged = page
		} else {
			for i := range merged.Columns {
				appendColumn(&merged.Columns[i], page.Columns[i])
			}
		}
	}
}

func appendColumn(dst *proto.Column, src proto.Column) {
	dst.Ints = append(dst.Ints, src.Ints...)
	dst.Strings = append(dst.Strings, src.Strings...)
	dst.Floats = append(dst.Floats, src.Floats...)
}

func TestBridgeBuiltinTables(t *testing.T) {
	b := NewBridge(NewGoInterpreter())
	ns, ok := b.Namespace("script")
	require.True(t, ok)

	names := ns.Tables()
	assert.Contains(t, names, "backtrace")
	assert.Contains(t, names, "variables")
	assert.Contains(t, names, "sampled_trace")

	b.RecordVariable(1, "train_step", "loss", "0.25")
	b.RecordVariable(2, "train_step", "loss", "0.19")

	vt, ok := ns.Table("variables")
	require.True(t, ok)
	page := scanAll(t, vt)
	require.Equal(t, 2, page.NumRows())
	assert.Equal(t, []int64{1, 2}, page.Columns[0].Ints)
	assert.Equal(t, "loss", page.Columns[2].Strings[0])
}

func TestBridgeSampledTrace(t *testing.T) {
	b := NewBridge(NewGoInterpreter())
	b.RecordSample(SampledTraceEntry{
		Step: 3, Seq: 1, Module: "encoder.layer0", Stage: "forward",
		Allocated: 1 << 20, MaxAllocated: 2 << 20, TimeOffset: 0.5, Duration: 0.01,
	})
	ns, _ := b.Namespace("script")
	st, ok := ns.Table("sampled_trace")
	require.True(t, ok)
	page := scanAll(t, st)
	require.Equal(t, 1, page.NumRows())
	assert.Equal(t, "encoder.layer0", page.Columns[2].Strings[0])
	assert.Equal(t, "forward", page.Columns[3].Strings[0])
}

func TestBridgeDeclareDynamicTable(t *testing.T) {
	b := NewBridge(NewGoInterpreter())
	app, err := b.Declare("gradients", RecordSchema{Columns: []RecordColumn{
		{Name: "layer", Type: RecString},
		{Name: "norm", Type: RecFloat},
	}})
	require.NoError(t, err)

	require.NoError(t, app.Append([]any{"layer0", 0.5}))
	require.NoError(t, app.Append([]any{"layer1", 1.25}))

	ns, _ := b.Namespace("script")
	tbl, ok := ns.Table("gradients")
	require.True(t, ok)
	page := scanAll(t, tbl)
	require.Equal(t, 2, page.NumRows())
	assert.Equal(t, []string{"layer0", "layer1"}, page.Columns[0].Strings)
	assert.Equal(t, []float64{0.5, 1.25}, page.Columns[1].Floats)

	// Built-in names and duplicates are rejected.
	_, err = b.Declare("backtrace", RecordSchema{})
	require.Error(t, err)
	assert.Equal(t, proto.ErrConflict, proto.AsError(err).Category)
	_, err = b.Declare("gradients", RecordSchema{})
	require.Error(t, err)
}

// cannedInterpreter returns fixed eval output, for exercising the
// bridge without a live yaegi instance.
type cannedInterpreter struct {
	GoInterpreter
	stdout string
}

func (c *cannedInterpreter) Eval(ctx context.Context, code string, opts EvalOptions) EvalResult {
	return EvalResult{Stdout: []byte(c.stdout)}
}

func TestBridgeInlineTable(t *testing.T) {
	b := NewBridge(&cannedInterpreter{stdout: "alpha\nbeta\n"})
	ns, ok := b.Namespace("script")
	require.True(t, ok)

	ir, ok := ns.(interface {
		ResolveInline(text string) (query.Table, error)
	})
	require.True(t, ok, "script namespace must support inline references")

	tbl, err := ir.ResolveInline("list_workers()")
	require.NoError(t, err)
	page := scanAll(t, tbl)
	require.Equal(t, 2, page.NumRows())
	assert.Equal(t, []string{"alpha", "beta"}, page.Columns[0].Strings)
}

func TestGoInterpreterEvalIsolation(t *testing.T) {
	g := NewGoInterpreter()

	res := g.Eval(context.Background(), `panic("boom")`, EvalOptions{})
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "boom")

	res = g.Eval(context.Background(), "1 + 2", EvalOptions{})
	require.NoError(t, res.Err)
}

func TestGoInterpreterBacktrace(t *testing.T) {
	g := NewGoInterpreter()
	frames, err := g.Backtrace(context.Background(), 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	assert.Equal(t, 0, frames[0].Depth)
	for i, f := range frames {
		assert.Equal(t, i, f.Depth)
		assert.NotEmpty(t, f.Func)
	}
}

func TestGoInterpreterThreads(t *testing.T) {
	g := NewGoInterpreter()
	tids, err := g.Threads(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tids)
}

func TestStringifyLocalCycleTruncation(t *testing.T) {
	type node struct {
		Name string
		Next *node
	}
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	out := StringifyLocal(a)
	assert.Contains(t, out, "<cycle>")
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")

	// Acyclic values render without the placeholder.
	assert.NotContains(t, StringifyLocal(map[string]int{"x": 1}), "<cycle>")
	assert.Equal(t, "<nil>", StringifyLocal(nil))
}
