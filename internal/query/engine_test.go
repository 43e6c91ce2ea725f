package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiase/probing/internal/proto"
)

// memTable is a static table over one pre-built page.
type memTable struct {
	schema proto.Schema
	page   proto.Page
}

func (t *memTable) Schema() proto.Schema { return t.schema }

func (t *memTable) Scan(ctx context.Context, opts ScanOptions) (PageIterator, error) {
	return NewSliceIterator(Paginate(t.page)), nil
}

type memNamespace map[string]Table

func (n memNamespace) Tables() []string {
	var out []string
	for name := range n {
		out = append(out, name)
	}
	return out
}

func (n memNamespace) Table(name string) (Table, bool) {
	t, ok := n[name]
	return t, ok
}

type memCatalog map[string]memNamespace

func (c memCatalog) Namespace(name string) (Namespace, bool) {
	ns, ok := c[name]
	return ns, ok
}

func testCatalog() memCatalog {
	jobs := &memTable{
		schema: proto.Schema{
			{Name: "id", Type: proto.TypeInt64},
			{Name: "host", Type: proto.TypeString},
			{Name: "latency", Type: proto.TypeFloat64},
		},
		page: proto.Page{Columns: []proto.Column{
			{Name: "id", Type: proto.TypeInt64, Ints: []int64{1, 2, 3, 4}},
			{Name: "host", Type: proto.TypeString, Strings: []string{"alpha", "beta", "alpha", "gamma"}},
			{Name: "latency", Type: proto.TypeFloat64, Floats: []float64{12.5, 40, 7.5, 99}},
		}},
	}
	hosts := &memTable{
		schema: proto.Schema{
			{Name: "host", Type: proto.TypeString},
			{Name: "zone", Type: proto.TypeString},
		},
		page: proto.Page{Columns: []proto.Column{
			{Name: "host", Type: proto.TypeString, Strings: []string{"alpha", "beta"}},
			{Name: "zone", Type: proto.TypeString, Strings: []string{"eu", "us"}},
		}},
	}
	return memCatalog{"diag": memNamespace{"jobs": jobs, "hosts": hosts}}
}

func run(t *testing.T, cat Catalog, sql string) (proto.Schema, proto.Page) {
	t.Helper()
	stmt, err := Parse(sql)
	require.NoError(t, err)
	schema, pages, err := Execute(context.Background(), cat, stmt)
	require.NoError(t, err)
	if len(pages) == 0 {
		return schema, proto.Page{}
	}
	require.Len(t, pages, 1)
	return schema, pages[0]
}

func TestExecuteProjectionFilterOrderLimit(t *testing.T) {
	schema, page := run(t, testCatalog(),
		"SELECT host, latency FROM diag.jobs WHERE latency < 50 ORDER BY latency DESC LIMIT 2")
	require.Len(t, schema, 2)
	assert.Equal(t, "host", schema[0].Name)
	require.Equal(t, 2, page.NumRows())
	assert.Equal(t, []string{"beta", "alpha"}, page.Columns[0].Strings)
	assert.Equal(t, []float64{40, 12.5}, page.Columns[1].Floats)
}

func TestExecuteLikePredicate(t *testing.T) {
	_, page := run(t, testCatalog(),
		"SELECT id FROM diag.jobs WHERE host LIKE 'a%' ORDER BY id")
	assert.Equal(t, []int64{1, 3}, page.Columns[0].Ints)
}

func TestExecuteGroupByAggregates(t *testing.T) {
	schema, page := run(t, testCatalog(),
		"SELECT host, count(*) AS n, sum(latency) AS total FROM diag.jobs GROUP BY host ORDER BY host")
	require.Len(t, schema, 3)
	require.Equal(t, 3, page.NumRows())
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, page.Columns[0].Strings)
	assert.Equal(t, []int64{2, 1, 1}, page.Columns[1].Ints)
	assert.Equal(t, []float64{20, 40, 99}, page.Columns[2].Floats)
}

func TestExecuteHavingOnAlias(t *testing.T) {
	_, page := run(t, testCatalog(),
		"SELECT host, count(*) AS n FROM diag.jobs GROUP BY host HAVING n > 1")
	require.Equal(t, 1, page.NumRows())
	assert.Equal(t, "alpha", page.Columns[0].Strings[0])
}

func TestExecuteImplicitGroupAggregate(t *testing.T) {
	_, page := run(t, testCatalog(), "SELECT max(latency) AS worst FROM diag.jobs")
	require.Equal(t, 1, page.NumRows())
	assert.Equal(t, 99.0, page.Columns[0].Floats[0])
}

func TestExecuteJoin(t *testing.T) {
	_, page := run(t, testCatalog(),
		"SELECT jobs.id, hosts.zone FROM diag.jobs JOIN diag.hosts ON jobs.host = hosts.host ORDER BY jobs.id")
	require.Equal(t, 3, page.NumRows())
	assert.Equal(t, []int64{1, 2, 3}, page.Columns[0].Ints)
	assert.Equal(t, []string{"eu", "us", "eu"}, page.Columns[1].Strings)
}

func TestExecuteWindowRowNumber(t *testing.T) {
	_, page := run(t, testCatalog(),
		"SELECT id, row_number() OVER (PARTITION BY host ORDER BY latency) AS rn FROM diag.jobs ORDER BY id")
	require.Equal(t, 4, page.NumRows())
	// alpha: id 3 (7.5) ranks before id 1 (12.5); beta and gamma are
	// singleton partitions.
	assert.Equal(t, []int64{1, 2, 3, 4}, page.Columns[0].Ints)
	assert.Equal(t, []int64{2, 1, 1, 1}, page.Columns[1].Ints)
}

// pushTable records the predicates the engine offers it.
type pushTable struct {
	memTable
	pushed []Predicate
}

func (t *pushTable) PushPredicates(preds []Predicate) (accepted, remaining []Predicate) {
	t.pushed = append(t.pushed, preds...)
	return nil, preds
}

func TestExecutePredicatePushdown(t *testing.T) {
	src := testCatalog()["diag"]["jobs"].(*memTable)
	pt := &pushTable{memTable: *src}
	cat := memCatalog{"diag": memNamespace{"jobs": pt}}

	_, page := run(t, cat, "SELECT id FROM diag.jobs WHERE id = 2 AND latency > 1")
	require.Equal(t, 1, page.NumRows())
	assert.Equal(t, int64(2), page.Columns[0].Ints[0])

	require.Len(t, pt.pushed, 2)
	assert.Equal(t, Predicate{Column: "id", Op: CmpEq, Value: proto.IntValue(2)}, pt.pushed[0])
	assert.Equal(t, CmpGT, pt.pushed[1].Op)

	// Disjunctions stay engine-side.
	pt.pushed = nil
	_, page = run(t, cat, "SELECT id FROM diag.jobs WHERE id = 1 OR id = 4 ORDER BY id")
	require.Equal(t, 2, page.NumRows())
	assert.Empty(t, pt.pushed)
}

func TestExecuteUnknownTable(t *testing.T) {
	stmt, err := Parse("SELECT x FROM diag.nope")
	require.NoError(t, err)
	_, _, err = Execute(context.Background(), testCatalog(), stmt)
	require.Error(t, err)
	assert.Equal(t, proto.ErrNotFound, proto.AsError(err).Category)
}

func TestExecuteUnknownNamespace(t *testing.T) {
	stmt, err := Parse("SELECT x FROM nope.table1")
	require.NoError(t, err)
	_, _, err = Execute(context.Background(), testCatalog(), stmt)
	require.Error(t, err)
	assert.Equal(t, proto.ErrNotFound, proto.AsError(err).Category)
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stmt, err := Parse("SELECT id FROM diag.jobs")
	require.NoError(t, err)
	_, _, err = Execute(ctx, testCatalog(), stmt)
	require.Error(t, err)
}

// inlineNamespace resolves quoted inline references by wrapping the
// text into a single-row table, standing in for an extension that
// interprets the string as a command.
type inlineNamespace struct{ memNamespace }

func (n inlineNamespace) ResolveInline(text string) (Table, error) {
	return &memTable{
		schema: proto.Schema{{Name: "expr", Type: proto.TypeString}},
		page: proto.Page{Columns: []proto.Column{
			{Name: "expr", Type: proto.TypeString, Strings: []string{text}},
		}},
	}, nil
}

func TestExecuteInlineTableReference(t *testing.T) {
	cat := memCatalog{"script": nil}
	inline := inlineNamespace{memNamespace{}}
	catWith := catalogFunc(func(name string) (Namespace, bool) {
		if name == "script" {
			return inline, true
		}
		return cat.Namespace(name)
	})

	_, page := run(t, catWith, `SELECT expr FROM script."len(data)"`)
	require.Equal(t, 1, page.NumRows())
	assert.Equal(t, "len(data)", page.Columns[0].Strings[0])
}

type catalogFunc func(name string) (Namespace, bool)

func (f catalogFunc) Namespace(name string) (Namespace, bool) { return f(name) }

// TestExecuteSnapshotEquivalence: a completed query yields the same
// rows as the same query re-executed against a materialized snapshot
// of its input.
func TestExecuteSnapshotEquivalence(t *testing.T) {
	cat := testCatalog()
	const sql = "SELECT host, latency FROM diag.jobs WHERE latency >= 10 ORDER BY latency"

	stmt, err := Parse(sql)
	require.NoError(t, err)
	_, live, err := Execute(context.Background(), cat, stmt)
	require.NoError(t, err)

	// Materialize the snapshot: copy the source table wholesale into a
	// second catalog and rerun.
	src := cat["diag"]["jobs"].(*memTable)
	snapshot := memCatalog{"diag": memNamespace{"jobs": &memTable{schema: src.schema, page: src.page}}}
	stmt2, err := Parse(sql)
	require.NoError(t, err)
	_, again, err := Execute(context.Background(), snapshot, stmt2)
	require.NoError(t, err)

	assert.Equal(t, live, again)
}

func TestPaginateSplitsAtRowCap(t *testing.T) {
	n := PageRowCap + 10
	ints := make([]int64, n)
	for i := range ints {
		ints[i] = int64(i)
	}
	pages := Paginate(proto.Page{Columns: []proto.Column{{Name: "v", Type: proto.TypeInt64, Ints: ints}}})
	require.Len(t, pages, 2)
	assert.Equal(t, PageRowCap, pages[0].NumRows())
	assert.Equal(t, 10, pages[1].NumRows())
}
