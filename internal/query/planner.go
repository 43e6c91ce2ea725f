package query

import (
	"context"

	"github.com/reiase/probing/internal/proto"
)

// Namespace is a named group of tables a data-source extension exposes.
// extension.Namespace is a type alias of this interface so the registry
// and the query engine share one definition without an import cycle
// (extension already imports query for query.Table).
type Namespace interface {
	Tables() []string
	Table(name string) (Table, bool)
}

// Catalog resolves `namespace.name` table references during planning.
// *extension.Registry implements this.
type Catalog interface {
	Namespace(name string) (Namespace, bool)
}

// InlineResolver resolves `namespace."<inline text>"` table references,
// where the inline text is interpreted by the named namespace's owning
// extension (e.g. a script snippet evaluated on demand). Extensions
// that support inline references implement this in addition to
// Catalog; it is optional.
type InlineResolver interface {
	ResolveInline(namespace, text string) (Table, error)
}

// resolveTableRef looks up the Table a TableRef names, via the catalog
// for plain references and via an InlineResolver for inline ones.
func resolveTableRef(cat Catalog, ref TableRef) (Table, error) {
	ns, ok := cat.Namespace(ref.Namespace)
	if !ok {
		return nil, proto.NewError(proto.ErrNotFound, "unknown namespace %q", ref.Namespace)
	}
	if ref.Inline {
		ir, ok := ns.(interface {
			ResolveInline(text string) (Table, error)
		})
		if !ok {
			if global, ok := cat.(InlineResolver); ok {
				return global.ResolveInline(ref.Namespace, ref.Name)
			}
			return nil, proto.NewError(proto.ErrUnsupported, "namespace %q does not support inline table references", ref.Namespace)
		}
		return ir.ResolveInline(ref.Name)
	}
	t, ok := ns.Table(ref.Name)
	if !ok {
		return nil, proto.NewError(proto.ErrNotFound, "unknown table %q.%q", ref.Namespace, ref.Name)
	}
	return t, nil
}

// Execute runs stmt to completion against cat, returning the result
// schema and the full set of result pages (already row-capped by
// Paginate). It materializes every source table up front —
// appropriate for a diagnostic engine whose inputs are small
// in-process tables, not a general-purpose streaming OLAP engine. The
// schema is always returned, even for a zero-row result, so clients
// can render an empty result with its column shape intact.
func Execute(ctx context.Context, cat Catalog, stmt *SelectStmt) (proto.Schema, []proto.Page, error) {
	rel, err := execFrom(ctx, cat, stmt)
	if err != nil {
		return nil, nil, err
	}

	if stmt.Where != nil {
		rel, err = filterRelation(rel, stmt.Where)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(stmt.GroupBy) > 0 || hasAggregates(stmt.Columns) {
		rel, err = groupAndAggregate(rel, stmt)
		if err != nil {
			return nil, nil, err
		}
		if stmt.Having != nil {
			rel, err = filterRelation(rel, stmt.Having)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	rel, err = applyWindows(rel, stmt.Columns)
	if err != nil {
		return nil, nil, err
	}

	if len(stmt.OrderBy) > 0 {
		if err := sortRelation(rel, stmt.OrderBy); err != nil {
			return nil, nil, err
		}
	}

	if stmt.HasLimit && len(rel.rows) > stmt.Limit {
		rel.rows = rel.rows[:stmt.Limit]
	}

	page, err := toPages(rel, stmt.Columns)
	if err != nil {
		return nil, nil, err
	}
	schema := make(proto.Schema, len(page.Columns))
	for i, c := range page.Columns {
		schema[i] = proto.ColumnDescriptor{Name: c.Name, Type: c.Type}
	}
	return schema, Paginate(page), nil
}

func execFrom(ctx context.Context, cat Catalog, stmt *SelectStmt) (*relation, error) {
	t, err := resolveTableRef(cat, stmt.From)
	if err != nil {
		return nil, err
	}
	offerPredicates(t, stmt.Where)
	rel, err := materialize(ctx, t, stmt.From.EffectiveAlias())
	if err != nil {
		return nil, err
	}

	for _, j := range stmt.Joins {
		jt, err := resolveTableRef(cat, j.Table)
		if err != nil {
			return nil, err
		}
		jrel, err := materialize(ctx, jt, j.Table.EffectiveAlias())
		if err != nil {
			return nil, err
		}
		rel, err = nestedLoopJoin(rel, jrel, j.On)
		if err != nil {
			return nil, err
		}
	}
	return rel, nil
}

// offerPredicates hands the simple conjunctive predicates of a WHERE
// clause to a table that advertises pushdown, letting it constrain the
// scan (e.g. which goroutine a backtrace capture targets). The engine
// re-applies the full WHERE over returned pages regardless, so a table
// that accepts a predicate only loosely still yields a correct result.
func offerPredicates(t Table, where Expr) {
	pp, ok := t.(PredicatePusher)
	if !ok || where == nil {
		return
	}
	preds := conjunctivePredicates(where)
	if len(preds) > 0 {
		pp.PushPredicates(preds)
	}
}

// conjunctivePredicates flattens `a AND b AND ...` into the simple
// `column OP literal` comparisons it contains; anything else (OR, NOT,
// nested expressions) yields nothing and stays engine-side.
func conjunctivePredicates(e Expr) []Predicate {
	b, ok := e.(BinaryExpr)
	if !ok {
		return nil
	}
	if b.Op == OpAnd {
		return append(conjunctivePredicates(b.Left), conjunctivePredicates(b.Right)...)
	}
	ref, ok := b.Left.(ColumnRef)
	if !ok {
		return nil
	}
	lit, ok := b.Right.(Literal)
	if !ok {
		return nil
	}
	var op CmpOp
	switch b.Op {
	case OpEq:
		op = CmpEq
	case OpNE:
		op = CmpNE
	case OpLT:
		op = CmpLT
	case OpLE:
		op = CmpLE
	case OpGT:
		op = CmpGT
	case OpGE:
		op = CmpGE
	case OpLike:
		op = CmpLike
	default:
		return nil
	}
	return []Predicate{{Column: ref.Name, Op: op, Value: lit.Value}}
}

func filterRelation(rel *relation, pred Expr) (*relation, error) {
	out := &relation{columns: rel.columns}
	for _, row := range rel.rows {
		v, err := evalExpr(newEnv(rel.columns, row), pred)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

func hasAggregates(items []SelectItem) bool {
	for _, it := range items {
		if _, ok := it.Expr.(AggCall); ok {
			return true
		}
	}
	return false
}
