package query

import (
	"fmt"
	"sort"

	"github.com/reiase/probing/internal/proto"
)

// groupAndAggregate partitions rel by GROUP BY key (or a single
// implicit group when GROUP BY is absent but aggregates are present),
// then evaluates each aggregate SELECT-list item per group, producing a
// new relation with one row per group and one column per GROUP BY key
// plus one per aggregate.
func groupAndAggregate(rel *relation, stmt *SelectStmt) (*relation, error) {
	type group struct {
		key  string
		rows [][]proto.Value
	}
	groups := map[string]*group{}
	var order []string

	keyOf := func(row []proto.Value) (string, []proto.Value, error) {
		keyVals := make([]proto.Value, len(stmt.GroupBy))
		var key string
		for i, name := range stmt.GroupBy {
			ref := columnRefFromDotted(name)
			idx := rel.indexForRef(ref)
			if idx == -1 {
				return "", nil, proto.NewError(proto.ErrBadRequest, "unknown GROUP BY column %q", name)
			}
			keyVals[i] = row[idx]
			key += fmt.Sprintf("%v\x1f", keyVals[i])
		}
		return key, keyVals, nil
	}

	var keyColumns []relColumn
	var firstRowByGroup = map[string][]proto.Value{}

	for _, row := range rel.rows {
		k, keyVals, err := keyOf(row)
		if err != nil {
			return nil, err
		}
		g, ok := groups[k]
		if !ok {
			g = &group{key: k}
			groups[k] = g
			order = append(order, k)
			firstRowByGroup[k] = row
			if keyColumns == nil {
				keyColumns = make([]relColumn, len(stmt.GroupBy))
				for i, name := range stmt.GroupBy {
					ref := columnRefFromDotted(name)
					idx := rel.indexForRef(ref)
					keyColumns[i] = relColumn{Name: ref.Name, Type: rel.columns[idx].Type}
				}
			}
			_ = keyVals
		}
		g.rows = append(g.rows, row)
	}
	if len(order) == 0 && len(stmt.GroupBy) == 0 {
		// COUNT(*) etc. over an empty input still yields one row.
		order = append(order, "")
		groups[""] = &group{}
	}

	aggItems := aggregateItems(stmt.Columns)
	outCols := append([]relColumn(nil), keyColumns...)
	for _, it := range aggItems {
		outCols = append(outCols, relColumn{Name: it.OutputName(), Type: aggResultType(it.Expr.(AggCall))})
	}

	out := &relation{columns: outCols}
	for _, k := range order {
		g := groups[k]
		row := make([]proto.Value, 0, len(outCols))
		if first, ok := firstRowByGroup[k]; ok {
			for _, name := range stmt.GroupBy {
				ref := columnRefFromDotted(name)
				idx := rel.indexForRef(ref)
				row = append(row, first[idx])
			}
		}
		for _, it := range aggItems {
			v, err := evalAggregate(rel.columns, g.rows, it.Expr.(AggCall))
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

func aggregateItems(items []SelectItem) []SelectItem {
	var out []SelectItem
	for _, it := range items {
		if _, ok := it.Expr.(AggCall); ok {
			out = append(out, it)
		}
	}
	return out
}

func aggResultType(a AggCall) proto.ColumnType {
	switch a.Func {
	case AggCount:
		return proto.TypeInt64
	default:
		return proto.TypeFloat64
	}
}

func evalAggregate(columns []relColumn, rows [][]proto.Value, a AggCall) (proto.Value, error) {
	if a.Func == AggCount && a.Arg == nil {
		return proto.IntValue(int64(len(rows))), nil
	}

	ref, ok := a.Arg.(ColumnRef)
	if !ok {
		return proto.Value{}, proto.NewError(proto.ErrUnsupported, "aggregate argument must be a column reference")
	}
	idx := -1
	for i, c := range columns {
		if c.Name == ref.Name && (ref.Table == "" || c.Table == ref.Table) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return proto.Value{}, proto.NewError(proto.ErrBadRequest, "unknown column %q", ref.String())
	}

	var sum float64
	var count int64
	var minV, maxV *float64
	for _, row := range rows {
		v := row[idx]
		if v.Null {
			continue
		}
		f := asFloat(v)
		sum += f
		count++
		if minV == nil || f < *minV {
			minV = &f
		}
		if maxV == nil || f > *maxV {
			maxV = &f
		}
	}

	switch a.Func {
	case AggCount:
		return proto.IntValue(count), nil
	case AggSum:
		return proto.FloatValue(sum), nil
	case AggAvg:
		if count == 0 {
			return proto.NullValue(proto.TypeFloat64), nil
		}
		return proto.FloatValue(sum / float64(count)), nil
	case AggMin:
		if minV == nil {
			return proto.NullValue(proto.TypeFloat64), nil
		}
		return proto.FloatValue(*minV), nil
	case AggMax:
		if maxV == nil {
			return proto.NullValue(proto.TypeFloat64), nil
		}
		return proto.FloatValue(*maxV), nil
	}
	return proto.Value{}, proto.NewError(proto.ErrInternal, "unknown aggregate function")
}

// applyWindows adds one computed column per window-function SELECT
// item, evaluated over the full relation partitioned and ordered as the
// OVER clause specifies.
func applyWindows(rel *relation, items []SelectItem) (*relation, error) {
	for _, it := range items {
		w, ok := it.Expr.(WindowCall)
		if !ok {
			continue
		}
		values, err := evalWindow(rel, w)
		if err != nil {
			return nil, err
		}
		rel.columns = append(rel.columns, relColumn{Name: it.OutputName(), Type: windowResultType(w)})
		for i := range rel.rows {
			rel.rows[i] = append(rel.rows[i], values[i])
		}
	}
	return rel, nil
}

func windowResultType(w WindowCall) proto.ColumnType {
	switch w.Func {
	case WinRowNumber, WinRank:
		return proto.TypeInt64
	default:
		return proto.TypeFloat64
	}
}

func evalWindow(rel *relation, w WindowCall) ([]proto.Value, error) {
	n := len(rel.rows)
	out := make([]proto.Value, n)

	partitions := map[string][]int{}
	var partOrder []string
	for i, row := range rel.rows {
		key := partitionKey(rel.columns, row, w.PartitionBy)
		if _, ok := partitions[key]; !ok {
			partOrder = append(partOrder, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	for _, key := range partOrder {
		idxs := partitions[key]
		sort.SliceStable(idxs, func(a, b int) bool {
			return lessByOrder(rel.columns, rel.rows[idxs[a]], rel.rows[idxs[b]], w.OrderBy)
		})

		var running float64
		var rank int
		var lastRow []proto.Value
		for pos, rowIdx := range idxs {
			switch w.Func {
			case WinRowNumber:
				out[rowIdx] = proto.IntValue(int64(pos + 1))
			case WinRank:
				if pos == 0 || !equalByOrder(rel.columns, rel.rows[rowIdx], lastRow, w.OrderBy) {
					rank = pos + 1
				}
				out[rowIdx] = proto.IntValue(int64(rank))
			case WinSum, WinAvg:
				v, err := evalExpr(newEnv(rel.columns, rel.rows[rowIdx]), w.Arg)
				if err != nil {
					return nil, err
				}
				running += asFloat(v)
				if w.Func == WinSum {
					out[rowIdx] = proto.FloatValue(running)
				} else {
					out[rowIdx] = proto.FloatValue(running / float64(pos+1))
				}
			}
			lastRow = rel.rows[rowIdx]
		}
	}
	return out, nil
}

func partitionKey(columns []relColumn, row []proto.Value, partBy []string) string {
	key := ""
	for _, name := range partBy {
		ref := columnRefFromDotted(name)
		for i, c := range columns {
			if c.Name == ref.Name && (ref.Table == "" || c.Table == ref.Table) {
				key += fmt.Sprintf("%v\x1f", row[i])
				break
			}
		}
	}
	return key
}

func lessByOrder(columns []relColumn, a, b []proto.Value, order []OrderItem) bool {
	for _, o := range order {
		ref, ok := o.Expr.(ColumnRef)
		if !ok {
			continue
		}
		for i, c := range columns {
			if c.Name == ref.Name && (ref.Table == "" || c.Table == ref.Table) {
				cmp := compareValues(a[i], b[i])
				if cmp == 0 {
					break
				}
				if o.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
		}
	}
	return false
}

func equalByOrder(columns []relColumn, a, b []proto.Value, order []OrderItem) bool {
	if a == nil || b == nil {
		return false
	}
	for _, o := range order {
		ref, ok := o.Expr.(ColumnRef)
		if !ok {
			continue
		}
		for i, c := range columns {
			if c.Name == ref.Name && (ref.Table == "" || c.Table == ref.Table) {
				if compareValues(a[i], b[i]) != 0 {
					return false
				}
				break
			}
		}
	}
	return true
}

func sortRelation(rel *relation, order []OrderItem) error {
	var sortErr error
	sort.SliceStable(rel.rows, func(i, j int) bool {
		less := lessByOrder(rel.columns, rel.rows[i], rel.rows[j], order)
		return less
	})
	return sortErr
}

// indexForRef resolves a ColumnRef against rel's columns.
func (r *relation) indexForRef(ref ColumnRef) int {
	for i, c := range r.columns {
		if c.Name == ref.Name && (ref.Table == "" || c.Table == ref.Table) {
			return i
		}
	}
	return -1
}
