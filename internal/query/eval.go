package query

import (
	"strings"

	"github.com/reiase/probing/internal/proto"
)

// evalExpr evaluates a scalar expression against one row's env.
// Aggregate and window calls are not evaluated here — the executor
// substitutes their results into the relation as plain columns before
// any expression referencing them is evaluated.
func evalExpr(e *env, expr Expr) (proto.Value, error) {
	switch x := expr.(type) {
	case Literal:
		return x.Value, nil
	case ColumnRef:
		return e.lookup(x.Table, x.Name)
	case NotExpr:
		v, err := evalExpr(e, x.Expr)
		if err != nil {
			return proto.Value{}, err
		}
		return proto.BoolValue(!truthy(v)), nil
	case BinaryExpr:
		return evalBinary(e, x)
	default:
		return proto.Value{}, proto.NewError(proto.ErrUnsupported, "expression %q cannot be evaluated as a scalar", expr.String())
	}
}

func evalBinary(e *env, b BinaryExpr) (proto.Value, error) {
	if b.Op == OpAnd {
		l, err := evalExpr(e, b.Left)
		if err != nil {
			return proto.Value{}, err
		}
		if !truthy(l) {
			return proto.BoolValue(false), nil
		}
		r, err := evalExpr(e, b.Right)
		if err != nil {
			return proto.Value{}, err
		}
		return proto.BoolValue(truthy(r)), nil
	}
	if b.Op == OpOr {
		l, err := evalExpr(e, b.Left)
		if err != nil {
			return proto.Value{}, err
		}
		if truthy(l) {
			return proto.BoolValue(true), nil
		}
		r, err := evalExpr(e, b.Right)
		if err != nil {
			return proto.Value{}, err
		}
		return proto.BoolValue(truthy(r)), nil
	}

	l, err := evalExpr(e, b.Left)
	if err != nil {
		return proto.Value{}, err
	}
	r, err := evalExpr(e, b.Right)
	if err != nil {
		return proto.Value{}, err
	}

	if b.Op == OpLike {
		return proto.BoolValue(matchLike(l.Str, r.Str)), nil
	}

	cmp := compareValues(l, r)
	switch b.Op {
	case OpEq:
		return proto.BoolValue(cmp == 0), nil
	case OpNE:
		return proto.BoolValue(cmp != 0), nil
	case OpLT:
		return proto.BoolValue(cmp < 0), nil
	case OpLE:
		return proto.BoolValue(cmp <= 0), nil
	case OpGT:
		return proto.BoolValue(cmp > 0), nil
	case OpGE:
		return proto.BoolValue(cmp >= 0), nil
	}
	return proto.Value{}, proto.NewError(proto.ErrInternal, "unknown binary operator")
}

// compareValues orders two values numerically if either side is
// numeric, lexically for strings, and treats null as less than
// anything non-null per SQL-ish convention used across the engine.
func compareValues(l, r proto.Value) int {
	if l.Null || r.Null {
		switch {
		case l.Null && r.Null:
			return 0
		case l.Null:
			return -1
		default:
			return 1
		}
	}
	if isNumeric(l) && isNumeric(r) {
		lf, rf := asFloat(l), asFloat(r)
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		default:
			return 0
		}
	}
	if l.Type == proto.TypeBool && r.Type == proto.TypeBool {
		if l.Bool == r.Bool {
			return 0
		}
		if !l.Bool {
			return -1
		}
		return 1
	}
	return strings.Compare(asString(l), asString(r))
}

func isNumeric(v proto.Value) bool {
	return v.Type.IsInteger() || v.Type.IsFloat() || v.Type == proto.TypeTimestamp
}

func asFloat(v proto.Value) float64 {
	switch {
	case v.Type.IsFloat():
		return v.Float
	case v.Type == proto.TypeTimestamp:
		return float64(v.Timestamp)
	case v.Type.IsSigned():
		return float64(v.Int)
	case v.Type.IsInteger():
		return float64(v.Uint)
	default:
		return 0
	}
}

func asString(v proto.Value) string {
	if v.Type == proto.TypeString {
		return v.Str
	}
	return v.Str
}

// matchLike implements the minimal '%'/'_' SQL LIKE wildcard semantics.
func matchLike(s, pattern string) bool {
	return likeMatch([]rune(s), []rune(pattern))
}

func likeMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if likeMatch(s, p[1:]) {
			return true
		}
		for len(s) > 0 {
			s = s[1:]
			if likeMatch(s, p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatch(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatch(s[1:], p[1:])
	}
}
