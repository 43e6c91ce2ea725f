package query

import "github.com/reiase/probing/internal/proto"

// SelectStmt is the parsed form of one query statement.
type SelectStmt struct {
	Columns  []SelectItem
	From     TableRef
	Joins    []JoinClause
	Where    Expr
	GroupBy  []string
	Having   Expr
	OrderBy  []OrderItem
	Limit    int
	HasLimit bool
}

// SelectItem is one entry of the SELECT list.
type SelectItem struct {
	Star  bool
	Expr  Expr
	Alias string
}

// OutputName is the column name this item contributes to the result,
// preferring an explicit alias.
func (s SelectItem) OutputName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Expr.String()
}

// TableRef names a table reference: either `namespace.name` (a
// registered table) or `namespace."<inline text>"` (an
// extension-interpreted inline source, e.g. a script snippet).
type TableRef struct {
	Namespace string
	Name      string
	Inline    bool
	Alias     string
}

// EffectiveAlias returns the name other clauses use to qualify columns
// from this table reference.
func (t TableRef) EffectiveAlias() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// JoinClause is one `JOIN <table> ON <expr>` clause. Only inner joins
// are supported.
type JoinClause struct {
	Table TableRef
	On    Expr
}

// OrderItem is one `ORDER BY <expr> [ASC|DESC]` term.
type OrderItem struct {
	Expr       Expr
	Descending bool
}

// Expr is any scalar expression: a column reference, a literal, a
// unary/binary operation, an aggregate call, or a window call.
type Expr interface {
	String() string
}

// ColumnRef references a column, optionally qualified by table alias.
type ColumnRef struct {
	Table string
	Name  string
}

func (c ColumnRef) String() string {
	if c.Table != "" {
		return c.Table + "." + c.Name
	}
	return c.Name
}

// Literal is a constant value appearing in an expression.
type Literal struct {
	Value proto.Value
}

func (l Literal) String() string { return "literal" }

// BinOp enumerates binary comparison and logical operators.
type BinOp uint8

const (
	OpEq BinOp = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpLike
	OpAnd
	OpOr
)

// BinaryExpr is `Left OP Right`.
type BinaryExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (b BinaryExpr) String() string { return "binary" }

// NotExpr negates its operand.
type NotExpr struct{ Expr Expr }

func (n NotExpr) String() string { return "not" }

// AggFunc enumerates the supported aggregate functions.
type AggFunc uint8

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// AggCall is an aggregate function applied to one argument expression,
// or to `*` for COUNT(*).
type AggCall struct {
	Func AggFunc
	Arg  Expr // nil for COUNT(*)
}

func (a AggCall) String() string { return "agg" }

// WindowFunc enumerates the supported window functions.
type WindowFunc uint8

const (
	WinRowNumber WindowFunc = iota
	WinRank
	WinSum
	WinAvg
)

// WindowCall is a window function with an OVER clause partitioning and
// ordering the input relation.
type WindowCall struct {
	Func        WindowFunc
	Arg         Expr // nil for ROW_NUMBER/RANK
	PartitionBy []string
	OrderBy     []OrderItem
}

func (w WindowCall) String() string { return "window" }
