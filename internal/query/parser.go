package query

import (
	"fmt"
	"strings"

	"github.com/reiase/probing/internal/proto"
)

// parser consumes a token stream and produces a SelectStmt. It is a
// plain recursive-descent parser over a minimal dialect: SELECT
// projection/filter/order/limit/group/having/window/JOIN.
type parser struct {
	toks []token
	pos  int
}

// Parse compiles a query string into a SelectStmt.
func Parse(input string) (*SelectStmt, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, proto.NewError(proto.ErrBadRequest, "%v", err)
	}
	p := &parser{toks: toks}
	stmt, err := p.parseSelect()
	if err != nil {
		return nil, proto.NewError(proto.ErrBadRequest, "query: %v", err)
	}
	if !p.atEOF() && !p.peekPunct(";") {
		return nil, proto.NewError(proto.ErrBadRequest, "query: unexpected trailing input near %q", p.cur().text)
	}
	return stmt, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) atEOF() bool { return p.cur().kind == tokEOF }

func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) peekKeyword(kw string) bool {
	return p.cur().kind == tokKeyword && p.cur().text == kw
}

func (p *parser) peekPunct(s string) bool {
	return p.cur().kind == tokPunct && p.cur().text == s
}

func (p *parser) eatKeyword(kw string) error {
	if !p.peekKeyword(kw) {
		return fmt.Errorf("expected %q, got %q", kw, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) eatPunct(s string) error {
	if !p.peekPunct(s) {
		return fmt.Errorf("expected %q, got %q", s, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) parseSelect() (*SelectStmt, error) {
	if err := p.eatKeyword("select"); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{}

	cols, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if err := p.eatKeyword("from"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.From = from

	for p.peekKeyword("join") {
		p.advance()
		jt, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		if err := p.eatKeyword("on"); err != nil {
			return nil, err
		}
		on, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, JoinClause{Table: jt, On: on})
	}

	if p.peekKeyword("where") {
		p.advance()
		w, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.peekKeyword("group") {
		p.advance()
		if err := p.eatKeyword("by"); err != nil {
			return nil, err
		}
		for {
			name, err := p.parseQualifiedIdent()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, name)
			if p.peekPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if p.peekKeyword("having") {
		p.advance()
		h, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = h
	}

	if p.peekKeyword("order") {
		p.advance()
		if err := p.eatKeyword("by"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseOrExpr()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: e}
			if p.peekKeyword("asc") {
				p.advance()
			} else if p.peekKeyword("desc") {
				p.advance()
				item.Descending = true
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if p.peekPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if p.peekKeyword("limit") {
		p.advance()
		if p.cur().kind != tokNumber {
			return nil, fmt.Errorf("expected number after LIMIT")
		}
		stmt.Limit = int(p.advance().intVal)
		stmt.HasLimit = true
	}

	return stmt, nil
}

func (p *parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		if p.peekPunct("*") {
			p.advance()
			items = append(items, SelectItem{Star: true})
		} else {
			e, err := p.parseSelectExpr()
			if err != nil {
				return nil, err
			}
			item := SelectItem{Expr: e}
			if p.peekKeyword("as") {
				p.advance()
				if p.cur().kind != tokIdent {
					return nil, fmt.Errorf("expected alias identifier after AS")
				}
				item.Alias = p.advance().text
			}
			items = append(items, item)
		}
		if p.peekPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

// parseSelectExpr parses one SELECT-list expression: an aggregate call,
// a window call, or a plain scalar expression.
func (p *parser) parseSelectExpr() (Expr, error) {
	if p.cur().kind == tokIdent {
		switch strings.ToLower(p.cur().text) {
		case "count", "sum", "avg", "min", "max":
			return p.parseAggOrWindow()
		case "row_number", "rank":
			return p.parseWindowOnly()
		}
	}
	return p.parseOrExpr()
}

func (p *parser) parseAggOrWindow() (Expr, error) {
	name := strings.ToLower(p.advance().text)
	if err := p.eatPunct("("); err != nil {
		return nil, err
	}
	var arg Expr
	if p.peekPunct("*") {
		p.advance()
	} else {
		e, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		arg = e
	}
	if err := p.eatPunct(")"); err != nil {
		return nil, err
	}

	fn := map[string]AggFunc{"count": AggCount, "sum": AggSum, "avg": AggAvg, "min": AggMin, "max": AggMax}[name]

	if p.peekKeyword("over") {
		if fn != AggSum && fn != AggAvg {
			return nil, fmt.Errorf("%s() has no running form; only sum and avg accept OVER", name)
		}
		return p.parseOver(aggToWindowFunc(fn), arg)
	}
	return AggCall{Func: fn, Arg: arg}, nil
}

func aggToWindowFunc(f AggFunc) WindowFunc {
	switch f {
	case AggSum:
		return WinSum
	case AggAvg:
		return WinAvg
	default:
		return WinSum
	}
}

func (p *parser) parseWindowOnly() (Expr, error) {
	name := strings.ToLower(p.advance().text)
	if err := p.eatPunct("("); err != nil {
		return nil, err
	}
	if err := p.eatPunct(")"); err != nil {
		return nil, err
	}
	fn := WinRowNumber
	if name == "rank" {
		fn = WinRank
	}
	return p.parseOver(fn, nil)
}

func (p *parser) parseOver(fn WindowFunc, arg Expr) (Expr, error) {
	if err := p.eatKeyword("over"); err != nil {
		return nil, err
	}
	if err := p.eatPunct("("); err != nil {
		return nil, err
	}
	w := WindowCall{Func: fn, Arg: arg}
	if p.peekKeyword("partition") {
		p.advance()
		if err := p.eatKeyword("by"); err != nil {
			return nil, err
		}
		for {
			name, err := p.parseQualifiedIdent()
			if err != nil {
				return nil, err
			}
			w.PartitionBy = append(w.PartitionBy, name)
			if p.peekPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.peekKeyword("order") {
		p.advance()
		if err := p.eatKeyword("by"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseOrExpr()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: e}
			if p.peekKeyword("asc") {
				p.advance()
			} else if p.peekKeyword("desc") {
				p.advance()
				item.Descending = true
			}
			w.OrderBy = append(w.OrderBy, item)
			if p.peekPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.eatPunct(")"); err != nil {
		return nil, err
	}
	return w, nil
}

func (p *parser) parseQualifiedIdent() (string, error) {
	if p.cur().kind != tokIdent {
		return "", fmt.Errorf("expected identifier, got %q", p.cur().text)
	}
	name := p.advance().text
	if p.peekPunct(".") {
		p.advance()
		if p.cur().kind != tokIdent {
			return "", fmt.Errorf("expected identifier after '.'")
		}
		name = name + "." + p.advance().text
	}
	return name, nil
}

func (p *parser) parseTableRef() (TableRef, error) {
	if p.cur().kind != tokIdent {
		return TableRef{}, fmt.Errorf("expected namespace identifier, got %q", p.cur().text)
	}
	ns := p.advance().text
	if err := p.eatPunct("."); err != nil {
		return TableRef{}, err
	}
	ref := TableRef{Namespace: ns}
	if p.cur().kind == tokString || (p.cur().kind == tokIdent && p.cur().quoted) {
		ref.Inline = true
		ref.Name = p.advance().text
	} else if p.cur().kind == tokIdent {
		ref.Name = p.advance().text
	} else {
		return TableRef{}, fmt.Errorf("expected table name after '%s.'", ns)
	}
	if p.peekKeyword("as") {
		p.advance()
		if p.cur().kind != tokIdent {
			return TableRef{}, fmt.Errorf("expected alias after AS")
		}
		ref.Alias = p.advance().text
	} else if p.cur().kind == tokIdent {
		ref.Alias = p.advance().text
	}
	return ref, nil
}

func (p *parser) parseOrExpr() (Expr, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("or") {
		p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAndExpr() (Expr, error) {
	left, err := p.parseNotExpr()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("and") {
		p.advance()
		right, err := p.parseNotExpr()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNotExpr() (Expr, error) {
	if p.peekKeyword("not") {
		p.advance()
		e, err := p.parseNotExpr()
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: e}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	op, ok := p.matchCompareOp()
	if !ok {
		return left, nil
	}
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return BinaryExpr{Op: op, Left: left, Right: right}, nil
}

func (p *parser) matchCompareOp() (BinOp, bool) {
	if p.cur().kind == tokKeyword && p.cur().text == "like" {
		p.advance()
		return OpLike, true
	}
	if p.cur().kind != tokPunct {
		return 0, false
	}
	switch p.cur().text {
	case "=":
		p.advance()
		return OpEq, true
	case "!=", "<>":
		p.advance()
		return OpNE, true
	case "<":
		p.advance()
		return OpLT, true
	case "<=":
		p.advance()
		return OpLE, true
	case ">":
		p.advance()
		return OpGT, true
	case ">=":
		p.advance()
		return OpGE, true
	}
	return 0, false
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.peekPunct("(") {
		p.advance()
		e, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		if err := p.eatPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	}
	switch p.cur().kind {
	case tokNumber, tokString:
		t := p.advance()
		return Literal{Value: literalFromToken(t)}, nil
	case tokKeyword:
		if p.cur().text == "true" || p.cur().text == "false" || p.cur().text == "null" {
			t := p.advance()
			return Literal{Value: literalFromToken(t)}, nil
		}
		return nil, fmt.Errorf("unexpected keyword %q in expression", p.cur().text)
	case tokIdent:
		name, err := p.parseQualifiedIdent()
		if err != nil {
			return nil, err
		}
		return columnRefFromDotted(name), nil
	default:
		return nil, fmt.Errorf("unexpected token %q in expression", p.cur().text)
	}
}

func columnRefFromDotted(name string) ColumnRef {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return ColumnRef{Table: name[:i], Name: name[i+1:]}
		}
	}
	return ColumnRef{Name: name}
}
