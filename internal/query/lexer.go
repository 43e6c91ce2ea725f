package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/reiase/probing/internal/proto"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind   tokenKind
	text   string
	num    float64
	isInt  bool
	intVal int64
	quoted bool // identifier written in double quotes
}

var keywords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "group": true, "by": true, "having": true, "order": true,
	"asc": true, "desc": true, "limit": true, "join": true, "on": true,
	"as": true, "like": true, "over": true, "partition": true, "null": true,
	"true": true, "false": true,
}

// lex tokenizes a query string. It supports identifiers (plain, or
// double-quoted as used by inline table references), numbers,
// single-quoted strings, and the punctuation the grammar needs.
func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i, n := 0, len(runes)

	for i < n {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '\'':
			j := i + 1
			var sb strings.Builder
			for j < n && runes[j] != '\'' {
				sb.WriteRune(runes[j])
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("query: unterminated string literal at %d", i)
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j + 1
		case c == '"':
			j := i + 1
			var sb strings.Builder
			for j < n && runes[j] != '"' {
				sb.WriteRune(runes[j])
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("query: unterminated quoted identifier at %d", i)
			}
			toks = append(toks, token{kind: tokIdent, text: sb.String(), quoted: true})
			i = j + 1
		case unicode.IsDigit(c):
			j := i
			for j < n && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			text := string(runes[i:j])
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("query: bad number %q", text)
			}
			iv, isInt := int64(0), !strings.Contains(text, ".")
			if isInt {
				iv, _ = strconv.ParseInt(text, 10, 64)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: f, isInt: isInt, intVal: iv})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < n && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			text := string(runes[i:j])
			lower := strings.ToLower(text)
			if keywords[lower] {
				toks = append(toks, token{kind: tokKeyword, text: lower})
			} else {
				toks = append(toks, token{kind: tokIdent, text: text})
			}
			i = j
		case c == '<' || c == '>' || c == '!' || c == '=':
			j := i + 1
			if j < n && (runes[j] == '=' ) {
				toks = append(toks, token{kind: tokPunct, text: string(runes[i : j+1])})
				i = j + 1
				continue
			}
			if c == '<' && j < n && runes[j] == '>' {
				toks = append(toks, token{kind: tokPunct, text: "<>"})
				i = j + 1
				continue
			}
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		case strings.ContainsRune("(),.*;", c):
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("query: unexpected character %q at %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

func literalFromToken(t token) proto.Value {
	switch {
	case t.kind == tokString:
		return proto.StringValue(t.text)
	case t.kind == tokNumber && t.isInt:
		return proto.IntValue(t.intVal)
	case t.kind == tokNumber:
		return proto.FloatValue(t.num)
	case t.kind == tokKeyword && t.text == "true":
		return proto.BoolValue(true)
	case t.kind == tokKeyword && t.text == "false":
		return proto.BoolValue(false)
	case t.kind == tokKeyword && t.text == "null":
		return proto.NullValue(proto.TypeString)
	}
	return proto.NullValue(proto.TypeString)
}
