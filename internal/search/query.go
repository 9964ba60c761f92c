package search

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/starford/memoranda/internal/apperr"
)

// Query syntax:
//
//	expr    = unary { [ "AND" | "OR" | "NOT" ] unary }
//	unary   = "NOT" unary | primary
//	primary = "(" expr ")" | `"` phrase `"` | word
//
// Operators are evaluated strictly left to right; a missing operator means
// AND, and "a NOT b" means "a AND NOT b". A word may start and/or end with
// "*" to match every indexed token with that suffix/prefix/infix.

type node interface{ isNode() }

type (
	termNode struct{ token string }
	// phraseNode matches tokens at consecutive positions within one field.
	phraseNode   struct{ tokens []string }
	wildcardNode struct {
		core           string
		prefix, suffix bool
	}
	notNode    struct{ operand node }
	binaryNode struct {
		op          string
		left, right node
	}
)

func (termNode) isNode()     {}
func (phraseNode) isNode()   {}
func (wildcardNode) isNode() {}
func (notNode) isNode()      {}
func (binaryNode) isNode()   {}

const (
	opAnd = "AND"
	opOr  = "OR"
	opNot = "NOT"
)

type lexKind int

const (
	lexWord lexKind = iota
	lexPhrase
	lexOp
	lexOpen
	lexClose
)

type lexeme struct {
	kind lexKind
	text string
}

func invalid(format string, args ...any) error {
	return apperr.Validation("query", fmt.Sprintf(format, args...))
}

func lex(q string) ([]lexeme, error) {
	var out []lexeme
	rs := []rune(q)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, lexeme{kind: lexOpen, text: "("})
			i++
		case r == ')':
			out = append(out, lexeme{kind: lexClose, text: ")"})
			i++
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			if j == len(rs) {
				return nil, invalid("unterminated quote")
			}
			out = append(out, lexeme{kind: lexPhrase, text: string(rs[i+1 : j])})
			i = j + 1
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && rs[j] != '(' && rs[j] != ')' && rs[j] != '"' {
				j++
			}
			w := string(rs[i:j])
			if w == opAnd || w == opOr || w == opNot {
				out = append(out, lexeme{kind: lexOp, text: w})
			} else {
				out = append(out, lexeme{kind: lexWord, text: w})
			}
			i = j
		}
	}
	return out, nil
}

type queryParser struct {
	lx  []lexeme
	pos int
}

// parse turns a query into an expression tree. Words without any searchable
// characters are dropped; a query left with nothing to match is invalid.
func parse(q string) (node, error) {
	if strings.TrimSpace(q) == "" {
		return nil, invalid("must not be empty")
	}
	lx, err := lex(q)
	if err != nil {
		return nil, err
	}
	p := &queryParser{lx: lx}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.lx) {
		if p.lx[p.pos].kind == lexClose {
			return nil, invalid("unbalanced parentheses")
		}
		return nil, invalid("unexpected %q", p.lx[p.pos].text)
	}
	if n == nil {
		return nil, invalid("no searchable terms")
	}
	return n, nil
}

func (p *queryParser) peek() (lexeme, bool) {
	if p.pos >= len(p.lx) {
		return lexeme{}, false
	}
	return p.lx[p.pos], true
}

func (p *queryParser) expr() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		l, ok := p.peek()
		if !ok || l.kind == lexClose {
			return left, nil
		}
		op := opAnd
		if l.kind == lexOp {
			op = l.text
			p.pos++
			if next, ok := p.peek(); !ok || next.kind == lexClose {
				return nil, invalid("dangling operator %s", op)
			} else if next.kind == lexOp && next.text != opNot {
				return nil, invalid("operator %s followed by %s", op, next.text)
			}
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == opNot && right != nil {
			right = notNode{operand: right}
			op = opAnd
		}
		left = combine(op, left, right)
	}
}

// combine joins two operands; a dropped (nil) operand leaves the other as is.
func combine(op string, left, right node) node {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	}
	return binaryNode{op: op, left: left, right: right}
}

func (p *queryParser) unary() (node, error) {
	l, ok := p.peek()
	if !ok {
		return nil, invalid("unexpected end of query")
	}
	if l.kind == lexOp {
		if l.text != opNot {
			return nil, invalid("dangling operator %s", l.text)
		}
		p.pos++
		if next, ok := p.peek(); !ok || next.kind == lexClose {
			return nil, invalid("dangling operator NOT")
		}
		operand, err := p.unary()
		if err != nil || operand == nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.primary()
}

func (p *queryParser) primary() (node, error) {
	l, _ := p.peek()
	p.pos++
	switch l.kind {
	case lexOpen:
		if next, ok := p.peek(); ok && next.kind == lexClose {
			return nil, invalid("empty parentheses")
		}
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if c, ok := p.peek(); !ok || c.kind != lexClose {
			return nil, invalid("unbalanced parentheses")
		}
		p.pos++
		return n, nil
	case lexClose:
		return nil, invalid("unbalanced parentheses")
	case lexPhrase:
		return textNode(Terms(l.text)), nil
	default:
		return wordNode(l.text)
	}
}

func wordNode(w string) (node, error) {
	if !strings.Contains(w, "*") {
		return textNode(Terms(w)), nil
	}
	core := strings.Trim(w, "*")
	if strings.Contains(core, "*") {
		return nil, invalid("wildcard %q: '*' is only allowed at the start or end of a word", w)
	}
	terms := Terms(core)
	switch len(terms) {
	case 0:
		return nil, invalid("wildcard %q has no searchable characters", w)
	case 1:
	default:
		return nil, invalid("wildcard %q must be a single word", w)
	}
	return wildcardNode{
		core:   terms[0],
		prefix: strings.HasSuffix(w, "*"),
		suffix: strings.HasPrefix(w, "*"),
	}, nil
}

// textNode maps tokenized text to a term, a phrase, or nothing.
func textNode(terms []string) node {
	switch len(terms) {
	case 0:
		return nil
	case 1:
		return termNode{token: terms[0]}
	default:
		return phraseNode{tokens: terms}
	}
}

func (w wildcardNode) matches(tok string) bool {
	switch {
	case w.prefix && w.suffix:
		return strings.Contains(tok, w.core)
	case w.prefix:
		return strings.HasPrefix(tok, w.core)
	default:
		return strings.HasSuffix(tok, w.core)
	}
}
