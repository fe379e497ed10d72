package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// expr is a compiled bounded arithmetic expression over a single variable,
// "value". Only numbers, parentheses, + - * / ^ and that token are accepted.
type expr interface {
	eval(value float64) (float64, error)
}

type numberExpr float64

type valueExpr struct{}

type negExpr struct{ x expr }

type binaryExpr struct {
	l, r expr
	op   byte
}

var errDivisionByZero = errors.New("division by zero")

func (n numberExpr) eval(float64) (float64, error) { return float64(n), nil }

func (valueExpr) eval(v float64) (float64, error) { return v, nil }

func (n negExpr) eval(v float64) (float64, error) {
	x, err := n.x.eval(v)
	return -x, err
}

func (b binaryExpr) eval(v float64) (float64, error) {
	l, err := b.l.eval(v)
	if err != nil {
		return 0, err
	}
	r, err := b.r.eval(v)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, errDivisionByZero
		}
		return l / r, nil
	case '^':
		res := math.Pow(l, r)
		if math.IsNaN(res) || math.IsInf(res, 0) {
			return 0, fmt.Errorf("%g ^ %g is not a finite number", l, r)
		}
		return res, nil
	}
	return 0, fmt.Errorf("unknown operator %q", b.op)
}

type token struct {
	text string
	kind byte // 'n' number, 'v' value, or the operator/paren itself
}

// checkCharacters rejects anything outside the expression alphabet before
// tokenizing, so identifiers other than "value" never reach the parser.
func checkCharacters(src string) error {
	rest := strings.ReplaceAll(src, "value", "")
	for i, r := range rest {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ' ', r == '\t':
		case strings.ContainsRune("()+-*/^", r):
		default:
			return fmt.Errorf("character %q at offset %d is not allowed", r, i)
		}
	}
	return nil
}

func tokenize(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.IndexByte("()+-*/^", c) >= 0:
			toks = append(toks, token{kind: c, text: string(c)})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: 'n', text: src[i:j]})
			i = j
		case strings.HasPrefix(src[i:], "value"):
			toks = append(toks, token{kind: 'v', text: "value"})
			i += len("value")
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", c, i)
		}
	}
	return toks, nil
}

type exprParser struct {
	toks []token
	pos  int
}

func compileExpression(src string) (expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("empty expression")
	}
	if err := checkCharacters(src); err != nil {
		return nil, err
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	e, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	return e, nil
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) parseSum() (expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || (t.kind != '+' && t.kind != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: t.kind, l: left, r: right}
	}
}

func (p *exprParser) parseProduct() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || (t.kind != '*' && t.kind != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: t.kind, l: left, r: right}
	}
}

// Unary minus binds looser than ^, so -value^2 == -(value^2).
func (p *exprParser) parseUnary() (expr, error) {
	if t, ok := p.peek(); ok && t.kind == '-' {
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negExpr{x: x}, nil
	}
	return p.parsePower()
}

// ^ is right associative: 2^3^2 == 2^(3^2).
func (p *exprParser) parsePower() (expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if t, ok := p.peek(); ok && t.kind == '^' {
		p.pos++
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: '^', l: base, r: exp}, nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, errors.New("unexpected end of expression")
	}
	p.pos++
	switch t.kind {
	case 'n':
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return numberExpr(f), nil
	case 'v':
		return valueExpr{}, nil
	case '(':
		e, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if c, ok := p.peek(); !ok || c.kind != ')' {
			return nil, errors.New("missing closing parenthesis")
		}
		p.pos++
		return e, nil
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}
