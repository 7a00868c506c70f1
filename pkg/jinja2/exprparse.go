package jinja2

import (
	"math"
	"strconv"
	"strings"
)

// binaryPriority orders binary operators; higher binds tighter.
var binaryPriority = map[string]int{
	"*": 11, "/": 11, "%": 11,
	"+": 10, "-": 10, "~": 10,
	"==": 9, "!=": 9, "===": 9, "!==": 9, "<": 9, ">": 9, "<=": 9, ">=": 9, "<=>": 9,
	"&&":       8,
	"||":       7,
	"and":      6,
	"or":       5,
	"in":       4,
	"not in":   4,
	"contains": 3,
	"..":       2,
	"?:":       1,
	"??":       1,
}

type exprParser struct {
	file *SourceFile
	toks []exprToken
	i    int

	// noPipe disables `|` filters while reading liquid style `|f: a, b`
	// arguments so the next pipe applies to the filter result.
	noPipe int
	// inTernary disables the `|f: args` form between `?` and `:`.
	inTernary int
}

// ParseExpression parses a complete expression; trailing tokens are an error.
func ParseExpression(file *SourceFile, text string, base int) (Expr, error) {
	toks, err := tokenizeExpr(file, text, base)
	if err != nil {
		return nil, err
	}
	p := &exprParser{file: file, toks: toks}
	e, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != exprEnd {
		return nil, p.file.Errorf(t.pos, "unexpected %q after expression", t.text)
	}
	return e, nil
}

func (p *exprParser) peek() exprToken { return p.toks[p.i] }

func (p *exprParser) peekAt(k int) exprToken {
	if p.i+k < len(p.toks) {
		return p.toks[p.i+k]
	}
	return p.toks[len(p.toks)-1]
}

func (p *exprParser) next() exprToken {
	t := p.toks[p.i]
	if t.kind != exprEnd {
		p.i++
	}
	return t
}

func (p *exprParser) isOp(op string) bool {
	t := p.peek()
	return t.kind == exprOperator && t.text == op
}

func (p *exprParser) isWord(w string) bool {
	t := p.peek()
	return t.kind == exprIdent && t.text == w
}

func (p *exprParser) expectOp(op string) error {
	if !p.isOp(op) {
		return p.unexpected("expected %q", op)
	}
	p.next()
	return nil
}

func (p *exprParser) unexpected(format string, args ...any) error {
	t := p.peek()
	if t.kind == exprEnd {
		return p.file.Errorf(t.pos, "unexpected end of expression, "+format, args...)
	}
	return p.file.Errorf(t.pos, "unexpected %q, "+format, append([]any{t.text}, args...)...)
}

// nested runs fn with filter and ternary restrictions lifted, for bracketed
// sub-expressions.
func (p *exprParser) nested(fn func() error) error {
	noPipe, inTernary := p.noPipe, p.inTernary
	p.noPipe, p.inTernary = 0, 0
	err := fn()
	p.noPipe, p.inTernary = noPipe, inTernary
	return err
}

func (p *exprParser) parseTernary() (Expr, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if !p.isOp("?") {
		return cond, nil
	}
	q := p.next()
	p.inTernary++
	ifTrue, err := p.parseTernary()
	p.inTernary--
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	ifFalse, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &TernaryExpr{at: at(q.pos), Cond: cond, IfTrue: ifTrue, IfFalse: ifFalse}, nil
}

// binaryOp reports the binary operator at the cursor and how many tokens
// it spans.
func (p *exprParser) binaryOp() (string, int, int) {
	t := p.peek()
	switch t.kind {
	case exprOperator:
		if prio, ok := binaryPriority[t.text]; ok {
			return t.text, prio, 1
		}
	case exprIdent:
		switch t.text {
		case "and", "or", "in", "contains":
			return t.text, binaryPriority[t.text], 1
		case "not":
			if n := p.peekAt(1); n.kind == exprIdent && n.text == "in" {
				return "not in", binaryPriority["not in"], 2
			}
		}
	}
	return "", -1, 0
}

// parseBinary is a precedence climber: operators of equal priority group
// to the left, lower priority operators end up as outer nodes.
func (p *exprParser) parseBinary(minPrio int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, prio, width := p.binaryOp()
		if op == "" || prio < minPrio {
			return left, nil
		}
		opTok := p.peek()
		p.i += width
		right, err := p.parseBinary(prio + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{at: at(opTok.pos), Left: left, Right: right, Op: op}
	}
}

func (p *exprParser) parseUnary() (Expr, error) {
	t := p.peek()
	if (t.kind == exprOperator && (t.text == "!" || t.text == "-" || t.text == "+")) ||
		(t.kind == exprIdent && t.text == "not") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := t.text
		if op == "not" {
			op = "!"
		}
		return &UnaryExpr{at: at(t.pos), Operand: operand, Op: op}, nil
	}
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parsePostfix(e)
}

func (p *exprParser) parsePostfix(e Expr) (Expr, error) {
	for {
		t := p.peek()
		if t.kind != exprOperator {
			return e, nil
		}
		switch t.text {
		case ".":
			p.next()
			k := p.peek()
			if k.kind != exprIdent && k.kind != exprNumber {
				return nil, p.unexpected("expected property name after '.'")
			}
			p.next()
			e = &AccessExpr{at: at(t.pos), Object: e, Key: &LiteralExpr{at: at(k.pos), Value: k.text}}
		case "[":
			p.next()
			var key Expr
			err := p.nested(func() error {
				var err error
				if key, err = p.parseTernary(); err != nil {
					return err
				}
				return p.expectOp("]")
			})
			if err != nil {
				return nil, err
			}
			e = &AccessExpr{at: at(t.pos), Object: e, Key: key}
		case "(":
			p.next()
			args, err := p.parseList(")")
			if err != nil {
				return nil, err
			}
			e = &CallExpr{at: at(t.pos), Callee: e, Args: args}
		case "|":
			if p.noPipe > 0 {
				return e, nil
			}
			p.next()
			name := p.peek()
			if name.kind != exprIdent {
				return nil, p.unexpected("expected filter name after '|'")
			}
			p.next()
			f := &FilterExpr{at: at(name.pos), Name: name.text, Subject: e}
			switch {
			case p.isOp("("):
				p.next()
				args, err := p.parseList(")")
				if err != nil {
					return nil, err
				}
				f.Args = args
			case p.isOp(":") && p.inTernary == 0:
				p.next()
				args, err := p.parseColonArgs()
				if err != nil {
					return nil, err
				}
				f.Args = args
			}
			e = f
		default:
			return e, nil
		}
	}
}

// parseColonArgs reads `a, b` after `|filter:`.
func (p *exprParser) parseColonArgs() ([]Expr, error) {
	p.noPipe++
	defer func() { p.noPipe-- }()
	var args []Expr
	for {
		a, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if !p.isOp(",") {
			return args, nil
		}
		p.next()
	}
}

// parseList reads comma separated expressions up to and including closer.
func (p *exprParser) parseList(closer string) ([]Expr, error) {
	var items []Expr
	err := p.nested(func() error {
		for !p.isOp(closer) {
			item, err := p.parseTernary()
			if err != nil {
				return err
			}
			items = append(items, item)
			if p.isOp(",") {
				p.next()
				continue
			}
			if !p.isOp(closer) {
				return p.unexpected("expected ',' or %q", closer)
			}
		}
		p.next()
		return nil
	})
	return items, err
}

func (p *exprParser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case exprEnd:
		return nil, p.file.Errorf(t.pos, "unexpected end of expression")
	case exprNumber:
		p.next()
		v, err := parseNumber(t.text)
		if err != nil {
			return nil, p.file.Errorf(t.pos, "invalid number %q", t.text)
		}
		return &LiteralExpr{at: at(t.pos), Value: v}, nil
	case exprString:
		p.next()
		return &LiteralExpr{at: at(t.pos), Value: t.value}, nil
	case exprIdent:
		p.next()
		switch t.text {
		case "true":
			return &LiteralExpr{at: at(t.pos), Value: true}, nil
		case "false":
			return &LiteralExpr{at: at(t.pos), Value: false}, nil
		case "null", "nil", "none":
			return &LiteralExpr{at: at(t.pos), Value: nil}, nil
		}
		return &VariableExpr{at: at(t.pos), Name: t.text}, nil
	case exprOperator:
		switch t.text {
		case "(":
			p.next()
			return p.parseParen(t.pos)
		case "[":
			p.next()
			items, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return &ArrayExpr{at: at(t.pos), Items: items}, nil
		case "{":
			p.next()
			return p.parseObject(t.pos)
		}
	}
	return nil, p.unexpected("expected a value")
}

// parseParen handles grouping and tuples: (a), (a, b), ().
func (p *exprParser) parseParen(pos int) (Expr, error) {
	var out Expr
	err := p.nested(func() error {
		if p.isOp(")") {
			p.next()
			out = &ArrayExpr{at: at(pos)}
			return nil
		}
		first, err := p.parseTernary()
		if err != nil {
			return err
		}
		if p.isOp(")") {
			p.next()
			out = first
			return nil
		}
		if err := p.expectOp(","); err != nil {
			return err
		}
		rest, err := p.parseList(")")
		if err != nil {
			return err
		}
		out = &ArrayExpr{at: at(pos), Items: append([]Expr{first}, rest...)}
		return nil
	})
	return out, err
}

func (p *exprParser) parseObject(pos int) (Expr, error) {
	obj := &ObjectExpr{at: at(pos)}
	err := p.nested(func() error {
		for !p.isOp("}") {
			k := p.peek()
			if k.kind == exprEnd {
				return p.unexpected("expected object key")
			}
			p.next()
			var key Expr
			switch k.kind {
			case exprIdent, exprNumber:
				key = &LiteralExpr{at: at(k.pos), Value: k.text}
			case exprString:
				key = &LiteralExpr{at: at(k.pos), Value: k.value}
			case exprOperator:
				if k.text != "[" {
					p.i--
					return p.unexpected("expected object key")
				}
				var err error
				if key, err = p.parseTernary(); err != nil {
					return err
				}
				if err := p.expectOp("]"); err != nil {
					return err
				}
			default:
				p.i--
				return p.unexpected("expected object key")
			}
			if err := p.expectOp(":"); err != nil {
				return err
			}
			val, err := p.parseTernary()
			if err != nil {
				return err
			}
			obj.Pairs = append(obj.Pairs, ObjectPair{Key: key, Value: val})
			if p.isOp(",") {
				p.next()
				continue
			}
			if !p.isOp("}") {
				return p.unexpected("expected ',' or '}'")
			}
		}
		p.next()
		return nil
	})
	return obj, err
}

// parseNumber returns an int for integral literals that fit, int64 for wider
// ones and float64 otherwise.
func parseNumber(s string) (any, error) {
	if !strings.ContainsAny(s, ".eE") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			if strconv.IntSize == 64 || (n >= math.MinInt32 && n <= math.MaxInt32) {
				return int(n), nil
			}
			return n, nil
		}
	}
	return strconv.ParseFloat(s, 64)
}
