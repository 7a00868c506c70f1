package jinja2

import (
	"slices"
	"strings"
)

// Chunk is one opening or continuation tag together with the body that
// follows it, e.g. the `elseif` part of an if chain.
type Chunk struct {
	Tag  Token
	Body Node
}

// TagDef describes how a tag is parsed. A nil Terminators makes the tag
// self-closing: Build receives a single chunk with a nil body.
type TagDef struct {
	Name          string
	Continuations []string
	Terminators   []string
	Build         func(b *Builder, chunks []Chunk) (Node, error)
}

// BlockTag returns a definition terminated by `end` or `end<name>`.
func BlockTag(name string, continuations []string, build func(b *Builder, chunks []Chunk) (Node, error)) *TagDef {
	return &TagDef{
		Name:          name,
		Continuations: continuations,
		Terminators:   []string{"end", "end" + name},
		Build:         build,
	}
}

// SimpleTag returns a self-closing definition.
func SimpleTag(name string, build func(b *Builder, chunks []Chunk) (Node, error)) *TagDef {
	return &TagDef{Name: name, Build: build}
}

// Builder turns a token stream into a block tree. Tag Build functions use it
// to parse their arguments and declare named blocks.
type Builder struct {
	cfg    *Config
	file   *SourceFile
	toks   []Token
	i      int
	blocks map[string]*BlockNode
}

// File returns the template being parsed.
func (b *Builder) File() *SourceFile { return b.file }

// Config returns the configuration driving the parse.
func (b *Builder) Config() *Config { return b.cfg }

// Errorf returns an error positioned at tok.
func (b *Builder) Errorf(tok Token, format string, args ...any) error {
	return b.file.Errorf(tok.Pos, format, args...)
}

// DeclareBlock registers a named block of the template. Names must be unique
// within one template.
func (b *Builder) DeclareBlock(n *BlockNode) error {
	if _, dup := b.blocks[n.Name]; dup {
		return b.Errorf(n.Tag, "block %q is already defined", n.Name)
	}
	b.blocks[n.Name] = n
	return nil
}

// Args returns a cursor over the argument expression tokens of tok.
func (b *Builder) Args(tok Token) (*TagArgs, error) {
	toks, err := tokenizeExpr(b.file, tok.Text, tok.TextPos)
	if err != nil {
		return nil, err
	}
	return &TagArgs{tag: tok, p: &exprParser{file: b.file, toks: toks}}, nil
}

// Expr parses the whole argument text of tok as one expression.
func (b *Builder) Expr(tok Token) (Expr, error) {
	return ParseExpression(b.file, tok.Text, tok.TextPos)
}

func (b *Builder) parse() (Node, error) {
	chunks, err := b.parseChunks(nil, Token{})
	if err != nil {
		return nil, err
	}
	return chunks[0].Body, nil
}

// parseChunks reads bodies until one of def's terminators. A nil def is the
// template root, which accepts every tag and ends at the end of input.
func (b *Builder) parseChunks(def *TagDef, open Token) ([]Chunk, error) {
	var chunks []Chunk
	cur := open
	var nodes []Node
	flush := func() {
		chunks = append(chunks, Chunk{Tag: cur, Body: group(nodes)})
		nodes = nil
	}
	for b.i < len(b.toks) {
		tok := b.toks[b.i]
		b.i++
		switch tok.Kind {
		case TokenLiteral:
			if tok.Text != "" {
				nodes = append(nodes, &TextNode{Text: tok.Text})
			}
		case TokenExpr:
			e, err := ParseExpression(b.file, tok.Text, tok.TextPos)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &OutputNode{Expr: e})
		case TokenTag:
			if def != nil && slices.Contains(def.Terminators, tok.Name) {
				flush()
				return chunks, nil
			}
			if def != nil && slices.Contains(def.Continuations, tok.Name) {
				flush()
				cur = tok
				continue
			}
			n, err := b.parseTag(tok)
			if err != nil {
				return nil, err
			}
			if n != nil {
				nodes = append(nodes, n)
			}
		}
	}
	if def != nil {
		return nil, b.Errorf(open, "unclosed %q tag, expected %s", def.Name, strings.Join(def.Terminators, " or "))
	}
	flush()
	return chunks, nil
}

func (b *Builder) parseTag(tok Token) (Node, error) {
	def, ok := b.cfg.Tags[tok.Name]
	if !ok {
		if strings.HasPrefix(tok.Name, "end") || b.isContinuation(tok.Name) {
			return nil, b.Errorf(tok, "unexpected %q tag", tok.Name)
		}
		return nil, b.Errorf(tok, "unknown tag %q", tok.Name)
	}
	if def.Terminators == nil {
		return def.Build(b, []Chunk{{Tag: tok}})
	}
	chunks, err := b.parseChunks(def, tok)
	if err != nil {
		return nil, err
	}
	return def.Build(b, chunks)
}

func (b *Builder) isContinuation(name string) bool {
	for _, def := range b.cfg.Tags {
		if slices.Contains(def.Continuations, name) {
			return true
		}
	}
	return false
}

func group(nodes []Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &GroupNode{Nodes: nodes}
}

// TagArgs is a cursor over the expression tokens of a tag's arguments.
type TagArgs struct {
	tag Token
	p   *exprParser
}

// Expr parses the next full expression.
func (a *TagArgs) Expr() (Expr, error) {
	return a.p.parseTernary()
}

// Target parses an assignable expression: a name followed by . or []
// accessors.
func (a *TagArgs) Target() (Expr, error) {
	t := a.p.peek()
	if t.kind != exprIdent {
		return nil, a.p.unexpected("expected a variable name")
	}
	a.p.next()
	var e Expr = &VariableExpr{at: at(t.pos), Name: t.text}
	for a.p.isOp(".") || a.p.isOp("[") {
		op := a.p.next()
		var key Expr
		if op.text == "." {
			k := a.p.peek()
			if k.kind != exprIdent && k.kind != exprNumber {
				return nil, a.p.unexpected("expected property name after '.'")
			}
			a.p.next()
			key = &LiteralExpr{at: at(k.pos), Value: k.text}
		} else {
			var err error
			if key, err = a.p.parseTernary(); err != nil {
				return nil, err
			}
			if err := a.p.expectOp("]"); err != nil {
				return nil, err
			}
		}
		e = &AccessExpr{at: at(op.pos), Object: e, Key: key}
	}
	return e, nil
}

// Ident consumes an identifier and returns it with its offset.
func (a *TagArgs) Ident() (string, int, error) {
	t := a.p.peek()
	if t.kind != exprIdent {
		return "", 0, a.p.unexpected("expected a name")
	}
	a.p.next()
	return t.text, t.pos, nil
}

// Word consumes the identifier w if it is next.
func (a *TagArgs) Word(w string) bool {
	if a.p.isWord(w) {
		a.p.next()
		return true
	}
	return false
}

// Op consumes the operator op if it is next.
func (a *TagArgs) Op(op string) bool {
	if a.p.isOp(op) {
		a.p.next()
		return true
	}
	return false
}

// Expect consumes op or fails.
func (a *TagArgs) Expect(op string) error { return a.p.expectOp(op) }

// String consumes a quoted string literal.
func (a *TagArgs) String() (string, error) {
	t := a.p.peek()
	if t.kind != exprString {
		return "", a.p.unexpected("expected a string")
	}
	a.p.next()
	return t.value, nil
}

// IsString reports whether a string literal is next.
func (a *TagArgs) IsString() bool { return a.p.peek().kind == exprString }

// Done reports whether all arguments have been consumed.
func (a *TagArgs) Done() bool { return a.p.peek().kind == exprEnd }

// End fails unless all arguments have been consumed.
func (a *TagArgs) End() error {
	if a.Done() {
		return nil
	}
	return a.p.unexpected("expected end of %q tag", a.tag.Name)
}
