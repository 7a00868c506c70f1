package jinja2

import "strings"

// DefaultTags returns the built-in tag table.
func DefaultTags() map[string]*TagDef {
	defs := []*TagDef{
		BlockTag("if", []string{"elseif", "elsif", "elif", "else"}, buildIf),
		BlockTag("unless", []string{"else"}, buildUnless),
		BlockTag("for", []string{"else"}, buildFor),
		SimpleTag("set", buildSet),
		SimpleTag("assign", buildSet),
		BlockTag("capture", nil, buildCapture),
		SimpleTag("extends", buildExtends),
		SimpleTag("import", buildImport),
		SimpleTag("include", buildInclude),
		BlockTag("macro", nil, buildMacro),
		BlockTag("block", nil, buildBlock),
		BlockTag("switch", []string{"case", "default"}, buildSwitch),
		SimpleTag("debug", buildDebug),
	}
	out := make(map[string]*TagDef, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

// bodyOf returns the parsed body of a chunk, or an empty group.
func bodyOf(ch Chunk) Node {
	if ch.Body == nil {
		return &GroupNode{}
	}
	return ch.Body
}

// tagExpr parses the arguments of tok as exactly one expression.
func tagExpr(b *Builder, tok Token) (Expr, error) {
	if strings.TrimSpace(tok.Text) == "" {
		return nil, b.Errorf(tok, "%q tag requires an expression", tok.Name)
	}
	return b.Expr(tok)
}

func noArgs(b *Builder, tok Token) error {
	if strings.TrimSpace(tok.Text) != "" {
		return b.file.Errorf(tok.TextPos, "%q takes no arguments", tok.Name)
	}
	return nil
}

// elseLast checks that an else chunk, if present, is the final one.
func elseLast(b *Builder, chunks []Chunk) (Node, error) {
	var els Node
	for i, ch := range chunks {
		if ch.Tag.Name != "else" {
			continue
		}
		if i != len(chunks)-1 {
			return nil, b.Errorf(chunks[i+1].Tag, "unexpected %q after else", chunks[i+1].Tag.Name)
		}
		if err := noArgs(b, ch.Tag); err != nil {
			return nil, err
		}
		els = bodyOf(ch)
	}
	return els, nil
}

func buildIf(b *Builder, chunks []Chunk) (Node, error) {
	n := &IfNode{}
	els, err := elseLast(b, chunks)
	if err != nil {
		return nil, err
	}
	n.Else = els
	for _, ch := range chunks {
		if ch.Tag.Name == "else" {
			break
		}
		cond, err := tagExpr(b, ch.Tag)
		if err != nil {
			return nil, err
		}
		n.Branches = append(n.Branches, IfBranch{Cond: cond, Body: bodyOf(ch)})
	}
	return n, nil
}

func buildUnless(b *Builder, chunks []Chunk) (Node, error) {
	cond, err := tagExpr(b, chunks[0].Tag)
	if err != nil {
		return nil, err
	}
	els, err := elseLast(b, chunks)
	if err != nil {
		return nil, err
	}
	neg := &UnaryExpr{at: at(cond.Offset()), Operand: cond, Op: "!"}
	return &IfNode{Branches: []IfBranch{{Cond: neg, Body: bodyOf(chunks[0])}}, Else: els}, nil
}

// buildFor parses `for x in items` and `for k, v in items`.
func buildFor(b *Builder, chunks []Chunk) (Node, error) {
	tok := chunks[0].Tag
	args, err := b.Args(tok)
	if err != nil {
		return nil, err
	}
	name, _, err := args.Ident()
	if err != nil {
		return nil, err
	}
	keys := []string{name}
	if args.Op(",") {
		second, _, err := args.Ident()
		if err != nil {
			return nil, err
		}
		keys = append(keys, second)
	}
	if !args.Word("in") {
		return nil, args.p.unexpected("expected 'in'")
	}
	iter, err := args.Expr()
	if err != nil {
		return nil, err
	}
	if err := args.End(); err != nil {
		return nil, err
	}
	els, err := elseLast(b, chunks)
	if err != nil {
		return nil, err
	}
	return &ForNode{Keys: keys, Iterable: iter, Body: bodyOf(chunks[0]), Else: els}, nil
}

// buildSet parses `set name = expr` and `set obj.key = expr`.
func buildSet(b *Builder, chunks []Chunk) (Node, error) {
	args, err := b.Args(chunks[0].Tag)
	if err != nil {
		return nil, err
	}
	target, err := args.Target()
	if err != nil {
		return nil, err
	}
	if err := args.Expect("="); err != nil {
		return nil, err
	}
	v, err := args.Expr()
	if err != nil {
		return nil, err
	}
	if err := args.End(); err != nil {
		return nil, err
	}
	return &SetNode{Target: target, Expr: v}, nil
}

// nameAndType parses `name ["content/type"]`.
func nameAndType(b *Builder, tok Token) (string, string, error) {
	args, err := b.Args(tok)
	if err != nil {
		return "", "", err
	}
	name, _, err := args.Ident()
	if err != nil {
		return "", "", err
	}
	var ct string
	if args.IsString() {
		if ct, err = args.String(); err != nil {
			return "", "", err
		}
	}
	return name, ct, args.End()
}

func buildCapture(b *Builder, chunks []Chunk) (Node, error) {
	name, ct, err := nameAndType(b, chunks[0].Tag)
	if err != nil {
		return nil, err
	}
	return &CaptureNode{Name: name, Body: bodyOf(chunks[0]), ContentType: ct}, nil
}

func buildExtends(b *Builder, chunks []Chunk) (Node, error) {
	tok := chunks[0].Tag
	parent, err := tagExpr(b, tok)
	if err != nil {
		return nil, err
	}
	return &ExtendsNode{Parent: parent, Tag: tok}, nil
}

// buildImport parses `import file as name`.
func buildImport(b *Builder, chunks []Chunk) (Node, error) {
	tok := chunks[0].Tag
	args, err := b.Args(tok)
	if err != nil {
		return nil, err
	}
	file, err := args.Expr()
	if err != nil {
		return nil, err
	}
	if !args.Word("as") {
		return nil, args.p.unexpected("expected 'as'")
	}
	name, _, err := args.Ident()
	if err != nil {
		return nil, err
	}
	if err := args.End(); err != nil {
		return nil, err
	}
	return &ImportNode{File: file, As: name, Tag: tok}, nil
}

// buildInclude parses `include file [with] k=v, k2: v2 ...`.
func buildInclude(b *Builder, chunks []Chunk) (Node, error) {
	tok := chunks[0].Tag
	args, err := b.Args(tok)
	if err != nil {
		return nil, err
	}
	file, err := args.Expr()
	if err != nil {
		return nil, err
	}
	n := &IncludeNode{File: file, Tag: tok}
	args.Word("with")
	for !args.Done() {
		name, _, err := args.Ident()
		if err != nil {
			return nil, err
		}
		if !args.Op("=") && !args.Op(":") {
			return nil, args.p.unexpected("expected '=' after parameter %q", name)
		}
		v, err := args.Expr()
		if err != nil {
			return nil, err
		}
		n.Params = append(n.Params, IncludeParam{Name: name, Value: v})
		args.Op(",")
	}
	return n, nil
}

// buildMacro parses `macro name(a, b)`.
func buildMacro(b *Builder, chunks []Chunk) (Node, error) {
	args, err := b.Args(chunks[0].Tag)
	if err != nil {
		return nil, err
	}
	name, _, err := args.Ident()
	if err != nil {
		return nil, err
	}
	var params []string
	if args.Op("(") {
		for !args.Op(")") {
			p, _, err := args.Ident()
			if err != nil {
				return nil, err
			}
			params = append(params, p)
			if !args.Op(",") && !args.p.isOp(")") {
				return nil, args.p.unexpected("expected ',' or ')'")
			}
		}
	}
	if err := args.End(); err != nil {
		return nil, err
	}
	return &MacroNode{Name: name, Params: params, Body: bodyOf(chunks[0])}, nil
}

func buildBlock(b *Builder, chunks []Chunk) (Node, error) {
	tok := chunks[0].Tag
	name, ct, err := nameAndType(b, tok)
	if err != nil {
		return nil, err
	}
	n := &BlockNode{Name: name, ContentType: ct, Body: bodyOf(chunks[0]), Tag: tok}
	if err := b.DeclareBlock(n); err != nil {
		return nil, err
	}
	return n, nil
}

// buildSwitch parses switch/case/default. Only whitespace may appear between
// the switch tag and its first case.
func buildSwitch(b *Builder, chunks []Chunk) (Node, error) {
	subject, err := tagExpr(b, chunks[0].Tag)
	if err != nil {
		return nil, err
	}
	if !blank(chunks[0].Body) {
		return nil, b.Errorf(chunks[0].Tag, "unexpected content before the first case")
	}
	n := &SwitchNode{Subject: subject}
	for i, ch := range chunks[1:] {
		if ch.Tag.Name == "default" {
			if i != len(chunks)-2 {
				return nil, b.Errorf(chunks[i+2].Tag, "unexpected %q after default", chunks[i+2].Tag.Name)
			}
			if err := noArgs(b, ch.Tag); err != nil {
				return nil, err
			}
			n.Default = bodyOf(ch)
			continue
		}
		args, err := b.Args(ch.Tag)
		if err != nil {
			return nil, err
		}
		cs := SwitchCase{Body: bodyOf(ch)}
		for {
			v, err := args.Expr()
			if err != nil {
				return nil, err
			}
			cs.Values = append(cs.Values, v)
			if !args.Op(",") {
				break
			}
		}
		if err := args.End(); err != nil {
			return nil, err
		}
		n.Cases = append(n.Cases, cs)
	}
	return n, nil
}

func blank(n Node) bool {
	switch t := n.(type) {
	case nil:
		return true
	case *TextNode:
		return strings.TrimSpace(t.Text) == ""
	case *GroupNode:
		for _, c := range t.Nodes {
			if !blank(c) {
				return false
			}
		}
		return true
	}
	return false
}

func buildDebug(b *Builder, chunks []Chunk) (Node, error) {
	tok := chunks[0].Tag
	n := &DebugNode{Tag: tok}
	if strings.TrimSpace(tok.Text) != "" {
		e, err := b.Expr(tok)
		if err != nil {
			return nil, err
		}
		n.Expr = e
	}
	return n, nil
}
