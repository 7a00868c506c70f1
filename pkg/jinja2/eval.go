package jinja2

import (
	"errors"
	"fmt"
	"strings"
)

func (n *TextNode) Eval(c *Context) (Flow, error) {
	return FlowNext, c.Write(n.Text)
}

func (n *OutputNode) Eval(c *Context) (Flow, error) {
	v, err := n.Expr.Eval(c)
	if err != nil {
		return FlowNext, err
	}
	return FlowNext, c.Write(c.cfg.WriteExpr(c, v))
}

func (n *GroupNode) Eval(c *Context) (Flow, error) {
	for _, child := range n.Nodes {
		flow, err := child.Eval(c)
		if err != nil || flow != FlowNext {
			return flow, err
		}
	}
	return FlowNext, nil
}

func (n *IfNode) Eval(c *Context) (Flow, error) {
	for _, br := range n.Branches {
		v, err := br.Cond.Eval(c)
		if err != nil {
			return FlowNext, err
		}
		if ToBool(v) {
			return br.Body.Eval(c)
		}
	}
	if n.Else != nil {
		return n.Else.Eval(c)
	}
	return FlowNext, nil
}

func (n *ForNode) Eval(c *Context) (Flow, error) {
	v, err := n.Iterable.Eval(c)
	if err != nil {
		return FlowNext, err
	}
	var steps []pair
	if len(n.Keys) == 2 {
		steps = toPairs(v)
	} else {
		for _, it := range ToList(v) {
			steps = append(steps, pair{value: it})
		}
	}
	if len(steps) == 0 {
		if n.Else != nil {
			return n.Else.Eval(c)
		}
		return FlowNext, nil
	}
	saved := c.scope
	defer func() { c.scope = saved }()
	for i, st := range steps {
		if err := c.ctx.Err(); err != nil {
			return FlowNext, err
		}
		s := NewScope(saved)
		if len(n.Keys) == 2 {
			s.Set(n.Keys[0], st.key)
			s.Set(n.Keys[1], st.value)
		} else {
			s.Set(n.Keys[0], st.value)
		}
		s.Set("loop", newLoop(i, len(steps)))
		c.scope = s
		flow, err := n.Body.Eval(c)
		if err != nil || flow != FlowNext {
			return flow, err
		}
	}
	return FlowNext, nil
}

func (n *SetNode) Eval(c *Context) (Flow, error) {
	v, err := n.Expr.Eval(c)
	if err != nil {
		return FlowNext, err
	}
	return FlowNext, assign(c, n.Target, v)
}

func assign(c *Context, target Expr, v any) error {
	switch t := target.(type) {
	case *VariableExpr:
		c.scope.Set(t.Name, v)
		return nil
	case *AccessExpr:
		obj, err := t.Object.Eval(c)
		if err != nil {
			return err
		}
		key, err := t.Key.Eval(c)
		if err != nil {
			return err
		}
		if err := c.cfg.Mapper.Set(obj, key, v); err != nil {
			return c.wrap(t.Offset(), err)
		}
		return nil
	}
	return c.Errorf(target.Offset(), "cannot assign to this expression")
}

func (n *CaptureNode) Eval(c *Context) (Flow, error) {
	out, flow, err := c.captureIn(NewScope(c.scope), n.Body.Eval)
	if err != nil {
		return flow, err
	}
	if out, err = c.convert(n.ContentType, out); err != nil {
		return FlowNext, err
	}
	c.scope.Set(n.Name, RawString(out))
	return flow, nil
}

// convert post-processes out through the registered content type handler.
func (c *Context) convert(contentType, out string) (string, error) {
	if contentType == "" {
		return out, nil
	}
	fn, ok := c.cfg.ContentTypes[contentType]
	if !ok {
		return out, nil
	}
	return fn(out)
}

// tagError attaches the position and source of tag to a failure raised while
// loading another template.
func (c *Context) tagError(tag Token, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return c.file.wrap(tag.Pos, err, strings.TrimSpace(tag.Raw))
}

// load fetches a template referenced by a tag.
func (c *Context) load(kind Kind, name Expr, tag Token) (*Template, error) {
	v, err := name.Eval(c)
	if err != nil {
		return nil, err
	}
	if c.engine == nil {
		return nil, c.Errorf(tag.Pos, "%s: no template engine to load %q", strings.TrimSpace(tag.Raw), ToString(v))
	}
	tpl, err := c.engine.Get(c.ctx, kind, ToString(v))
	if err != nil {
		return nil, c.tagError(tag, err)
	}
	return tpl, nil
}

func (n *ExtendsNode) Eval(c *Context) (Flow, error) {
	exit, err := c.enter(n.Tag.Pos)
	if err != nil {
		return FlowNext, err
	}
	defer exit()
	tpl, err := c.load(KindLayout, n.Parent, n.Tag)
	if err != nil {
		return FlowNext, err
	}
	parent := &templateEval{tpl: tpl}
	c.current.parent = parent
	_, err = c.withTemplate(parent, func() (Flow, error) { return tpl.Root.Eval(c) })
	return FlowExtended, err
}

func (n *IncludeNode) Eval(c *Context) (Flow, error) {
	exit, err := c.enter(n.Tag.Pos)
	if err != nil {
		return FlowNext, err
	}
	defer exit()
	tpl, err := c.load(KindInclude, n.File, n.Tag)
	if err != nil {
		return FlowNext, err
	}
	s := NewScope(c.scope)
	for _, p := range n.Params {
		v, err := p.Value.Eval(c)
		if err != nil {
			return FlowNext, err
		}
		s.Set(p.Name, v)
	}
	te := &templateEval{tpl: tpl}
	saved, leaf, block := c.scope, c.leaf, c.block
	c.scope, c.leaf, c.block = s, te, nil
	defer func() { c.scope, c.leaf, c.block = saved, leaf, block }()
	_, err = c.withTemplate(te, func() (Flow, error) { return tpl.Root.Eval(c) })
	return FlowNext, err
}

func (n *ImportNode) Eval(c *Context) (Flow, error) {
	exit, err := c.enter(n.Tag.Pos)
	if err != nil {
		return FlowNext, err
	}
	defer exit()
	tpl, err := c.load(KindInclude, n.File, n.Tag)
	if err != nil {
		return FlowNext, err
	}
	sub := newContext(c.ctx, c.engine, c.cfg, c.cfg.globalScope(), tpl, c.sink)
	sub.out = []*strings.Builder{{}}
	sub.depth = c.depth
	if _, err := tpl.Root.Eval(sub); err != nil {
		return FlowNext, err
	}
	c.scope.Set(n.As, MacroSet(sub.macros))
	return FlowNext, nil
}

func (n *MacroNode) Eval(c *Context) (Flow, error) {
	m := &Macro{Name: n.Name, Params: n.Params, Body: n.Body, Scope: c.scope, file: c.file}
	c.macros[n.Name] = m
	c.scope.Set(n.Name, m)
	return FlowNext, nil
}

// resolveBlock finds the body for name, starting at te and walking up the
// extends chain.
func resolveBlock(te *templateEval, name string) (*BlockNode, *templateEval) {
	for ; te != nil; te = te.parent {
		if b, ok := te.tpl.Blocks[name]; ok {
			return b, te
		}
	}
	return nil, nil
}

func (n *BlockNode) Eval(c *Context) (Flow, error) {
	b, owner := resolveBlock(c.leaf, n.Name)
	if b == nil {
		b, owner = n, c.current
	}
	out, flow, err := c.evalBlock(b, owner)
	if err != nil {
		return flow, err
	}
	return flow, c.Write(out)
}

// evalBlock renders the body of b as declared by owner.
func (c *Context) evalBlock(b *BlockNode, owner *templateEval) (string, Flow, error) {
	saved := c.block
	c.block = &blockRef{name: b.Name, owner: owner}
	defer func() { c.block = saved }()
	var out string
	flow, err := c.withTemplate(owner, func() (Flow, error) {
		var (
			flow Flow
			err  error
		)
		out, flow, err = c.captureIn(c.scope, b.Body.Eval)
		return flow, err
	})
	if err != nil {
		return "", flow, err
	}
	out, err = c.convert(b.ContentType, out)
	return out, flow, err
}

// parentBlock renders the next ancestor's version of the current block.
func (c *Context) parentBlock() (RawString, error) {
	if c.block == nil {
		return "", errors.New("parent() called outside of a block")
	}
	b, owner := resolveBlock(c.block.owner.parent, c.block.name)
	if b == nil {
		return "", fmt.Errorf("block %q has no parent block", c.block.name)
	}
	out, _, err := c.evalBlock(b, owner)
	return RawString(out), err
}

func (n *SwitchNode) Eval(c *Context) (Flow, error) {
	subject, err := n.Subject.Eval(c)
	if err != nil {
		return FlowNext, err
	}
	for _, cs := range n.Cases {
		for _, e := range cs.Values {
			v, err := e.Eval(c)
			if err != nil {
				return FlowNext, err
			}
			if Equal(subject, v) {
				return cs.Body.Eval(c)
			}
		}
	}
	if n.Default != nil {
		return n.Default.Eval(c)
	}
	return FlowNext, nil
}

func (n *DebugNode) Eval(c *Context) (Flow, error) {
	line, col := c.file.Position(n.Tag.Pos)
	attrs := []any{"template", c.file.Name, "line", line, "column", col}
	if n.Expr == nil {
		attrs = append(attrs, "scope", c.scope.Names())
	} else {
		v, err := n.Expr.Eval(c)
		if err != nil {
			return FlowNext, err
		}
		attrs = append(attrs, "value", v)
	}
	c.cfg.Logger.Debug("template debug", attrs...)
	return FlowNext, nil
}
