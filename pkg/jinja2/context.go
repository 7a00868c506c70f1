package jinja2

import (
	"context"
	"strings"
)

// maxDepth bounds nested includes, extends and macro calls.
const maxDepth = 200

// templateEval is a template taking part in one render. parent is linked
// when the template's extends tag runs.
type templateEval struct {
	tpl    *Template
	parent *templateEval
}

// blockRef is the named block currently being evaluated, used by parent().
type blockRef struct {
	name  string
	owner *templateEval
}

// Context is the per-render evaluation state. It is owned by one goroutine.
type Context struct {
	ctx    context.Context
	engine *Engine
	cfg    *Config
	scope  *Scope
	// macros collects every definition for import; calls resolve via scope
	macros map[string]*Macro
	file   *SourceFile

	current *templateEval
	leaf    *templateEval
	block   *blockRef

	out   []*strings.Builder
	sink  func(string) error
	depth int
}

func newContext(ctx context.Context, e *Engine, cfg *Config, scope *Scope, tpl *Template, sink func(string) error) *Context {
	te := &templateEval{tpl: tpl}
	return &Context{
		ctx:     ctx,
		engine:  e,
		cfg:     cfg,
		scope:   scope,
		macros:  map[string]*Macro{},
		file:    tpl.file,
		current: te,
		leaf:    te,
		sink:    sink,
	}
}

// Context returns the Go context of the render.
func (c *Context) Context() context.Context { return c.ctx }

// Config returns the configuration the render runs with.
func (c *Context) Config() *Config { return c.cfg }

// Engine returns the engine driving the render; nil for detached renders.
func (c *Context) Engine() *Engine { return c.engine }

// Scope returns the innermost scope frame.
func (c *Context) Scope() *Scope { return c.scope }

// Template returns the template currently being evaluated.
func (c *Context) Template() *Template { return c.current.tpl }

// Write appends s to the innermost capture buffer or, outside any capture,
// to the render's sink.
func (c *Context) Write(s string) error {
	if s == "" {
		return nil
	}
	if n := len(c.out); n > 0 {
		c.out[n-1].WriteString(s)
		return nil
	}
	return c.sink(s)
}

// Errorf returns an error positioned in the template being evaluated.
func (c *Context) Errorf(offset int, format string, args ...any) error {
	return c.file.Errorf(offset, format, args...)
}

func (c *Context) wrap(offset int, err error) error {
	return c.file.Wrap(offset, err, "")
}

// captureIn evaluates fn with scope s, collecting its output instead of
// writing it.
func (c *Context) captureIn(s *Scope, fn func(*Context) (Flow, error)) (string, Flow, error) {
	var b strings.Builder
	saved := c.scope
	c.scope = s
	c.out = append(c.out, &b)
	flow, err := fn(c)
	c.out = c.out[:len(c.out)-1]
	c.scope = saved
	return b.String(), flow, err
}

// enter guards against runaway recursion; the returned func must be called
// on exit.
func (c *Context) enter(offset int) (func(), error) {
	if c.depth >= maxDepth {
		return nil, c.Errorf(offset, "maximum nesting depth %d exceeded", maxDepth)
	}
	c.depth++
	return func() { c.depth-- }, nil
}

// withTemplate evaluates fn with te as the current template.
func (c *Context) withTemplate(te *templateEval, fn func() (Flow, error)) (Flow, error) {
	current, file := c.current, c.file
	c.current, c.file = te, te.tpl.file
	defer func() { c.current, c.file = current, file }()
	return fn()
}
