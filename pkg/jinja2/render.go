package jinja2

import (
	"context"
	"fmt"
	"strings"

	"github.com/neurodesk/tengine/pkg/flight"
)

// Kind selects the provider a template is fetched from. It is also the
// cache key namespace.
type Kind string

const (
	KindBase    Kind = "base"
	KindInclude Kind = "include"
	KindLayout  Kind = "layout"
)

// Engine compiles templates on demand through a shared single-flight cache
// and renders them. It is safe for concurrent use once configured.
type Engine struct {
	cfg       *Config
	providers map[Kind]Provider
	cache     *flight.Cache[*Template]
}

// Option configures an Engine.
type Option func(*Engine)

// WithIncludes serves include and import tags from p.
func WithIncludes(p Provider) Option {
	return func(e *Engine) { e.providers[KindInclude] = p }
}

// WithLayouts serves extends tags and front matter layouts from p.
func WithLayouts(p Provider) Option {
	return func(e *Engine) { e.providers[KindLayout] = p }
}

// WithCache replaces the template cache, e.g. to share it between engines
// or to attach metrics.
func WithCache(c *flight.Cache[*Template]) Option {
	return func(e *Engine) { e.cache = c }
}

// New creates an engine rendering templates from root. Includes and layouts
// come from root unless overridden. A nil cfg uses NewConfig().
func New(root Provider, cfg *Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = NewConfig()
	}
	e := &Engine{
		cfg: cfg,
		providers: map[Kind]Provider{
			KindBase:    root,
			KindInclude: root,
			KindLayout:  root,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = flight.New[*Template]()
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Get returns the compiled template name from the provider of kind.
func (e *Engine) Get(ctx context.Context, kind Kind, name string) (*Template, error) {
	p, ok := e.providers[kind]
	if !ok || p == nil {
		return nil, fmt.Errorf("no %s provider configured", kind)
	}
	return e.cache.Get(ctx, string(kind)+"/"+name, func(ctx context.Context) (*Template, error) {
		src, err := p.Fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return nil, &TemplateNotFoundError{Name: name}
		}
		return CompileSource(e.cfg, name, src)
	})
}

// Invalidate drops every compiled template.
func (e *Engine) Invalidate() { e.cache.Invalidate() }

// SetCacheEnabled turns template caching on or off.
func (e *Engine) SetCacheEnabled(enabled bool) { e.cache.SetEnabled(enabled) }

// Render renders the template name with args.
func (e *Engine) Render(ctx context.Context, name string, args map[string]any) (string, error) {
	var b strings.Builder
	err := e.Stream(ctx, name, args, func(s string) error {
		b.WriteString(s)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderPairs renders name with arguments given as alternating keys and
// values.
func (e *Engine) RenderPairs(ctx context.Context, name string, kv ...any) (string, error) {
	if len(kv)%2 != 0 {
		return "", fmt.Errorf("render %s: odd number of key/value arguments", name)
	}
	args := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		args[ToString(kv[i])] = kv[i+1]
	}
	return e.Render(ctx, name, args)
}

// Stream renders name, passing output to write in document order as it is
// produced. Output of captures, blocks and macros is delivered once they
// complete.
func (e *Engine) Stream(ctx context.Context, name string, args map[string]any, write func(string) error) error {
	tpl, err := e.Get(ctx, KindBase, name)
	if err != nil {
		return err
	}
	return e.Execute(ctx, tpl, args, write)
}

// Execute renders an already compiled template.
func (e *Engine) Execute(ctx context.Context, tpl *Template, args map[string]any, write func(string) error) error {
	root := e.cfg.globalScope()
	root.SetAll(tpl.FrontMatter)
	scope := NewScope(root)
	scope.SetAll(args)
	c := newContext(ctx, e, e.cfg, scope, tpl, write)
	// FlowExtended ends the render normally
	_, err := tpl.Root.Eval(c)
	return err
}
