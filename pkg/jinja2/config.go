package jinja2

import (
	"bytes"
	"fmt"
	"html"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

// Config is the host supplied registry of tags, filters, functions and hooks.
// It may be modified until the first render; afterwards it is shared by
// concurrent renders and must be treated as read-only.
type Config struct {
	Tags      map[string]*TagDef
	Filters   map[string]Filter
	Functions map[string]Function

	// Escape transforms expression output that is not a RawString.
	Escape func(string) string
	// FrontMatter decodes the block between the leading --- lines.
	FrontMatter func(text string) (map[string]any, error)
	// UnknownFilter handles filters missing from Filters.
	UnknownFilter func(c *Context, name string, subject any, args []any) (any, error)
	// ResolveVariable resolves bare identifiers.
	ResolveVariable func(c *Context, name string) any
	// WriteExpr serializes the value of {{ expr }} into output.
	WriteExpr func(c *Context, v any) string
	// ContentTypes post-process captured or block output of a declared type.
	ContentTypes map[string]func(string) (string, error)

	Mapper ObjectMapper
	Logger *slog.Logger
	// Globals are visible to every render, beneath front matter and arguments.
	Globals map[string]any
}

// NewConfig returns a Config with the built-in tags, filters and functions,
// HTML escaping and YAML front matter.
func NewConfig() *Config {
	return &Config{
		Tags:            DefaultTags(),
		Filters:         DefaultFilters(),
		Functions:       DefaultFunctions(),
		Escape:          EscapeHTML,
		FrontMatter:     DecodeYAMLFrontMatter,
		UnknownFilter:   failUnknownFilter,
		ResolveVariable: resolveFromScope,
		WriteExpr:       writeEscaped,
		ContentTypes: map[string]func(string) (string, error){
			"markdown": Markdown,
		},
		Mapper:  ReflectMapper{},
		Logger:  slog.Default(),
		Globals: map[string]any{},
	}
}

// RegisterTag adds or replaces a tag definition.
func (cfg *Config) RegisterTag(def *TagDef) { cfg.Tags[def.Name] = def }

// RegisterFilter adds or replaces a filter.
func (cfg *Config) RegisterFilter(name string, f Filter) { cfg.Filters[name] = f }

// RegisterFunction adds or replaces a function.
func (cfg *Config) RegisterFunction(name string, f Function) { cfg.Functions[name] = f }

func (cfg *Config) globalScope() *Scope {
	s := NewScope(nil)
	s.SetAll(cfg.Globals)
	return s
}

// EscapeHTML escapes <, >, &, ' and ".
func EscapeHTML(s string) string { return html.EscapeString(s) }

// EscapeNone leaves output untouched.
func EscapeNone(s string) string { return s }

var ugcPolicy = bluemonday.UGCPolicy()

// EscapeUGC lets safe user generated HTML through and strips the rest.
func EscapeUGC(s string) string { return ugcPolicy.Sanitize(s) }

// DecodeYAMLFrontMatter decodes front matter as a YAML mapping.
func DecodeYAMLFrontMatter(text string) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("front matter: %w", err)
	}
	return out, nil
}

// Markdown renders CommonMark to HTML.
func Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("markdown: %w", err)
	}
	return buf.String(), nil
}

func failUnknownFilter(_ *Context, name string, _ any, _ []any) (any, error) {
	return nil, fmt.Errorf("unknown filter %q", name)
}

func resolveFromScope(c *Context, name string) any {
	v, _ := c.scope.Get(name)
	return v
}

func writeEscaped(c *Context, v any) string {
	if r, ok := v.(RawString); ok {
		return string(r)
	}
	if c.cfg.Escape == nil {
		return ToString(v)
	}
	return c.cfg.Escape(ToString(v))
}
