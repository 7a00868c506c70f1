package jinja2

import (
	"context"
	"path"
)

// TemplateSource is raw template text as returned by a Provider.
type TemplateSource struct {
	Text string
	// ContentType, when set, post-processes the template body, for example
	// "markdown" pages rendered into a layout.
	ContentType string
	// Process rewrites every literal text chunk at compile time.
	Process func(string) string
}

// Provider fetches template text by name. Unknown names must produce a
// *TemplateNotFoundError.
type Provider interface {
	Fetch(ctx context.Context, name string) (*TemplateSource, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, name string) (*TemplateSource, error)

func (f ProviderFunc) Fetch(ctx context.Context, name string) (*TemplateSource, error) {
	return f(ctx, name)
}

// Lookup is the nullable variant of Fetch: a missing template yields nil
// without an error.
func Lookup(ctx context.Context, p Provider, name string) (*TemplateSource, error) {
	src, err := p.Fetch(ctx, name)
	if IsNotFound(err) {
		return nil, nil
	}
	return src, err
}

// MemoryProvider serves templates from a map.
type MemoryProvider map[string]string

func (m MemoryProvider) Fetch(ctx context.Context, name string) (*TemplateSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := m[name]
	if !ok {
		return nil, &TemplateNotFoundError{Name: name}
	}
	return &TemplateSource{Text: s, ContentType: ContentTypeFor(name)}, nil
}

// ContentTypeFor derives a content type from a file extension. Only types
// that need post-processing are reported.
func ContentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".md", ".markdown":
		return "markdown"
	}
	return ""
}
