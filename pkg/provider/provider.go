// Package provider implements template sources for the jinja2 engine.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/neurodesk/tengine/pkg/jinja2"
	"github.com/neurodesk/tengine/pkg/netcache"
)

// FS serves templates from a file system. Names are slash separated and
// relative to the root of FS; a missing Ext is appended when set.
type FS struct {
	FS  fs.FS
	Ext string
	// Process, when set, is attached to every returned source.
	Process func(string) string
}

// Dir serves templates from a directory on disk.
func Dir(dir, ext string) *FS {
	return &FS{FS: os.DirFS(dir), Ext: ext}
}

func (p *FS) Fetch(ctx context.Context, name string) (*jinja2.TemplateSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := cleanName(name, p.Ext)
	if err != nil {
		return nil, err
	}
	b, err := fs.ReadFile(p.FS, file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &jinja2.TemplateNotFoundError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	return &jinja2.TemplateSource{
		Text:        string(b),
		ContentType: jinja2.ContentTypeFor(file),
		Process:     p.Process,
	}, nil
}

// List returns every template name below the root carrying the provider's
// extension, or every file when Ext is empty.
func (p *FS) List() ([]string, error) {
	var out []string
	err := fs.WalkDir(p.FS, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if p.Ext == "" || strings.HasSuffix(name, p.Ext) {
			out = append(out, strings.TrimSuffix(name, p.Ext))
		}
		return nil
	})
	return out, err
}

// cleanName rejects names escaping the root and appends ext.
func cleanName(name, ext string) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(name, "/"))[1:]
	if clean == "" || !fs.ValidPath(clean) {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	if ext != "" && path.Ext(clean) == "" {
		clean += ext
	}
	return clean, nil
}

// HTTP serves templates below a base URL through a revalidating disk cache.
type HTTP struct {
	Base  *url.URL
	Cache *netcache.Cache
	Ext   string
}

// NewHTTP returns an HTTP provider rooted at base, caching below cacheDir.
func NewHTTP(base, cacheDir string) (*HTTP, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: unsupported scheme %q", base, u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &HTTP{Base: u, Cache: netcache.New(cacheDir)}, nil
}

func (p *HTTP) Fetch(ctx context.Context, name string) (*jinja2.TemplateSource, error) {
	file, err := cleanName(name, p.Ext)
	if err != nil {
		return nil, err
	}
	ref := &url.URL{Path: file}
	e, err := p.Cache.Get(ctx, p.Base.ResolveReference(ref).String())
	if errors.Is(err, netcache.ErrNotFound) {
		return nil, &jinja2.TemplateNotFoundError{Name: name}
	}
	if err != nil {
		return nil, err
	}
	ct := jinja2.ContentTypeFor(file)
	if mt, _, err := mime.ParseMediaType(e.ContentType); err == nil && mt == "text/markdown" {
		ct = "markdown"
	}
	return &jinja2.TemplateSource{Text: string(e.Body), ContentType: ct}, nil
}

// Chain tries each provider in order and returns the first template found.
type Chain []jinja2.Provider

func (c Chain) Fetch(ctx context.Context, name string) (*jinja2.TemplateSource, error) {
	for _, p := range c {
		src, err := jinja2.Lookup(ctx, p, name)
		if err != nil {
			return nil, err
		}
		if src != nil {
			return src, nil
		}
	}
	return nil, &jinja2.TemplateNotFoundError{Name: name}
}
