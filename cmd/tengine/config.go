package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"strings"

	"github.com/neurodesk/tengine/pkg/flight"
	"github.com/neurodesk/tengine/pkg/jinja2"
	"github.com/neurodesk/tengine/pkg/provider"
	"github.com/neurodesk/tengine/pkg/starlark"
	"github.com/neurodesk/tengine/pkg/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TENGINE_"

type renderAllConfig struct {
	// Output is a template for the output path of each rendered name.
	Output      string `yaml:"output,omitempty"`
	OutDir      string `yaml:"out_dir,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty"`
}

type serveConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

type tengineConfig struct {
	Templates string         `yaml:"templates"`
	Includes  string         `yaml:"includes,omitempty"`
	Layouts   string         `yaml:"layouts,omitempty"`
	Ext       string         `yaml:"ext,omitempty"`
	Escape    string         `yaml:"escape,omitempty"`
	Cache     bool           `yaml:"cache"`
	CacheDir  string         `yaml:"cache_dir,omitempty"`
	Starlark  []string       `yaml:"starlark,omitempty"`
	Globals   map[string]any `yaml:"globals,omitempty"`

	RenderAll renderAllConfig `yaml:"render_all,omitempty"`
	Serve     serveConfig     `yaml:"serve,omitempty"`
}

func defaultConfig() tengineConfig {
	return tengineConfig{
		Templates: ".",
		Escape:    "html",
		Cache:     true,
		CacheDir:  ".tengine-cache",
		RenderAll: renderAllConfig{
			Output:      "{{ name }}{{ ext }}",
			OutDir:      "out",
			Concurrency: 4,
		},
		Serve: serveConfig{Addr: ":8080"},
	}
}

func (c *tengineConfig) loadConfig(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding config file: %w", err)
	}
	return nil
}

// applyEnv overrides settings from TENGINE_* variables.
func (c *tengineConfig) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TEMPLATES": &c.Templates,
		"INCLUDES":  &c.Includes,
		"LAYOUTS":   &c.Layouts,
		"EXT":       &c.Ext,
		"ESCAPE":    &c.Escape,
		"CACHE_DIR": &c.CacheDir,
		"OUT_DIR":   &c.RenderAll.OutDir,
		"ADDR":      &c.Serve.Addr,
	}
	for k, dst := range strs {
		if v, ok := lookup(envPrefix + k); ok {
			*dst = v
		}
	}
	if v, ok := lookup(envPrefix + "CACHE"); ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("%sCACHE: %w", envPrefix, err)
		}
		c.Cache = b
	}
	if v, ok := lookup(envPrefix + "CONCURRENCY"); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("%sCONCURRENCY: %w", envPrefix, err)
		}
		c.RenderAll.Concurrency = n
	}
	return nil
}

// location is a template root: a directory or an http(s) base URL.
type location string

func (l location) remote() bool { return strings.Contains(string(l), "://") }

func (l location) Validate() error {
	if l.remote() {
		return validator.HTTPURL(string(l), "location")
	}
	return nil
}

func (c *tengineConfig) Validate() error {
	return validator.All(
		validator.NotEmpty(c.Templates, "templates"),
		validator.Each([]location{location(c.Templates), location(c.Includes), location(c.Layouts)}, "locations"),
		validator.MatchesAllowed(c.Escape, []string{"html", "none", "ugc"}, "escape"),
		validator.NoDuplicates(c.Starlark, "starlark"),
		validator.MapDict(c.Globals, func(name string, _ any) error {
			return validator.Identifier(name, "global")
		}),
		validator.Template(c.RenderAll.Output, "render_all.output"),
		validator.Positive(c.RenderAll.Concurrency, "render_all.concurrency"),
	)
}

// loadTengineConfig reads path on top of the defaults. A missing file is
// only an error when the path was given explicitly.
func loadTengineConfig(path string, explicit bool) (tengineConfig, error) {
	cfg := defaultConfig()
	if err := cfg.loadConfig(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return cfg, fmt.Errorf("loading config: %w", err)
		}
		slog.Debug("no config file, using defaults", "path", path)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *tengineConfig) provider(loc location) (jinja2.Provider, error) {
	if loc.remote() {
		p, err := provider.NewHTTP(string(loc), c.CacheDir)
		if err != nil {
			return nil, err
		}
		p.Ext = c.Ext
		return p, nil
	}
	return provider.Dir(string(loc), c.Ext), nil
}

func (c *tengineConfig) escaper() func(string) string {
	switch c.Escape {
	case "none":
		return jinja2.EscapeNone
	case "ugc":
		return jinja2.EscapeUGC
	}
	return jinja2.EscapeHTML
}

// newEngine builds the engine described by c. logger and reg may be nil.
func (c *tengineConfig) newEngine(ctx context.Context, logger *slog.Logger, reg prometheus.Registerer) (*jinja2.Engine, error) {
	cfg := jinja2.NewConfig()
	if logger != nil {
		cfg.Logger = logger
	}
	cfg.Escape = c.escaper()
	maps.Copy(cfg.Globals, c.Globals)
	for _, script := range c.Starlark {
		if err := starlark.Load(ctx, cfg, script); err != nil {
			return nil, fmt.Errorf("loading %s: %w", script, err)
		}
	}

	root, err := c.provider(location(c.Templates))
	if err != nil {
		return nil, err
	}
	var opts []jinja2.Option
	for _, extra := range []struct {
		loc  string
		with func(jinja2.Provider) jinja2.Option
	}{
		{c.Includes, jinja2.WithIncludes},
		{c.Layouts, jinja2.WithLayouts},
	} {
		if extra.loc == "" {
			continue
		}
		p, err := c.provider(location(extra.loc))
		if err != nil {
			return nil, err
		}
		opts = append(opts, extra.with(provider.Chain{p, root}))
	}

	var cacheOpts []flight.Option
	if reg != nil {
		cacheOpts = append(cacheOpts, flight.WithMetrics(flight.NewMetrics(reg)))
	}
	if !c.Cache {
		cacheOpts = append(cacheOpts, flight.Disabled())
	}
	opts = append(opts, jinja2.WithCache(flight.New[*jinja2.Template](cacheOpts...)))

	return jinja2.New(root, cfg, opts...), nil
}
