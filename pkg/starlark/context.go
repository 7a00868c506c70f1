package starlark

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neurodesk/tengine/pkg/jinja2"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
)

// FilterPrefix marks script functions that are registered as filters, e.g.
// `def filter_shout(s)` becomes `{{ x | shout }}`.
const FilterPrefix = "filter_"

func builtins() starlark.StringDict {
	return starlark.StringDict{
		"json": starlarkjson.Module,
		"math": starlarkmath.Module,
		"render": starlark.NewBuiltin("render", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var src string
			if err := starlark.UnpackPositionalArgs(fn.Name(), args, nil, 1, &src); err != nil {
				return nil, err
			}
			vars := make(map[string]any, len(kwargs))
			for _, kv := range kwargs {
				vars[string(kv[0].(starlark.String))] = FromStarlark(kv[1])
			}
			out, err := jinja2.TemplateString(src).Render(vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fn.Name(), err)
			}
			return starlark.String(out), nil
		}),
	}
}

// Install registers the exportable globals of a script with cfg. Functions
// named filter_x become the filter x, other functions become template
// functions and the remaining values become template globals.
func Install(cfg *jinja2.Config, globals starlark.StringDict) {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !exportable(name) {
			continue
		}
		switch v := globals[name].(type) {
		case starlark.Callable:
			if f, ok := strings.CutPrefix(name, FilterPrefix); ok && f != "" {
				cfg.RegisterFilter(f, filterOf(v))
			} else {
				cfg.RegisterFunction(name, (&function{fn: v}).Call)
			}
		default:
			cfg.Globals[name] = FromStarlark(v)
		}
		cfg.Logger.Debug("starlark export", "name", name, "type", globals[name].Type())
	}
}

// Load executes a script file and installs its definitions into cfg.
func Load(ctx context.Context, cfg *jinja2.Config, filename string) error {
	globals, err := NewEvaluator(cfg.Logger).ExecFile(ctx, filename, nil)
	if err != nil {
		return err
	}
	Install(cfg, globals)
	return nil
}

func filterOf(fn starlark.Callable) jinja2.Filter {
	return func(c *jinja2.Context, subject any, args []any) (any, error) {
		return call(c, fn, toStarlarkArgs(append([]any{subject}, args...)))
	}
}

// call runs fn on a fresh thread tied to the render's context.
func call(c *jinja2.Context, fn starlark.Callable, args starlark.Tuple) (any, error) {
	th := &starlark.Thread{
		Name: fn.Name(),
		Print: func(_ *starlark.Thread, msg string) {
			c.Config().Logger.Info("starlark print", "func", fn.Name(), "msg", msg)
		},
	}
	ctx := c.Context()
	defer context.AfterFunc(ctx, func() { th.Cancel(context.Cause(ctx).Error()) })()
	v, err := starlark.Call(th, fn, args, nil)
	if err != nil {
		return nil, err
	}
	return FromStarlark(v), nil
}
