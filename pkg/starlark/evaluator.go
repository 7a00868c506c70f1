package starlark

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Evaluator runs Starlark scripts whose top-level definitions extend the
// template engine.
type Evaluator struct {
	logger   *slog.Logger
	builtins starlark.StringDict
	globals  starlark.StringDict
}

// NewEvaluator creates an evaluator logging script output to logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger:   logger,
		builtins: builtins(),
		globals:  make(starlark.StringDict),
	}
}

func (e *Evaluator) thread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Info("starlark print", "thread", name, "msg", msg)
		},
	}
}

// SetGlobal makes a Go value visible to scripts run afterwards.
func (e *Evaluator) SetGlobal(name string, value any) {
	e.globals[name] = ToStarlark(value)
}

// Global returns a script global converted to a Go value.
func (e *Evaluator) Global(name string) (any, bool) {
	v, ok := e.globals[name]
	if !ok {
		return nil, false
	}
	return FromStarlark(v), true
}

func (e *Evaluator) predeclared() starlark.StringDict {
	out := make(starlark.StringDict, len(e.builtins)+len(e.globals))
	for k, v := range e.builtins {
		out[k] = v
	}
	for k, v := range e.globals {
		out[k] = v
	}
	return out
}

// Eval evaluates a single expression.
func (e *Evaluator) Eval(ctx context.Context, expr string) (any, error) {
	th := e.thread("eval")
	defer context.AfterFunc(ctx, func() { th.Cancel(context.Cause(ctx).Error()) })()
	val, err := starlark.EvalOptions(syntax.LegacyFileOptions(), th, "<eval>", expr, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark eval: %w", err)
	}
	return FromStarlark(val), nil
}

// ExecFile executes a script. src may be nil to read filename from disk.
// The script's globals are frozen afterwards so its functions can be called
// from concurrent renders.
func (e *Evaluator) ExecFile(ctx context.Context, filename string, src any) (starlark.StringDict, error) {
	th := e.thread(filename)
	defer context.AfterFunc(ctx, func() { th.Cancel(context.Cause(ctx).Error()) })()
	globals, err := starlark.ExecFileOptions(syntax.LegacyFileOptions(), th, filename, src, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark exec %s: %w", filename, err)
	}
	globals.Freeze()
	for k, v := range globals {
		e.globals[k] = v
	}
	e.logger.Debug("starlark script loaded", "file", filename, "globals", len(globals))
	return globals, nil
}

// ExecString executes a script held in memory.
func (e *Evaluator) ExecString(ctx context.Context, script string) (starlark.StringDict, error) {
	return e.ExecFile(ctx, "<script>", script)
}

// exportable reports whether a script global should be handed to templates.
func exportable(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}
