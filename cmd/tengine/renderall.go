package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/neurodesk/tengine/pkg/jinja2"
	"github.com/neurodesk/tengine/pkg/provider"
	"golang.org/x/sync/errgroup"
)

var errNotListable = errors.New("render-all needs a local template directory")

// renderAll renders every listed template outside '_' prefixed files and
// directories and writes it below OutDir. It returns the number of files
// written.
func renderAll(ctx context.Context, cfg *tengineConfig, eng *jinja2.Engine) (int, error) {
	if location(cfg.Templates).remote() {
		return 0, errNotListable
	}
	names, err := provider.Dir(cfg.Templates, cfg.Ext).List()
	if err != nil {
		return 0, fmt.Errorf("listing templates: %w", err)
	}
	output := jinja2.TemplateString(cfg.RenderAll.Output)

	var written atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.RenderAll.Concurrency)
	for _, name := range names {
		if partial(name) {
			continue
		}
		g.Go(func() error {
			rel, err := output.Render(map[string]any{"name": name, "ext": cfg.Ext})
			if err != nil {
				return fmt.Errorf("%s: output path: %w", name, err)
			}
			dst := filepath.Join(cfg.RenderAll.OutDir, filepath.FromSlash(rel))
			if !strings.HasPrefix(dst, filepath.Clean(cfg.RenderAll.OutDir)+string(filepath.Separator)) {
				return fmt.Errorf("%s: output path %q escapes %s", name, rel, cfg.RenderAll.OutDir)
			}

			out, err := eng.Render(ctx, name, nil)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
				return err
			}
			slog.Debug("rendered", "template", name, "path", dst)
			written.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(written.Load()), err
}

func partial(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, "_") {
			return true
		}
	}
	return false
}
