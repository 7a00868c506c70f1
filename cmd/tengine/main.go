package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/neurodesk/tengine/pkg/jinja2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var rootConfigPath string
var envFile string
var verbose bool

var rootCmd = cobra.Command{
	Use:           "tengine",
	Short:         "Render Jinja-style templates from a directory or URL",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env-file") {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
		return nil
	},
}

// helper: load config and build the engine it describes
func setup(cmd *cobra.Command) (tengineConfig, *jinja2.Engine, error) {
	cfg, err := loadTengineConfig(rootConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, nil, err
	}
	eng, err := cfg.newEngine(cmd.Context(), slog.Default(), nil)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, eng, nil
}

var renderCmd = cobra.Command{
	Use:   "render [template] [key=value...]",
	Short: "Render a template to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, eng, err := setup(cmd)
		if err != nil {
			return err
		}

		vars := map[string]any{}
		if file, _ := cmd.Flags().GetString("args"); file != "" {
			if err := readArgsFile(file, vars); err != nil {
				return err
			}
		}
		if err := parseAssignments(args[1:], vars); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		return eng.Stream(cmd.Context(), args[0], vars, func(s string) error {
			_, err := fmt.Fprint(out, s)
			return err
		})
	},
}

var renderAllCmd = cobra.Command{
	Use:   "render-all",
	Short: "Render every template below the template directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		if dir, _ := cmd.Flags().GetString("out"); dir != "" {
			cfg.RenderAll.OutDir = dir
		}
		written, err := renderAll(cmd.Context(), &cfg, eng)
		if err != nil {
			return err
		}
		slog.Info("render-all finished", "templates", written, "out", cfg.RenderAll.OutDir)
		return nil
	},
}

var astCmd = cobra.Command{
	Use:   "ast [template]",
	Short: "Print the parsed block tree of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		tpl, err := eng.Get(cmd.Context(), jinja2.KindBase, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), jinja2.Pretty(tpl))
		return nil
	},
}

var serveCmd = cobra.Command{
	Use:   "serve",
	Short: "Serve rendered templates over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadTengineConfig(rootConfigPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Serve.Addr = addr
		}
		return serve(cmd.Context(), &cfg, slog.Default())
	},
}

// readArgsFile merges a YAML mapping of template arguments into vars.
func readArgsFile(path string, vars map[string]any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decoding args file %s: %w", path, err)
	}
	for k, v := range m {
		vars[k] = v
	}
	return nil
}

// parseAssignments parses key=value arguments. Values are YAML scalars or
// flow collections, so n=3 is a number and xs=[1,2] a list.
func parseAssignments(args []string, vars map[string]any) error {
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid argument %q, expected key=value", arg)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		vars[key] = v
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "tengine.yaml", "Path to tengine configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	renderCmd.Flags().String("args", "", "YAML file with template arguments")
	rootCmd.AddCommand(&renderCmd)

	renderAllCmd.Flags().String("out", "", "Output directory (overrides render_all.out_dir)")
	rootCmd.AddCommand(&renderAllCmd)

	rootCmd.AddCommand(&astCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides serve.addr)")
	rootCmd.AddCommand(&serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
