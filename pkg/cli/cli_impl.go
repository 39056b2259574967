package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/esmerge/esmerge/internal/bundler"
	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/exitcode"
	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/logging"
	"github.com/esmerge/esmerge/internal/metrics"
	"github.com/esmerge/esmerge/internal/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag name to the config key it sets. The keys match the "mapstructure" tags
// on "config.Options".
var flagKeys = map[string]string{
	"format":          "format",
	"tree-shaking":    "tree_shaking",
	"external":        "external",
	"code-splitting":  "code_splitting",
	"shared-modules":  "shared_modules",
	"default-interop": "default_interop",
	"max-concurrency": "max_concurrency",
	"outdir":          "output_dir",
	"debug-graph":     "debug_graph",
	"sourcemap":       "source_map",
}

type rootFlags struct {
	configFile string
	logLevel   string
	color      string
	stdout     bool
}

func newRootCommand(stdout io.Writer, stderr io.Writer) *cobra.Command {
	v := viper.New()
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "esmerge [entry points]",
		Short: "Merge ES modules into a few self-contained chunks",
		Long: `esmerge follows the imports of each entry point and merges every module it
reaches into one chunk, renaming top-level names so they never collide.

Examples:
  # Produces out/app.js
  esmerge src/app.js

  # One chunk per entry point plus shared chunks, as CommonJS
  esmerge --format=cjs --outdir=dist src/a.js src/b.js

  # Print a single chunk to stdout
  esmerge --stdout src/app.js`,
		Args: func(cmd *cobra.Command, args []string) error {
			return exitcode.Set(cobra.MinimumNArgs(1)(cmd, args), exitcode.Usage)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := loadOptions(v, flags.configFile)
			if err != nil {
				return exitcode.Set(err, exitcode.Usage)
			}
			zlog, err := newLogger(stderr, flags.logLevel)
			if err != nil {
				return exitcode.Set(err, exitcode.Usage)
			}
			color, err := logging.ParseColor(flags.color)
			if err != nil {
				return exitcode.Set(err, exitcode.Usage)
			}
			printer := logging.NewPrinter(stderr, logging.Options{IncludeSource: true, Color: color})
			return runBuild(cmd, options, zlog, printer, args, flags.stdout, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exitcode.Set(err, exitcode.Usage)
	})

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVarP(&flags.configFile, "config", "c", "", "YAML file with build options")
	f.StringVar(&flags.logLevel, "log-level", "warn", "operational log level (debug, info, warn, error, disabled)")
	f.StringVar(&flags.color, "color", "auto", "color diagnostics (auto, never, always)")
	f.BoolVar(&flags.stdout, "stdout", false, "print the only chunk to stdout instead of writing files")
	f.String("format", string(defaults.Format), "output format (esm or cjs)")
	f.Bool("tree-shaking", defaults.TreeShaking, "remove unused code")
	f.StringSlice("external", nil, "keep this import as a run-time import (can be repeated)")
	f.String("code-splitting", string(defaults.CodeSplitting), "single, per-entry, or per-dynamic-import")
	f.String("shared-modules", string(defaults.SharedModules), "hoist or duplicate modules shared between chunks")
	f.String("default-interop", string(defaults.DefaultInterop), "default import of CommonJS modules (auto or node)")
	f.Int("max-concurrency", defaults.MaxConcurrency, "maximum number of modules parsed at once (0 means automatic)")
	f.String("outdir", defaults.OutputDir, "output directory")
	f.Bool("sourcemap", defaults.SourceMap, "write a source map next to each chunk")
	f.Bool("debug-graph", defaults.DebugGraph, "write a JSON dump of the linked parts next to each chunk")

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	v.SetEnvPrefix("ESMERGE")
	v.AutomaticEnv()

	return cmd
}

// The config file is read first, then the environment and the flags that
// were set override it
func loadOptions(v *viper.Viper, configFile string) (config.Options, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return config.Options{}, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	options := config.Default()
	if err := v.Unmarshal(&options); err != nil {
		return config.Options{}, fmt.Errorf("unable to decode options: %w", err)
	}
	options.Print = true
	if err := options.Validate(); err != nil {
		return config.Options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return options, nil
}

func newLogger(stderr io.Writer, level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		Level(parsed).
		With().
		Timestamp().
		Logger(), nil
}

func runBuild(cmd *cobra.Command, options config.Options, zlog zerolog.Logger, printer *logging.Printer, entryPoints []string,
	toStdout bool, stdout io.Writer, stderr io.Writer) error {
	realFS := fs.RealFS()
	for i, entryPoint := range entryPoints {
		if !filepath.IsAbs(entryPoint) {
			entryPoints[i] = filepath.Join(realFS.Cwd(), entryPoint)
		}
	}

	run, err := bundler.NewRun(options, bundler.RunOptions{
		Resolver: resolver.NewResolver(realFS),
		Logger:   &zlog,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	})
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := run.Bundle(cmd.Context(), entryPoints)
	if err != nil {
		var buildErr *bundler.BuildError
		if errors.As(err, &buildErr) && len(buildErr.Diagnostics) > 0 {
			counts := printer.Print(buildErr.Diagnostics)
			if counts.Errors > 0 {
				fmt.Fprintf(stderr, "%s\n", logger.ErrorAndWarningSummary(buildErr.Diagnostics))
				return &buildFailedError{errorCount: counts.Errors}
			}
		}
		return err
	}
	printer.Print(result.Diagnostics)

	if toStdout {
		if len(result.Chunks) != 1 {
			return fmt.Errorf("--stdout needs exactly one chunk, got %d", len(result.Chunks))
		}
		_, err := stdout.Write(result.Chunks[0].Contents)
		return err
	}

	for _, chunk := range result.Chunks {
		path := filepath.Join(options.OutputDir, chunk.Name)
		if err := writeFile(path, chunk.Contents); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "  %-30s %s\n", path, formatSize(len(chunk.Contents)))
		if chunk.SourceMap != nil {
			if err := writeFile(path+".map", chunk.SourceMap); err != nil {
				return err
			}
		}
		if chunk.DebugGraph != nil {
			if err := writeFile(path+".graph.json", chunk.DebugGraph); err != nil {
				return err
			}
		}
	}
	zlog.Info().Int("chunks", len(result.Chunks)).Dur("duration", time.Since(start)).Msg("done")
	return nil
}

func writeFile(path string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, contents, 0644); err != nil {
		return fmt.Errorf("failed to write to output file: %w", err)
	}
	return nil
}

func formatSize(bytes int) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%db", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1fkb", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1fmb", float64(bytes)/(1024*1024))
	}
}
