package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/esmerge/esmerge/internal/bundler"
	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/resolver"
	"github.com/rs/zerolog"
)

func validateFormat(value Format) config.Format {
	switch value {
	case FormatDefault, FormatESModule:
		return config.FormatESModule
	case FormatCommonJS:
		return config.FormatCommonJS
	default:
		panic("Invalid format")
	}
}

func validateCodeSplitting(value CodeSplitting) config.CodeSplitting {
	switch value {
	case CodeSplittingDefault, CodeSplittingPerEntry:
		return config.SplittingPerEntry
	case CodeSplittingSingle:
		return config.SplittingSingle
	case CodeSplittingPerDynamicImport:
		return config.SplittingPerDynamicImport
	default:
		panic("Invalid code splitting mode")
	}
}

func validateSharedModules(value SharedModules) config.SharedModules {
	switch value {
	case SharedModulesDefault, SharedModulesHoist:
		return config.SharedHoist
	case SharedModulesDuplicate:
		return config.SharedDuplicate
	default:
		panic("Invalid shared module mode")
	}
}

func validateDefaultInterop(value DefaultInterop) config.DefaultInterop {
	switch value {
	case DefaultInteropDefault, DefaultInteropAuto:
		return config.InteropAuto
	case DefaultInteropNode:
		return config.InteropNode
	default:
		panic("Invalid default interop")
	}
}

func validateLogLevel(value LogLevel) zerolog.Level {
	switch value {
	case LogLevelSilent:
		return zerolog.Disabled
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarning:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		panic("Invalid log level")
	}
}

func validatePath(cwd string, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cwd, path)
}

func convertMessage(msg logger.Msg) Message {
	message := Message{
		ID:   logger.MsgIDToString(msg.ID),
		Text: msg.Text,
	}
	if msg.Location != nil {
		message.Location = &Location{
			File:     msg.Location.File,
			Line:     msg.Location.Line,
			Column:   msg.Location.Column,
			Length:   msg.Location.Length,
			LineText: msg.Location.LineText,
		}
	}
	return message
}

func convertMessages(result *BuildResult, msgs []logger.Msg) {
	for _, msg := range msgs {
		if msg.Kind == logger.Error {
			result.Errors = append(result.Errors, convertMessage(msg))
		} else {
			result.Warnings = append(result.Warnings, convertMessage(msg))
		}
	}
}

type contextImpl struct {
	options BuildOptions
	cwd     string
	outdir  string
	run     *bundler.Run
}

func newContextImpl(options BuildOptions) (*contextImpl, []Message) {
	bundleOptions := config.Default()
	bundleOptions.Format = validateFormat(options.Format)
	bundleOptions.CodeSplitting = validateCodeSplitting(options.CodeSplitting)
	bundleOptions.SharedModules = validateSharedModules(options.SharedModules)
	bundleOptions.DefaultInterop = validateDefaultInterop(options.DefaultInterop)
	bundleOptions.External = options.Externals
	bundleOptions.TreeShaking = !options.DisableTreeShaking
	bundleOptions.MaxConcurrency = options.MaxConcurrency
	bundleOptions.DebugGraph = options.DebugGraph
	bundleOptions.SourceMap = options.Sourcemap
	if options.Outdir != "" {
		bundleOptions.OutputDir = options.Outdir
	}

	zlog := zerolog.Nop()
	if options.LogOutput != nil {
		zlog = zerolog.New(options.LogOutput).Level(validateLogLevel(options.LogLevel)).With().Timestamp().Logger()
	}

	realFS := fs.RealFS()
	run, err := bundler.NewRun(bundleOptions, bundler.RunOptions{
		Resolver: resolver.NewResolver(realFS),
		Logger:   &zlog,
	})
	if err != nil {
		return nil, []Message{{Text: err.Error()}}
	}

	cwd := realFS.Cwd()
	return &contextImpl{
		options: options,
		cwd:     cwd,
		outdir:  validatePath(cwd, bundleOptions.OutputDir),
		run:     run,
	}, nil
}

func (c *contextImpl) rebuild(ctx context.Context, entryPoints []string) BuildResult {
	if len(entryPoints) == 0 {
		entryPoints = c.options.EntryPoints
	}
	absEntryPoints := make([]string, len(entryPoints))
	for i, entryPoint := range entryPoints {
		absEntryPoints[i] = validatePath(c.cwd, entryPoint)
	}

	var result BuildResult
	bundle, err := c.run.Bundle(ctx, absEntryPoints)
	if err != nil {
		var buildErr *bundler.BuildError
		if errors.As(err, &buildErr) {
			convertMessages(&result, buildErr.Diagnostics)
		}

		// Make sure failures that didn't come with a diagnostic are reported
		if len(result.Errors) == 0 {
			cause := err
			if buildErr != nil {
				cause = buildErr.Err
			}
			result.Errors = append(result.Errors, Message{Text: cause.Error()})
		}
		return result
	}
	convertMessages(&result, bundle.Diagnostics)

	for _, chunk := range bundle.Chunks {
		path := filepath.Join(c.outdir, chunk.Name)
		result.OutputFiles = append(result.OutputFiles, OutputFile{Path: path, Contents: chunk.Contents})
		if chunk.SourceMap != nil {
			result.OutputFiles = append(result.OutputFiles, OutputFile{Path: path + ".map", Contents: chunk.SourceMap})
		}
		if chunk.DebugGraph != nil {
			result.OutputFiles = append(result.OutputFiles, OutputFile{Path: path + ".graph.json", Contents: chunk.DebugGraph})
		}
	}

	if c.options.Write {
		if err := writeOutputFiles(result.OutputFiles); err != nil {
			result.Errors = append(result.Errors, Message{Text: err.Error()})
		}
	}
	return result
}

func writeOutputFiles(files []OutputFile) error {
	for _, file := range files {
		if err := os.MkdirAll(filepath.Dir(file.Path), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(file.Path, file.Contents, 0644); err != nil {
			return fmt.Errorf("failed to write to output file: %w", err)
		}
	}
	return nil
}

func buildImpl(ctx context.Context, options BuildOptions) BuildResult {
	impl, msgs := newContextImpl(options)
	if impl == nil {
		return BuildResult{Errors: msgs}
	}
	return impl.rebuild(ctx, nil)
}
