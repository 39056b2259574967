package bundler

import (
	"context"
	"fmt"
	"time"

	"github.com/esmerge/esmerge/internal/cache"
	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/linker"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/metrics"
	"github.com/esmerge/esmerge/internal/resolver"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/esmerge/esmerge/internal/bundler"

type Chunk = linker.Chunk

type Result struct {
	Chunks []Chunk

	// Warnings, sorted by file and position
	Diagnostics []logger.Msg
}

// BuildError is returned when a run fails. It wraps the first fatal error,
// so "errors.Is" works with the sentinels in the "graph" package.
type BuildError struct {
	Err         error
	Diagnostics []logger.Msg
}

func (e *BuildError) Error() string {
	if len(e.Diagnostics) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", e.Err.Error(), logger.ErrorAndWarningSummary(e.Diagnostics))
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

type RunOptions struct {
	// Defaults to a resolver for the real file system
	Resolver resolver.Resolver

	// Defaults to "js_parser.Parse"
	Parser cache.Parser

	// Defaults to a logger that discards everything
	Logger *zerolog.Logger

	// Optional
	Metrics *metrics.Metrics

	// Defaults to the global tracer provider
	TracerProvider trace.TracerProvider
}

// A Run owns the module cache. It can bundle many sets of entry points and
// modules are only loaded once per Run.
type Run struct {
	options config.Options
	loader  *cache.Loader
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewRun(options config.Options, runOptions RunOptions) (*Run, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if runOptions.Resolver == nil {
		runOptions.Resolver = resolver.NewResolver(fs.RealFS())
	}

	zlog := zerolog.Nop()
	if runOptions.Logger != nil {
		zlog = *runOptions.Logger
	}

	var tracer trace.Tracer
	if runOptions.TracerProvider != nil {
		tracer = runOptions.TracerProvider.Tracer(tracerName)
	} else {
		tracer = otel.Tracer(tracerName)
	}

	return &Run{
		options: options,
		loader: cache.NewLoader(cache.Options{
			Resolver:       runOptions.Resolver,
			Parser:         runOptions.Parser,
			External:       options.External,
			MaxConcurrency: options.MaxConcurrency,
			Metrics:        runOptions.Metrics,
		}),
		logger:  zlog,
		metrics: runOptions.Metrics,
		tracer:  tracer,
	}, nil
}

func (r *Run) Options() config.Options {
	return r.options
}

// Bundle turns the entry points into chunks. Errors are always a
// "*BuildError".
func (r *Run) Bundle(ctx context.Context, entryPoints []string) (result Result, err error) {
	runLogger := r.logger.With().Str("run_id", uuid.NewString()).Logger()
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "bundle", trace.WithAttributes(
		attribute.Int("entry_points", len(entryPoints)),
		attribute.String("format", string(r.options.Format)),
		attribute.String("code_splitting", string(r.options.CodeSplitting)),
	))
	defer span.End()

	log := logger.NewDeferLog()
	defer func() {
		r.metrics.RecordRun(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			runLogger.Debug().Err(err).Dur("duration", time.Since(start)).Msg("bundle failed")
			err = &BuildError{Err: err, Diagnostics: log.Done()}
			return
		}
		span.SetAttributes(attribute.Int("chunks", len(result.Chunks)))
		runLogger.Debug().Int("chunks", len(result.Chunks)).Dur("duration", time.Since(start)).Msg("bundle finished")
		result.Diagnostics = log.Done()
	}()

	if err := r.options.CheckEntryPoints(len(entryPoints)); err != nil {
		return Result{}, err
	}

	input, err := r.scan(ctx, log, runLogger, entryPoints)
	if err != nil {
		return Result{}, err
	}

	chunks, err := r.link(ctx, log, runLogger, input)
	if err != nil {
		return Result{}, err
	}

	return Result{Chunks: chunks}, nil
}

func (r *Run) scan(ctx context.Context, log logger.Log, runLogger zerolog.Logger, entryPoints []string) (graph.Input, error) {
	ctx, span := r.tracer.Start(ctx, "scan")
	defer span.End()

	start := time.Now()
	input, err := ScanBundle(ctx, log, runLogger, r.loader, entryPoints)
	r.metrics.RecordPhase("scan", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return graph.Input{}, err
	}
	span.SetAttributes(attribute.Int("modules", len(input.ReachableFiles)-1))
	return input, nil
}

func (r *Run) link(ctx context.Context, log logger.Log, runLogger zerolog.Logger, input graph.Input) ([]Chunk, error) {
	ctx, span := r.tracer.Start(ctx, "link")
	defer span.End()

	start := time.Now()
	chunks, err := linker.Link(ctx, log, r.options, input, r.metrics)
	r.metrics.RecordPhase("link", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, chunk := range chunks {
		runLogger.Debug().
			Str("chunk", chunk.Name).
			Int("modules", len(chunk.Modules)).
			Int("bytes", len(chunk.Contents)).
			Msg("chunk generated")
	}
	return chunks, nil
}

// PrettyPath is how diagnostics refer to a module
func (r *Run) PrettyPath(path logger.Path) string {
	return r.loader.PrettyPath(path)
}
