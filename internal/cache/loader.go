package cache

// The loader owns the module records of one bundler. Loading a module means
// reading its contents through the resolver, parsing it, and running the
// scope analyzer over the result. Records are immutable once they are in the
// cache and are shared by every bundling run that uses this loader:
//
//   - Everything a record contains must only depend on the contents of the
//     file itself. Do not "bake in" information from other files.
//
//   - Anything a run needs to change must be changed on a clone (see
//     "graph.MakeLinkerGraph").
//
// There is at most one load in flight per module identity. Concurrent
// requests for the same path share the result of that load.

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/binder"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/js_parser"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/metrics"
	"github.com/esmerge/esmerge/internal/resolver"
	esmruntime "github.com/esmerge/esmerge/internal/runtime"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// A parser turns source text into an AST with all statements in one part.
// The scope analyzer runs on the result.
type Parser func(log logger.Log, source logger.Source, hint js_ast.ModuleFormat) (js_ast.AST, bool)

type Options struct {
	Resolver resolver.Resolver

	// Defaults to "js_parser.Parse"
	Parser Parser

	// Specifiers that are never loaded. A bare package name also matches its
	// subpaths, so "react" matches "react/jsx-runtime".
	External []string

	// The maximum number of modules parsed at once. Defaults to twice the
	// number of CPUs.
	MaxConcurrency int

	Metrics *metrics.Metrics
}

type Loader struct {
	resolver resolver.Resolver
	parse    Parser
	external []string
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted
	group    singleflight.Group

	mutex           sync.Mutex
	resolveCache    map[resolveKey]resolveEntry
	sourceIndices   map[logger.Path]uint32
	nextSourceIndex uint32
	noSideEffects   map[logger.Path]bool
	entries         map[logger.Path]*loadEntry

	runtimeOnce   sync.Once
	runtimeRecord *graph.ModuleRecord
	runtimeErr    error
}

type resolveKey struct {
	namespace string
	dir       string
	specifier string
}

type resolveEntry struct {
	result resolver.ResolveResult
	err    error
}

type loadEntry struct {
	record *graph.ModuleRecord
	err    error
}

// Returned by "Load". Always wraps "graph.ErrIO", "graph.ErrParse", or
// "graph.ErrDuplicateExport".
type LoadError struct {
	Path logger.Path

	// The diagnostics that caused the failure, with source locations when
	// the failure came from the parser or the scope analyzer
	Msgs []logger.Msg

	err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path.String(), e.err)
}

func (e *LoadError) Unwrap() error {
	return e.err
}

func NewLoader(options Options) *Loader {
	if options.Resolver == nil {
		panic("Internal error: the loader needs a resolver")
	}
	if options.Parser == nil {
		options.Parser = js_parser.Parse
	}
	if options.MaxConcurrency <= 0 {
		options.MaxConcurrency = runtime.GOMAXPROCS(0) * 2
	}
	return &Loader{
		resolver:        options.Resolver,
		parse:           options.Parser,
		external:        append([]string{}, options.External...),
		metrics:         options.Metrics,
		sem:             semaphore.NewWeighted(int64(options.MaxConcurrency)),
		resolveCache:    make(map[resolveKey]resolveEntry),
		sourceIndices:   make(map[logger.Path]uint32),
		nextSourceIndex: esmruntime.SourceIndex + 1,
		noSideEffects:   make(map[logger.Path]bool),
		entries:         make(map[logger.Path]*loadEntry),
	}
}

func (l *Loader) PrettyPath(path logger.Path) string {
	return l.resolver.PrettyPath(path)
}

// An upper bound on the source indices handed out so far. Source indices are
// never reused, so arrays indexed by them can be sized with this.
func (l *Loader) LenHint() uint32 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	// Add some extra room at the end for a new file or two without reallocating
	const someExtraRoom = 16
	return l.nextSourceIndex + someExtraRoom
}

func (l *Loader) IsExternal(specifier string) bool {
	for _, external := range l.external {
		if specifier == external {
			return true
		}
		if resolver.IsPackagePath(external) && strings.HasPrefix(specifier, external+"/") {
			return true
		}
	}
	return false
}

// Maps a specifier to a module identity. An empty importer means the
// specifier is an entry point. Results are remembered per importer directory.
func (l *Loader) Resolve(ctx context.Context, specifier string, importer logger.Path) (resolver.ResolveResult, error) {
	if l.IsExternal(specifier) {
		l.metrics.RecordResolve("external")
		return resolver.ResolveResult{
			Path:       logger.Path{Text: specifier},
			IsExternal: true,
		}, nil
	}

	dir, _, _ := ast.PlatformIndependentPathDirBaseExt(importer.Text)
	key := resolveKey{namespace: importer.Namespace, dir: dir, specifier: specifier}

	l.mutex.Lock()
	entry, ok := l.resolveCache[key]
	l.mutex.Unlock()
	if ok {
		return entry.result, entry.err
	}

	result, err := l.resolver.Resolve(ctx, specifier, importer)
	if err != nil {
		// Don't remember the result of a run that was cancelled
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return resolver.ResolveResult{}, err
		}
		err = fmt.Errorf("%w: %w", graph.ErrUnresolved, err)
		l.metrics.RecordResolve("error")
	} else if result.IsExternal {
		l.metrics.RecordResolve("external")
	} else {
		l.metrics.RecordResolve("ok")
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err == nil && result.IgnoreSideEffects {
		l.noSideEffects[result.Path] = true
	}
	l.resolveCache[key] = resolveEntry{result: result, err: err}
	return result, err
}

// Returns the record for a module, loading it if this is the first request.
// Failures are remembered like successes except for cancellation.
func (l *Loader) Load(ctx context.Context, path logger.Path) (*graph.ModuleRecord, error) {
	for {
		l.mutex.Lock()
		entry, ok := l.entries[path]
		l.mutex.Unlock()
		if ok {
			l.metrics.RecordCacheHit()
			return entry.record, entry.err
		}

		ch := l.group.DoChan(path.String(), func() (interface{}, error) {
			return l.loadWithoutCache(ctx, path)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case result := <-ch:
			if result.Err == nil {
				return result.Val.(*graph.ModuleRecord), nil
			}

			// The load we joined belonged to a caller that gave up. Try again
			// if this caller is still interested.
			if isContextError(result.Err) && ctx.Err() == nil {
				continue
			}
			return nil, result.Err
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (l *Loader) loadWithoutCache(ctx context.Context, path logger.Path) (*graph.ModuleRecord, error) {
	// Another load may have finished between the cache check and this call
	l.mutex.Lock()
	if entry, ok := l.entries[path]; ok {
		l.mutex.Unlock()
		return entry.record, entry.err
	}
	l.mutex.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	start := time.Now()
	record, err := l.parseModule(ctx, path)
	if err != nil && isContextError(err) {
		return nil, err
	}
	if err != nil {
		if errors.Is(err, graph.ErrIO) {
			l.metrics.RecordLoadError("io")
		} else {
			l.metrics.RecordLoadError("parse")
		}
	} else {
		l.metrics.RecordLoad(formatLabel(record.AST.ExportsKind), time.Since(start))
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries[path] = &loadEntry{record: record, err: err}
	return record, err
}

func (l *Loader) sourceIndexFor(path logger.Path) uint32 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if sourceIndex, ok := l.sourceIndices[path]; ok {
		return sourceIndex
	}
	sourceIndex := l.nextSourceIndex
	l.nextSourceIndex++
	l.sourceIndices[path] = sourceIndex
	return sourceIndex
}

func (l *Loader) parseModule(ctx context.Context, path logger.Path) (*graph.ModuleRecord, error) {
	loaded, err := l.resolver.Load(ctx, path)
	if err != nil {
		if isContextError(err) {
			return nil, err
		}
		return nil, &LoadError{
			Path: path,
			Msgs: []logger.Msg{{
				ID:   logger.MsgID_Bundler_IOError,
				Kind: logger.Error,
				Text: err.Error(),
			}},
			err: fmt.Errorf("%w: %w", graph.ErrIO, err),
		}
	}

	prettyPath := l.resolver.PrettyPath(path)
	source := logger.Source{
		Index:          l.sourceIndexFor(path),
		KeyPath:        path,
		PrettyPath:     prettyPath,
		IdentifierName: ast.GenerateNonUniqueNameFromPath(prettyPath),
		Contents:       loaded.Contents,
	}

	tree, msgs, err := analyze(l.parse, source, loaded.Format)
	if err != nil {
		return nil, &LoadError{Path: path, Msgs: msgs, err: err}
	}

	l.mutex.Lock()
	hasSideEffects := !l.noSideEffects[path]
	l.mutex.Unlock()

	return &graph.ModuleRecord{
		Source:         source,
		AST:            tree,
		Format:         loaded.Format,
		HasSideEffects: hasSideEffects,
		Msgs:           msgs,
	}, nil
}

func analyze(parse Parser, source logger.Source, hint js_ast.ModuleFormat) (js_ast.AST, []logger.Msg, error) {
	log := logger.NewDeferLog()
	tree, ok := parse(log, source, hint)
	if ok {
		tree, ok = binder.Bind(log, source, tree, hint)
	}
	msgs := log.Done()
	if ok {
		return tree, msgs, nil
	}

	// Only "DuplicateExport" has its own sentinel. Everything else the parser
	// and scope analyzer report is a parse failure.
	for _, msg := range msgs {
		if msg.Kind == logger.Error && msg.ID == logger.MsgID_Bundler_DuplicateExport {
			return tree, msgs, graph.ErrDuplicateExport
		}
	}
	return tree, msgs, graph.ErrParse
}

// The runtime helper module is parsed once per loader and always uses the
// built-in parser
func (l *Loader) Runtime() (*graph.ModuleRecord, error) {
	l.runtimeOnce.Do(func() {
		source := esmruntime.Source()
		tree, msgs, err := analyze(js_parser.Parse, source, js_ast.FormatESM)
		if err != nil {
			l.runtimeErr = &LoadError{Path: source.KeyPath, Msgs: msgs, err: err}
			return
		}
		l.runtimeRecord = &graph.ModuleRecord{
			Source:         source,
			AST:            tree,
			Format:         js_ast.FormatESM,
			HasSideEffects: false,
		}
	})
	return l.runtimeRecord, l.runtimeErr
}

func formatLabel(kind js_ast.ExportsKind) string {
	switch kind {
	case js_ast.ExportsESM:
		return "esm"
	case js_ast.ExportsCommonJS:
		return "cjs"
	}
	return "none"
}
