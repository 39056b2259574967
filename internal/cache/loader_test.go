package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/js_parser"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/metrics"
	"github.com/esmerge/esmerge/internal/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filePath(text string) logger.Path {
	return logger.Path{Text: text, Namespace: "file"}
}

type countingParser struct {
	calls atomic.Int32
}

func (p *countingParser) parse(log logger.Log, source logger.Source, hint js_ast.ModuleFormat) (js_ast.AST, bool) {
	p.calls.Add(1)
	return js_parser.Parse(log, source, hint)
}

func newTestLoader(files map[string]string, options Options) (*Loader, *countingParser) {
	parser := &countingParser{}
	options.Resolver = resolver.NewResolver(fs.MockFS(files))
	options.Parser = parser.parse
	return NewLoader(options), parser
}

func TestLoadSharesInFlightLoads(t *testing.T) {
	loader, parser := newTestLoader(map[string]string{
		"/entry.js": "export let x = 1",
	}, Options{})

	const count = 32
	records := make([]*graph.ModuleRecord, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := loader.Load(context.Background(), filePath("/entry.js"))
			assert.NoError(t, err)
			records[i] = record
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), parser.calls.Load())
	for _, record := range records {
		assert.Same(t, records[0], record)
	}
}

func TestLoadAssignsSourceIndices(t *testing.T) {
	loader, _ := newTestLoader(map[string]string{
		"/a.js": "export let a = 1",
		"/b.js": "export let b = 1",
	}, Options{})
	ctx := context.Background()

	a, err := loader.Load(ctx, filePath("/a.js"))
	require.NoError(t, err)
	b, err := loader.Load(ctx, filePath("/b.js"))
	require.NoError(t, err)
	again, err := loader.Load(ctx, filePath("/a.js"))
	require.NoError(t, err)

	assert.Equal(t, uint32(1), a.Source.Index)
	assert.Equal(t, uint32(2), b.Source.Index)
	assert.Equal(t, a.Source.Index, again.Source.Index)
	assert.Equal(t, "a", a.Source.IdentifierName)
	assert.Equal(t, "a.js", a.Source.PrettyPath)
	assert.True(t, a.HasSideEffects)
	assert.GreaterOrEqual(t, loader.LenHint(), uint32(3))

	runtime, err := loader.Runtime()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), runtime.Source.Index)
	assert.False(t, runtime.HasSideEffects)
}

func TestResolve(t *testing.T) {
	loader, _ := newTestLoader(map[string]string{
		"/src/entry.js":                   "",
		"/src/util.js":                    "",
		"/node_modules/pure/package.json": `{ "sideEffects": false }`,
		"/node_modules/pure/index.js":     "export let x",
	}, Options{External: []string{"react", "./vendor.js"}})
	ctx := context.Background()
	importer := filePath("/src/entry.js")

	result, err := loader.Resolve(ctx, "./util", importer)
	require.NoError(t, err)
	assert.Equal(t, filePath("/src/util.js"), result.Path)
	assert.False(t, result.IsExternal)

	for _, specifier := range []string{"react", "react/jsx-runtime", "./vendor.js"} {
		result, err = loader.Resolve(ctx, specifier, importer)
		require.NoError(t, err, specifier)
		assert.True(t, result.IsExternal, specifier)
		assert.Equal(t, specifier, result.Path.Text)
	}

	// Only bare package names match subpaths
	_, err = loader.Resolve(ctx, "./vendor.js/x", importer)
	assert.ErrorIs(t, err, graph.ErrUnresolved)
	_, err = loader.Resolve(ctx, "reactive", importer)
	assert.ErrorIs(t, err, graph.ErrUnresolved)
	assert.ErrorIs(t, err, resolver.ErrNotFound)

	// The "sideEffects" field ends up on the record
	result, err = loader.Resolve(ctx, "pure", importer)
	require.NoError(t, err)
	record, err := loader.Load(ctx, result.Path)
	require.NoError(t, err)
	assert.False(t, record.HasSideEffects)
}

func TestLoadErrors(t *testing.T) {
	loader, parser := newTestLoader(map[string]string{
		"/syntax.js": "let x = (",
		"/dupe.js":   "export let a = 1\nlet b = 2\nexport { b as a }",
		"/cjs.cjs":   "export let a = 1",
	}, Options{})
	ctx := context.Background()

	_, err := loader.Load(ctx, filePath("/syntax.js"))
	assert.ErrorIs(t, err, graph.ErrParse)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.NotEmpty(t, loadErr.Msgs)
	assert.Equal(t, logger.MsgID_Bundler_ParseFailure, loadErr.Msgs[0].ID)
	require.NotNil(t, loadErr.Msgs[0].Location)
	assert.Equal(t, 1, loadErr.Msgs[0].Location.Line)

	// Failures are cached too
	_, again := loader.Load(ctx, filePath("/syntax.js"))
	assert.Same(t, err, again)
	assert.Equal(t, int32(1), parser.calls.Load())

	_, err = loader.Load(ctx, filePath("/dupe.js"))
	assert.ErrorIs(t, err, graph.ErrDuplicateExport)
	assert.NotErrorIs(t, err, graph.ErrParse)

	_, err = loader.Load(ctx, filePath("/cjs.cjs"))
	assert.ErrorIs(t, err, graph.ErrParse)

	_, err = loader.Load(ctx, filePath("/missing.js"))
	assert.ErrorIs(t, err, graph.ErrIO)
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, logger.MsgID_Bundler_IOError, loadErr.Msgs[0].ID)
}

// Blocks every load until its context is done
type blockingResolver struct {
	resolver.Resolver
	block atomic.Bool
}

func (r *blockingResolver) Load(ctx context.Context, path logger.Path) (resolver.LoadResult, error) {
	if r.block.Load() {
		<-ctx.Done()
		return resolver.LoadResult{}, ctx.Err()
	}
	return r.Resolver.Load(ctx, path)
}

func TestLoadCancellationIsNotCached(t *testing.T) {
	r := &blockingResolver{Resolver: resolver.NewResolver(fs.MockFS(map[string]string{
		"/entry.js": "export let x = 1",
	}))}
	r.block.Store(true)
	loader := NewLoader(Options{Resolver: r})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loader.Load(ctx, filePath("/entry.js"))
	assert.True(t, errors.Is(err, context.Canceled))

	r.block.Store(false)
	record, err := loader.Load(context.Background(), filePath("/entry.js"))
	require.NoError(t, err)
	assert.Equal(t, js_ast.ExportsESM, record.AST.ExportsKind)
}

func TestLoaderMetrics(t *testing.T) {
	loader, _ := newTestLoader(map[string]string{
		"/entry.js": "export let x = 1",
	}, Options{Metrics: metrics.New(prometheus.NewRegistry())})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := loader.Load(ctx, filePath("/entry.js"))
		require.NoError(t, err)
	}
	_, err := loader.Load(ctx, filePath("/missing.js"))
	require.Error(t, err)
}
