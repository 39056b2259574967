package bundler

import (
	"context"
	"testing"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/cache"
	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/resolver"
	"github.com/esmerge/esmerge/internal/runtime"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanForTest(t *testing.T, files map[string]string, entryPoints ...string) graph.Input {
	t.Helper()
	loader := cache.NewLoader(cache.Options{
		Resolver: resolver.NewResolver(fs.MockFS(files)),
	})
	log := logger.NewDeferLog()
	input, err := ScanBundle(context.Background(), log, zerolog.Nop(), loader, entryPoints)
	require.NoError(t, err)
	return input
}

// The files in "ReachableFiles" order by their pretty paths
func reachablePaths(input graph.Input) []string {
	var paths []string
	for _, sourceIndex := range input.ReachableFiles {
		paths = append(paths, input.Records[sourceIndex].Source.PrettyPath)
	}
	return paths
}

func TestScanOrder(t *testing.T) {
	files := map[string]string{
		"/entry.js": `
			import './b.js'
			import './a.js'
			import('./lazy.js')
		`,
		"/a.js":      `import './shared.js'`,
		"/b.js":      `import './shared.js'; import './a.js'`,
		"/shared.js": `console.log('shared')`,
		"/lazy.js":   `console.log('lazy')`,
	}

	// The order only depends on the import records, never on timing
	for i := 0; i < 10; i++ {
		input := scanForTest(t, files, "/entry.js")
		require.Equal(t, runtime.SourceIndex, input.ReachableFiles[0])
		if d := cmp.Diff([]string{"<runtime>", "shared.js", "a.js", "b.js", "lazy.js", "entry.js"}, reachablePaths(input)); d != "" {
			t.Fatalf("unexpected order (-expected +observed):\n%s", d)
		}
	}
}

func TestScanEdges(t *testing.T) {
	input := scanForTest(t, map[string]string{
		"/entry.js": `
			import { x, y as z } from './a.js'
			import * as ns from './a.js'
			const b = require('./b.js')
			import('./entry.js')
		`,
		"/a.js": `export const x = 1, y = 2`,
		"/b.js": `module.exports = 1`,
	}, "/entry.js")

	type edge struct {
		From, To string
		Kind     ast.ImportKind
		Names    []string
	}
	var edges []edge
	for _, e := range input.Edges {
		edges = append(edges, edge{
			From:  input.Records[e.From].Source.PrettyPath,
			To:    input.Records[e.To].Source.PrettyPath,
			Kind:  e.Kind,
			Names: e.Names,
		})
	}

	// The self-import isn't an edge
	expected := []edge{
		{From: "entry.js", To: "a.js", Kind: ast.ImportStmt, Names: []string{"x", "y"}},
		{From: "entry.js", To: "a.js", Kind: ast.ImportStmt, Names: []string{"*"}},
		{From: "entry.js", To: "b.js", Kind: ast.ImportRequire, Names: []string{"*"}},
	}
	if d := cmp.Diff(expected, edges); d != "" {
		t.Fatalf("unexpected edges (-expected +observed):\n%s", d)
	}
}

func TestScanCycleGroups(t *testing.T) {
	input := scanForTest(t, map[string]string{
		"/entry.js": `import './a.js'; import './d.js'`,
		"/a.js":     `import './b.js'`,
		"/b.js":     `import './c.js'`,
		"/c.js":     `import './a.js'`,
		"/d.js":     `import('./e.js')`,
		"/e.js":     `import './d.js'`,
	}, "/entry.js")

	// Dynamic imports don't close a cycle
	require.Len(t, input.CycleGroups, 1)
	var group []string
	for _, sourceIndex := range input.CycleGroups[0] {
		group = append(group, input.Records[sourceIndex].Source.PrettyPath)
	}
	assert.Equal(t, []string{"c.js", "b.js", "a.js"}, group)
}

func TestScanExternalAndUnsupported(t *testing.T) {
	loader := cache.NewLoader(cache.Options{
		Resolver: resolver.NewResolver(fs.MockFS(map[string]string{
			"/entry.js": `import 'ext'; import './evil.js'`,
			"/evil.js":  `eval('x')`,
		})),
		External: []string{"ext"},
	})
	log := logger.NewDeferLog()
	input, err := ScanBundle(context.Background(), log, zerolog.Nop(), loader, []string{"/entry.js"})
	require.NoError(t, err)

	entry := input.EntryPoints[0].SourceIndex
	for _, target := range input.ImportTargets[entry] {
		assert.False(t, target.IsValid())
	}
	assert.Empty(t, input.Edges)

	msgs := log.Done()
	require.Len(t, msgs, 1)
	assert.Equal(t, logger.Warning, msgs[0].Kind)
	assert.Equal(t, logger.MsgID_Bundler_UnsupportedSyntax, msgs[0].ID)
}

func TestCancelledScanSkipsImports(t *testing.T) {
	loader := cache.NewLoader(cache.Options{
		Resolver: resolver.NewResolver(fs.MockFS(map[string]string{
			"/entry.js": `import './a.js'; import './b.js'`,
			"/a.js":     `console.log('a')`,
			"/b.js":     `console.log('b')`,
		})),
	})
	entry, err := loader.Resolve(context.Background(), "/entry.js", logger.Path{})
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), entry.Path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scanner{
		ctx:           ctx,
		cancel:        cancel,
		log:           logger.NewDeferLog(),
		logger:        zerolog.Nop(),
		loader:        loader,
		modules:       make(map[logger.Path]*scannedModule),
		resultChannel: make(chan scanResult),
	}

	// The record is cached, so only resolving the imports sees the cancellation
	s.maybeLoad(entry.Path)
	result := <-s.resultChannel
	require.NoError(t, result.err)
	require.Len(t, result.imports, 2)
	for _, imported := range result.imports {
		assert.ErrorIs(t, imported.err, context.Canceled)
	}
}
