package bundler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundleError(t *testing.T, files map[string]string, entryPaths []string, options config.Options) *BuildError {
	t.Helper()
	run := newTestRun(t, files, options)
	_, err := run.Bundle(context.Background(), entryPaths)
	require.Error(t, err)
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	return buildErr
}

func TestUnresolvedStaticImport(t *testing.T) {
	expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `import { x } from './missing.js'; console.log(x)`,
		},
		entryPaths:  []string{"/entry.js"},
		expectedErr: graph.ErrUnresolved,
		expectedLog: "entry.js:1:18: error: Could not resolve \"./missing.js\"\n",
	})
}

func TestUnresolvedEntryPoint(t *testing.T) {
	expectBundled(t, bundled{
		files:       map[string]string{},
		entryPaths:  []string{"/missing.js"},
		expectedErr: graph.ErrUnresolved,
		expectedLog: "error: Could not resolve entry point \"/missing.js\"\n",
	})
}

func TestDuplicateEntryPoint(t *testing.T) {
	expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `console.log(1)`,
		},
		entryPaths:  []string{"/entry.js", "/entry.js"},
		expectedErr: graph.ErrUnresolved,
		expectedLog: "error: Duplicate entry point \"/entry.js\"\n",
	})
}

func TestUnresolvedGuardedRequireIsWarning(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			let optional
			try { optional = require('./optional.js') } catch {}
			console.log(optional)
		`,
	}, []string{"/entry.js"}, testOptions())

	assert.Contains(t, contents["entry.js"], `require("./optional.js")`)
}

func TestUnresolvedDynamicImportIsWarning(t *testing.T) {
	run := newTestRun(t, map[string]string{
		"/entry.js": `import('./later.js')`,
	}, testOptions())

	result, err := run.Bundle(context.Background(), []string{"/entry.js"})
	require.NoError(t, err)
	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0].Text, `Could not resolve "./later.js"`)
	assert.Contains(t, string(result.Chunks[0].Contents), `import("./later.js")`)
}

func TestUnresolvedImportBehindDynamicImport(t *testing.T) {
	run := newTestRun(t, map[string]string{
		"/entry.js": `
			console.log('entry runs')
			import('./lazy.js').catch(() => console.log('rejected'))
		`,
		"/lazy.js": `
			import './missing.js'
			console.log('lazy runs')
		`,
	}, testOptions())

	result, err := run.Bundle(context.Background(), []string{"/entry.js"})
	require.NoError(t, err)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, logger.Warning, result.Diagnostics[0].Kind)
	assert.Contains(t, result.Diagnostics[0].Text, `Could not resolve "./missing.js"`)

	// Only initializing the lazy module fails, not loading the chunk
	require.Len(t, result.Chunks, 1)
	code := string(result.Chunks[0].Contents)
	assert.NotContains(t, code, `import "./missing.js"`)
	wrapper := strings.Index(code, "var init_lazy = __esm(")
	throw := strings.Index(code, `throw new Error("Could not resolve \"./missing.js\"");`)
	lazy := strings.Index(code, `console.log("lazy runs");`)
	require.True(t, wrapper >= 0 && throw >= 0 && lazy >= 0, code)
	assert.Less(t, wrapper, throw)
	assert.Less(t, throw, lazy)
	assert.Contains(t, code, `console.log("entry runs");`)
}

func TestParseErrorIsFatal(t *testing.T) {
	buildErr := bundleError(t, map[string]string{
		"/entry.js":  `import { x } from './broken.js'; console.log(x)`,
		"/broken.js": `export const = 1`,
	}, []string{"/entry.js"}, testOptions())

	assert.True(t, errors.Is(buildErr, graph.ErrParse))
	require.NotEmpty(t, buildErr.Diagnostics)
	assert.Equal(t, "broken.js", buildErr.Diagnostics[0].Location.File)
}

func TestParseErrorBehindDynamicImportIsWarning(t *testing.T) {
	run := newTestRun(t, map[string]string{
		"/entry.js":  `import('./broken.js').catch(() => {})`,
		"/broken.js": `export const = 1`,
	}, testOptions())

	result, err := run.Bundle(context.Background(), []string{"/entry.js"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Diagnostics)
	assert.Contains(t, string(result.Chunks[0].Contents), `import("./broken.js")`)
}

func TestDuplicateExport(t *testing.T) {
	buildErr := bundleError(t, map[string]string{
		"/entry.js": `
			export const x = 1
			const y = 2
			export { y as x }
		`,
	}, []string{"/entry.js"}, testOptions())

	assert.ErrorIs(t, buildErr, graph.ErrDuplicateExport)
}

func TestAmbiguousStarExport(t *testing.T) {
	files := map[string]string{
		"/entry.js": `
			import { x } from './index.js'
			console.log(x)
		`,
		"/index.js": `
			export * from './a.js'
			export * from './b.js'
		`,
		"/a.js": `export const x = 'a'`,
		"/b.js": `export const x = 'b'`,
	}
	buildErr := bundleError(t, files, []string{"/entry.js"}, testOptions())
	assert.ErrorIs(t, buildErr, graph.ErrDuplicateExport)

	// Unused ambiguous names are left out of the namespace without an error
	files["/entry.js"] = `export * from './index.js'`
	contents := bundleContents(t, files, []string{"/entry.js"}, testOptions())
	assert.NotContains(t, contents["entry.js"], `"a"`)
}

func TestCyclicReexport(t *testing.T) {
	buildErr := bundleError(t, map[string]string{
		"/entry.js": `
			import { x } from './a.js'
			console.log(x)
		`,
		"/a.js": `export { x } from './b.js'`,
		"/b.js": `export { x } from './a.js'`,
	}, []string{"/entry.js"}, testOptions())

	assert.ErrorIs(t, buildErr, graph.ErrCyclicReexport)
}

func TestStarExportCycleTerminates(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import { a, b } from './a.js'
			console.log(a, b)
		`,
		"/a.js": `
			export * from './b.js'
			export const a = 1
		`,
		"/b.js": `
			export * from './a.js'
			export const b = 2
		`,
	}, []string{"/entry.js"}, testOptions())

	assert.Contains(t, contents["entry.js"], "console.log(a, b);")
}

func TestMissingImport(t *testing.T) {
	buildErr := bundleError(t, map[string]string{
		"/entry.js": `
			import { nope } from './a.js'
			console.log(nope)
		`,
		"/a.js": `export const x = 1`,
	}, []string{"/entry.js"}, testOptions())

	assert.ErrorIs(t, buildErr, graph.ErrMissingImport)
}

func TestUnsupportedSyntax(t *testing.T) {
	files := map[string]string{
		"/entry.js": `
			import { run } from './dynamic.js'
			console.log(run)
		`,
		"/dynamic.js": `
			export const run = () => eval('1')
		`,
	}

	run := newTestRun(t, files, testOptions())
	result, err := run.Bundle(context.Background(), []string{"/entry.js"})
	require.NoError(t, err)
	assert.Contains(t, string(result.Chunks[0].Contents), `from "./dynamic.js"`)
	assert.NotContains(t, string(result.Chunks[0].Contents), "// dynamic.js")

	// The same module as an entry point can't be bundled at all
	buildErr := bundleError(t, files, []string{"/dynamic.js"}, testOptions())
	assert.ErrorIs(t, buildErr, graph.ErrUnsupportedSyntax)
}

func TestSingleModeRejectsManyEntryPoints(t *testing.T) {
	options := testOptions()
	options.CodeSplitting = config.SplittingSingle
	buildErr := bundleError(t, map[string]string{
		"/a.js": `console.log('a')`,
		"/b.js": `console.log('b')`,
	}, []string{"/a.js", "/b.js"}, options)

	assert.Contains(t, buildErr.Error(), "only allows one entry point")
}

func TestCancelledRun(t *testing.T) {
	run := newTestRun(t, map[string]string{
		"/entry.js": `import './a.js'`,
		"/a.js":     `console.log(1)`,
	}, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run.Bundle(ctx, []string{"/entry.js"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// A cancelled run leaves nothing behind that breaks the next one
	result, err := run.Bundle(context.Background(), []string{"/entry.js"})
	require.NoError(t, err)
	assert.Contains(t, string(result.Chunks[0].Contents), "console.log(1);")
}
