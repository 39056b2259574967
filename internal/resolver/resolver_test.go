package resolver

import (
	"context"
	"testing"

	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() Resolver {
	return NewResolver(fs.MockFS(map[string]string{
		"/src/entry.js":     "",
		"/src/util.mjs":     "",
		"/src/legacy.cjs":   "",
		"/src/dir/index.js": "",
		"/src/both.js":      "",
		"/src/both/index.js": "",

		"/node_modules/pkg/package.json": `{ "main": "./lib/main" }`,
		"/node_modules/pkg/lib/main.js":  "",
		"/node_modules/pkg/extra.js":     "",

		"/node_modules/pure/package.json": `{ "sideEffects": false }`,
		"/node_modules/pure/index.js":     "",

		"/node_modules/@scope/some/package.json": `{ "main": "dist", "sideEffects": ["./dist/effects.js", "*.css.js"] }`,
		"/node_modules/@scope/some/dist/index.js":   "",
		"/node_modules/@scope/some/dist/effects.js": "",
		"/node_modules/@scope/some/dist/a.css.js":   "",
		"/node_modules/@scope/some/dist/pure.js":    "",

		"/src/node_modules/pkg/index.js": "",

		"/broken/package.json": `{ "main": `,
		"/broken/index.js":     "",
	}))
}

func expectResolved(t *testing.T, r Resolver, specifier string, importer string, expected string, ignoreSideEffects bool) {
	t.Helper()
	t.Run(specifier, func(t *testing.T) {
		t.Helper()
		result, err := r.Resolve(context.Background(), specifier, logger.Path{Text: importer, Namespace: "file"})
		require.NoError(t, err)
		assert.Equal(t, logger.Path{Text: expected, Namespace: "file"}, result.Path)
		assert.Equal(t, ignoreSideEffects, result.IgnoreSideEffects)
	})
}

func TestResolveRelative(t *testing.T) {
	r := newTestResolver()
	expectResolved(t, r, "./util.mjs", "/src/entry.js", "/src/util.mjs", false)
	expectResolved(t, r, "./util", "/src/entry.js", "/src/util.mjs", false)
	expectResolved(t, r, "./legacy", "/src/entry.js", "/src/legacy.cjs", false)
	expectResolved(t, r, "./dir", "/src/entry.js", "/src/dir/index.js", false)
	expectResolved(t, r, "../entry", "/src/dir/index.js", "/src/entry.js", false)
	expectResolved(t, r, "/src/entry.js", "/src/dir/index.js", "/src/entry.js", false)

	// A file wins over a directory with the same name
	expectResolved(t, r, "./both", "/src/entry.js", "/src/both.js", false)
}

func TestResolveEntryPoints(t *testing.T) {
	r := newTestResolver()

	// Entry points are resolved relative to the working directory
	result, err := r.Resolve(context.Background(), "./src/entry", logger.Path{})
	require.NoError(t, err)
	assert.Equal(t, "/src/entry.js", result.Path.Text)
	assert.Equal(t, "src/entry.js", r.PrettyPath(result.Path))
}

func TestResolvePackages(t *testing.T) {
	r := newTestResolver()
	expectResolved(t, r, "pkg", "/entry.js", "/node_modules/pkg/lib/main.js", false)
	expectResolved(t, r, "pkg/extra", "/entry.js", "/node_modules/pkg/extra.js", false)

	// The closest "node_modules" directory wins
	expectResolved(t, r, "pkg", "/src/entry.js", "/src/node_modules/pkg/index.js", false)

	expectResolved(t, r, "pure", "/entry.js", "/node_modules/pure/index.js", true)
	expectResolved(t, r, "@scope/some", "/entry.js", "/node_modules/@scope/some/dist/index.js", true)
	expectResolved(t, r, "@scope/some/dist/effects", "/entry.js", "/node_modules/@scope/some/dist/effects.js", false)
	expectResolved(t, r, "@scope/some/dist/a.css.js", "/entry.js", "/node_modules/@scope/some/dist/a.css.js", false)
	expectResolved(t, r, "@scope/some/dist/pure", "/entry.js", "/node_modules/@scope/some/dist/pure.js", true)
}

func TestResolveErrors(t *testing.T) {
	r := newTestResolver()

	_, err := r.Resolve(context.Background(), "./missing", logger.Path{Text: "/src/entry.js", Namespace: "file"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(context.Background(), "missing-pkg", logger.Path{Text: "/src/entry.js", Namespace: "file"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(context.Background(), "./index.js", logger.Path{Text: "/broken/x.js", Namespace: "file"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Cannot parse \"broken/package.json\"")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "./entry", logger.Path{Text: "/src/x.js", Namespace: "file"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad(t *testing.T) {
	r := NewResolver(fs.MockFS(map[string]string{
		"/a.js":  "export let a",
		"/b.cjs": "module.exports = 1",
		"/c.mjs": "export let c",
	}))

	result, err := r.Load(context.Background(), logger.Path{Text: "/a.js", Namespace: "file"})
	require.NoError(t, err)
	assert.Equal(t, LoadResult{Contents: "export let a", Format: js_ast.FormatUnknown}, result)

	result, err = r.Load(context.Background(), logger.Path{Text: "/b.cjs", Namespace: "file"})
	require.NoError(t, err)
	assert.Equal(t, js_ast.FormatCommonJS, result.Format)

	result, err = r.Load(context.Background(), logger.Path{Text: "/c.mjs", Namespace: "file"})
	require.NoError(t, err)
	assert.Equal(t, js_ast.FormatESM, result.Format)

	_, err = r.Load(context.Background(), logger.Path{Text: "/missing.js", Namespace: "file"})
	assert.True(t, fs.IsNotExist(err))
	assert.EqualError(t, err, "Cannot read file \"missing.js\": no such file or directory")
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "pkg", PackageName("pkg"))
	assert.Equal(t, "pkg", PackageName("pkg/sub/path"))
	assert.Equal(t, "@scope/pkg", PackageName("@scope/pkg"))
	assert.Equal(t, "@scope/pkg", PackageName("@scope/pkg/sub"))
	assert.True(t, IsPackagePath("pkg"))
	assert.False(t, IsPackagePath("./pkg"))
	assert.False(t, IsPackagePath(".."))
}

func TestGlobMatch(t *testing.T) {
	assert.True(t, globMatch("/a/**/*.css.js", "/a/b/c/x.css.js"))
	assert.True(t, globMatch("/a/**/*.css.js", "/a/x.css.js"))
	assert.False(t, globMatch("/a/**/*.css.js", "/b/x.css.js"))
	assert.True(t, globMatch("/a/*.js", "/a/x.js"))
	assert.False(t, globMatch("/a/*.js", "/a/b/x.js"))
}
