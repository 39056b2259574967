package bundler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/resolver"
	"github.com/esmerge/esmerge/internal/sourcemap"
	"github.com/google/go-cmp/cmp"
	"github.com/kylelemons/godebug/diff"
	"github.com/stretchr/testify/require"
)

func assertEqual(t *testing.T, a interface{}, b interface{}) {
	t.Helper()
	if a != b {
		stringA := fmt.Sprintf("%v", a)
		stringB := fmt.Sprintf("%v", b)
		if strings.Contains(stringA, "\n") {
			t.Fatal(diff.Diff(stringB, stringA))
		} else {
			t.Fatalf("%s != %s", a, b)
		}
	}
}

func assertLog(t *testing.T, msgs []logger.Msg, expected string) {
	t.Helper()
	text := ""
	for _, msg := range msgs {
		text += msg.String(logger.OutputOptions{})
	}
	assertEqual(t, text, expected)
}

type bundled struct {
	files      map[string]string
	entryPaths []string

	// Chunk name to contents
	expected map[string]string

	expectedLog string

	// Checked with "errors.Is" when set. The chunks aren't checked.
	expectedErr error

	options *config.Options
}

func testOptions() config.Options {
	options := config.Default()
	options.CodeSplitting = config.SplittingPerEntry
	return options
}

func newTestRun(t *testing.T, files map[string]string, options config.Options) *Run {
	t.Helper()
	run, err := NewRun(options, RunOptions{
		Resolver: resolver.NewResolver(fs.MockFS(files)),
	})
	require.NoError(t, err)
	return run
}

func expectBundled(t *testing.T, args bundled) {
	t.Helper()
	options := testOptions()
	if args.options != nil {
		options = *args.options
	}

	run := newTestRun(t, args.files, options)
	result, err := run.Bundle(context.Background(), args.entryPaths)

	if args.expectedErr != nil {
		require.Error(t, err)
		require.ErrorIs(t, err, args.expectedErr)
		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
		assertLog(t, buildErr.Diagnostics, args.expectedLog)
		return
	}

	require.NoError(t, err)
	assertLog(t, result.Diagnostics, args.expectedLog)

	assertEqual(t, len(result.Chunks), len(args.expected))
	for _, chunk := range result.Chunks {
		expected, ok := args.expected[chunk.Name]
		require.True(t, ok, "unexpected chunk %q", chunk.Name)
		name := "[" + chunk.Name + "]\n"
		assertEqual(t, name+string(chunk.Contents), name+expected)
	}
}

// Bundles and returns the contents of every chunk by name
func bundleContents(t *testing.T, files map[string]string, entryPaths []string, options config.Options) map[string]string {
	t.Helper()
	run := newTestRun(t, files, options)
	result, err := run.Bundle(context.Background(), entryPaths)
	require.NoError(t, err)
	contents := make(map[string]string)
	for _, chunk := range result.Chunks {
		contents[chunk.Name] = string(chunk.Contents)
	}
	return contents
}

func TestSimpleChain(t *testing.T) {
	expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
				import { result } from './b.js'
				console.log(result)
			`,
			"/b.js": `
				import { value } from './a.js'
				export const result = value + 1
			`,
			"/a.js": `
				export const value = 1
			`,
		},
		entryPaths: []string{"/entry.js"},
		expected: map[string]string{
			"entry.js": `// a.js
const value = 1;
// b.js
const result = value + 1;
// entry.js
console.log(result);
`,
		},
	})
}

func TestEntryPointExports(t *testing.T) {
	expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
				export const x = 1
				export function f() {}
			`,
		},
		entryPaths: []string{"/entry.js"},
		expected: map[string]string{
			"entry.js": `// entry.js
const x = 1;
function f() {}
export { f, x };
`,
		},
	})
}

func TestAnonymousDefaultExportName(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import f from './b.js'
			import C from './c.js'
			console.log(f.name, C.name)
		`,
		"/b.js": `export default function() {}`,
		"/c.js": `export default class {}`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "var __name = ")
	require.Contains(t, code, "function b_default() {}\n__name(b_default, \"default\");\n")
	require.Contains(t, code, "class c_default {}\n__name(c_default, \"default\");\n")
	require.Contains(t, code, "console.log(b_default.name, c_default.name);")
}

func TestTopLevelNameCollision(t *testing.T) {
	expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": `
				import { a } from './a.js'
				import { b } from './b.js'
				console.log(a, b)
			`,
			"/a.js": `
				const x = 1
				export const a = x
			`,
			"/b.js": `
				const x = 2
				export const b = x
			`,
		},
		entryPaths: []string{"/entry.js"},
		expected: map[string]string{
			"entry.js": `// a.js
const x = 1;
const a = x;
// b.js
const x2 = 2;
const b = x2;
// entry.js
console.log(a, b);
`,
		},
	})
}

func TestRenameAvoidsFreeNames(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import { console as c } from './a.js'
			console.log(c)
		`,
		"/a.js": `
			const console = 1
			export { console }
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "const console2 = 1;")
	require.Contains(t, code, "console.log(console2);")
}

func TestTreeShakingDropsUnusedExports(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import { used } from './a.js'
			console.log(used)
		`,
		"/a.js": `
			export const used = 1
			export const unused = 2
		`,
		"/unused.js": `
			export const neverImported = 3
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "const used = 1;")
	require.NotContains(t, code, "unused")
	require.NotContains(t, code, "neverImported")
}

func TestTreeShakingKeepsSideEffects(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import './polyfill.js'
			import { unused } from './pure.js'
		`,
		"/polyfill.js": `
			globalThis.installed = true
		`,
		"/pure.js": `
			export const unused = 1
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "globalThis.installed = true;")
	require.NotContains(t, code, "pure.js")
}

func TestTreeShakingDisabled(t *testing.T) {
	options := testOptions()
	options.TreeShaking = false
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import { used } from './a.js'
			console.log(used)
		`,
		"/a.js": `
			export const used = 1
			export const unused = 2
		`,
	}, []string{"/entry.js"}, options)

	require.Contains(t, contents["entry.js"], "const unused = 2;")
}

func TestReExportChain(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import { renamed, star } from './index.js'
			console.log(renamed, star)
		`,
		"/index.js": `
			export { value as renamed } from './a.js'
			export * from './b.js'
		`,
		"/a.js": `
			export const value = 'a'
		`,
		"/b.js": `
			export const star = 'b'
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, `const value = "a";`)
	require.Contains(t, code, `const star = "b";`)
	require.Contains(t, code, "console.log(value, star);")
	require.NotContains(t, code, "export")
}

func TestNamespaceImport(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import * as ns from './a.js'
			console.log(ns.x, ns)
		`,
		"/a.js": `
			export const x = 1
			export const y = 2
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "var a_exports = {};")
	require.Contains(t, code, "__export(a_exports, {")
	require.Contains(t, code, "console.log(x, a_exports);")
}

func TestImportCommonJS(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import value from './c.cjs'
			console.log(value)
		`,
		"/c.cjs": `
			module.exports = 42
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "var require_c = __commonJS(")
	require.Contains(t, code, "module.exports = 42;")
	require.Contains(t, code, "__toESM(require_c())")
	require.Contains(t, code, ".default)")
}

func TestImportCommonJSOncePerChunk(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import './a.js'
			import value from './c.cjs'
			import * as again from './c.cjs'
			console.log(value, again)
		`,
		"/a.js": `
			import { c } from './c.cjs'
			console.log(c)
		`,
		"/c.cjs": `
			exports.c = 1
			exports.default = 2
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Equal(t, 1, strings.Count(code, "__toESM(require_c())"), code)
	require.Contains(t, code, "var import_c = __toESM(require_c());")
	require.Contains(t, code, "console.log(import_c.c);")
	require.Contains(t, code, "console.log(import_c.default, import_c);")
}

func TestRequireESM(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			const a = require('./a.js')
			console.log(a.x)
		`,
		"/a.js": `
			export const x = 1
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "var init_a = __esm(")
	require.Contains(t, code, "(init_a(), __toCommonJS(a_exports))")
}

func TestImportCycle(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import { a } from './a.js'
			console.log(a())
		`,
		"/a.js": `
			import { b } from './b.js'
			export function a() { return b }
		`,
		"/b.js": `
			import { a } from './a.js'
			export const b = typeof a
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "var init_a = __esm(")
	require.Contains(t, code, "var init_b = __esm(")
	require.Contains(t, code, "init_a();")

	// Both modules are emitted next to each other
	a := strings.Index(code, "// a.js")
	b := strings.Index(code, "// b.js")
	entry := strings.Index(code, "// entry.js")
	require.True(t, a >= 0 && b >= 0 && entry >= 0)
	require.Less(t, a, entry)
	require.Less(t, b, entry)
}

func TestSelfImport(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import { x as z } from './entry.js'
			export const y = 1
			console.log(z, y)
			export const x = 2
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Contains(t, code, "console.log(x, y);")
	require.NotContains(t, code, "import")
}

func TestExternalImports(t *testing.T) {
	options := testOptions()
	options.External = []string{"react"}
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import React from 'react'
			import { jsx } from 'react/jsx-runtime'
			console.log(React, jsx)
		`,
	}, []string{"/entry.js"}, options)

	code := contents["entry.js"]
	require.Contains(t, code, `import React from "react";`)
	require.Contains(t, code, `import { jsx } from "react/jsx-runtime";`)
}

func TestCommonJSOutput(t *testing.T) {
	options := testOptions()
	options.Format = config.FormatCommonJS
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			export const x = 1
		`,
	}, []string{"/entry.js"}, options)

	code := contents["entry.js"]
	require.Contains(t, code, "var entry_exports = {};")
	require.Contains(t, code, "module.exports = __toCommonJS(entry_exports);")
	require.NotContains(t, code, "export {")
}

func TestDynamicImportInlined(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import('./lazy.js').then(ns => console.log(ns.value))
		`,
		"/lazy.js": `
			export const value = 1
		`,
	}, []string{"/entry.js"}, testOptions())

	code := contents["entry.js"]
	require.Len(t, contents, 1)
	require.Contains(t, code, "init_lazy(), lazy_exports")
}

func TestDynamicImportSplitting(t *testing.T) {
	options := testOptions()
	options.CodeSplitting = config.SplittingPerDynamicImport
	contents := bundleContents(t, map[string]string{
		"/entry.js": `
			import('./lazy.js').then(ns => console.log(ns.value))
		`,
		"/lazy.js": `
			export const value = 1
		`,
	}, []string{"/entry.js"}, options)

	require.Contains(t, contents, "entry.js")
	require.Contains(t, contents, "lazy.js")
	require.Contains(t, contents["entry.js"], `import("./lazy.js")`)
	require.Contains(t, contents["lazy.js"], "const value = 1;")
	require.NotContains(t, contents["entry.js"], "const value = 1;")
}

func TestSharedModulesHoisted(t *testing.T) {
	contents := bundleContents(t, map[string]string{
		"/a.js": `
			import { shared } from './shared.js'
			console.log('a', shared)
		`,
		"/b.js": `
			import { shared } from './shared.js'
			console.log('b', shared)
		`,
		"/shared.js": `
			export const shared = 'shared'
		`,
	}, []string{"/a.js", "/b.js"}, testOptions())

	require.Len(t, contents, 3)
	var sharedName string
	for name := range contents {
		if strings.HasPrefix(name, "chunk-") {
			sharedName = name
		}
	}
	require.NotEmpty(t, sharedName)
	require.Contains(t, contents[sharedName], `const shared = "shared";`)
	require.Contains(t, contents["a.js"], `from "./`+sharedName+`";`)
	require.Contains(t, contents["b.js"], `from "./`+sharedName+`";`)
	require.NotContains(t, contents["a.js"], `const shared = "shared";`)
}

func TestSharedModulesDuplicated(t *testing.T) {
	options := testOptions()
	options.SharedModules = config.SharedDuplicate
	contents := bundleContents(t, map[string]string{
		"/a.js": `
			import { shared } from './shared.js'
			console.log('a', shared)
		`,
		"/b.js": `
			import { shared } from './shared.js'
			console.log('b', shared)
		`,
		"/shared.js": `
			export const shared = 'shared'
		`,
	}, []string{"/a.js", "/b.js"}, options)

	require.Len(t, contents, 2)
	require.Contains(t, contents["a.js"], `const shared = "shared";`)
	require.Contains(t, contents["b.js"], `const shared = "shared";`)
}

// Sleeps for a random amount of time before every resolve and load so that
// modules finish loading in a different order for every seed
type shuffledResolver struct {
	resolver.Resolver

	mutex sync.Mutex
	rand  *rand.Rand
}

func (r *shuffledResolver) sleep() {
	r.mutex.Lock()
	delay := time.Duration(r.rand.Intn(500)) * time.Microsecond
	r.mutex.Unlock()
	time.Sleep(delay)
}

func (r *shuffledResolver) Resolve(ctx context.Context, specifier string, importer logger.Path) (resolver.ResolveResult, error) {
	r.sleep()
	return r.Resolver.Resolve(ctx, specifier, importer)
}

func (r *shuffledResolver) Load(ctx context.Context, path logger.Path) (resolver.LoadResult, error) {
	r.sleep()
	return r.Resolver.Load(ctx, path)
}

func TestDeterministicOutput(t *testing.T) {
	files := map[string]string{
		"/a.js": `import { x } from './x.js'; import { y } from './y.js'; console.log(x, y); import('./lazy.js')`,
		"/b.js": `import { y } from './y.js'; import { z } from './z.js'; import c from './c.cjs'; console.log(y, z, c)`,
		"/x.js": `export const x = 'x'`,
		"/y.js": `import { z } from './z.js'; export const y = z + 'y'`,
		"/z.js": `import { w } from './w.js'; export const z = 'z' + w`,
		"/w.js": `export let w = 'w'`,
		"/c.cjs": `exports.c = require('./x.js').x`,
		"/lazy.js": `import { y } from './y.js'; export const lazy = y`,
	}
	entryPaths := []string{"/a.js", "/b.js"}

	for _, splitting := range []config.CodeSplitting{config.SplittingPerEntry, config.SplittingPerDynamicImport} {
		options := testOptions()
		options.CodeSplitting = splitting

		var first map[string]string
		for seed := int64(0); seed < 20; seed++ {
			run, err := NewRun(options, RunOptions{
				Resolver: &shuffledResolver{
					Resolver: resolver.NewResolver(fs.MockFS(files)),
					rand:     rand.New(rand.NewSource(seed)),
				},
			})
			require.NoError(t, err)
			result, err := run.Bundle(context.Background(), entryPaths)
			require.NoError(t, err)

			contents := make(map[string]string)
			for _, chunk := range result.Chunks {
				contents[chunk.Name] = string(chunk.Contents)
			}
			if first == nil {
				first = contents
				continue
			}
			if d := cmp.Diff(first, contents); d != "" {
				t.Fatalf("%s: output changed with seed %d (-first +again):\n%s", splitting, seed, d)
			}
		}
	}
}

func TestRunReuse(t *testing.T) {
	files := map[string]string{
		"/a.js":      `import { shared } from './shared.js'; console.log(shared)`,
		"/b.js":      `import { shared } from './shared.js'; console.log(shared + 1)`,
		"/shared.js": `export const shared = 1`,
	}
	run := newTestRun(t, files, testOptions())

	first, err := run.Bundle(context.Background(), []string{"/a.js"})
	require.NoError(t, err)
	second, err := run.Bundle(context.Background(), []string{"/b.js"})
	require.NoError(t, err)
	again, err := run.Bundle(context.Background(), []string{"/a.js"})
	require.NoError(t, err)

	require.Len(t, first.Chunks, 1)
	require.Len(t, second.Chunks, 1)
	assertEqual(t, string(again.Chunks[0].Contents), string(first.Chunks[0].Contents))
	require.Contains(t, string(second.Chunks[0].Contents), "console.log(shared + 1);")
}

func TestHashbang(t *testing.T) {
	expectBundled(t, bundled{
		files: map[string]string{
			"/entry.js": "#!/usr/bin/env node\nconsole.log(1)\n",
		},
		entryPaths: []string{"/entry.js"},
		expected: map[string]string{
			"entry.js": "#!/usr/bin/env node\n// entry.js\nconsole.log(1);\n",
		},
	})
}

func TestDebugGraph(t *testing.T) {
	options := testOptions()
	options.DebugGraph = true
	run := newTestRun(t, map[string]string{
		"/entry.js": `import { x } from './a.js'; console.log(x)`,
		"/a.js":     `export const x = 1; export const y = 2`,
	}, options)

	result, err := run.Bundle(context.Background(), []string{"/entry.js"})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	graph := string(result.Chunks[0].DebugGraph)
	require.Contains(t, graph, `"name": "entry.js"`)
	require.Contains(t, graph, `"path": "a.js"`)
	require.Contains(t, graph, `"isLive": false`)
}

func TestSourceMap(t *testing.T) {
	options := testOptions()
	options.SourceMap = true
	run := newTestRun(t, map[string]string{
		"/entry.js": "import { value } from './a.js'\nconsole.log(value)\n",
		"/a.js":     "export const value = 1\n",
	}, options)

	result, err := run.Bundle(context.Background(), []string{"/entry.js"})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	chunk := result.Chunks[0]
	assertEqual(t, string(chunk.Contents), `// a.js
const value = 1;
// entry.js
console.log(value);
//# sourceMappingURL=entry.js.map
`)

	sm, err := sourcemap.Decode(chunk.SourceMap)
	require.NoError(t, err)
	require.Equal(t, []string{"a.js", "entry.js"}, sm.Sources)

	declaration := sm.Find(1, 0)
	require.NotNil(t, declaration)
	require.Equal(t, "a.js", sm.Sources[declaration.SourceIndex])
	require.Equal(t, int32(0), declaration.OriginalLine)

	call := sm.Find(3, 0)
	require.NotNil(t, call)
	require.Equal(t, "entry.js", sm.Sources[call.SourceIndex])
	require.Equal(t, int32(1), call.OriginalLine)
	require.Equal(t, int32(0), call.OriginalColumn)
}
