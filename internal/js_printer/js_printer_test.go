package js_printer

import (
	"testing"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/binder"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/js_parser"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/renamer"
	"github.com/esmerge/esmerge/internal/sourcemap"
	"github.com/esmerge/esmerge/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectPrinted(t *testing.T, contents string, expected string) {
	t.Helper()
	t.Run(contents, func(t *testing.T) {
		t.Helper()
		log := logger.NewDeferLog()
		source := test.SourceForTest(contents)
		tree, ok := js_parser.Parse(log, source, js_ast.FormatUnknown)
		if ok {
			tree, ok = binder.Bind(log, source, tree, js_ast.FormatUnknown)
		}
		msgs := log.Done()
		if !ok {
			t.Fatal("Parse error: " + test.MsgsToString(msgs))
		}

		symbols := js_ast.NewSymbolMap(1)
		symbols.Outer[0] = tree.Symbols
		var stmts []js_ast.Stmt
		for _, part := range tree.Parts {
			stmts = append(stmts, part.Stmts...)
		}
		js := Print(js_ast.MergedAST{
			Hashbang: tree.Hashbang,
			Parts:    []js_ast.MergedPart{{Stmts: stmts, ImportRecords: tree.ImportRecords}},
			Symbols:  symbols,
		}, renamer.NewNoOpRenamer(symbols), Options{})
		test.AssertEqualWithDiff(t, string(js), expected)
	})
}

func TestNumber(t *testing.T) {
	expectPrinted(t, "0.5", "0.5;\n")
	expectPrinted(t, "123", "123;\n")
	expectPrinted(t, "1000000", "1e6;\n")
	expectPrinted(t, "1e21", "1e21;\n")
	expectPrinted(t, "0.000001", "1e-6;\n")
	expectPrinted(t, "x = -1", "x = -1;\n")
	expectPrinted(t, "(1).toString()", "1 .toString();\n")
	expectPrinted(t, "(-1).toString()", "(-1).toString();\n")
}

func TestString(t *testing.T) {
	expectPrinted(t, "'abc'", "\"abc\";\n")
	expectPrinted(t, "'a\"b'", "\"a\\\"b\";\n")
	expectPrinted(t, "'a\\nb\\tc'", "\"a\\nb\\tc\";\n")
	expectPrinted(t, "'\\\\'", "\"\\\\\";\n")
	expectPrinted(t, "'\\0'", "\"\\x00\";\n")
}

func TestPrecedence(t *testing.T) {
	expectPrinted(t, "a + b * c", "a + b * c;\n")
	expectPrinted(t, "(a + b) * c", "(a + b) * c;\n")
	expectPrinted(t, "a - (b - c)", "a - (b - c);\n")
	expectPrinted(t, "(a - b) - c", "a - b - c;\n")
	expectPrinted(t, "x = y = z", "x = y = z;\n")
	expectPrinted(t, "(x, y)", "x, y;\n")
	expectPrinted(t, "f((x, y))", "f((x, y));\n")
	expectPrinted(t, "a ? b : c ? d : e", "a ? b : c ? d : e;\n")
	expectPrinted(t, "(a ? b : c) ? d : e", "(a ? b : c) ? d : e;\n")
	expectPrinted(t, "a ?? (b || c)", "a ?? (b || c);\n")
	expectPrinted(t, "(a || b) ?? c", "(a || b) ?? c;\n")
	expectPrinted(t, "(-a) ** b", "(-a) ** b;\n")
	expectPrinted(t, "a ** -b", "a ** -b;\n")
	expectPrinted(t, "(a ** b) ** c", "(a ** b) ** c;\n")
	expectPrinted(t, "a ** b ** c", "a ** b ** c;\n")
	expectPrinted(t, "typeof (a + b)", "typeof (a + b);\n")
	expectPrinted(t, "void 0", "void 0;\n")
}

func TestOperatorSpacing(t *testing.T) {
	expectPrinted(t, "- -x", "- -x;\n")
	expectPrinted(t, "+ +x", "+ +x;\n")
	expectPrinted(t, "-(--x)", "- --x;\n")
	expectPrinted(t, "a + +b", "a + +b;\n")
	expectPrinted(t, "a - -b", "a - -b;\n")
	expectPrinted(t, "!a", "!a;\n")
	expectPrinted(t, "x++", "x++;\n")
}

func TestCallAndNew(t *testing.T) {
	expectPrinted(t, "f(a, b)", "f(a, b);\n")
	expectPrinted(t, "new A", "new A();\n")
	expectPrinted(t, "new A(b)", "new A(b);\n")
	expectPrinted(t, "new (f())()", "new (f())();\n")
	expectPrinted(t, "new (a.b)()", "new a.b();\n")
	expectPrinted(t, "(new A).b", "new A().b;\n")
	expectPrinted(t, "a?.b?.[c]?.(d)", "a?.b?.[c]?.(d);\n")
	expectPrinted(t, "a['b']", "a[\"b\"];\n")
	expectPrinted(t, "f(...args)", "f(...args);\n")
}

func TestFunction(t *testing.T) {
	expectPrinted(t, "function f() {}", "function f() {}\n")
	expectPrinted(t, "function f(a, b = 1, ...c) { return a }", "function f(a, b = 1, ...c) {\n  return a;\n}\n")
	expectPrinted(t, "async function f() { await g() }", "async function f() {\n  await g();\n}\n")
	expectPrinted(t, "(function() {})()", "(function() {})();\n")
	expectPrinted(t, "x = function y() {}", "x = function y() {};\n")
}

func TestArrow(t *testing.T) {
	expectPrinted(t, "x => x + 1", "(x) => x + 1;\n")
	expectPrinted(t, "() => ({})", "() => ({});\n")
	expectPrinted(t, "async (a, b) => { return a }", "async (a, b) => {\n  return a;\n};\n")
	expectPrinted(t, "f(() => {})", "f(() => {});\n")
	expectPrinted(t, "(() => 1)()", "(() => 1)();\n")
}

func TestObjectAndArray(t *testing.T) {
	expectPrinted(t, "x = {}", "x = {};\n")
	expectPrinted(t, "({})", "({});\n")
	expectPrinted(t, "x = { a, b: 1, [c]: 2, 'd-e': 3, ...f }", "x = { a, b: 1, [c]: 2, \"d-e\": 3, ...f };\n")
	expectPrinted(t, "x = { get a() { return 1 }, set a(v) {}, m() {} }",
		"x = { get a() {\n  return 1;\n}, set a(v) {}, m() {} };\n")
	expectPrinted(t, "x = [1, , 2]", "x = [1, , 2];\n")
	expectPrinted(t, "x = [1, ,]", "x = [1, ,];\n")
	expectPrinted(t, "x = [...a]", "x = [...a];\n")
}

func TestBindings(t *testing.T) {
	expectPrinted(t, "let [a, , b = 1, ...c] = d", "let [a, , b = 1, ...c] = d;\n")
	expectPrinted(t, "let { a, b: c, d = 1, ...e } = f", "let { a, b: c, d = 1, ...e } = f;\n")
	expectPrinted(t, "var a = 1, b", "var a = 1, b;\n")
	expectPrinted(t, "const a = 1", "const a = 1;\n")
}

func TestClass(t *testing.T) {
	expectPrinted(t, "class A {}", "class A {}\n")
	expectPrinted(t, "class A extends B { static x = 1; y; m() {} static async n() {} }",
		"class A extends B {\n  static x = 1;\n  y;\n  m() {}\n  static async n() {}\n}\n")
	expectPrinted(t, "x = class {}", "x = class {};\n")
	expectPrinted(t, "(class {})", "(class {});\n")
}

func TestStatements(t *testing.T) {
	expectPrinted(t, "if (a) b; else c", "if (a)\n  b;\nelse\n  c;\n")
	expectPrinted(t, "if (a) b; else if (c) d", "if (a)\n  b;\nelse if (c)\n  d;\n")
	expectPrinted(t, "if (a) { if (b) c } else d", "if (a) {\n  if (b)\n    c;\n} else\n  d;\n")
	expectPrinted(t, "for (let i = 0; i < n; i++) {}", "for (let i = 0; i < n; i++) {}\n")
	expectPrinted(t, "for (;;) break", "for (;;)\n  break;\n")
	expectPrinted(t, "for (const x of y) z(x)", "for (const x of y)\n  z(x);\n")
	expectPrinted(t, "for (var k in o) f(k)", "for (var k in o)\n  f(k);\n")
	expectPrinted(t, "for (var x = (a in b); ;) {}", "for (var x = (a in b);;) {}\n")
	expectPrinted(t, "while (a) b()", "while (a)\n  b();\n")
	expectPrinted(t, "do x++; while (x < 5)", "do\n  x++;\nwhile (x < 5);\n")
	expectPrinted(t, "try { a() } catch (e) { b(e) } finally { c() }",
		"try {\n  a();\n} catch (e) {\n  b(e);\n} finally {\n  c();\n}\n")
	expectPrinted(t, "try {} catch {}", "try {} catch {}\n")
	expectPrinted(t, "switch (x) { case 1: a(); break; default: b() }",
		"switch (x) {\n  case 1:\n    a();\n    break;\n  default:\n    b();\n}\n")
	expectPrinted(t, "function f() { throw new Error('x') }", "function f() {\n  throw new Error(\"x\");\n}\n")
}

func TestImportsAndExports(t *testing.T) {
	expectPrinted(t, "import 'x'", "import \"x\";\n")
	expectPrinted(t, "import d, { a as b, c } from 'x'; b(c, d)", "import d, { a as b, c } from \"x\";\nb(c, d);\n")
	expectPrinted(t, "import * as ns from 'x'; f(ns)", "import * as ns from \"x\";\nf(ns);\n")
	expectPrinted(t, "let a, b; export { a as e, b }", "let a, b;\nexport { a as e, b };\n")
	expectPrinted(t, "export * from 'y'", "export * from \"y\";\n")
	expectPrinted(t, "export * as ns from 'z'", "export * as ns from \"z\";\n")
	expectPrinted(t, "export { f as g, h } from 'w'", "export { f as g, h } from \"w\";\n")
	expectPrinted(t, "export const a = 1", "export const a = 1;\n")
	expectPrinted(t, "export function f() {}", "export function f() {}\n")
	expectPrinted(t, "export default 1 + 2", "export default 1 + 2;\n")
	expectPrinted(t, "export default function() {}", "export default function() {}\n")
	expectPrinted(t, "export default class A {}", "export default class A {}\n")
	expectPrinted(t, "export default (function() {})", "export default (function() {});\n")
}

func TestRequireAndImport(t *testing.T) {
	expectPrinted(t, "const x = require('x')", "const x = require(\"x\");\n")
	expectPrinted(t, "import('y').then(f)", "import(\"y\").then(f);\n")
	expectPrinted(t, "new (require('x'))()", "new (require(\"x\"))();\n")
}

func TestHashbang(t *testing.T) {
	expectPrinted(t, "#!/usr/bin/env node\nx()", "#!/usr/bin/env node\nx();\n")
}

func printWithSourceMap(t *testing.T, contents string) (string, *sourcemap.SourceMap) {
	t.Helper()
	log := logger.NewDeferLog()
	source := test.SourceForTest(contents)
	tree, ok := js_parser.Parse(log, source, js_ast.FormatUnknown)
	if ok {
		tree, ok = binder.Bind(log, source, tree, js_ast.FormatUnknown)
	}
	if msgs := log.Done(); !ok {
		t.Fatal("Parse error: " + test.MsgsToString(msgs))
	}

	symbols := js_ast.NewSymbolMap(1)
	symbols.Outer[0] = tree.Symbols
	var stmts []js_ast.Stmt
	for _, part := range tree.Parts {
		stmts = append(stmts, part.Stmts...)
	}
	builder := sourcemap.NewBuilder(func(uint32) *logger.Source { return &source })
	js := Print(js_ast.MergedAST{
		Parts: []js_ast.MergedPart{{
			SourceIndex:   ast.MakeIndex32(0),
			Stmts:         stmts,
			ImportRecords: tree.ImportRecords,
		}},
		Symbols: symbols,
	}, renamer.NewNoOpRenamer(symbols), Options{SourceMap: builder})
	return string(js), builder.SourceMap()
}

func TestSourceMappings(t *testing.T) {
	contents := "let a = 1\nfunction f() {\n  g()\n}\n"
	js, sm := printWithSourceMap(t, contents)
	test.AssertEqualWithDiff(t, js, "let a = 1;\nfunction f() {\n  g();\n}\n")

	assert.Equal(t, []string{"<stdin>"}, sm.Sources)
	assert.Equal(t, []string{contents}, sm.SourcesContent)

	first := sm.Find(0, 4)
	require.NotNil(t, first)
	assert.Equal(t, sourcemap.Mapping{GeneratedLine: 0, GeneratedColumn: 0, OriginalLine: 0, OriginalColumn: 0}, *first)

	nested := sm.Find(2, 2)
	require.NotNil(t, nested)
	assert.Equal(t, int32(2), nested.OriginalLine)
	assert.Equal(t, int32(2), nested.OriginalColumn)
}

func TestSourceMappingsCountUTF16(t *testing.T) {
	_, sm := printWithSourceMap(t, "let s = 'é\U0001F600'; x()\n")

	mapping := sm.Find(1, 0)
	require.NotNil(t, mapping)
	assert.Equal(t, int32(0), mapping.OriginalLine)
	assert.Equal(t, int32(len("let s = 'xyy'; ")), mapping.OriginalColumn)
}
