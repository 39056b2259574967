package binder

import (
	"testing"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/js_parser"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bind(t *testing.T, contents string, hint js_ast.ModuleFormat) (js_ast.AST, string) {
	t.Helper()
	log := logger.NewDeferLog()
	source := logger.Source{
		Index:          1,
		PrettyPath:     "<stdin>",
		IdentifierName: "stdin",
		Contents:       contents,
	}
	tree, ok := js_parser.Parse(log, source, hint)
	require.True(t, ok, "parse failed: %v", log.Done())
	tree, _ = Bind(log, source, tree, hint)
	text := ""
	for _, msg := range log.Done() {
		text += msg.String(logger.OutputOptions{})
	}
	return tree, text
}

func expectBindError(t *testing.T, contents string, expected string) {
	t.Helper()
	t.Run(contents, func(t *testing.T) {
		_, text := bind(t, contents, js_ast.FormatUnknown)
		assert.Equal(t, expected, text)
	})
}

func topLevelRef(t *testing.T, tree js_ast.AST, name string) js_ast.Ref {
	t.Helper()
	member, ok := tree.ModuleScope.Members[name]
	require.True(t, ok, "missing top-level symbol %q", name)
	return member.Ref
}

func symbolName(tree js_ast.AST, ref js_ast.Ref) string {
	return tree.Symbols[ref.InnerIndex].OriginalName
}

func TestFreeNames(t *testing.T) {
	tree, text := bind(t, "let a = b + c; function f(d) { return d + e + a + arguments } c = 1", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, []string{"b", "c", "e"}, tree.FreeNames)

	tree, text = bind(t, "{ var a = 1 } a; { let b = 2 } b", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, []string{"b"}, tree.FreeNames)

	tree, text = bind(t, "function f() { if (x) { var y } return y }", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, []string{"x"}, tree.FreeNames)

	// Block-scoped declarations are visible before the declaration
	tree, text = bind(t, "function f() { return g() } const g = () => h", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, []string{"h"}, tree.FreeNames)
}

func TestRedeclaration(t *testing.T) {
	expectBindError(t, "let a; var a", "<stdin>:1:11: error: The symbol \"a\" has already been declared\n")
	expectBindError(t, "let a; let a", "<stdin>:1:11: error: The symbol \"a\" has already been declared\n")
	expectBindError(t, "{ let a; { var a } }", "<stdin>:1:15: error: The symbol \"a\" has already been declared\n")
	expectBindError(t, "function f(x) { let x }", "<stdin>:1:20: error: The symbol \"x\" has already been declared\n")

	expectBindError(t, "var a; var a; function a() {}", "")
	expectBindError(t, "try {} catch (e) { var e }", "")
	expectBindError(t, "let a; { let a }", "")
}

func TestHoistedVarSharesSymbol(t *testing.T) {
	tree, text := bind(t, "var a = 1; var a = 2; a", js_ast.FormatUnknown)
	assert.Empty(t, text)

	ref := topLevelRef(t, tree, "a")
	assert.Equal(t, []uint32{0, 1}, tree.TopLevelSymbolToParts[ref])
	assert.Equal(t, uint32(1), tree.Parts[2].SymbolUses[ref].CountEstimate)
	assert.False(t, tree.Parts[2].SymbolUses[ref].IsAssigned)
}

func TestExportsKind(t *testing.T) {
	tree, text := bind(t, "export const a = 1", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, js_ast.ExportsESM, tree.ExportsKind)

	tree, text = bind(t, "module.exports = 1", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, js_ast.ExportsCommonJS, tree.ExportsKind)
	assert.True(t, tree.UsesModuleRef)
	assert.False(t, tree.UsesExportsRef)
	assert.Empty(t, tree.FreeNames)

	tree, text = bind(t, "exports.a = 1", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, js_ast.ExportsCommonJS, tree.ExportsKind)
	assert.True(t, tree.UsesExportsRef)

	tree, text = bind(t, "let a = 1", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, js_ast.ExportsNone, tree.ExportsKind)

	tree, text = bind(t, "let a = 1", js_ast.FormatCommonJS)
	assert.Empty(t, text)
	assert.Equal(t, js_ast.ExportsCommonJS, tree.ExportsKind)

	tree, text = bind(t, "let a = 1", js_ast.FormatESM)
	assert.Empty(t, text)
	assert.Equal(t, js_ast.ExportsESM, tree.ExportsKind)
}

func TestCommonJSVariablesInESM(t *testing.T) {
	tree, text := bind(t, "export {}; module.exports = 1; module.x = 2", js_ast.FormatUnknown)
	assert.Equal(t, "<stdin>:1:11: warning: The CommonJS \"module\" variable is treated as a global variable "+
		"in an ECMAScript module and may not work as expected\n", text)
	assert.Equal(t, js_ast.ExportsESM, tree.ExportsKind)
	assert.False(t, tree.UsesModuleRef)
	assert.Equal(t, []string{"module"}, tree.FreeNames)
}

func TestImportExportInCommonJS(t *testing.T) {
	_, text := bind(t, "let a; export { a }", js_ast.FormatCommonJS)
	assert.Equal(t, "<stdin>:1:7: error: Import and export statements cannot be used in a CommonJS module\n", text)
}

func TestGeneratedSymbolNames(t *testing.T) {
	tree, _ := bind(t, "export default 1", js_ast.FormatUnknown)
	assert.Equal(t, "stdin_exports", symbolName(tree, tree.ExportsRef))
	assert.Equal(t, "init_stdin", symbolName(tree, tree.WrapperRef))
	assert.Equal(t, "stdin_default", symbolName(tree, tree.NamedExports["default"].Ref))

	tree, _ = bind(t, "module.exports = 1", js_ast.FormatUnknown)
	assert.Equal(t, "exports", symbolName(tree, tree.ExportsRef))
	assert.Equal(t, "module", symbolName(tree, tree.ModuleRef))
	assert.Equal(t, "require_stdin", symbolName(tree, tree.WrapperRef))

	// Generated symbols can't be referenced from user code
	_, ok := tree.ModuleScope.Members["require_stdin"]
	assert.False(t, ok)
	assert.Contains(t, tree.ModuleScope.Generated, tree.WrapperRef)

	tree, _ = bind(t, "export default function foo() {}", js_ast.FormatUnknown)
	assert.Equal(t, topLevelRef(t, tree, "foo"), tree.NamedExports["default"].Ref)
}

func TestRequireAndImportRecords(t *testing.T) {
	tree, text := bind(t, "const a = require('./a')\ntry { require('./b') } catch (e) {}\nrequire(x)", js_ast.FormatUnknown)
	assert.Equal(t, "<stdin>:3:0: warning: This call to \"require\" will not be bundled because the argument is not a string literal\n", text)
	require.Len(t, tree.ImportRecords, 2)

	assert.Equal(t, ast.ImportRequire, tree.ImportRecords[0].Kind)
	assert.Equal(t, "./a", tree.ImportRecords[0].Path.Text)
	assert.False(t, tree.ImportRecords[0].Flags.Has(ast.HandlesImportErrors))
	assert.True(t, tree.ImportRecords[1].Flags.Has(ast.HandlesImportErrors))

	assert.Equal(t, []uint32{0}, tree.Parts[0].ImportRecordIndices)
	assert.Equal(t, []uint32{1}, tree.Parts[1].ImportRecordIndices)
	assert.Equal(t, js_ast.ExportsNone, tree.ExportsKind)

	decl := tree.Parts[0].Stmts[0].Data.(*js_ast.SLocal).Decls[0]
	assert.IsType(t, &js_ast.ERequireString{}, decl.ValueOrNil.Data)

	// A local "require" is just a function call
	tree, text = bind(t, "function require() {} require('./a')", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Empty(t, tree.ImportRecords)
}

func TestDynamicImport(t *testing.T) {
	tree, text := bind(t, "import('./a'); import(x)", js_ast.FormatUnknown)
	assert.Empty(t, text)
	require.Len(t, tree.ImportRecords, 1)
	assert.Equal(t, ast.ImportDynamic, tree.ImportRecords[0].Kind)
	assert.Equal(t, "./a", tree.ImportRecords[0].Path.Text)

	require.Len(t, tree.UnsupportedSyntax, 1)
	assert.Equal(t, "import() with a non-string argument", tree.UnsupportedSyntax[0].Text)
	assert.Equal(t, int32(15), tree.UnsupportedSyntax[0].Range.Loc.Start)
}

func TestDirectEval(t *testing.T) {
	tree, text := bind(t, "function f() { eval('x') }", js_ast.FormatUnknown)
	assert.Equal(t, "<stdin>:1:15: warning: Using direct eval prevents this module from being merged with other modules\n", text)
	require.Len(t, tree.UnsupportedSyntax, 1)
	assert.Equal(t, "direct eval", tree.UnsupportedSyntax[0].Text)
	assert.True(t, tree.ModuleScope.ContainsDirectEval)
	assert.True(t, tree.ModuleScope.Children[0].ContainsDirectEval)
}

func TestNamespacePropertyAccess(t *testing.T) {
	tree, text := bind(t, "import * as ns from './a'; ns.foo(); ns.foo; ns.bar; ns?.baz", js_ast.FormatUnknown)
	assert.Empty(t, text)

	nsRef := topLevelRef(t, tree, "ns")
	items := map[string]js_ast.NamedImport{}
	var itemRefs []js_ast.Ref
	for ref, namedImport := range tree.NamedImports {
		assert.Equal(t, nsRef, namedImport.NamespaceRef)
		assert.Equal(t, js_ast.ImportItemGenerated, tree.Symbols[ref.InnerIndex].ImportItemStatus)
		items[namedImport.Alias] = namedImport
		itemRefs = append(itemRefs, ref)
	}
	require.Len(t, items, 2)
	assert.Equal(t, []uint32{1, 2}, items["foo"].LocalPartsWithUses)
	assert.Equal(t, []uint32{3}, items["bar"].LocalPartsWithUses)

	// The generated items are declared by the import statement
	for _, ref := range itemRefs {
		assert.Equal(t, []uint32{0}, tree.TopLevelSymbolToParts[ref])
	}

	call := tree.Parts[1].Stmts[0].Data.(*js_ast.SExpr).Value.Data.(*js_ast.ECall)
	id, ok := call.Target.Data.(*js_ast.EIdentifier)
	require.True(t, ok)
	assert.Equal(t, "foo", symbolName(tree, id.Ref))

	// Optional chains keep the namespace object
	dot := tree.Parts[4].Stmts[0].Data.(*js_ast.SExpr).Value.Data.(*js_ast.EDot)
	assert.Equal(t, nsRef, dot.Target.Data.(*js_ast.EIdentifier).Ref)
	assert.Equal(t, uint32(1), tree.Parts[4].SymbolUses[nsRef].CountEstimate)
}

func TestExports(t *testing.T) {
	tree, text := bind(t, "export { x as y } from './a'; export * from './b'; export * as ns from './c'; "+
		"export let a, { b } = {}; export function f() {} export class C {}", js_ast.FormatUnknown)
	assert.Empty(t, text)

	var aliases []string
	for alias := range tree.NamedExports {
		aliases = append(aliases, alias)
	}
	assert.ElementsMatch(t, []string{"y", "ns", "a", "b", "f", "C"}, aliases)
	assert.Equal(t, []uint32{1}, tree.ExportStarImportRecords)

	y := tree.NamedImports[tree.NamedExports["y"].Ref]
	assert.Equal(t, "x", y.Alias)
	assert.True(t, y.IsExported)
	assert.Equal(t, uint32(0), y.ImportRecordIndex)

	ns := tree.NamedImports[tree.NamedExports["ns"].Ref]
	assert.True(t, ns.AliasIsStar)
	assert.Equal(t, uint32(2), ns.ImportRecordIndex)

	// Re-exports don't create local bindings
	_, ok := tree.ModuleScope.Members["x"]
	assert.False(t, ok)
	_, ok = tree.ModuleScope.Members["y"]
	assert.False(t, ok)
}

func TestExportErrors(t *testing.T) {
	expectBindError(t, "export const a = 1; export { a }", "<stdin>:1:29: error: Multiple exports with the same name \"a\"\n")
	expectBindError(t, "export { nope }", "<stdin>:1:9: error: \"nope\" is not declared in this file\n")
	expectBindError(t, "export default 1; export default 2", "<stdin>:1:25: error: Multiple exports with the same name \"default\"\n")
	expectBindError(t, "import { a } from './a'; a = 1", "<stdin>:1:25: error: Cannot assign to import \"a\"\n")
	expectBindError(t, "import { a } from './a'; a++", "<stdin>:1:25: error: Cannot assign to import \"a\"\n")
}

func TestPartPurity(t *testing.T) {
	tree, text := bind(t, "const a = 1; const b = f(); function g() {} class C {} let d = [1, x]; "+
		"let { e } = {}; import './side'; export default 2", js_ast.FormatUnknown)
	assert.Empty(t, text)
	assert.Equal(t, []string{"f", "x"}, tree.FreeNames)

	var removable []bool
	for _, part := range tree.Parts {
		removable = append(removable, part.CanBeRemovedIfUnused)
	}
	assert.Equal(t, []bool{true, false, true, true, false, false, true, true}, removable)
}

func TestImportUsesAreTracked(t *testing.T) {
	tree, text := bind(t, "import a, { b as c } from './a'; a(); function f() { return c }", js_ast.FormatUnknown)
	assert.Empty(t, text)

	aRef := topLevelRef(t, tree, "a")
	cRef := topLevelRef(t, tree, "c")
	assert.Equal(t, "default", tree.NamedImports[aRef].Alias)
	assert.Equal(t, "b", tree.NamedImports[cRef].Alias)
	assert.Equal(t, []uint32{1}, tree.NamedImports[aRef].LocalPartsWithUses)

	// Uses inside nested functions count toward the top-level part
	assert.Equal(t, []uint32{2}, tree.NamedImports[cRef].LocalPartsWithUses)
	assert.Equal(t, uint32(1), tree.Parts[2].SymbolUses[cRef].CountEstimate)
}
