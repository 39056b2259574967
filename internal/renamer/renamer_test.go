package renamer

import (
	"testing"

	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/stretchr/testify/assert"
)

type testFile struct {
	symbols []js_ast.Symbol
	scope   *js_ast.Scope
}

func (f *testFile) add(sourceIndex uint32, scope *js_ast.Scope, kind js_ast.SymbolKind, name string) js_ast.Ref {
	ref := js_ast.Ref{SourceIndex: sourceIndex, InnerIndex: uint32(len(f.symbols))}
	f.symbols = append(f.symbols, js_ast.Symbol{OriginalName: name, Kind: kind, Link: js_ast.InvalidRef})
	scope.Members[name] = js_ast.ScopeMember{Ref: ref}
	return ref
}

func newScope(kind js_ast.ScopeKind, parent *js_ast.Scope) *js_ast.Scope {
	scope := &js_ast.Scope{Kind: kind, Parent: parent, Members: make(map[string]js_ast.ScopeMember)}
	if parent != nil {
		parent.Children = append(parent.Children, scope)
	}
	return scope
}

func TestComputeRenameMap(t *testing.T) {
	a := &testFile{scope: newScope(js_ast.ScopeEntry, nil)}
	b := &testFile{scope: newScope(js_ast.ScopeEntry, nil)}

	aX := a.add(0, a.scope, js_ast.SymbolOther, "x")
	aGlobal := a.add(0, a.scope, js_ast.SymbolUnbound, "y")
	aLet := a.add(0, a.scope, js_ast.SymbolOther, "let")
	fn := newScope(js_ast.ScopeFunction, a.scope)
	aLocal := a.add(0, fn, js_ast.SymbolHoisted, "x")
	aArguments := a.add(0, fn, js_ast.SymbolArguments, "arguments")
	a.symbols[aArguments.InnerIndex].MustNotBeRenamed = true
	sibling := newScope(js_ast.ScopeFunction, a.scope)
	aSiblingLocal := a.add(0, sibling, js_ast.SymbolHoisted, "x")

	bX := b.add(1, b.scope, js_ast.SymbolOther, "x")
	bY := b.add(1, b.scope, js_ast.SymbolOther, "y")

	symbols := js_ast.NewSymbolMap(2)
	symbols.Outer[0] = a.symbols
	symbols.Outer[1] = b.symbols

	reserved := ComputeReservedNames([]*js_ast.Scope{a.scope, b.scope}, symbols)
	r := ComputeRenameMap(symbols, reserved, []js_ast.Ref{aX, aLet, bX, bY}, map[uint32][]*js_ast.Scope{
		0: a.scope.Children,
	})

	assert.Equal(t, "x", r.NameForSymbol(aX))
	assert.Equal(t, "let2", r.NameForSymbol(aLet))
	assert.Equal(t, "x2", r.NameForSymbol(bX))
	assert.Equal(t, "y2", r.NameForSymbol(bY))
	assert.Equal(t, "y", r.NameForSymbol(aGlobal))
	assert.Equal(t, "arguments", r.NameForSymbol(aArguments))

	// Nested names avoid every top-level name but sibling scopes may share
	assert.Equal(t, "x3", r.NameForSymbol(aLocal))
	assert.Equal(t, "x3", r.NameForSymbol(aSiblingLocal))

	assert.Equal(t, RenameMap{aX: "x", aLet: "let2", bX: "x2", bY: "y2"}, r.RenameMap())
}

func TestRenameMergedSymbols(t *testing.T) {
	a := &testFile{scope: newScope(js_ast.ScopeEntry, nil)}
	value := a.add(0, a.scope, js_ast.SymbolConst, "value")
	imported := a.add(0, a.scope, js_ast.SymbolImport, "renamed")
	symbols := js_ast.NewSymbolMap(1)
	symbols.Outer[0] = a.symbols
	js_ast.MergeSymbols(symbols, imported, value)

	r := ComputeRenameMap(symbols, ComputeReservedNames(nil, symbols), []js_ast.Ref{value, imported}, nil)
	assert.Equal(t, "value", r.NameForSymbol(imported))
	assert.Len(t, r.RenameMap(), 1)

	noOp := NewNoOpRenamer(symbols)
	assert.Equal(t, "value", noOp.NameForSymbol(imported))
}

func TestExportRenamer(t *testing.T) {
	var r ExportRenamer
	assert.Equal(t, "a", r.NextRenamedName("a"))
	assert.Equal(t, "b", r.NextRenamedName("b"))
	assert.Equal(t, "a2", r.NextRenamedName("a"))
	assert.Equal(t, "a3", r.NextRenamedName("a"))
}
