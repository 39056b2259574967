// Package binder is the local half of scope analysis. It runs once per module
// right after parsing and annotates the fresh syntax tree in place: every
// identifier is bound to a symbol, the module is split into parts, CommonJS
// and dynamic imports become import records, and the module's imports and
// exports are collected for the linker.
//
// Binding happens in two passes over the same tree. The first pass creates
// the scope tree and declares every binding so forward references resolve.
// The second pass walks the tree in exactly the same order, reusing the
// scopes from the first pass, and resolves every identifier.
package binder

import (
	"fmt"
	"sort"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
)

type starNamespace struct {
	importRecordIndex uint32
	partIndex         uint32
}

type binder struct {
	log    logger.Log
	source logger.Source
	tree   *js_ast.AST

	symbols       []js_ast.Symbol
	moduleScope   *js_ast.Scope
	currentScope  *js_ast.Scope
	scopesInOrder []*js_ast.Scope
	scopeIndex    int
	isVisitPass   bool
	hasErrors     bool

	hint       js_ast.ModuleFormat
	isESM      bool
	exportsRef js_ast.Ref
	moduleRef  js_ast.Ref

	parts     []js_ast.Part
	partIndex int
	topLevel  map[js_ast.Ref]bool
	tryDepth  int

	starNamespaces   map[js_ast.Ref]starNamespace
	generatedItems   map[js_ast.Ref]map[string]js_ast.Ref
	warnedCommonJS   map[string]bool
	moduleIdentifier string
}

// Binds a freshly-parsed tree. The hint comes from the resolver and is
// usually derived from the file extension. This returns false if any errors
// were logged.
func Bind(log logger.Log, source logger.Source, tree js_ast.AST, hint js_ast.ModuleFormat) (js_ast.AST, bool) {
	b := &binder{
		log:              log,
		source:           source,
		tree:             &tree,
		topLevel:         make(map[js_ast.Ref]bool),
		starNamespaces:   make(map[js_ast.Ref]starNamespace),
		generatedItems:   make(map[js_ast.Ref]map[string]js_ast.Ref),
		warnedCommonJS:   make(map[string]bool),
		moduleIdentifier: source.IdentifierName,
		hint:             hint,
	}

	switch hint {
	case js_ast.FormatESM:
		b.isESM = true
	case js_ast.FormatUnknown:
		b.isESM = tree.HasES6Syntax()
	}

	tree.NamedImports = make(map[js_ast.Ref]js_ast.NamedImport)
	tree.NamedExports = make(map[string]js_ast.NamedExport)
	tree.TopLevelSymbolToParts = make(map[js_ast.Ref][]uint32)

	// The parser puts every statement into a single part
	var stmts []js_ast.Stmt
	for _, part := range tree.Parts {
		stmts = append(stmts, part.Stmts...)
	}
	// A module that must be CommonJS can't use import and export statements
	if hint == js_ast.FormatCommonJS && tree.HasES6Syntax() {
		for _, stmt := range stmts {
			if isImportOrExport(stmt) {
				b.addError(logger.Range{Loc: stmt.Loc}, "Import and export statements cannot be used in a CommonJS module")
				return tree, false
			}
		}
	}

	b.parts = make([]js_ast.Part, len(stmts))
	for i := range b.parts {
		b.parts[i] = js_ast.Part{
			Stmts:      []js_ast.Stmt{stmts[i]},
			SymbolUses: make(map[js_ast.Ref]js_ast.SymbolUse),
		}
	}

	// Declare pass
	b.moduleScope = &js_ast.Scope{Kind: js_ast.ScopeEntry, Members: make(map[string]js_ast.ScopeMember)}
	b.currentScope = b.moduleScope
	exportsName := "exports"
	if b.isESM {
		exportsName = b.moduleIdentifier + "_exports"
	}
	b.partIndex = -1
	b.exportsRef = b.newGeneratedSymbol(js_ast.SymbolHoisted, exportsName)
	b.moduleRef = b.newGeneratedSymbol(js_ast.SymbolHoisted, "module")
	b.walkTopLevel(stmts)

	// Visit pass
	b.isVisitPass = true
	b.currentScope = b.moduleScope
	b.walkTopLevel(stmts)

	b.finish()
	return tree, !b.hasErrors
}

func (b *binder) walkTopLevel(stmts []js_ast.Stmt) {
	for i, stmt := range stmts {
		b.partIndex = i
		b.walkStmt(stmt)
	}
	b.partIndex = -1
}

func (b *binder) finish() {
	tree := b.tree

	// Determine the module format
	switch {
	case b.isESM:
		tree.ExportsKind = js_ast.ExportsESM
	case b.hint == js_ast.FormatCommonJS || tree.UsesExportsRef || tree.UsesModuleRef:
		tree.ExportsKind = js_ast.ExportsCommonJS
	default:
		tree.ExportsKind = js_ast.ExportsNone
	}

	wrapperName := "require_" + b.moduleIdentifier
	if b.isESM {
		wrapperName = "init_" + b.moduleIdentifier
	}
	tree.WrapperRef = b.newGeneratedSymbol(js_ast.SymbolHoisted, wrapperName)
	tree.ExportsRef = b.exportsRef
	tree.ModuleRef = b.moduleRef

	// Compute purity and the reverse map from symbols to parts
	isUnbound := func(ref js_ast.Ref) bool {
		return b.symbols[ref.InnerIndex].Kind == js_ast.SymbolUnbound
	}
	for partIndex := range b.parts {
		part := &b.parts[partIndex]
		part.CanBeRemovedIfUnused = stmtCanBeRemovedIfUnused(part.Stmts[0], isUnbound)

		seen := make(map[js_ast.Ref]bool)
		for _, declared := range part.DeclaredSymbols {
			if !seen[declared.Ref] {
				seen[declared.Ref] = true
				tree.TopLevelSymbolToParts[declared.Ref] = append(tree.TopLevelSymbolToParts[declared.Ref], uint32(partIndex))
			}
		}
	}

	// Free names are reserved when renaming merged code
	for _, symbol := range b.symbols {
		if symbol.Kind == js_ast.SymbolUnbound {
			tree.FreeNames = append(tree.FreeNames, symbol.OriginalName)
		}
	}
	sort.Strings(tree.FreeNames)

	tree.Parts = b.parts
	tree.Symbols = b.symbols
	tree.ModuleScope = b.moduleScope
}

func isImportOrExport(stmt js_ast.Stmt) bool {
	switch s := stmt.Data.(type) {
	case *js_ast.SImport, *js_ast.SExportClause, *js_ast.SExportFrom, *js_ast.SExportDefault, *js_ast.SExportStar:
		return true
	case *js_ast.SLocal:
		return s.IsExport
	case *js_ast.SFunction:
		return s.IsExport
	case *js_ast.SClass:
		return s.IsExport
	}
	return false
}

func stmtCanBeRemovedIfUnused(stmt js_ast.Stmt, isUnbound func(js_ast.Ref) bool) bool {
	switch s := stmt.Data.(type) {
	case *js_ast.SFunction, *js_ast.SEmpty, *js_ast.SImport, *js_ast.SExportClause, *js_ast.SExportFrom, *js_ast.SExportStar:
		return true

	case *js_ast.SClass:
		return js_ast.ClassCanBeRemovedIfUnused(s.Class, isUnbound)

	case *js_ast.SLocal:
		for _, decl := range s.Decls {
			// Destructuring can run getters and iterators
			if _, ok := decl.Binding.Data.(*js_ast.BIdentifier); !ok {
				return false
			}
			if decl.ValueOrNil.Data != nil && !js_ast.ExprCanBeRemovedIfUnused(decl.ValueOrNil, isUnbound) {
				return false
			}
		}
		return true

	case *js_ast.SExportDefault:
		switch v := s.Value.Data.(type) {
		case *js_ast.SExpr:
			return js_ast.ExprCanBeRemovedIfUnused(v.Value, isUnbound)
		case *js_ast.SFunction:
			return true
		case *js_ast.SClass:
			return js_ast.ClassCanBeRemovedIfUnused(v.Class, isUnbound)
		}
	}

	return false
}

func (b *binder) addError(r logger.Range, text string) {
	b.hasErrors = true
	b.log.AddID(logger.MsgID_Bundler_ParseFailure, logger.Error, &b.source, r, text)
}

// Names in import and export clauses may be written as string literals
func (b *binder) rangeOfName(loc logger.Loc) logger.Range {
	if r := b.source.RangeOfString(loc); r.Len > 0 {
		return r
	}
	return b.source.RangeOfIdentifier(loc)
}

func (b *binder) pushScope(kind js_ast.ScopeKind) *js_ast.Scope {
	if b.isVisitPass {
		scope := b.scopesInOrder[b.scopeIndex]
		b.scopeIndex++
		if scope.Parent != b.currentScope || scope.Kind != kind {
			panic("Internal error")
		}
		b.currentScope = scope
		return scope
	}

	scope := &js_ast.Scope{
		Kind:    kind,
		Parent:  b.currentScope,
		Members: make(map[string]js_ast.ScopeMember),
	}
	b.currentScope.Children = append(b.currentScope.Children, scope)
	b.scopesInOrder = append(b.scopesInOrder, scope)
	b.currentScope = scope
	return scope
}

func (b *binder) popScope() {
	b.currentScope = b.currentScope.Parent
}

func (b *binder) newSymbol(kind js_ast.SymbolKind, name string) js_ast.Ref {
	ref := js_ast.Ref{SourceIndex: b.source.Index, InnerIndex: uint32(len(b.symbols))}
	b.symbols = append(b.symbols, js_ast.Symbol{
		Kind:         kind,
		OriginalName: name,
		Link:         js_ast.InvalidRef,
	})
	return ref
}

// Generated symbols live in the module scope but can't be referenced by name
func (b *binder) newGeneratedSymbol(kind js_ast.SymbolKind, name string) js_ast.Ref {
	ref := b.newSymbol(kind, name)
	b.moduleScope.Generated = append(b.moduleScope.Generated, ref)
	b.topLevel[ref] = true
	b.recordDeclared(ref)
	return ref
}

func (b *binder) recordDeclared(ref js_ast.Ref) {
	if b.partIndex >= 0 {
		part := &b.parts[b.partIndex]
		part.DeclaredSymbols = append(part.DeclaredSymbols, js_ast.DeclaredSymbol{Ref: ref, IsTopLevel: true})
	}
}

func (b *binder) declareSymbol(kind js_ast.SymbolKind, loc logger.Loc, name string) js_ast.Ref {
	// "var" declarations are hoisted to the closest function or module scope.
	// They are also recorded in every scope they pass through so that a later
	// "let" with the same name in one of those scopes is detected.
	if kind == js_ast.SymbolHoisted {
		ref := js_ast.InvalidRef
		var path []*js_ast.Scope

		for scope := b.currentScope; ; scope = scope.Parent {
			if existing, ok := scope.Members[name]; ok {
				symbol := &b.symbols[existing.Ref.InnerIndex]
				switch {
				case symbol.Kind.IsHoisted() || symbol.Kind == js_ast.SymbolArguments:
					ref = existing.Ref

				case symbol.Kind == js_ast.SymbolCatchIdentifier && scope.Kind == js_ast.ScopeCatchBinding:
					// "try {} catch (e) { var e }" is allowed

				default:
					b.addError(b.rangeOfName(loc), fmt.Sprintf("The symbol %q has already been declared", name))
					return existing.Ref
				}
			}
			path = append(path, scope)
			if scope.Kind.StopsHoisting() {
				break
			}
		}

		if ref == js_ast.InvalidRef {
			ref = b.newSymbol(kind, name)
		}
		for _, scope := range path {
			if _, ok := scope.Members[name]; !ok {
				scope.Members[name] = js_ast.ScopeMember{Ref: ref, Loc: loc}
			}
		}
		if path[len(path)-1] == b.moduleScope {
			b.topLevel[ref] = true
			b.recordDeclared(ref)
		}
		return ref
	}

	scope := b.currentScope
	if existing, ok := scope.Members[name]; ok {
		symbol := &b.symbols[existing.Ref.InnerIndex]

		// Functions may replace "var" declarations and other functions in
		// function and module scopes
		if kind == js_ast.SymbolHoistedFunction && symbol.Kind.IsHoisted() && scope.Kind.StopsHoisting() {
			symbol.Kind = js_ast.SymbolHoistedFunction
			if scope == b.moduleScope {
				b.recordDeclared(existing.Ref)
			}
			return existing.Ref
		}

		b.addError(b.rangeOfName(loc), fmt.Sprintf("The symbol %q has already been declared", name))
		return existing.Ref
	}

	ref := b.newSymbol(kind, name)
	scope.Members[name] = js_ast.ScopeMember{Ref: ref, Loc: loc}
	if scope == b.moduleScope {
		b.topLevel[ref] = true
		b.recordDeclared(ref)
	}
	return ref
}

func (b *binder) findSymbol(name string) (js_ast.Ref, bool) {
	for scope := b.currentScope; scope != nil; scope = scope.Parent {
		if member, ok := scope.Members[name]; ok {
			return member.Ref, true
		}
	}
	return js_ast.InvalidRef, false
}

// Binds a name at a declaration site. The declare pass creates the symbol and
// the visit pass finds the symbol the declare pass created.
func (b *binder) bindName(kind js_ast.SymbolKind, loc logger.Loc, name string) js_ast.Ref {
	if !b.isVisitPass {
		return b.declareSymbol(kind, loc, name)
	}
	ref, ok := b.findSymbol(name)
	if !ok {
		panic("Internal error")
	}
	return ref
}

func (b *binder) resolveIdentifier(loc logger.Loc, name string) js_ast.Ref {
	if ref, ok := b.findSymbol(name); ok {
		return ref
	}

	switch name {
	case "exports", "module":
		if !b.isESM {
			if name == "exports" {
				b.tree.UsesExportsRef = true
				return b.exportsRef
			}
			b.tree.UsesModuleRef = true
			return b.moduleRef
		}

		if !b.warnedCommonJS[name] {
			b.warnedCommonJS[name] = true
			r := logger.Range{Loc: loc, Len: int32(len(name))}
			b.log.AddID(logger.MsgID_JS_CommonJSVariableInESM, logger.Warning, &b.source, r,
				fmt.Sprintf("The CommonJS %q variable is treated as a global variable in an ECMAScript module and may not work as expected", name))
		}
	}

	// Unbound identifiers are declared once in the module scope
	ref := b.newSymbol(js_ast.SymbolUnbound, name)
	b.moduleScope.Members[name] = js_ast.ScopeMember{Ref: ref, Loc: loc}
	return ref
}

func (b *binder) recordUsage(ref js_ast.Ref, isAssigned bool) {
	if !b.isVisitPass {
		return
	}
	b.symbols[ref.InnerIndex].UseCountEstimate++

	if b.partIndex < 0 || !b.topLevel[ref] {
		return
	}
	part := &b.parts[b.partIndex]
	use := part.SymbolUses[ref]
	use.CountEstimate++
	if isAssigned {
		use.IsAssigned = true
	}
	part.SymbolUses[ref] = use

	if namedImport, ok := b.tree.NamedImports[ref]; ok {
		n := len(namedImport.LocalPartsWithUses)
		if n == 0 || namedImport.LocalPartsWithUses[n-1] != uint32(b.partIndex) {
			namedImport.LocalPartsWithUses = append(namedImport.LocalPartsWithUses, uint32(b.partIndex))
			b.tree.NamedImports[ref] = namedImport
		}
	}
}

func (b *binder) recordImportRecord(index uint32) {
	if b.partIndex >= 0 {
		part := &b.parts[b.partIndex]
		part.ImportRecordIndices = append(part.ImportRecordIndices, index)
	}
}

func (b *binder) addImportRecord(kind ast.ImportKind, r logger.Range, text string) uint32 {
	index := uint32(len(b.tree.ImportRecords))
	record := ast.ImportRecord{Kind: kind, Range: r, Path: logger.Path{Text: text}}
	if b.tryDepth > 0 {
		record.Flags |= ast.HandlesImportErrors
	}
	b.tree.ImportRecords = append(b.tree.ImportRecords, record)
	b.recordImportRecord(index)
	return index
}

func (b *binder) addExport(alias string, loc logger.Loc, ref js_ast.Ref) {
	if _, ok := b.tree.NamedExports[alias]; ok {
		b.hasErrors = true
		b.log.AddID(logger.MsgID_Bundler_DuplicateExport, logger.Error, &b.source, b.rangeOfName(loc),
			fmt.Sprintf("Multiple exports with the same name %q", alias))
		return
	}
	b.tree.NamedExports[alias] = js_ast.NamedExport{Ref: ref, AliasLoc: loc}
}

func (b *binder) namespaceNameForRecord(index uint32) string {
	return "import_" + ast.GenerateNonUniqueNameFromPath(b.tree.ImportRecords[index].Path.Text)
}

// Property accesses off of a namespace import are turned into generated
// import items so the linker can bind them directly
func (b *binder) importItemForNamespace(namespaceRef js_ast.Ref, alias string, loc logger.Loc) js_ast.Ref {
	items := b.generatedItems[namespaceRef]
	if items == nil {
		items = make(map[string]js_ast.Ref)
		b.generatedItems[namespaceRef] = items
	}
	if ref, ok := items[alias]; ok {
		return ref
	}

	star := b.starNamespaces[namespaceRef]
	ref := b.newSymbol(js_ast.SymbolImport, alias)
	b.symbols[ref.InnerIndex].ImportItemStatus = js_ast.ImportItemGenerated
	b.moduleScope.Generated = append(b.moduleScope.Generated, ref)
	b.topLevel[ref] = true
	b.parts[star.partIndex].DeclaredSymbols = append(b.parts[star.partIndex].DeclaredSymbols, js_ast.DeclaredSymbol{Ref: ref, IsTopLevel: true})
	b.tree.NamedImports[ref] = js_ast.NamedImport{
		Alias:             alias,
		AliasLoc:          loc,
		NamespaceRef:      namespaceRef,
		ImportRecordIndex: star.importRecordIndex,
	}
	items[alias] = ref
	return ref
}
