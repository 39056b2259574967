package js_ast

import (
	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/logger"
)

type SymbolKind uint8

const (
	// An unbound symbol is one that isn't declared in the file it's referenced
	// in. For example, using "window" without declaring it will be unbound.
	SymbolUnbound SymbolKind = iota

	// This has special merging behavior. You're allowed to re-declare these
	// symbols more than once in the same scope. These symbols are also hoisted
	// out of the scope they are declared in to the closest containing function
	// or module scope. These are the symbols with this kind:
	//
	// - Function arguments
	// - Function statements
	// - Variables declared using "var"
	//
	SymbolHoisted
	SymbolHoistedFunction

	// A simple identifier in a catch clause. Hoisted "var" declarations with
	// the same name are allowed inside the catch body.
	SymbolCatchIdentifier

	// Classes can merge with TypeScript namespaces in TypeScript, but not here
	SymbolClass

	// Variables declared using "const"
	SymbolConst

	// An imported binding. Uses of these are rewritten by the linker.
	SymbolImport

	// The "arguments" variable of a non-arrow function
	SymbolArguments

	// This annotates all other symbols that don't have special behavior
	SymbolOther
)

func (kind SymbolKind) IsHoisted() bool {
	return kind == SymbolHoisted || kind == SymbolHoistedFunction
}

type Ref struct {
	SourceIndex uint32
	InnerIndex  uint32
}

var InvalidRef Ref = Ref{^uint32(0), ^uint32(0)}

type ImportItemStatus uint8

const (
	ImportItemNone ImportItemStatus = iota

	// The linker doesn't report import/export mismatch errors
	ImportItemGenerated

	// The merger will replace this import with "undefined"
	ImportItemMissing
)

// Note: the order of values in this struct matters to reduce struct size.
type Symbol struct {
	// This is the name that came from the parser. Printed names may be renamed
	// to avoid name collisions. Do not use the original name during printing.
	OriginalName string

	// This is used for symbols that represent items in the import clause of an
	// ES6 import statement when the imported module is CommonJS or external.
	// When this is present, the expression should be printed as a property
	// access off the namespace instead of as a bare identifier.
	//
	// For correctness, this must be stored on the symbol instead of indirectly
	// associated with the Ref for the symbol somehow. Re-exported symbols are
	// collapsed using MergeSymbols() and symbols from other files that end up
	// at this symbol must be able to tell if it has a namespace alias.
	NamespaceAlias *NamespaceAlias

	// Symbols that have been merged form a linked-list where the last link is
	// the symbol to use. This link is an invalid ref if it's the last link. If
	// this isn't invalid, you need to FollowSymbols to get the real one.
	Link Ref

	// An estimate of the number of uses of this symbol. It should always be
	// non-zero when the symbol is used.
	UseCountEstimate uint32

	Kind SymbolKind

	// Certain symbols must not be renamed. For example, the "arguments"
	// variable is declared by the runtime for every function. Renaming can
	// also break any identifier used inside a direct "eval" call.
	MustNotBeRenamed bool

	// We automatically generate import items for property accesses off of
	// namespace imports:
	//
	//   import * as ns from 'path'
	//   ns.foo()
	//
	// That can often be replaced by this, which avoids needing the namespace:
	//
	//   import {foo} from 'path'
	//   foo()
	//
	// However, if the import is actually missing then we don't want to report a
	// compile-time error like we do for real import items.
	ImportItemStatus ImportItemStatus
}

type NamespaceAlias struct {
	NamespaceRef Ref
	Alias        string
}

type ScopeKind int

const (
	ScopeBlock ScopeKind = iota
	ScopeCatchBinding
	ScopeClassBody

	// The scopes below stop hoisted variables from extending into parent scopes
	ScopeEntry // This is a module
	ScopeFunction
)

func (kind ScopeKind) StopsHoisting() bool {
	return kind >= ScopeEntry
}

type ScopeMember struct {
	Ref Ref
	Loc logger.Loc
}

type Scope struct {
	Kind      ScopeKind
	Parent    *Scope
	Children  []*Scope
	Members   map[string]ScopeMember
	Generated []Ref

	// If a scope contains a direct eval() expression, then none of the symbols
	// inside that scope can be renamed. We conservatively assume that the
	// evaluated code might reference anything that it has access to.
	ContainsDirectEval bool
}

type SymbolMap struct {
	// This could be represented as a "map[Ref]Symbol" but a two-level array was
	// more efficient in profiles. Each file only generates symbols in a single
	// inner array, so you can join the maps together by just making a single
	// outer array containing all of the inner arrays.
	Outer [][]Symbol
}

func NewSymbolMap(sourceCount int) SymbolMap {
	return SymbolMap{make([][]Symbol, sourceCount)}
}

func (sm SymbolMap) Get(ref Ref) *Symbol {
	return &sm.Outer[ref.SourceIndex][ref.InnerIndex]
}

type ExportsKind uint8

const (
	// This file doesn't have any kind of export, so it's impossible to say what
	// kind of file this is. An empty file is in this category, for example.
	ExportsNone ExportsKind = iota

	// The exports are stored on "module" and/or "exports". Calling "require()"
	// on this module returns "module.exports". All imports to this module are
	// allowed but may return undefined.
	ExportsCommonJS

	// All export names are known explicitly. Calling "require()" on this module
	// generates an exports object (stored in "exports") with getters for the
	// export names. Named imports to this module are only allowed if they are
	// in the set of export names.
	ExportsESM
)

// This is the hint the resolver gives the parser, usually from the file
// extension.
type ModuleFormat uint8

const (
	FormatUnknown ModuleFormat = iota
	FormatESM
	FormatCommonJS
)

type AST struct {
	// These are CommonJS features. When a file uses them, it's not a candidate
	// for being inlined and must be wrapped in its own closure.
	UsesExportsRef bool
	UsesModuleRef  bool

	// These are ES6 features
	HasES6Imports bool
	HasES6Exports bool

	ExportsKind ExportsKind

	Hashbang    string
	Parts       []Part
	Symbols     []Symbol
	ModuleScope *Scope
	ExportsRef  Ref
	ModuleRef   Ref
	WrapperRef  Ref

	// These are stored at the AST level instead of on individual AST nodes so
	// they can be manipulated efficiently without a full AST traversal
	ImportRecords []ast.ImportRecord

	// These are used when bundling. They are filled in during the scope
	// analyzer pass since we already have to traverse the AST then anyway.
	NamedImports            map[Ref]NamedImport
	NamedExports            map[string]NamedExport
	TopLevelSymbolToParts   map[Ref][]uint32
	ExportStarImportRecords []uint32

	// Names referenced without a declaration, sorted
	FreeNames []string

	// Syntax that prevents this module from being merged with other modules,
	// such as a direct "eval" call. Such a module is loaded at run-time instead.
	UnsupportedSyntax []Span
}

func (tree *AST) HasES6Syntax() bool {
	return tree.HasES6Imports || tree.HasES6Exports
}

type NamedImport struct {
	// Parts within this file that use this import
	LocalPartsWithUses []uint32

	Alias             string
	AliasLoc          logger.Loc
	NamespaceRef      Ref
	ImportRecordIndex uint32

	// If true, the alias refers to the entire export namespace object of a
	// module. This is used for "export * as ns from 'path'".
	AliasIsStar bool

	// If true, this is an "export {x} from 'path'" re-export
	IsExported bool
}

type NamedExport struct {
	Ref      Ref
	AliasLoc logger.Loc
}

// Each file is made up of multiple parts, one per top-level statement. Parts
// are used for tree shaking: individual parts of a file can be discarded if
// nothing uses the symbols they declare.
type Part struct {
	Stmts []Stmt

	// Each is an index into the file-level import record list
	ImportRecordIndices []uint32

	// All symbols that are declared in this part. Note that a given symbol may
	// have multiple declarations, and so may end up being declared in multiple
	// parts (e.g. multiple "var" declarations with the same name). Also note
	// that this list isn't deduplicated and may contain duplicates.
	DeclaredSymbols []DeclaredSymbol

	// An estimate of the number of uses of all top-level symbols used within
	// this part
	SymbolUses map[Ref]SymbolUse

	// This tracks which other parts this part depends on. The scope analyzer
	// leaves this empty. The linker fills it in on its per-run copy of the part
	// once imports are bound, since that's when cross-module edges are known.
	Dependencies []Dependency

	// If true, this part can be removed if none of the declared symbols are
	// used. If the file containing this part is imported, then all parts that
	// don't have this flag enabled must be included.
	CanBeRemovedIfUnused bool
}

type Dependency struct {
	SourceIndex uint32
	PartIndex   uint32
}

type DeclaredSymbol struct {
	Ref        Ref
	IsTopLevel bool
}

type SymbolUse struct {
	CountEstimate uint32
	IsAssigned    bool
}

// The statements of one output chunk after merging, grouped by the module
// they came from
type MergedAST struct {
	Hashbang string
	Parts    []MergedPart
	Symbols  SymbolMap

	// Symbols declared in another chunk, keyed by their canonical ref. Uses of
	// these are printed as a property access off of the namespace the other
	// chunk was imported as.
	ImportAliases map[Ref]NamespaceAlias
}

type MergedPart struct {
	// The module these statements came from, or invalid for statements the
	// linker generated for the chunk itself (imports of other chunks and the
	// exports of the chunk)
	SourceIndex ast.Index32

	Stmts []Stmt

	// Import record indices in "Stmts" refer to this list. For module parts
	// this is the module's own list with the resolved targets filled in.
	ImportRecords []ast.ImportRecord
}

// Returns the canonical ref that represents the ref for the provided symbol.
// This may not be the provided ref if the symbol has been merged with another
// symbol.
func FollowSymbols(symbols SymbolMap, ref Ref) Ref {
	symbol := symbols.Get(ref)
	if symbol.Link == InvalidRef {
		return ref
	}

	link := FollowSymbols(symbols, symbol.Link)

	// Only write if needed to avoid concurrent map update hazards
	if symbol.Link != link {
		symbol.Link = link
	}

	return link
}

// Use this before calling "FollowSymbols" from separate goroutines to avoid
// concurrent update hazards. Calling "FollowAllSymbols" first ensures that
// all mutation is done up front.
func FollowAllSymbols(symbols SymbolMap) {
	for sourceIndex, inner := range symbols.Outer {
		for symbolIndex := range inner {
			FollowSymbols(symbols, Ref{uint32(sourceIndex), uint32(symbolIndex)})
		}
	}
}

// Makes "old" point to "new" by joining the linked lists for the two symbols
// together. That way "FollowSymbols" on both "old" and "new" will result in
// the same ref.
func MergeSymbols(symbols SymbolMap, old Ref, new Ref) Ref {
	if old == new {
		return new
	}

	oldSymbol := symbols.Get(old)
	if oldSymbol.Link != InvalidRef {
		oldSymbol.Link = MergeSymbols(symbols, oldSymbol.Link, new)
		return oldSymbol.Link
	}

	newSymbol := symbols.Get(new)
	if newSymbol.Link != InvalidRef {
		newSymbol.Link = MergeSymbols(symbols, old, newSymbol.Link)
		return newSymbol.Link
	}

	oldSymbol.Link = new
	newSymbol.UseCountEstimate += oldSymbol.UseCountEstimate
	if oldSymbol.MustNotBeRenamed {
		newSymbol.MustNotBeRenamed = true
	}
	return new
}
