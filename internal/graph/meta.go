package graph

// The code in this file represents data that is required by the compile phase
// of the bundler but that is not required by the scan phase.

import (
	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
)

type WrapKind uint8

const (
	WrapNone WrapKind = iota

	// The module will be bundled CommonJS-style like this:
	//
	//   // foo.ts
	//   let require_foo = __commonJS((exports, module) => {
	//     exports.foo = 123;
	//   });
	//
	//   // bar.ts
	//   let foo = flag ? require_foo() : null;
	//
	WrapCJS

	// The module will be bundled ESM-style like this:
	//
	//   // foo.ts
	//   var foo, foo_exports = {};
	//   __export(foo_exports, {
	//     foo: () => foo
	//   });
	//   let init_foo = __esm(() => {
	//     foo = 123;
	//   });
	//
	//   // bar.ts
	//   let foo = flag ? (init_foo(), __toCommonJS(foo_exports)) : null;
	//
	// This is also how the members of a module cycle are bundled, since their
	// top-level code must run on first access instead of in file order.
	WrapESM
)

func (kind WrapKind) String() string {
	switch kind {
	case WrapNone:
		return "none"
	case WrapCJS:
		return "cjs"
	case WrapESM:
		return "esm"
	}
	return ""
}

// This contains linker-specific metadata corresponding to a module record.
// It's separate from the record because it's only used by the linker and
// because it changes from one run to the next.
type LinkerMeta struct {
	// This is parallel to "AST.Parts" on the per-run copy, including the
	// parts the linker appends
	PartMeta []PartMeta

	// The index of the automatically-generated part containing the export
	// namespace object, or invalid if the module doesn't need one
	NSExportPartIndex ast.Index32

	// The index of the automatically-generated part containing the wrapper
	// declaration, or invalid if the module isn't wrapped
	WrapperPartIndex ast.Index32

	// The index of the automatically-generated part that keeps the exports of
	// an entry point alive
	EntryPointPartIndex ast.Index32

	// Named imports that resolved to a concrete binding in another module.
	// These are merged into their target symbols before chunks are generated.
	ImportsToBind map[js_ast.Ref]ImportData

	// Named imports that became a property access off of a namespace, such as
	// an import from a CommonJS module. The data points at the namespace
	// symbol so the parts using the import keep the namespace alive.
	AliasedImports map[js_ast.Ref]ImportData

	Wrap WrapKind

	// This is used to avoid visiting a module twice when wrapping the
	// dependencies of wrapped modules
	DidWrapDependencies bool

	// If true, the "exports" namespace object must be generated. This happens
	// when the module is the target of "require()" or "import()", when an
	// "import * as" namespace is used as a value, and for entry points in
	// CommonJS output.
	NeedsExportsVariable bool

	// If true, an "export * from" statement of this module points at a
	// CommonJS or external module, which means some exports are only known at
	// run-time
	HasDynamicExportFallback bool

	// This is the set of export names exposed by the module. It includes the
	// names from "export * from" statements.
	ResolvedExports map[string]ExportData

	// The resolved exports in sorted order with ambiguous names removed. This
	// is the export surface of the namespace object and of an entry point.
	SortedAndFilteredExportAliases []string
}

type ImportData struct {
	// This is an array of intermediate statements that re-exported this symbol
	// in a chain before getting to the final symbol. This can be done either
	// with "export * from" or "export {} from". If this is done with "export *
	// from" then this may not be the result of a single chain but may instead
	// form a diamond shape if this same symbol was re-exported multiple times
	// from different files.
	ReExports []js_ast.Dependency

	NameLoc     logger.Loc // Optional, goes with sourceIndex, ignore if zero
	Ref         js_ast.Ref
	SourceIndex uint32
}

type ExportData struct {
	// Export star resolution happens first before import resolution. That means
	// it cannot yet determine if duplicate names from export star resolution are
	// ambiguous (point to different symbols) or not (point to the same symbol).
	// This issue can happen in the following scenario:
	//
	//   // entry.js
	//   export * from './a'
	//   export * from './b'
	//
	//   // a.js
	//   export * from './c'
	//
	//   // b.js
	//   export {x} from './c'
	//
	//   // c.js
	//   export let x = 1, y = 2
	//
	// In this case "entry.js" should have two exports "x" and "y", neither of
	// which are ambiguous. To handle this case, ambiguity resolution must be
	// deferred until import resolution time. That is done using this array.
	PotentiallyAmbiguousExportStarRefs []ImportData

	Ref js_ast.Ref

	// This is the file that the symbol was declared in
	SourceIndex uint32
	NameLoc     logger.Loc // Optional, goes with sourceIndex, ignore if zero
}

// This contains linker-specific metadata corresponding to a "js_ast.Part"
// struct. This is separate from the part because it changes with every run.
type PartMeta struct {
	IsLive bool
}
