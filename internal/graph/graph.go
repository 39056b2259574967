package graph

// This graph represents the set of files that the linker operates on. Each
// bundling run makes a separate one of these graphs.
//
// The input data to the linker constructor must be considered immutable because
// it's shared between runs through the loader's module record cache.
//
// The linker constructor makes a shallow clone of the input data and is careful
// to pre-clone ahead of time the AST fields that it may modify. The Go language
// doesn't have any type system features for immutability so this has to be
// manually enforced. Please be careful.

import (
	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/helpers"
	"github.com/esmerge/esmerge/internal/js_ast"
)

type EntryPointKind uint8

const (
	EntryPointNone EntryPointKind = iota
	EntryPointUserSpecified
	EntryPointDynamicImport
)

type LinkerFile struct {
	Record *ModuleRecord

	// This is a shallow clone of "Record.AST". The fields the linker writes
	// to are deep-cloned by "MakeLinkerGraph".
	AST  js_ast.AST
	Meta LinkerMeta

	// The minimum number of links in the module graph to get from an entry point
	// to this file
	DistanceFromEntryPoint uint32

	// This holds all entry points that can reach this file. It will be used to
	// assign the parts in this file to a chunk.
	EntryBits helpers.BitSet

	// If "EntryPointKind" is not "EntryPointNone", this is the index of the
	// corresponding entry point chunk.
	EntryPointChunkIndex uint32

	// This file is an entry point if and only if this is not "EntryPointNone".
	// Note that dynamically-imported files are allowed to also be specified by
	// the user as top-level entry points, so some dynamically-imported files
	// may be "EntryPointUserSpecified" instead of "EntryPointDynamicImport".
	EntryPointKind EntryPointKind

	// This is true if this file has been marked as live by the tree shaking
	// algorithm.
	IsLive bool
}

func (f *LinkerFile) IsEntryPoint() bool {
	return f.EntryPointKind != EntryPointNone
}

type EntryPoint struct {
	// The specifier the user passed in for this entry point
	Specifier string

	SourceIndex uint32
}

// The result of the scan phase: the module records that take part in this
// run and the edges between them
type Input struct {
	// Indexed by source index. Files that don't take part in this run are nil.
	Records []*ModuleRecord

	// Resolved import targets, parallel to each record's import records. An
	// invalid index means the import stays a run-time import.
	ImportTargets [][]ast.Index32

	// The import records of each file that failed to resolve or load. These
	// only fail when they are evaluated.
	FailedImports [][]uint32

	EntryPoints []EntryPoint

	// Every file reachable from an entry point in a stable order: the runtime
	// first, then a depth-first traversal of the entry points in order
	ReachableFiles []uint32

	Edges []Edge

	// Sets of modules that import each other in a cycle, each in stable order
	CycleGroups [][]uint32
}

type LinkerGraph struct {
	Files   []LinkerFile
	Symbols js_ast.SymbolMap

	EntryPoints []EntryPoint

	// Every file reachable from an entry point in stable order
	ReachableFiles []uint32

	// This maps from unstable source index to stable reachable file index. This
	// is useful as a deterministic key for sorting if you need to sort something
	// containing a source index (such as "js_ast.Ref" symbol references).
	StableSourceIndices []uint32

	// The cycle group a module belongs to, if any
	CycleGroupOf map[uint32]int
	CycleGroups  [][]uint32
}

func MakeLinkerGraph(input Input) LinkerGraph {
	symbols := js_ast.NewSymbolMap(len(input.Records))
	files := make([]LinkerFile, len(input.Records))

	// Clone various things since we may mutate them later
	for _, sourceIndex := range input.ReachableFiles {
		record := input.Records[sourceIndex]
		file := LinkerFile{Record: record, AST: record.AST}
		tree := &file.AST

		// Clone the symbol map
		fileSymbols := append([]js_ast.Symbol{}, tree.Symbols...)
		symbols.Outer[sourceIndex] = fileSymbols
		tree.Symbols = nil

		// Clone the parts
		tree.Parts = append([]js_ast.Part{}, tree.Parts...)
		for i := range tree.Parts {
			part := &tree.Parts[i]
			clone := make(map[js_ast.Ref]js_ast.SymbolUse, len(part.SymbolUses))
			for ref, uses := range part.SymbolUses {
				clone[ref] = uses
			}
			part.SymbolUses = clone
			part.Dependencies = append([]js_ast.Dependency{}, part.Dependencies...)
		}

		// Clone the import records and fill in the resolved targets
		tree.ImportRecords = append([]ast.ImportRecord{}, tree.ImportRecords...)
		if targets := input.ImportTargets[sourceIndex]; targets != nil {
			for i := range tree.ImportRecords {
				tree.ImportRecords[i].SourceIndex = targets[i]
			}
		}
		if int(sourceIndex) < len(input.FailedImports) {
			for _, i := range input.FailedImports[sourceIndex] {
				tree.ImportRecords[i].Flags |= ast.FailedToLoad
			}
		}

		// Clone the import map
		namedImports := make(map[js_ast.Ref]js_ast.NamedImport, len(tree.NamedImports))
		for k, v := range tree.NamedImports {
			namedImports[k] = v
		}
		tree.NamedImports = namedImports

		// Clone the export map
		resolvedExports := make(map[string]ExportData)
		for alias, name := range tree.NamedExports {
			resolvedExports[alias] = ExportData{
				Ref:         name.Ref,
				SourceIndex: sourceIndex,
				NameLoc:     name.AliasLoc,
			}
		}

		// Clone the top-level symbol-to-parts map
		topLevelSymbolToParts := make(map[js_ast.Ref][]uint32)
		for ref, parts := range tree.TopLevelSymbolToParts {
			topLevelSymbolToParts[ref] = parts
		}
		tree.TopLevelSymbolToParts = topLevelSymbolToParts

		// Clone the top-level scope so we can generate more variables
		{
			new := &js_ast.Scope{}
			*new = *tree.ModuleScope
			new.Generated = append([]js_ast.Ref{}, new.Generated...)
			tree.ModuleScope = new
		}

		file.Meta.ResolvedExports = resolvedExports
		file.Meta.ImportsToBind = make(map[js_ast.Ref]ImportData)
		file.Meta.AliasedImports = make(map[js_ast.Ref]ImportData)
		file.Meta.PartMeta = make([]PartMeta, len(tree.Parts))
		files[sourceIndex] = file
	}

	// Create a way to convert source indices to a stable ordering
	stableSourceIndices := make([]uint32, len(input.Records))
	for stableIndex, sourceIndex := range input.ReachableFiles {
		stableSourceIndices[sourceIndex] = uint32(stableIndex)
	}

	// Mark all entry points so we don't add them again for import() expressions
	for _, entryPoint := range input.EntryPoints {
		files[entryPoint.SourceIndex].EntryPointKind = EntryPointUserSpecified
	}

	cycleGroupOf := make(map[uint32]int)
	for i, group := range input.CycleGroups {
		for _, sourceIndex := range group {
			cycleGroupOf[sourceIndex] = i
		}
	}

	return LinkerGraph{
		Symbols:             symbols,
		EntryPoints:         append([]EntryPoint{}, input.EntryPoints...),
		ReachableFiles:      input.ReachableFiles,
		StableSourceIndices: stableSourceIndices,
		Files:               files,
		CycleGroupOf:        cycleGroupOf,
		CycleGroups:         input.CycleGroups,
	}
}

// Parts generated by the linker are appended after the parts from the parser
func (g *LinkerGraph) AddPartToFile(sourceIndex uint32, part js_ast.Part) uint32 {
	// Invariant: this map is never null
	if part.SymbolUses == nil {
		part.SymbolUses = make(map[js_ast.Ref]js_ast.SymbolUse)
	}

	file := &g.Files[sourceIndex]
	partIndex := uint32(len(file.AST.Parts))
	file.AST.Parts = append(file.AST.Parts, part)
	file.Meta.PartMeta = append(file.Meta.PartMeta, PartMeta{})

	// Invariant: the parts for all top-level symbols can be found in the file-level map
	for _, declaredSymbol := range part.DeclaredSymbols {
		if declaredSymbol.IsTopLevel {
			// Check for an existing overlay
			partIndices := file.AST.TopLevelSymbolToParts[declaredSymbol.Ref]

			// Clone the list so the original record's map isn't modified
			clone := make([]uint32, len(partIndices), len(partIndices)+1)
			copy(clone, partIndices)
			file.AST.TopLevelSymbolToParts[declaredSymbol.Ref] = append(clone, partIndex)
		}
	}

	return partIndex
}

func (g *LinkerGraph) GenerateSymbolImportAndUse(
	sourceIndex uint32,
	partIndex uint32,
	ref js_ast.Ref,
	useCount uint32,
	sourceIndexToImportFrom uint32,
) {
	if useCount == 0 {
		return
	}

	file := &g.Files[sourceIndex]
	part := &file.AST.Parts[partIndex]

	// Mark this symbol as used by this part
	use := part.SymbolUses[ref]
	use.CountEstimate += useCount
	part.SymbolUses[ref] = use

	// Pull in all parts that declare this symbol
	targetFile := &g.Files[sourceIndexToImportFrom]
	for _, partIndex := range targetFile.AST.TopLevelSymbolToParts[ref] {
		part.Dependencies = append(part.Dependencies, js_ast.Dependency{
			SourceIndex: sourceIndexToImportFrom,
			PartIndex:   partIndex,
		})
	}
}
