package linker

// The linker takes the module graph the scan phase produced and turns it into
// output chunks. This happens in a few passes:
//
//   1. Decide how each module is represented in the output (inlined, or
//      wrapped in a closure because it's CommonJS, is loaded by "require()",
//      or takes part in an import cycle)
//   2. Resolve "export * from" statements and bind every import to the
//      declaration it eventually points at
//   3. Mark the live parts of each module starting from the entry points
//   4. Assign live modules to chunks and work out the imports and exports
//      between chunks
//   5. Merge the statements of each chunk, rename symbols to avoid
//      collisions, and print the result
//
// The input graph is never mutated. The linker works on a shallow clone of
// each module record that's made by "graph.MakeLinkerGraph".

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/metrics"
	"github.com/esmerge/esmerge/internal/renamer"
	"github.com/esmerge/esmerge/internal/runtime"
)

// One output file
type Chunk struct {
	// The file name relative to the output directory, such as "main.js" or
	// "chunk-1a2b3c4d.js"
	Name string

	// The module this chunk was created for. Shared chunks don't have one.
	IsEntryPoint bool
	SourceIndex  uint32

	// The modules with code in this chunk, in the order their code appears
	Modules []uint32

	// The merged statements and the final name of every top-level symbol
	Tree      js_ast.MergedAST
	RenameMap renamer.RenameMap

	// The printed code. This is nil unless printing was requested.
	Contents []byte

	// The source map for "Contents", if requested
	SourceMap []byte

	// A JSON dump of the parts in this chunk, if requested
	DebugGraph []byte
}

type linkerContext struct {
	ctx     context.Context
	log     logger.Log
	options config.Options
	graph   graph.LinkerGraph
	metrics *metrics.Metrics

	// Entry points in the order their chunks are created. This includes the
	// targets of "import()" expressions when those get their own chunks.
	seeds  []uint32
	chunks []chunkInfo

	// This helps avoid an infinite loop when matching imports to exports
	cycleDetector []importTracker

	// The first error-level diagnostic, as one of the "graph" sentinels
	err error

	// We may need to refer to these runtime helpers
	esmRuntimeRef        js_ast.Ref
	cjsRuntimeRef        js_ast.Ref
	exportRuntimeRef     js_ast.Ref
	reExportRuntimeRef   js_ast.Ref
	toESMRuntimeRef      js_ast.Ref
	toCommonJSRuntimeRef js_ast.Ref
	nameRuntimeRef       js_ast.Ref
}

// Link produces the output chunks for a scanned module graph. Diagnostics are
// reported to "log". If any of them is an error, the first one is returned
// as an error wrapping one of the "graph" sentinels and no chunks are made.
func Link(ctx context.Context, log logger.Log, options config.Options, input graph.Input, m *metrics.Metrics) ([]Chunk, error) {
	c := &linkerContext{
		ctx:     ctx,
		options: options,
		graph:   graph.MakeLinkerGraph(input),
		metrics: m,
	}

	// Remember the first error so it can be returned. Everything else is
	// forwarded as-is.
	c.log = logger.Log{
		AddMsg: func(msg logger.Msg) {
			if msg.Kind == logger.Error && c.err == nil {
				if sentinel := graph.ErrForMsgID(msg.ID); sentinel != nil {
					c.err = fmt.Errorf("%w: %s", sentinel, msg.Text)
				} else {
					c.err = errors.New(msg.Text)
				}
			}
			log.AddMsg(msg)
		},
		HasErrors: log.HasErrors,
		Done:      log.Done,
	}

	runtimeScope := c.graph.Files[runtime.SourceIndex].AST.ModuleScope
	c.esmRuntimeRef = runtimeScope.Members["__esm"].Ref
	c.cjsRuntimeRef = runtimeScope.Members["__commonJS"].Ref
	c.exportRuntimeRef = runtimeScope.Members["__export"].Ref
	c.reExportRuntimeRef = runtimeScope.Members["__reExport"].Ref
	c.toESMRuntimeRef = runtimeScope.Members["__toESM"].Ref
	c.toCommonJSRuntimeRef = runtimeScope.Members["__toCommonJS"].Ref
	c.nameRuntimeRef = runtimeScope.Members["__name"].Ref

	c.computeSeeds()

	c.scanImportsAndExports()
	if c.err != nil {
		return nil, c.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.treeShakingAndCodeSplitting()
	c.recordTreeShaking()
	c.computeChunks()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks, err := c.generateChunks()
	if err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	return chunks, nil
}

func (c *linkerContext) splitsDynamicImports() bool {
	return c.options.CodeSplitting == config.SplittingPerDynamicImport
}

func (c *linkerContext) computeSeeds() {
	for _, entryPoint := range c.graph.EntryPoints {
		c.addSeed(entryPoint.SourceIndex, graph.EntryPointUserSpecified)
	}

	// Each "import()" target gets its own chunk in this mode
	if c.splitsDynamicImports() {
		for _, sourceIndex := range c.graph.ReachableFiles {
			file := &c.graph.Files[sourceIndex]
			for _, record := range file.AST.ImportRecords {
				if record.Kind == ast.ImportDynamic && record.SourceIndex.IsValid() {
					c.addSeed(record.SourceIndex.GetIndex(), graph.EntryPointDynamicImport)
				}
			}
		}
	}
}

func (c *linkerContext) addSeed(sourceIndex uint32, kind graph.EntryPointKind) {
	file := &c.graph.Files[sourceIndex]
	for _, seed := range c.seeds {
		if seed == sourceIndex {
			return
		}
	}
	if file.EntryPointKind == graph.EntryPointNone {
		file.EntryPointKind = kind
	}
	file.EntryPointChunkIndex = uint32(len(c.seeds))
	c.seeds = append(c.seeds, sourceIndex)
}

func (c *linkerContext) isExternalDynamicImport(record *ast.ImportRecord, sourceIndex uint32) bool {
	return c.splitsDynamicImports() && record.Kind == ast.ImportDynamic && record.SourceIndex.IsValid() &&
		record.SourceIndex.GetIndex() != sourceIndex && c.graph.Files[record.SourceIndex.GetIndex()].IsEntryPoint()
}

func (c *linkerContext) scanImportsAndExports() {
	// Step 1: Figure out what modules must be CommonJS
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]

		// A module that assigns to "exports" or "module" always needs a closure
		if file.AST.ExportsKind == js_ast.ExportsCommonJS && sourceIndex != runtime.SourceIndex {
			file.Meta.Wrap = graph.WrapCJS
		}

		for importRecordIndex := range file.AST.ImportRecords {
			record := &file.AST.ImportRecords[importRecordIndex]
			if !record.SourceIndex.IsValid() || record.SourceIndex.GetIndex() == sourceIndex {
				continue
			}
			otherFile := &c.graph.Files[record.SourceIndex.GetIndex()]

			switch record.Kind {
			case ast.ImportStmt:
				// Importing a namespace or a default export of a module with no
				// exports means that module is treated as CommonJS. Its
				// "module.exports" object is the only thing that can be returned.
				if (record.Flags.Has(ast.ContainsImportStar) || record.Flags.Has(ast.ContainsDefaultAlias)) &&
					otherFile.AST.ExportsKind == js_ast.ExportsNone {
					otherFile.AST.ExportsKind = js_ast.ExportsCommonJS
					otherFile.Meta.Wrap = graph.WrapCJS
				}

			case ast.ImportRequire:
				// Files that are imported with require() must be wrapped so that
				// they can be lazily-evaluated
				if otherFile.AST.ExportsKind == js_ast.ExportsESM {
					if otherFile.Meta.Wrap == graph.WrapNone {
						otherFile.Meta.Wrap = graph.WrapESM
					}
					otherFile.Meta.NeedsExportsVariable = true
				} else {
					otherFile.AST.ExportsKind = js_ast.ExportsCommonJS
					otherFile.Meta.Wrap = graph.WrapCJS
				}

			case ast.ImportDynamic:
				// A dynamically-imported module that ends up in the same chunk is
				// evaluated on demand, so it needs a closure too
				if !c.splitsDynamicImports() {
					if otherFile.AST.ExportsKind == js_ast.ExportsESM {
						if otherFile.Meta.Wrap == graph.WrapNone {
							otherFile.Meta.Wrap = graph.WrapESM
						}
						otherFile.Meta.NeedsExportsVariable = true
					} else if otherFile.Meta.Wrap == graph.WrapNone {
						otherFile.AST.ExportsKind = js_ast.ExportsCommonJS
						otherFile.Meta.Wrap = graph.WrapCJS
					}
				}
			}
		}
	}

	// Modules in an import cycle are evaluated lazily on first access so that
	// each one runs exactly once no matter where the cycle is entered
	for _, group := range c.graph.CycleGroups {
		for _, sourceIndex := range group {
			if file := &c.graph.Files[sourceIndex]; file.Meta.Wrap == graph.WrapNone {
				file.Meta.Wrap = graph.WrapESM
			}
		}
	}

	// Step 2: Propagate wrapping to the dependencies of wrapped modules. A
	// wrapped module runs when its wrapper is first called, and its imports
	// must run right before it, not in file order.
	for _, sourceIndex := range c.graph.ReachableFiles {
		if c.graph.Files[sourceIndex].Meta.Wrap != graph.WrapNone {
			c.recursivelyWrapDependencies(sourceIndex)
		}
	}

	// Entry points in CommonJS output assign their export object to
	// "module.exports"
	if c.options.Format == config.FormatCommonJS {
		for _, sourceIndex := range c.seeds {
			file := &c.graph.Files[sourceIndex]
			if file.Meta.Wrap != graph.WrapCJS && file.AST.ExportsKind == js_ast.ExportsESM {
				file.Meta.NeedsExportsVariable = true
			}
		}
	}

	// Imports of external modules are printed as property accesses off of the
	// namespace when the import statement itself doesn't survive
	c.bindExternalImports()

	// Step 3: Resolve "export * from" statements. This must be done before we
	// resolve imports because "export * from" can generate exports.
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		if len(file.AST.ExportStarImportRecords) > 0 {
			c.addExportsForExportStar(file.Meta.ResolvedExports, sourceIndex, nil)
			c.hasDynamicExportsDueToExportStar(sourceIndex, make(map[uint32]bool))
		}
	}

	// Step 4: Match imports with exports. This must be done after we process
	// all export stars because imports can bind to export star re-exports.
	for _, sourceIndex := range c.graph.ReachableFiles {
		c.matchImportsWithExportsForFile(sourceIndex)
		c.bindNamespaceImports(sourceIndex)
	}
	if c.err != nil {
		return
	}

	// A module whose namespace object exists must also copy over the exports
	// of any "export * from" target that only has run-time exports
	for _, sourceIndex := range c.graph.ReachableFiles {
		if file := &c.graph.Files[sourceIndex]; file.Meta.NeedsExportsVariable {
			c.recursivelyNeedExportsVariable(sourceIndex, make(map[uint32]bool))
		}
	}

	// Step 5: Compute the export surface of each module. Ambiguous names are
	// left out. They can't be imported by name and they are silently dropped
	// from namespace objects.
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		if file.AST.ExportsKind == js_ast.ExportsCommonJS && file.Meta.Wrap == graph.WrapCJS {
			continue
		}
		aliases := make([]string, 0, len(file.Meta.ResolvedExports))
		for alias, export := range file.Meta.ResolvedExports {
			if !c.isAmbiguousExport(export) {
				aliases = append(aliases, alias)
			}
		}
		sort.Strings(aliases)
		file.Meta.SortedAndFilteredExportAliases = aliases
	}

	// Step 6: Generate the parts the linker adds to modules: the namespace
	// object, the wrapper closure, and the entry point exports
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		if file.Meta.NeedsExportsVariable && file.Meta.Wrap != graph.WrapCJS {
			c.createExportsForFile(sourceIndex)
		}
		if file.Meta.Wrap != graph.WrapNone {
			c.createWrapperForFile(sourceIndex)
		}
	}
	for _, sourceIndex := range c.seeds {
		c.createEntryPointPart(sourceIndex)
	}

	// Step 7: Compute the dependencies between parts. This is done per part
	// using the symbols each part uses and the imports it contains.
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		for partIndex := range file.AST.Parts {
			if ast.MakeIndex32(uint32(partIndex)) == file.Meta.EntryPointPartIndex {
				continue
			}
			c.computePartDependencies(sourceIndex, uint32(partIndex))
		}
	}

	// Step 8: Bind imports to exports. Every use of an import now resolves to
	// the declaration it was matched with.
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		for _, importRef := range sortedRefs(file.Meta.ImportsToBind) {
			importData := file.Meta.ImportsToBind[importRef]
			js_ast.MergeSymbols(c.graph.Symbols, importRef, importData.Ref)
		}
	}
}

func (c *linkerContext) recursivelyWrapDependencies(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	if file.Meta.DidWrapDependencies {
		return
	}
	file.Meta.DidWrapDependencies = true

	// Never wrap the runtime file since it always comes first
	if sourceIndex == runtime.SourceIndex {
		return
	}

	// This module must be wrapped
	if file.Meta.Wrap == graph.WrapNone {
		if file.AST.ExportsKind == js_ast.ExportsCommonJS {
			file.Meta.Wrap = graph.WrapCJS
		} else {
			file.Meta.Wrap = graph.WrapESM
		}
	}

	// All dependencies must also be wrapped
	for i := range file.AST.ImportRecords {
		record := &file.AST.ImportRecords[i]
		if record.SourceIndex.IsValid() && !c.isExternalDynamicImport(record, sourceIndex) {
			c.recursivelyWrapDependencies(record.SourceIndex.GetIndex())
		}
	}
}

func (c *linkerContext) bindExternalImports() {
	isCommonJSOutput := c.options.Format == config.FormatCommonJS
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		for _, importRef := range sortedRefs(file.AST.NamedImports) {
			namedImport := file.AST.NamedImports[importRef]
			if namedImport.AliasIsStar || file.AST.ImportRecords[namedImport.ImportRecordIndex].SourceIndex.IsValid() {
				continue
			}

			// Import statements are converted to "require()" calls in CommonJS
			// output, so every imported name becomes a property access. Names
			// generated for "ns.foo" expressions never had a binding of their own.
			symbol := c.graph.Symbols.Get(importRef)
			if isCommonJSOutput || symbol.ImportItemStatus == js_ast.ImportItemGenerated {
				symbol.NamespaceAlias = &js_ast.NamespaceAlias{
					NamespaceRef: namedImport.NamespaceRef,
					Alias:        namedImport.Alias,
				}
			}
		}
	}
}

func (c *linkerContext) addExportsForExportStar(
	resolvedExports map[string]graph.ExportData,
	sourceIndex uint32,
	sourceIndexStack []uint32,
) {
	// Avoid infinite loops due to cycles in the export star graph
	for _, prevSourceIndex := range sourceIndexStack {
		if prevSourceIndex == sourceIndex {
			return
		}
	}
	sourceIndexStack = append(sourceIndexStack, sourceIndex)
	file := &c.graph.Files[sourceIndex]

	for _, importRecordIndex := range file.AST.ExportStarImportRecords {
		record := &file.AST.ImportRecords[importRecordIndex]
		if !record.SourceIndex.IsValid() {
			// This will be resolved at run time instead
			continue
		}
		otherSourceIndex := record.SourceIndex.GetIndex()

		// Export stars from a CommonJS module don't work because they can't be
		// statically discovered. The names are copied over at run time instead.
		otherFile := &c.graph.Files[otherSourceIndex]
		if otherFile.AST.ExportsKind == js_ast.ExportsCommonJS {
			continue
		}

		// Accumulate this file's exports in a stable order
		aliases := make([]string, 0, len(otherFile.AST.NamedExports))
		for alias := range otherFile.AST.NamedExports {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)

	nextExport:
		for _, alias := range aliases {
			name := otherFile.AST.NamedExports[alias]

			// ES6 export star statements ignore exports named "default"
			if alias == "default" {
				continue
			}

			// This export star is shadowed if any file in the stack has a matching
			// real named export
			for _, prevSourceIndex := range sourceIndexStack {
				prevFile := &c.graph.Files[prevSourceIndex]
				if _, ok := prevFile.AST.NamedExports[alias]; ok {
					continue nextExport
				}
			}

			if existing, ok := resolvedExports[alias]; !ok {
				resolvedExports[alias] = graph.ExportData{
					Ref:         name.Ref,
					SourceIndex: otherSourceIndex,
					NameLoc:     name.AliasLoc,
				}
			} else if existing.SourceIndex != otherSourceIndex {
				// Two different re-exports colliding makes it potentially ambiguous
				existing.PotentiallyAmbiguousExportStarRefs =
					append(existing.PotentiallyAmbiguousExportStarRefs, graph.ImportData{
						SourceIndex: otherSourceIndex,
						Ref:         name.Ref,
						NameLoc:     name.AliasLoc,
					})
				resolvedExports[alias] = existing
			}
		}

		// Search further through this file's export stars
		c.addExportsForExportStar(resolvedExports, otherSourceIndex, sourceIndexStack)
	}
}

// A module has exports that are only known at run time if it has an
// "export * from" statement that points to an external module, a CommonJS
// module, or a module that itself has such exports
func (c *linkerContext) hasDynamicExportsDueToExportStar(sourceIndex uint32, visited map[uint32]bool) bool {
	file := &c.graph.Files[sourceIndex]
	if visited[sourceIndex] {
		return file.Meta.HasDynamicExportFallback
	}
	visited[sourceIndex] = true

	if file.AST.ExportsKind == js_ast.ExportsCommonJS {
		return true
	}

	for _, importRecordIndex := range file.AST.ExportStarImportRecords {
		record := &file.AST.ImportRecords[importRecordIndex]
		if !record.SourceIndex.IsValid() || (record.SourceIndex.GetIndex() != sourceIndex &&
			c.hasDynamicExportsDueToExportStar(record.SourceIndex.GetIndex(), visited)) {
			file.Meta.HasDynamicExportFallback = true
		}
	}

	return file.Meta.HasDynamicExportFallback
}

func (c *linkerContext) recursivelyNeedExportsVariable(sourceIndex uint32, visited map[uint32]bool) {
	if visited[sourceIndex] {
		return
	}
	visited[sourceIndex] = true
	file := &c.graph.Files[sourceIndex]
	if !file.Meta.HasDynamicExportFallback {
		return
	}
	for _, importRecordIndex := range file.AST.ExportStarImportRecords {
		record := &file.AST.ImportRecords[importRecordIndex]
		if !record.SourceIndex.IsValid() {
			continue
		}
		otherFile := &c.graph.Files[record.SourceIndex.GetIndex()]
		if otherFile.Meta.HasDynamicExportFallback && otherFile.Meta.Wrap != graph.WrapCJS {
			otherFile.Meta.NeedsExportsVariable = true
			c.recursivelyNeedExportsVariable(record.SourceIndex.GetIndex(), visited)
		}
	}
}

type importTracker struct {
	sourceIndex uint32
	importRef   js_ast.Ref
}

type importStatus uint8

const (
	// The imported file has no matching export
	importNoMatch importStatus = iota

	// The imported file has a matching export
	importFound

	// The imported file is CommonJS and has unknown exports
	importCommonJS

	// The import is missing but there is a dynamic fallback object
	importDynamicFallback

	// The import was treated as a CommonJS import but the file is known to
	// have no exports
	importCommonJSWithoutExports

	// The imported file was not included in the bundle
	importExternal
)

func (c *linkerContext) advanceImportTracker(tracker importTracker) (importTracker, importStatus, []graph.ImportData) {
	file := &c.graph.Files[tracker.sourceIndex]
	namedImport := file.AST.NamedImports[tracker.importRef]

	// Is this an external file?
	record := &file.AST.ImportRecords[namedImport.ImportRecordIndex]
	if !record.SourceIndex.IsValid() {
		return importTracker{}, importExternal, nil
	}

	// Is this a named import of a file without any exports?
	otherSourceIndex := record.SourceIndex.GetIndex()
	otherFile := &c.graph.Files[otherSourceIndex]
	if !namedImport.AliasIsStar && otherFile.AST.ExportsKind == js_ast.ExportsNone {
		return importTracker{sourceIndex: otherSourceIndex}, importCommonJSWithoutExports, nil
	}

	// Is this a CommonJS file?
	if otherFile.AST.ExportsKind == js_ast.ExportsCommonJS {
		return importTracker{sourceIndex: otherSourceIndex}, importCommonJS, nil
	}

	// "export * as ns from" refers to the namespace object itself
	if namedImport.AliasIsStar {
		otherFile.Meta.NeedsExportsVariable = true
		return importTracker{sourceIndex: otherSourceIndex, importRef: otherFile.AST.ExportsRef}, importFound, nil
	}

	// Match this import star with an export star from the imported file
	if matchingExport, ok := otherFile.Meta.ResolvedExports[namedImport.Alias]; ok {
		// Check to see if this is a re-export of another import
		return importTracker{
			sourceIndex: matchingExport.SourceIndex,
			importRef:   matchingExport.Ref,
		}, importFound, matchingExport.PotentiallyAmbiguousExportStarRefs
	}

	// Is there a dynamic fallback object?
	if otherFile.Meta.HasDynamicExportFallback {
		return importTracker{sourceIndex: otherSourceIndex, importRef: otherFile.AST.ExportsRef}, importDynamicFallback, nil
	}

	// Missing re-exports in a file that does have ES6 exports is an error
	return importTracker{sourceIndex: otherSourceIndex}, importNoMatch, nil
}

type matchImportKind uint8

const (
	// The import is either external or undefined
	matchImportIgnore matchImportKind = iota

	// "sourceIndex" and "ref" are in use
	matchImportNormal

	// "namespaceRef" and "alias" are in use
	matchImportNamespace

	// The import could not be evaluated due to a cycle
	matchImportCycle

	// The import resolved to multiple symbols via "export * from"
	matchImportAmbiguous

	// The imported module has no export with this name. The tracker that
	// failed is in "sourceIndex" and "ref", the module it imports from is in
	// "otherSourceIndex".
	matchImportNoMatch

	// The imported module has no exports at all
	matchImportNoExports
)

type matchImportResult struct {
	alias            string
	reExports        []js_ast.Dependency
	kind             matchImportKind
	namespaceRef     js_ast.Ref
	sourceIndex      uint32
	otherSourceIndex uint32
	nameLoc          logger.Loc // Optional, goes with sourceIndex, ignore if zero
	ref              js_ast.Ref
}

func (c *linkerContext) matchImportWithExport(tracker importTracker, reExportsIn []js_ast.Dependency) (result matchImportResult) {
	var ambiguousResults []matchImportResult
	reExports := reExportsIn
	cycleDetectorLen := len(c.cycleDetector)
	isOriginal := true

loop:
	for {
		// Make sure we avoid infinite loops trying to resolve cycles:
		//
		//   // foo.js
		//   export {a as b} from './foo.js'
		//   export {b as c} from './foo.js'
		//   export {c as a} from './foo.js'
		//
		for _, previousTracker := range c.cycleDetector[cycleDetectorLen:] {
			if tracker == previousTracker {
				result = matchImportResult{kind: matchImportCycle}
				break loop
			}
		}
		c.cycleDetector = append(c.cycleDetector, tracker)

		// Resolve the import by one step
		nextTracker, status, potentiallyAmbiguousExportStarRefs := c.advanceImportTracker(tracker)
		namedImport := c.graph.Files[tracker.sourceIndex].AST.NamedImports[tracker.importRef]

		switch status {
		case importCommonJS, importExternal:
			if isOriginal {
				if status == importExternal || namedImport.AliasIsStar {
					// The import statement itself stays and declares this symbol
					result = matchImportResult{kind: matchImportIgnore}
				} else {
					// "import {x} from './cjs'" becomes "import_cjs.x"
					result = matchImportResult{
						kind:         matchImportNamespace,
						sourceIndex:  tracker.sourceIndex,
						namespaceRef: namedImport.NamespaceRef,
						alias:        namedImport.Alias,
						reExports:    reExports,
					}
				}
			} else {
				// This is a re-export of a run-time import. Bind to the import in
				// the file that re-exports it, since that's where the namespace
				// for it is declared.
				result = matchImportResult{
					kind:        matchImportNormal,
					sourceIndex: tracker.sourceIndex,
					ref:         tracker.importRef,
					reExports:   reExports,
				}
			}

		case importDynamicFallback:
			// If it's a file with dynamic export fallback, rewrite the import to
			// a property access
			result = matchImportResult{
				kind:         matchImportNamespace,
				sourceIndex:  nextTracker.sourceIndex,
				namespaceRef: nextTracker.importRef,
				alias:        namedImport.Alias,
				reExports:    reExports,
			}
			c.graph.Files[nextTracker.sourceIndex].Meta.NeedsExportsVariable = true

		case importNoMatch:
			result = matchImportResult{
				kind:             matchImportNoMatch,
				sourceIndex:      tracker.sourceIndex,
				ref:              tracker.importRef,
				otherSourceIndex: nextTracker.sourceIndex,
				alias:            namedImport.Alias,
			}

		case importCommonJSWithoutExports:
			result = matchImportResult{
				kind:             matchImportNoExports,
				sourceIndex:      tracker.sourceIndex,
				ref:              tracker.importRef,
				otherSourceIndex: nextTracker.sourceIndex,
				alias:            namedImport.Alias,
			}

		case importFound:
			// If there are multiple ambiguous results due to use of "export * from"
			// statements, trace them all to see if they point to different things.
			for _, ambiguousTracker := range potentiallyAmbiguousExportStarRefs {
				// If this is a re-export of another import, follow the import
				if _, ok := c.graph.Files[ambiguousTracker.SourceIndex].AST.NamedImports[ambiguousTracker.Ref]; ok {
					ambiguousResults = append(ambiguousResults, c.matchImportWithExport(importTracker{
						sourceIndex: ambiguousTracker.SourceIndex,
						importRef:   ambiguousTracker.Ref,
					}, nil))
				} else {
					ambiguousResults = append(ambiguousResults, matchImportResult{
						kind:        matchImportNormal,
						sourceIndex: ambiguousTracker.SourceIndex,
						ref:         ambiguousTracker.Ref,
						nameLoc:     ambiguousTracker.NameLoc,
					})
				}
			}

			// Defer the actual binding of this import until after we generate
			// namespace export code for all files. This has to be done for all
			// import-to-export matches, not just the initial import to the final
			// export, since all imports and re-exports must be merged together
			// for correctness.
			result = matchImportResult{
				kind:        matchImportNormal,
				sourceIndex: nextTracker.sourceIndex,
				ref:         nextTracker.importRef,
				reExports:   reExports,
			}

			// Depend on the statement(s) that declared this import symbol in the
			// original file
			for _, partIndex := range c.graph.Files[tracker.sourceIndex].AST.TopLevelSymbolToParts[tracker.importRef] {
				reExports = append(reExports, js_ast.Dependency{
					SourceIndex: tracker.sourceIndex,
					PartIndex:   partIndex,
				})
			}

			// If this is a re-export of another import, continue for another
			// iteration of the loop to resolve that import as well
			if _, ok := c.graph.Files[nextTracker.sourceIndex].AST.NamedImports[nextTracker.importRef]; ok {
				tracker = nextTracker
				isOriginal = false
				continue
			}

		default:
			panic("Internal error")
		}

		// Stop now if we didn't explicitly "continue" above
		break
	}

	// If there is a potential ambiguity, all results must be the same
	for _, ambiguousResult := range ambiguousResults {
		if ambiguousResult.kind != result.kind || ambiguousResult.ref != result.ref ||
			ambiguousResult.namespaceRef != result.namespaceRef || ambiguousResult.alias != result.alias {
			result = matchImportResult{kind: matchImportAmbiguous}
			break
		}
	}

	c.cycleDetector = c.cycleDetector[:cycleDetectorLen]
	return
}

func (c *linkerContext) matchImportsWithExportsForFile(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]

	// Sort imports for determinism. Otherwise our unit tests will randomly
	// fail sometimes when error messages are reordered.
	for _, importRef := range sortedRefs(file.AST.NamedImports) {
		namedImport := file.AST.NamedImports[importRef]

		// Re-use memory for the cycle detector
		c.cycleDetector = c.cycleDetector[:0]

		result := c.matchImportWithExport(importTracker{sourceIndex: sourceIndex, importRef: importRef}, nil)
		switch result.kind {
		case matchImportIgnore:

		case matchImportNormal:
			file.Meta.ImportsToBind[importRef] = graph.ImportData{
				ReExports:   result.reExports,
				SourceIndex: result.sourceIndex,
				Ref:         result.ref,
			}

		case matchImportNamespace:
			c.graph.Symbols.Get(importRef).NamespaceAlias = &js_ast.NamespaceAlias{
				NamespaceRef: result.namespaceRef,
				Alias:        result.alias,
			}
			file.Meta.AliasedImports[importRef] = graph.ImportData{
				ReExports:   result.reExports,
				SourceIndex: result.sourceIndex,
				Ref:         result.namespaceRef,
			}

		case matchImportCycle:
			source := &file.Record.Source
			c.log.AddID(logger.MsgID_Bundler_CyclicReexport, logger.Error, source, rangeOfName(source, namedImport.AliasLoc),
				fmt.Sprintf("Detected cycle while resolving import %q", namedImport.Alias))

		case matchImportAmbiguous:
			source := &file.Record.Source
			c.log.AddID(logger.MsgID_Bundler_DuplicateExport, logger.Error, source, rangeOfName(source, namedImport.AliasLoc),
				fmt.Sprintf("Ambiguous import %q has multiple matching exports", namedImport.Alias))

		case matchImportNoMatch, matchImportNoExports:
			c.reportMissingImport(importRef, result)
		}
	}
}

func (c *linkerContext) reportMissingImport(importRef js_ast.Ref, result matchImportResult) {
	failingFile := &c.graph.Files[result.sourceIndex]
	source := &failingFile.Record.Source
	namedImport := failingFile.AST.NamedImports[result.ref]
	r := rangeOfName(source, namedImport.AliasLoc)
	otherPath := c.graph.Files[result.otherSourceIndex].Record.Source.PrettyPath
	symbol := c.graph.Symbols.Get(importRef)

	if result.kind == matchImportNoExports {
		// Importing from a plain script is allowed, but the value is always
		// "undefined"
		symbol.ImportItemStatus = js_ast.ImportItemMissing
		c.log.AddID(logger.MsgID_Bundler_ImportIsUndefined, logger.Warning, source, r,
			fmt.Sprintf("Import %q will always be undefined because the file %q has no exports", result.alias, otherPath))
		return
	}

	// Property accesses off of a namespace are allowed to be missing
	if c.graph.Symbols.Get(result.ref).ImportItemStatus == js_ast.ImportItemGenerated {
		symbol.ImportItemStatus = js_ast.ImportItemMissing
		c.log.AddID(logger.MsgID_Bundler_ImportIsUndefined, logger.Warning, source, r,
			fmt.Sprintf("Import %q will always be undefined because there is no matching export in %q", result.alias, otherPath))
		return
	}

	c.log.AddID(logger.MsgID_Bundler_MissingImport, logger.Error, source, r,
		fmt.Sprintf("No matching export in %q for import %q", otherPath, result.alias))
}

// An "import * as ns" namespace that is used as a value (passed around
// instead of only having properties read off of it) refers to the namespace
// object of the imported module
func (c *linkerContext) bindNamespaceImports(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	for _, part := range file.AST.Parts {
		for _, stmt := range part.Stmts {
			s, ok := stmt.Data.(*js_ast.SImport)
			if !ok || s.StarNameLoc == nil {
				continue
			}
			record := &file.AST.ImportRecords[s.ImportRecordIndex]
			if !record.SourceIndex.IsValid() || c.graph.Symbols.Get(s.NamespaceRef).UseCountEstimate == 0 {
				continue
			}
			otherSourceIndex := record.SourceIndex.GetIndex()
			otherFile := &c.graph.Files[otherSourceIndex]

			// CommonJS modules get a "var ns = __toESM(require_foo())" instead
			if otherFile.Meta.Wrap == graph.WrapCJS {
				continue
			}

			otherFile.Meta.NeedsExportsVariable = true
			file.Meta.ImportsToBind[s.NamespaceRef] = graph.ImportData{
				SourceIndex: otherSourceIndex,
				Ref:         otherFile.AST.ExportsRef,
			}
		}
	}
}

// An export is ambiguous if it comes from more than one "export * from"
// statement and the candidates don't all resolve to the same declaration
func (c *linkerContext) isAmbiguousExport(export graph.ExportData) bool {
	if len(export.PotentiallyAmbiguousExportStarRefs) == 0 {
		return false
	}
	mainSourceIndex, mainRef := c.resolveExportForComparison(export.SourceIndex, export.Ref)
	for _, other := range export.PotentiallyAmbiguousExportStarRefs {
		otherSourceIndex, otherRef := c.resolveExportForComparison(other.SourceIndex, other.Ref)
		if otherSourceIndex != mainSourceIndex || otherRef != mainRef {
			return true
		}
	}
	return false
}

func (c *linkerContext) resolveExportForComparison(sourceIndex uint32, ref js_ast.Ref) (uint32, js_ast.Ref) {
	if _, ok := c.graph.Files[sourceIndex].AST.NamedImports[ref]; ok {
		c.cycleDetector = c.cycleDetector[:0]
		result := c.matchImportWithExport(importTracker{sourceIndex: sourceIndex, importRef: ref}, nil)
		switch result.kind {
		case matchImportNormal:
			return result.sourceIndex, result.ref
		case matchImportNamespace:
			return result.sourceIndex, result.namespaceRef
		}
	}
	return sourceIndex, ref
}

func (c *linkerContext) dependenciesForRef(sourceIndex uint32, ref js_ast.Ref) (deps []js_ast.Dependency) {
	file := &c.graph.Files[sourceIndex]

	if importData, ok := file.Meta.ImportsToBind[ref]; ok {
		deps = append(deps, importData.ReExports...)
		for _, partIndex := range c.graph.Files[importData.SourceIndex].AST.TopLevelSymbolToParts[importData.Ref] {
			deps = append(deps, js_ast.Dependency{SourceIndex: importData.SourceIndex, PartIndex: partIndex})
		}
		return
	}

	if importData, ok := file.Meta.AliasedImports[ref]; ok {
		deps = append(deps, importData.ReExports...)
		for _, partIndex := range c.graph.Files[importData.SourceIndex].AST.TopLevelSymbolToParts[importData.Ref] {
			deps = append(deps, js_ast.Dependency{SourceIndex: importData.SourceIndex, PartIndex: partIndex})
		}
		return
	}

	if ref.SourceIndex == sourceIndex {
		for _, partIndex := range file.AST.TopLevelSymbolToParts[ref] {
			deps = append(deps, js_ast.Dependency{SourceIndex: sourceIndex, PartIndex: partIndex})
		}
	}
	return
}

func (c *linkerContext) createExportsForFile(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]

	// "__export(foo_exports, { bar: () => bar })"
	var properties []js_ast.Property
	var deps []js_ast.Dependency
	uses := make(map[js_ast.Ref]js_ast.SymbolUse)
	for _, alias := range file.Meta.SortedAndFilteredExportAliases {
		export := file.Meta.ResolvedExports[alias]
		body := js_ast.FnBody{Stmts: []js_ast.Stmt{{Data: &js_ast.SReturn{
			ValueOrNil: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: export.Ref}},
		}}}}
		properties = append(properties, js_ast.Property{
			Key:        js_ast.Expr{Data: &js_ast.EString{Value: alias}},
			ValueOrNil: js_ast.Expr{Data: &js_ast.EArrow{PreferExpr: true, Body: body}},
		})
		use := uses[export.Ref]
		use.CountEstimate++
		uses[export.Ref] = use
		deps = append(deps, c.dependenciesForRef(export.SourceIndex, export.Ref)...)
	}

	// "var foo_exports = {}"
	stmts := []js_ast.Stmt{{Data: &js_ast.SLocal{
		Kind: js_ast.LocalVar,
		Decls: []js_ast.Decl{{
			Binding:    js_ast.Binding{Data: &js_ast.BIdentifier{Ref: file.AST.ExportsRef}},
			ValueOrNil: js_ast.Expr{Data: &js_ast.EObject{}},
		}},
	}}}
	if len(properties) > 0 {
		stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExpr{Value: js_ast.Expr{Data: &js_ast.ECall{
			Target: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: c.exportRuntimeRef}},
			Args: []js_ast.Expr{
				{Data: &js_ast.EIdentifier{Ref: file.AST.ExportsRef}},
				{Data: &js_ast.EObject{Properties: properties}},
			},
		}}}})
	}

	partIndex := c.graph.AddPartToFile(sourceIndex, js_ast.Part{
		Stmts:                stmts,
		DeclaredSymbols:      []js_ast.DeclaredSymbol{{Ref: file.AST.ExportsRef, IsTopLevel: true}},
		SymbolUses:           uses,
		Dependencies:         deps,
		CanBeRemovedIfUnused: true,
	})
	file.Meta.NSExportPartIndex = ast.MakeIndex32(partIndex)
	if len(properties) > 0 {
		c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.exportRuntimeRef, 1, runtime.SourceIndex)
	}
}

func (c *linkerContext) createWrapperForFile(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	part := js_ast.Part{
		DeclaredSymbols:      []js_ast.DeclaredSymbol{{Ref: file.AST.WrapperRef, IsTopLevel: true}},
		CanBeRemovedIfUnused: true,
	}

	// A CommonJS closure contains every statement of the module. Parts of an
	// ESM closure are tree shaken like the parts of any other module.
	if file.Meta.Wrap == graph.WrapCJS {
		for partIndex := range file.AST.Parts {
			part.Dependencies = append(part.Dependencies, js_ast.Dependency{SourceIndex: sourceIndex, PartIndex: uint32(partIndex)})
		}
	}

	partIndex := c.graph.AddPartToFile(sourceIndex, part)
	file.Meta.WrapperPartIndex = ast.MakeIndex32(partIndex)

	switch file.Meta.Wrap {
	case graph.WrapCJS:
		// "var require_foo = __commonJS((exports, module) => { ... })"
		c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.cjsRuntimeRef, 1, runtime.SourceIndex)
	case graph.WrapESM:
		// "var init_foo = __esm(() => { ... })"
		c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.esmRuntimeRef, 1, runtime.SourceIndex)
	}
}

// The entry point part has no statements. It exists to keep alive everything
// the entry point exposes: its exports, its namespace object, and its wrapper.
func (c *linkerContext) createEntryPointPart(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	part := js_ast.Part{SymbolUses: make(map[js_ast.Ref]js_ast.SymbolUse)}
	use := func(ref js_ast.Ref) {
		symbolUse := part.SymbolUses[ref]
		symbolUse.CountEstimate++
		part.SymbolUses[ref] = symbolUse
	}

	if file.Meta.Wrap != graph.WrapCJS {
		for _, alias := range file.Meta.SortedAndFilteredExportAliases {
			export := file.Meta.ResolvedExports[alias]
			use(export.Ref)
			part.Dependencies = append(part.Dependencies, c.dependenciesForRef(export.SourceIndex, export.Ref)...)
		}
	}
	if file.Meta.NSExportPartIndex.IsValid() {
		use(file.AST.ExportsRef)
		part.Dependencies = append(part.Dependencies, js_ast.Dependency{SourceIndex: sourceIndex, PartIndex: file.Meta.NSExportPartIndex.GetIndex()})
	}
	if file.Meta.WrapperPartIndex.IsValid() {
		use(file.AST.WrapperRef)
		part.Dependencies = append(part.Dependencies, js_ast.Dependency{SourceIndex: sourceIndex, PartIndex: file.Meta.WrapperPartIndex.GetIndex()})
	}

	partIndex := c.graph.AddPartToFile(sourceIndex, part)
	file.Meta.EntryPointPartIndex = ast.MakeIndex32(partIndex)

	// "module.exports = __toCommonJS(foo_exports)"
	if c.options.Format == config.FormatCommonJS && file.Meta.NSExportPartIndex.IsValid() {
		c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.toCommonJSRuntimeRef, 1, runtime.SourceIndex)
	}
}

func (c *linkerContext) computePartDependencies(sourceIndex uint32, partIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	part := &file.AST.Parts[partIndex]
	isCommonJSOutput := c.options.Format == config.FormatCommonJS

	// Parts generated for the namespace object already list their dependencies
	if ast.MakeIndex32(partIndex) != file.Meta.NSExportPartIndex {
		for _, ref := range sortedRefs(part.SymbolUses) {
			for _, dep := range c.dependenciesForRef(sourceIndex, ref) {
				if dep.SourceIndex != sourceIndex || dep.PartIndex != partIndex {
					part.Dependencies = append(part.Dependencies, dep)
				}
			}
		}
	}

	if isAnonymousDefaultExport(part) {
		c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.nameRuntimeRef, 1, runtime.SourceIndex)
	}

	// Imports of wrapped modules call their wrapper and may need runtime
	// helpers to convert between module formats
	for _, importRecordIndex := range part.ImportRecordIndices {
		record := &file.AST.ImportRecords[importRecordIndex]

		if !record.SourceIndex.IsValid() {
			if record.Kind != ast.ImportStmt {
				continue
			}
			if isCommonJSOutput && (record.Flags.Has(ast.ContainsImportStar) || record.Flags.Has(ast.ContainsDefaultAlias)) {
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.toESMRuntimeRef, 1, runtime.SourceIndex)
			}
			if record.Flags.Has(ast.IsExportStar) && file.Meta.NeedsExportsVariable && isExportStarWithoutAlias(file, importRecordIndex) {
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.reExportRuntimeRef, 1, runtime.SourceIndex)
			}
			continue
		}

		otherSourceIndex := record.SourceIndex.GetIndex()
		if otherSourceIndex == sourceIndex || c.isExternalDynamicImport(record, sourceIndex) {
			continue
		}
		otherFile := &c.graph.Files[otherSourceIndex]
		if otherFile.Meta.Wrap == graph.WrapNone {
			continue
		}

		// Every kind of import of a wrapped module calls its wrapper
		c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, otherFile.AST.WrapperRef, 1, otherSourceIndex)

		switch record.Kind {
		case ast.ImportStmt:
			if otherFile.Meta.Wrap == graph.WrapCJS {
				if !record.Flags.Has(ast.WasOriginallyBareImport) && !record.Flags.Has(ast.IsExportStar) {
					c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.toESMRuntimeRef, 1, runtime.SourceIndex)
				}
				if record.Flags.Has(ast.IsExportStar) && file.Meta.NeedsExportsVariable && isExportStarWithoutAlias(file, importRecordIndex) {
					c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.reExportRuntimeRef, 1, runtime.SourceIndex)
				}
				if record.Flags.Has(ast.IsExportStar) && !isExportStarWithoutAlias(file, importRecordIndex) {
					c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.toESMRuntimeRef, 1, runtime.SourceIndex)
				}
			} else if record.Flags.Has(ast.IsExportStar) && file.Meta.NeedsExportsVariable &&
				otherFile.Meta.HasDynamicExportFallback && isExportStarWithoutAlias(file, importRecordIndex) {
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.reExportRuntimeRef, 1, runtime.SourceIndex)
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, otherFile.AST.ExportsRef, 1, otherSourceIndex)
			}

		case ast.ImportRequire:
			if otherFile.Meta.Wrap == graph.WrapESM {
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, otherFile.AST.ExportsRef, 1, otherSourceIndex)
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.toCommonJSRuntimeRef, 1, runtime.SourceIndex)
			}

		case ast.ImportDynamic:
			if otherFile.Meta.Wrap == graph.WrapESM {
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, otherFile.AST.ExportsRef, 1, otherSourceIndex)
			} else {
				c.graph.GenerateSymbolImportAndUse(sourceIndex, partIndex, c.toESMRuntimeRef, 1, runtime.SourceIndex)
			}
		}
	}
}

// "export default function() {}" and "export default class {}" get the
// generated default name, which is then renamed to "default" at run time
func isAnonymousDefaultExport(part *js_ast.Part) bool {
	for _, stmt := range part.Stmts {
		if s, ok := stmt.Data.(*js_ast.SExportDefault); ok {
			switch s2 := s.Value.Data.(type) {
			case *js_ast.SFunction:
				return s2.Fn.Name == nil
			case *js_ast.SClass:
				return s2.Class.Name == nil
			}
		}
	}
	return false
}

// Returns true for "export * from" and false for "export * as ns from"
func isExportStarWithoutAlias(file *graph.LinkerFile, importRecordIndex uint32) bool {
	for _, index := range file.AST.ExportStarImportRecords {
		if index == importRecordIndex {
			return true
		}
	}
	return false
}

func rangeOfName(source *logger.Source, loc logger.Loc) logger.Range {
	if r := source.RangeOfString(loc); r.Len > 0 {
		return r
	}
	return source.RangeOfIdentifier(loc)
}

func sortedRefs[T any](m map[js_ast.Ref]T) []js_ast.Ref {
	refs := make([]js_ast.Ref, 0, len(m))
	for ref := range m {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		return a.SourceIndex < b.SourceIndex || (a.SourceIndex == b.SourceIndex && a.InnerIndex < b.InnerIndex)
	})
	return refs
}
