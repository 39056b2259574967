package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/helpers"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/renamer"
	"github.com/esmerge/esmerge/internal/runtime"
)

type chunkInfo struct {
	name      string
	entryBits helpers.BitSet

	// Only entry point chunks have an entry point
	isEntryPoint bool
	sourceIndex  uint32

	filesInChunk map[uint32]bool

	// The files with code in this chunk in the order their code appears. The
	// runtime isn't included. It always comes first.
	filesInOrder []uint32

	// Symbols generated for this chunk live in their own slot of this map so
	// chunks can be generated in parallel. The other slots are shared with the
	// linker graph and are read-only by then.
	symbols    js_ast.SymbolMap
	chunkScope *js_ast.Scope

	// The other chunks this chunk imports, by chunk index in chunk order. This
	// includes chunks it only imports for their side effects.
	crossChunkImports []uint32

	// Symbols declared in other chunks that this chunk uses, by chunk index
	importsFromOtherChunks map[uint32][]js_ast.Ref
	chunkNamespaceRefs     map[uint32]js_ast.Ref
	importAliases          map[js_ast.Ref]js_ast.NamespaceAlias

	// Symbols declared in this chunk that other chunks use, with the name each
	// one is exported under
	exportsToOtherChunks map[js_ast.Ref]string

	// Unbound symbols the generated code refers to
	moduleRef  js_ast.Ref
	exportsRef js_ast.Ref
	errorRef   js_ast.Ref

	// The namespace binding of each CommonJS module imported by this chunk.
	// Later imports of the same module reuse the first one.
	commonJSBindings map[commonJSBindingKey]js_ast.Ref

	// Files whose symbols were copied into this chunk's symbol map before
	// being changed
	ownedSymbols map[uint32]bool
}

// Top-level code of unwrapped modules runs in the order it appears in the
// chunk, so those modules share one binding per CommonJS module. A wrapped
// module may run before that binding exists, so it only shares with itself.
type commonJSBindingKey struct {
	target uint32
	owner  ast.Index32
}

func (c *linkerContext) computeChunks() {
	// Create chunks for entry points
	for i, sourceIndex := range c.seeds {
		entryBits := helpers.NewBitSet(uint(len(c.seeds)))
		entryBits.SetBit(uint(i))
		c.chunks = append(c.chunks, chunkInfo{
			entryBits:    entryBits,
			isEntryPoint: true,
			sourceIndex:  sourceIndex,
			filesInChunk: make(map[uint32]bool),
		})
	}

	// Figure out which chunk each file goes in. Files reachable from a single
	// entry point go in that entry point's chunk. Other files go in a shared
	// chunk for that exact set of entry points, or are copied into each chunk.
	sharedChunks := make(map[string]uint32)
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		if sourceIndex == runtime.SourceIndex || !file.IsLive || file.EntryBits.IsEmpty() {
			continue
		}

		if c.options.SharedModules == config.SharedDuplicate || file.EntryBits.Count() == 1 {
			for _, bit := range file.EntryBits.Bits() {
				c.chunks[bit].filesInChunk[sourceIndex] = true
			}
			continue
		}

		key := file.EntryBits.String()
		chunkIndex, ok := sharedChunks[key]
		if !ok {
			chunkIndex = uint32(len(c.chunks))
			sharedChunks[key] = chunkIndex
			c.chunks = append(c.chunks, chunkInfo{
				entryBits:    file.EntryBits.Clone(),
				filesInChunk: make(map[uint32]bool),
			})
		}
		c.chunks[chunkIndex].filesInChunk[sourceIndex] = true
	}

	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		chunk.filesInOrder = c.findImportedFilesInChunkOrder(chunk)
	}
	c.assignChunkNames()

	// A chunk imports every chunk for a superset of its entry points. Those
	// chunks hold code that runs before this chunk's code.
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		for otherChunkIndex := range c.chunks {
			other := &c.chunks[otherChunkIndex]
			if otherChunkIndex != chunkIndex && isStrictSubset(chunk.entryBits, other.entryBits) {
				chunk.crossChunkImports = append(chunk.crossChunkImports, uint32(otherChunkIndex))
			}
		}
	}
}

func isStrictSubset(a helpers.BitSet, b helpers.BitSet) bool {
	if a.Equals(b) {
		return false
	}
	for _, bit := range a.Bits() {
		if !b.HasBit(bit) {
			return false
		}
	}
	return true
}

// Files are emitted in the order they would be evaluated: a depth-first
// postorder traversal of the imports starting from each entry point that
// reaches this chunk. Members of an import cycle are emitted next to each
// other once the files they import from outside the cycle are emitted.
func (c *linkerContext) findImportedFilesInChunkOrder(chunk *chunkInfo) []uint32 {
	visited := make(map[uint32]bool)
	var files []uint32

	var visit func(uint32)
	var visitImports func(sourceIndex uint32, skip func(uint32) bool)

	visitImports = func(sourceIndex uint32, skip func(uint32) bool) {
		file := &c.graph.Files[sourceIndex]
		for i := range file.AST.ImportRecords {
			record := &file.AST.ImportRecords[i]
			if !record.SourceIndex.IsValid() || c.isExternalDynamicImport(record, sourceIndex) {
				continue
			}
			if otherSourceIndex := record.SourceIndex.GetIndex(); !skip(otherSourceIndex) {
				visit(otherSourceIndex)
			}
		}
	}

	visit = func(sourceIndex uint32) {
		if visited[sourceIndex] {
			return
		}
		file := &c.graph.Files[sourceIndex]
		if !file.IsLive || sourceIndex == runtime.SourceIndex {
			return
		}

		groupIndex, inCycle := c.graph.CycleGroupOf[sourceIndex]
		if !inCycle {
			visited[sourceIndex] = true
			visitImports(sourceIndex, func(uint32) bool { return false })
			if chunk.filesInChunk[sourceIndex] {
				files = append(files, sourceIndex)
			}
			return
		}

		// Emit the whole cycle group at once
		group := c.graph.CycleGroups[groupIndex]
		for _, member := range group {
			visited[member] = true
		}
		isMember := func(other uint32) bool {
			otherGroupIndex, ok := c.graph.CycleGroupOf[other]
			return ok && otherGroupIndex == groupIndex
		}
		for _, member := range group {
			if c.graph.Files[member].IsLive {
				visitImports(member, isMember)
			}
		}
		for _, member := range group {
			if chunk.filesInChunk[member] {
				files = append(files, member)
			}
		}
	}

	if chunk.isEntryPoint {
		visit(chunk.sourceIndex)
	}
	for bit, sourceIndex := range c.seeds {
		if chunk.entryBits.HasBit(uint(bit)) {
			visit(sourceIndex)
		}
	}

	// Everything in the chunk should have been reached from an entry point,
	// but make sure nothing is lost
	if len(files) < len(chunk.filesInChunk) {
		var rest []uint32
		for sourceIndex := range chunk.filesInChunk {
			if !visited[sourceIndex] {
				rest = append(rest, sourceIndex)
			}
		}
		sort.Slice(rest, func(i, j int) bool {
			a, b := &c.graph.Files[rest[i]], &c.graph.Files[rest[j]]
			if a.DistanceFromEntryPoint != b.DistanceFromEntryPoint {
				return a.DistanceFromEntryPoint < b.DistanceFromEntryPoint
			}
			return c.graph.StableSourceIndices[rest[i]] < c.graph.StableSourceIndices[rest[j]]
		})
		for _, sourceIndex := range rest {
			visit(sourceIndex)
		}
	}

	return files
}

func (c *linkerContext) assignChunkNames() {
	used := make(map[string]uint32)
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		var base string
		if chunk.isEntryPoint {
			_, base, _ = ast.PlatformIndependentPathDirBaseExt(c.graph.Files[chunk.sourceIndex].Record.Source.KeyPath.Text)
		} else {
			// Shared chunks are named after a hash of their contents so the name
			// only changes when the set of modules in it changes
			var paths []string
			for _, sourceIndex := range chunk.filesInOrder {
				paths = append(paths, c.graph.Files[sourceIndex].Record.Source.PrettyPath)
			}
			base = fmt.Sprintf("chunk-%08x", uint32(xxhash.Sum64String(strings.Join(paths, "\x00"))))
		}

		name := base
		if count, ok := used[base]; ok {
			for {
				count++
				name = fmt.Sprintf("%s%d", base, count)
				if _, ok := used[name]; !ok {
					break
				}
			}
			used[base] = count
		} else {
			used[base] = 1
		}
		used[name] = 1
		chunk.name = name + ".js"
	}
}

// This is the slot in each chunk's symbol map for symbols generated for the
// chunk itself
func (c *linkerContext) chunkSlot() uint32 {
	return uint32(len(c.graph.Files))
}

func (c *linkerContext) generateChunkSymbol(chunk *chunkInfo, kind js_ast.SymbolKind, name string) js_ast.Ref {
	slot := c.chunkSlot()
	ref := js_ast.Ref{SourceIndex: slot, InnerIndex: uint32(len(chunk.symbols.Outer[slot]))}
	chunk.symbols.Outer[slot] = append(chunk.symbols.Outer[slot], js_ast.Symbol{
		Kind:         kind,
		OriginalName: name,
		Link:         js_ast.InvalidRef,
	})
	chunk.chunkScope.Generated = append(chunk.chunkScope.Generated, ref)
	return ref
}

// Finds the chunk that declares a symbol used by this chunk, if that isn't
// this chunk. Symbols from the runtime and unbound symbols belong to every
// chunk.
func (c *linkerContext) chunkDeclaringRef(chunk *chunkInfo, ref js_ast.Ref) (uint32, bool) {
	if ref.SourceIndex == runtime.SourceIndex || ref.SourceIndex >= c.chunkSlot() || chunk.filesInChunk[ref.SourceIndex] {
		return 0, false
	}
	symbol := c.graph.Symbols.Get(ref)
	if symbol.Kind == js_ast.SymbolUnbound || symbol.NamespaceAlias != nil || symbol.ImportItemStatus == js_ast.ImportItemMissing {
		return 0, false
	}
	for otherChunkIndex := range c.chunks {
		if c.chunks[otherChunkIndex].filesInChunk[ref.SourceIndex] {
			return uint32(otherChunkIndex), true
		}
	}
	panic("Internal error")
}

// Works out the imports and exports between chunks. Every symbol a chunk uses
// that's declared in another chunk is exported by that chunk under a unique
// name and imported through a namespace object.
func (c *linkerContext) computeCrossChunkDependencies() {
	slot := c.chunkSlot()
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		chunk.symbols = js_ast.SymbolMap{Outer: make([][]js_ast.Symbol, slot+1)}
		copy(chunk.symbols.Outer, c.graph.Symbols.Outer)
		chunk.chunkScope = &js_ast.Scope{Kind: js_ast.ScopeEntry, Members: make(map[string]js_ast.ScopeMember)}
		chunk.importsFromOtherChunks = make(map[uint32][]js_ast.Ref)
		chunk.chunkNamespaceRefs = make(map[uint32]js_ast.Ref)
		chunk.importAliases = make(map[js_ast.Ref]js_ast.NamespaceAlias)
		chunk.exportsToOtherChunks = make(map[js_ast.Ref]string)
		chunk.moduleRef = js_ast.InvalidRef
		chunk.exportsRef = js_ast.InvalidRef
		chunk.errorRef = js_ast.InvalidRef
		chunk.commonJSBindings = make(map[commonJSBindingKey]js_ast.Ref)
		chunk.ownedSymbols = make(map[uint32]bool)
	}

	// Find the symbols each chunk uses from other chunks
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		seen := make(map[js_ast.Ref]bool)

		var addRef func(ref js_ast.Ref)
		addRef = func(ref js_ast.Ref) {
			ref = js_ast.FollowSymbols(c.graph.Symbols, ref)
			if seen[ref] {
				return
			}
			seen[ref] = true
			if alias := c.graph.Symbols.Get(ref).NamespaceAlias; alias != nil {
				addRef(alias.NamespaceRef)
				return
			}
			if otherChunkIndex, ok := c.chunkDeclaringRef(chunk, ref); ok {
				chunk.importsFromOtherChunks[otherChunkIndex] = append(chunk.importsFromOtherChunks[otherChunkIndex], ref)
			}
		}

		for _, sourceIndex := range chunk.filesInOrder {
			file := &c.graph.Files[sourceIndex]
			for partIndex, part := range file.AST.Parts {
				if !file.Meta.PartMeta[partIndex].IsLive {
					continue
				}
				for _, ref := range sortedRefs(part.SymbolUses) {
					addRef(ref)
				}
			}
		}

		// The tail of an entry point chunk refers to the entry point's exports
		// even when the entry point's own code is in a shared chunk
		if chunk.isEntryPoint {
			file := &c.graph.Files[chunk.sourceIndex]
			part := &file.AST.Parts[file.Meta.EntryPointPartIndex.GetIndex()]
			for _, ref := range sortedRefs(part.SymbolUses) {
				addRef(ref)
			}
		}
	}

	// Pick export names in a stable order. Names that the entry point exports
	// are taken first so they can't be used by accident.
	for otherChunkIndex := range c.chunks {
		other := &c.chunks[otherChunkIndex]
		var refs []js_ast.Ref
		seen := make(map[js_ast.Ref]bool)
		for chunkIndex := range c.chunks {
			for _, ref := range c.chunks[chunkIndex].importsFromOtherChunks[uint32(otherChunkIndex)] {
				if !seen[ref] {
					seen[ref] = true
					refs = append(refs, ref)
				}
			}
		}
		if len(refs) == 0 {
			continue
		}
		c.sortRefsByStableOrder(refs)

		exportRenamer := renamer.ExportRenamer{}
		if other.isEntryPoint {
			for _, alias := range c.graph.Files[other.sourceIndex].Meta.SortedAndFilteredExportAliases {
				exportRenamer.NextRenamedName(alias)
			}
		}
		for _, ref := range refs {
			other.exportsToOtherChunks[ref] = exportRenamer.NextRenamedName(c.graph.Symbols.Get(ref).OriginalName)
		}
	}

	// Import those names through one namespace per imported chunk
	for chunkIndex := range c.chunks {
		chunk := &c.chunks[chunkIndex]
		for otherChunkIndex := range chunk.importsFromOtherChunks {
			if !containsChunk(chunk.crossChunkImports, otherChunkIndex) {
				chunk.crossChunkImports = append(chunk.crossChunkImports, otherChunkIndex)
			}
		}
		sort.Slice(chunk.crossChunkImports, func(i, j int) bool {
			return chunk.crossChunkImports[i] < chunk.crossChunkImports[j]
		})

		for _, otherChunkIndex := range chunk.crossChunkImports {
			refs := chunk.importsFromOtherChunks[otherChunkIndex]
			if len(refs) == 0 {
				continue
			}
			other := &c.chunks[otherChunkIndex]
			name := ast.GenerateNonUniqueNameFromPath(other.name)
			if !strings.HasPrefix(name, "chunk") {
				name = "chunk_" + name
			}
			namespaceRef := c.generateChunkSymbol(chunk, js_ast.SymbolOther, name)
			chunk.chunkNamespaceRefs[otherChunkIndex] = namespaceRef
			for _, ref := range refs {
				chunk.importAliases[ref] = js_ast.NamespaceAlias{
					NamespaceRef: namespaceRef,
					Alias:        other.exportsToOtherChunks[ref],
				}
			}
		}
	}
}

func containsChunk(chunks []uint32, chunkIndex uint32) bool {
	for _, other := range chunks {
		if other == chunkIndex {
			return true
		}
	}
	return false
}

func (c *linkerContext) sortRefsByStableOrder(refs []js_ast.Ref) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		aStable, bStable := c.graph.StableSourceIndices[a.SourceIndex], c.graph.StableSourceIndices[b.SourceIndex]
		return aStable < bStable || (aStable == bStable && a.InnerIndex < b.InnerIndex)
	})
}

// Chunks are written next to each other so they import each other by name
func (c *linkerContext) relativeChunkPath(chunkIndex uint32) string {
	return "./" + c.chunks[chunkIndex].name
}
