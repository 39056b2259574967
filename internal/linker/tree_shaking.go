package linker

import (
	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/helpers"
	"github.com/esmerge/esmerge/internal/runtime"
)

func (c *linkerContext) treeShakingAndCodeSplitting() {
	for _, sourceIndex := range c.graph.ReachableFiles {
		file := &c.graph.Files[sourceIndex]
		file.EntryBits = helpers.NewBitSet(uint(len(c.seeds)))
		file.DistanceFromEntryPoint = ^uint32(0)
	}

	// Tree shaking: Each entry point marks all files reachable from itself
	for _, sourceIndex := range c.seeds {
		file := &c.graph.Files[sourceIndex]
		c.markFileLive(sourceIndex)
		c.markPartLive(sourceIndex, file.Meta.EntryPointPartIndex.GetIndex())
	}

	// Code splitting: Determine which entry points can reach which files. This
	// has to happen after tree shaking because there is an implicit dependency
	// between live parts within the same file. All liveness has to be computed
	// first before determining which entry points can reach which files.
	for i, sourceIndex := range c.seeds {
		c.markFileReachableForCodeSplitting(sourceIndex, uint(i), 0)
	}
}

func (c *linkerContext) markFileLive(sourceIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	if file.IsLive {
		return
	}
	file.IsLive = true

	// The runtime only contributes the helpers that something uses
	if sourceIndex == runtime.SourceIndex {
		return
	}

	originalPartCount := len(file.Record.AST.Parts)
	for partIndex, part := range file.AST.Parts {
		// Parts generated by the linker are only included when used
		if partIndex >= originalPartCount {
			continue
		}

		canBeRemovedIfUnused := part.CanBeRemovedIfUnused

		// Also include any statement-level imports
		for _, importRecordIndex := range part.ImportRecordIndices {
			record := &file.AST.ImportRecords[importRecordIndex]
			if record.Kind != ast.ImportStmt {
				continue
			}

			if record.SourceIndex.IsValid() {
				otherSourceIndex := record.SourceIndex.GetIndex()
				if otherSourceIndex == sourceIndex {
					continue
				}

				// Don't include this module for its side effects if it can be
				// considered to have no side effects
				if !c.graph.Files[otherSourceIndex].Record.HasSideEffects && c.options.TreeShaking {
					continue
				}

				// Otherwise, include this module for its side effects
				c.markFileLive(otherSourceIndex)
			}

			// If we get here then the import was included for its side effects, so
			// we must also keep this import statement
			canBeRemovedIfUnused = false
		}

		// CommonJS modules can't be tree shaken since their exports are
		// computed at run time
		if !canBeRemovedIfUnused || !c.options.TreeShaking || file.Meta.Wrap == graph.WrapCJS {
			c.markPartLive(sourceIndex, uint32(partIndex))
		}
	}
}

func (c *linkerContext) markPartLive(sourceIndex uint32, partIndex uint32) {
	file := &c.graph.Files[sourceIndex]
	partMeta := &file.Meta.PartMeta[partIndex]

	// Don't mark this part more than once
	if partMeta.IsLive {
		return
	}
	partMeta.IsLive = true

	// A live part keeps the file it's in alive
	c.markFileLive(sourceIndex)

	// Also include any dependencies
	for _, dep := range file.AST.Parts[partIndex].Dependencies {
		c.markPartLive(dep.SourceIndex, dep.PartIndex)
	}
}

func (c *linkerContext) markFileReachableForCodeSplitting(sourceIndex uint32, entryPointBit uint, distanceFromEntryPoint uint32) {
	file := &c.graph.Files[sourceIndex]
	if !file.IsLive {
		return
	}
	traverseAgain := false

	// Track the minimum distance to an entry point
	if distanceFromEntryPoint < file.DistanceFromEntryPoint {
		file.DistanceFromEntryPoint = distanceFromEntryPoint
		traverseAgain = true
	}
	distanceFromEntryPoint++

	// Don't mark this file more than once
	if file.EntryBits.HasBit(entryPointBit) && !traverseAgain {
		return
	}
	file.EntryBits.SetBit(entryPointBit)

	// Traverse into all imported files. Files that get their own chunk through
	// "import()" are loaded at run time instead.
	for i := range file.AST.ImportRecords {
		record := &file.AST.ImportRecords[i]
		if record.SourceIndex.IsValid() && !c.isExternalDynamicImport(record, sourceIndex) {
			c.markFileReachableForCodeSplitting(record.SourceIndex.GetIndex(), entryPointBit, distanceFromEntryPoint)
		}
	}

	// Traverse into all dependencies of all parts in this file
	for partIndex, part := range file.AST.Parts {
		if !file.Meta.PartMeta[partIndex].IsLive {
			continue
		}
		for _, dependency := range part.Dependencies {
			if dependency.SourceIndex != sourceIndex {
				c.markFileReachableForCodeSplitting(dependency.SourceIndex, entryPointBit, distanceFromEntryPoint)
			}
		}
	}
}

func (c *linkerContext) recordTreeShaking() {
	liveParts := 0
	droppedModules := 0
	for _, sourceIndex := range c.graph.ReachableFiles {
		if sourceIndex == runtime.SourceIndex {
			continue
		}
		file := &c.graph.Files[sourceIndex]
		if !file.IsLive {
			droppedModules++
			continue
		}
		for _, partMeta := range file.Meta.PartMeta {
			if partMeta.IsLive {
				liveParts++
			}
		}
	}
	c.metrics.RecordTreeShaking(liveParts, droppedModules)
}
