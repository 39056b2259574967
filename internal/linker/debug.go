package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/goccy/go-json"
)

// This is what "DebugGraph" attaches to each chunk: every part of every file
// in the chunk with its liveness and the edges that kept it alive

type debugChunk struct {
	Name              string            `json:"name"`
	EntryPoint        string            `json:"entryPoint,omitempty"`
	EntryBits         []uint            `json:"entryBits"`
	CrossChunkImports []string          `json:"crossChunkImports,omitempty"`
	Exports           map[string]string `json:"exports,omitempty"`
	Files             []debugFile       `json:"files"`
}

type debugFile struct {
	Path                   string      `json:"path"`
	Wrap                   string      `json:"wrap"`
	DistanceFromEntryPoint uint32      `json:"distanceFromEntryPoint"`
	Parts                  []debugPart `json:"parts"`
}

type debugPart struct {
	IsLive               bool              `json:"isLive"`
	CanBeRemovedIfUnused bool              `json:"canBeRemovedIfUnused"`
	Generated            string            `json:"generated,omitempty"`
	ImportRecords        []string          `json:"importRecords"`
	DeclaredSymbols      []string          `json:"declaredSymbols"`
	SymbolUses           []debugSymbolUse  `json:"symbolUses"`
	Dependencies         []debugDependency `json:"dependencies"`
	Code                 string            `json:"code,omitempty"`
}

type debugSymbolUse struct {
	Name          string `json:"name"`
	CountEstimate uint32 `json:"countEstimate"`
}

type debugDependency struct {
	Source    string `json:"source"`
	PartIndex uint32 `json:"partIndex"`
}

func (c *linkerContext) generateDebugGraph(chunk *chunkInfo) ([]byte, error) {
	result := debugChunk{
		Name:      chunk.name,
		EntryBits: chunk.entryBits.Bits(),
		Files:     []debugFile{},
	}
	if chunk.isEntryPoint {
		result.EntryPoint = c.graph.Files[chunk.sourceIndex].Record.Source.PrettyPath
	}
	for _, otherChunkIndex := range chunk.crossChunkImports {
		result.CrossChunkImports = append(result.CrossChunkImports, c.chunks[otherChunkIndex].name)
	}
	if len(chunk.exportsToOtherChunks) > 0 {
		result.Exports = make(map[string]string, len(chunk.exportsToOtherChunks))
		for ref, alias := range chunk.exportsToOtherChunks {
			result.Exports[alias] = c.debugSymbol(ref)
		}
	}
	for _, sourceIndex := range chunk.filesInOrder {
		result.Files = append(result.Files, c.debugFileInfo(sourceIndex))
	}
	return json.MarshalIndent(result, "", "  ")
}

func (c *linkerContext) debugSymbol(ref js_ast.Ref) string {
	return fmt.Sprintf("%d:%d [%s]", ref.SourceIndex, ref.InnerIndex, c.graph.Symbols.Get(ref).OriginalName)
}

func (c *linkerContext) debugFileInfo(sourceIndex uint32) debugFile {
	file := &c.graph.Files[sourceIndex]
	contents := file.Record.Source.Contents
	originalPartCount := len(file.Record.AST.Parts)
	isFirstPartWithStmts := true

	info := debugFile{
		Path:                   file.Record.Source.PrettyPath,
		Wrap:                   file.Meta.Wrap.String(),
		DistanceFromEntryPoint: file.DistanceFromEntryPoint,
	}

	for partIndex, part := range file.AST.Parts {
		entry := debugPart{
			IsLive:               file.Meta.PartMeta[partIndex].IsLive,
			CanBeRemovedIfUnused: part.CanBeRemovedIfUnused,
			ImportRecords:        []string{},
			DeclaredSymbols:      []string{},
			SymbolUses:           []debugSymbolUse{},
			Dependencies:         []debugDependency{},
		}

		switch index := ast.MakeIndex32(uint32(partIndex)); {
		case index == file.Meta.NSExportPartIndex:
			entry.Generated = "exports"
		case index == file.Meta.WrapperPartIndex:
			entry.Generated = "wrapper"
		case index == file.Meta.EntryPointPartIndex:
			entry.Generated = "entryPoint"
		case partIndex < originalPartCount && len(part.Stmts) > 0:
			// The code of a part runs until the next part with statements
			start := int(part.Stmts[0].Loc.Start)
			if isFirstPartWithStmts {
				start = 0
				isFirstPartWithStmts = false
			}
			end := len(contents)
			for next := partIndex + 1; next < originalPartCount; next++ {
				if nextStmts := file.AST.Parts[next].Stmts; len(nextStmts) > 0 {
					if nextStart := int(nextStmts[0].Loc.Start); nextStart >= start {
						end = nextStart
					}
					break
				}
			}
			if start <= end && end <= len(contents) {
				entry.Code = contents[moveBeforeExport(contents, start):moveBeforeExport(contents, end)]
			}
		}

		for _, importRecordIndex := range part.ImportRecordIndices {
			record := &file.AST.ImportRecords[importRecordIndex]
			if record.SourceIndex.IsValid() {
				entry.ImportRecords = append(entry.ImportRecords, c.graph.Files[record.SourceIndex.GetIndex()].Record.Source.PrettyPath)
			} else {
				entry.ImportRecords = append(entry.ImportRecords, record.Path.Text)
			}
		}

		for _, declared := range part.DeclaredSymbols {
			if declared.IsTopLevel {
				entry.DeclaredSymbols = append(entry.DeclaredSymbols, c.debugSymbol(declared.Ref))
			}
		}

		for _, ref := range sortedRefs(part.SymbolUses) {
			entry.SymbolUses = append(entry.SymbolUses, debugSymbolUse{
				Name:          c.debugSymbol(ref),
				CountEstimate: part.SymbolUses[ref].CountEstimate,
			})
		}

		deps := append([]js_ast.Dependency{}, part.Dependencies...)
		sort.SliceStable(deps, func(i, j int) bool {
			a, b := deps[i], deps[j]
			aStable, bStable := c.graph.StableSourceIndices[a.SourceIndex], c.graph.StableSourceIndices[b.SourceIndex]
			return aStable < bStable || (aStable == bStable && a.PartIndex < b.PartIndex)
		})
		for _, dep := range deps {
			entry.Dependencies = append(entry.Dependencies, debugDependency{
				Source:    c.graph.Files[dep.SourceIndex].Record.Source.PrettyPath,
				PartIndex: dep.PartIndex,
			})
		}

		info.Parts = append(info.Parts, entry)
	}

	return info
}

func moveBeforeExport(contents string, i int) int {
	contents = strings.TrimRight(contents[:i], " \t\r\n")
	if strings.HasSuffix(contents, "export") {
		return len(contents) - 6
	}
	return i
}
