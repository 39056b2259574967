package linker

import (
	"path"
	"sort"
	"time"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/config"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/helpers"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/js_printer"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/renamer"
	"github.com/esmerge/esmerge/internal/runtime"
	"github.com/esmerge/esmerge/internal/sourcemap"
	"golang.org/x/sync/errgroup"
)

func (c *linkerContext) generateChunks() ([]Chunk, error) {
	c.computeCrossChunkDependencies()

	// Make sure all symbols are followed ahead of time so the parallel code
	// below only ever reads from the symbol map
	js_ast.FollowAllSymbols(c.graph.Symbols)

	results := make([]Chunk, len(c.chunks))
	group, ctx := errgroup.WithContext(c.ctx)
	for chunkIndex := range c.chunks {
		chunkIndex := uint32(chunkIndex)
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			chunk, err := c.generateChunk(chunkIndex)
			results[chunkIndex] = chunk
			c.metrics.RecordChunk(time.Since(start))
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *linkerContext) generateChunk(chunkIndex uint32) (Chunk, error) {
	chunk := &c.chunks[chunkIndex]

	// The exports of the chunk go last but are generated first, since they
	// may need runtime helpers and generated symbols
	tail, tailRecords, tailUsesExport := c.generateChunkTail(chunk)

	parts := []js_ast.MergedPart{c.generateCrossChunkImports(chunk)}

	runtimeParts := c.runtimePartsForChunk(chunk, tailUsesExport)
	if len(runtimeParts) > 0 {
		runtimeFile := &c.graph.Files[runtime.SourceIndex]
		var stmts []js_ast.Stmt
		for _, partIndex := range runtimeParts {
			stmts = c.convertStmts(chunk, runtime.SourceIndex, stmts, runtimeFile.AST.Parts[partIndex].Stmts)
		}
		parts = append(parts, js_ast.MergedPart{
			SourceIndex: ast.MakeIndex32(runtime.SourceIndex),
			Stmts:       stmts,
		})
	}

	var modules []uint32
	for _, sourceIndex := range chunk.filesInOrder {
		stmts := c.generateCodeForFileInChunk(chunk, sourceIndex)
		if len(stmts) == 0 {
			continue
		}
		modules = append(modules, sourceIndex)
		parts = append(parts, js_ast.MergedPart{
			SourceIndex:   ast.MakeIndex32(sourceIndex),
			Stmts:         stmts,
			ImportRecords: c.importRecordsForFileInChunk(sourceIndex),
		})
	}

	parts = append(parts, js_ast.MergedPart{Stmts: tail, ImportRecords: tailRecords})

	r := c.renameSymbolsInChunk(chunk, modules, runtimeParts)

	tree := js_ast.MergedAST{
		Parts:         parts,
		Symbols:       chunk.symbols,
		ImportAliases: chunk.importAliases,
	}
	if chunk.isEntryPoint {
		tree.Hashbang = c.graph.Files[chunk.sourceIndex].AST.Hashbang
	}

	result := Chunk{
		Name:         chunk.name,
		IsEntryPoint: chunk.isEntryPoint,
		SourceIndex:  chunk.sourceIndex,
		Modules:      modules,
		Tree:         tree,
		RenameMap:    r.RenameMap(),
	}
	if c.options.Print {
		var builder *sourcemap.Builder
		if c.options.SourceMap {
			builder = sourcemap.NewBuilder(func(sourceIndex uint32) *logger.Source {
				return &c.graph.Files[sourceIndex].Record.Source
			})
		}
		result.Contents = js_printer.Print(tree, r, js_printer.Options{
			RequireOrImportMetaForSource: c.requireOrImportMetaForSource,
			ToCommonJSRef:                c.toCommonJSRuntimeRef,
			ToESMRef:                     c.toESMRuntimeRef,
			NodeInterop:                  c.options.DefaultInterop == config.InteropNode,
			SourceMap:                    builder,
		})
		if builder != nil {
			sourceMap, err := builder.SourceMap().Encode(chunk.name)
			if err != nil {
				return Chunk{}, err
			}
			result.SourceMap = sourceMap

			j := helpers.Joiner{}
			j.AddBytes(result.Contents)
			j.EnsureNewlineAtEnd()
			j.AddString("//# sourceMappingURL=" + path.Base(chunk.name) + ".map\n")
			result.Contents = j.Done()
		}
	}
	if c.options.DebugGraph {
		debugGraph, err := c.generateDebugGraph(chunk)
		if err != nil {
			return Chunk{}, err
		}
		result.DebugGraph = debugGraph
	}
	return result, nil
}

func (c *linkerContext) requireOrImportMetaForSource(sourceIndex uint32) js_printer.RequireOrImportMeta {
	file := &c.graph.Files[sourceIndex]
	meta := js_printer.RequireOrImportMeta{
		WrapperRef: file.AST.WrapperRef,
		ExportsRef: js_ast.InvalidRef,
	}
	if file.Meta.Wrap == graph.WrapESM {
		meta.ExportsRef = file.AST.ExportsRef
	}
	return meta
}

// Each chunk imports the chunks it depends on before any of its own code
func (c *linkerContext) generateCrossChunkImports(chunk *chunkInfo) js_ast.MergedPart {
	part := js_ast.MergedPart{}
	isESM := c.options.Format == config.FormatESModule

	for _, otherChunkIndex := range chunk.crossChunkImports {
		recordIndex := uint32(len(part.ImportRecords))
		kind := ast.ImportStmt
		if !isESM {
			kind = ast.ImportRequire
		}
		part.ImportRecords = append(part.ImportRecords, ast.ImportRecord{
			Path: logger.Path{Text: c.relativeChunkPath(otherChunkIndex)},
			Kind: kind,
		})

		namespaceRef, ok := chunk.chunkNamespaceRefs[otherChunkIndex]
		switch {
		case isESM && ok:
			// "import * as chunk_x from './chunk-x.js'"
			part.Stmts = append(part.Stmts, js_ast.Stmt{Data: &js_ast.SImport{
				NamespaceRef:      namespaceRef,
				StarNameLoc:       &logger.Loc{},
				ImportRecordIndex: recordIndex,
			}})

		case isESM:
			// "import './chunk-x.js'"
			part.Stmts = append(part.Stmts, js_ast.Stmt{Data: &js_ast.SImport{
				NamespaceRef:      js_ast.InvalidRef,
				ImportRecordIndex: recordIndex,
			}})

		case ok:
			// "var chunk_x = require('./chunk-x.js')"
			part.Stmts = append(part.Stmts, varDecl(logger.Loc{}, namespaceRef,
				js_ast.Expr{Data: &js_ast.ERequireString{ImportRecordIndex: recordIndex}}))

		default:
			// "require('./chunk-x.js')"
			part.Stmts = append(part.Stmts, js_ast.Stmt{Data: &js_ast.SExpr{
				Value: js_ast.Expr{Data: &js_ast.ERequireString{ImportRecordIndex: recordIndex}},
			}})
		}
	}

	return part
}

// The runtime is included in every chunk that needs it, but only the helpers
// that chunk uses
func (c *linkerContext) runtimePartsForChunk(chunk *chunkInfo, tailUsesExport bool) []uint32 {
	runtimeFile := &c.graph.Files[runtime.SourceIndex]
	included := make(map[uint32]bool)

	var visit func(partIndex uint32)
	visit = func(partIndex uint32) {
		if included[partIndex] {
			return
		}
		included[partIndex] = true
		for _, dep := range runtimeFile.AST.Parts[partIndex].Dependencies {
			if dep.SourceIndex == runtime.SourceIndex {
				visit(dep.PartIndex)
			}
		}
	}
	visitDeps := func(part *js_ast.Part) {
		for _, dep := range part.Dependencies {
			if dep.SourceIndex == runtime.SourceIndex {
				visit(dep.PartIndex)
			}
		}
	}

	for _, sourceIndex := range chunk.filesInOrder {
		file := &c.graph.Files[sourceIndex]
		for partIndex := range file.AST.Parts {
			if file.Meta.PartMeta[partIndex].IsLive {
				visitDeps(&file.AST.Parts[partIndex])
			}
		}
	}

	// The entry point part drives the tail, even if the entry point's own code
	// ended up in another chunk
	if chunk.isEntryPoint {
		file := &c.graph.Files[chunk.sourceIndex]
		visitDeps(&file.AST.Parts[file.Meta.EntryPointPartIndex.GetIndex()])
	}

	if tailUsesExport {
		for _, partIndex := range runtimeFile.AST.TopLevelSymbolToParts[c.exportRuntimeRef] {
			visit(partIndex)
		}
	}

	sorted := make([]uint32, 0, len(included))
	for partIndex := range included {
		sorted = append(sorted, partIndex)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

// A copy of the file's import records where "import()" of a module in another
// chunk points at that chunk's file instead
func (c *linkerContext) importRecordsForFileInChunk(sourceIndex uint32) []ast.ImportRecord {
	file := &c.graph.Files[sourceIndex]
	records := append([]ast.ImportRecord{}, file.AST.ImportRecords...)
	for i := range records {
		record := &records[i]
		if !record.SourceIndex.IsValid() {
			continue
		}
		otherSourceIndex := record.SourceIndex.GetIndex()
		otherFile := &c.graph.Files[otherSourceIndex]
		if c.isExternalDynamicImport(record, sourceIndex) {
			record.Path = logger.Path{Text: c.relativeChunkPath(otherFile.EntryPointChunkIndex)}
			record.SourceIndex = ast.Index32{}
		} else if record.Kind != ast.ImportStmt && otherFile.Meta.Wrap == graph.WrapNone {
			// A module that loads itself stays a run-time import of its own chunk
			if otherFile.IsEntryPoint() {
				record.Path = logger.Path{Text: c.relativeChunkPath(otherFile.EntryPointChunkIndex)}
			}
			record.SourceIndex = ast.Index32{}
		}
	}
	return records
}

func (c *linkerContext) generateCodeForFileInChunk(chunk *chunkInfo, sourceIndex uint32) []js_ast.Stmt {
	file := &c.graph.Files[sourceIndex]
	originalPartCount := uint32(len(file.Record.AST.Parts))

	// Convert the statements of every live part in source order
	var inside []js_ast.Stmt
	hasLiveParts := false
	for partIndex := uint32(0); partIndex < originalPartCount; partIndex++ {
		if !file.Meta.PartMeta[partIndex].IsLive {
			continue
		}
		hasLiveParts = true
		inside = c.convertStmts(chunk, sourceIndex, inside, file.AST.Parts[partIndex].Stmts)
	}

	// Imports of external modules in a wrapped module are hoisted out of the
	// closure in ESM output since they can only appear at the top level.
	// Imports that failed to resolve or load throw when the closure runs
	// instead, so only the code that evaluates this module fails.
	var outside []js_ast.Stmt
	if file.Meta.Wrap != graph.WrapNone && c.options.Format == config.FormatESModule {
		var failed []js_ast.Stmt
		end := 0
		for _, stmt := range inside {
			if s, ok := stmt.Data.(*js_ast.SImport); ok {
				if record := &file.AST.ImportRecords[s.ImportRecordIndex]; record.Flags.Has(ast.FailedToLoad) {
					failed = append(failed, c.throwCouldNotLoad(chunk, stmt.Loc, record))
				} else {
					outside = append(outside, stmt)
				}
			} else {
				inside[end] = stmt
				end++
			}
		}
		inside = append(failed, inside[:end]...)
	}

	// The namespace object for this module, if it has one
	var nsExport []js_ast.Stmt
	if index := file.Meta.NSExportPartIndex; index.IsValid() && file.Meta.PartMeta[index.GetIndex()].IsLive {
		hasLiveParts = true
		nsExport = file.AST.Parts[index.GetIndex()].Stmts
	}

	isWrapperLive := file.Meta.WrapperPartIndex.IsValid() && file.Meta.PartMeta[file.Meta.WrapperPartIndex.GetIndex()].IsLive
	if !hasLiveParts && !isWrapperLive {
		return nil
	}

	stmts := []js_ast.Stmt{{Data: &js_ast.SComment{Text: file.Record.Source.PrettyPath}}}
	stmts = append(stmts, outside...)

	switch file.Meta.Wrap {
	case graph.WrapNone:
		stmts = append(stmts, nsExport...)
		stmts = append(stmts, inside...)

	case graph.WrapCJS:
		// "var require_foo = __commonJS((exports, module) => { ... })"
		var args []js_ast.Arg
		if file.AST.UsesExportsRef || file.AST.UsesModuleRef {
			args = append(args, js_ast.Arg{Binding: js_ast.Binding{Data: &js_ast.BIdentifier{Ref: file.AST.ExportsRef}}})
			if file.AST.UsesModuleRef {
				args = append(args, js_ast.Arg{Binding: js_ast.Binding{Data: &js_ast.BIdentifier{Ref: file.AST.ModuleRef}}})
			}
		}
		closure := js_ast.Expr{Data: &js_ast.EArrow{Args: args, Body: js_ast.FnBody{Stmts: inside}}}
		stmts = append(stmts, varDecl(logger.Loc{}, file.AST.WrapperRef, js_ast.Expr{Data: &js_ast.ECall{
			Target: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: c.cjsRuntimeRef}},
			Args:   []js_ast.Expr{closure},
		}}))

	case graph.WrapESM:
		// The top-level declarations are hoisted out of the closure so the
		// rest of the chunk can see them:
		//
		//   var foo, foo_exports = {};
		//   __export(foo_exports, { foo: () => foo });
		//   var init_foo = __esm(() => {
		//     foo = 123;
		//   });
		//
		hoisted, body := hoistTopLevelDeclarations(inside)
		stmts = append(stmts, nsExport...)
		stmts = append(stmts, hoisted...)
		closure := js_ast.Expr{Data: &js_ast.EArrow{Body: js_ast.FnBody{Stmts: body}}}
		stmts = append(stmts, varDecl(logger.Loc{}, file.AST.WrapperRef, js_ast.Expr{Data: &js_ast.ECall{
			Target: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: c.esmRuntimeRef}},
			Args:   []js_ast.Expr{closure},
		}}))
	}

	return stmts
}

// Moves declarations out of an ESM closure. Variables and classes become
// assignments inside the closure and a single "var" outside of it. Function
// declarations move out whole since they're hoisted anyway.
func hoistTopLevelDeclarations(stmts []js_ast.Stmt) (hoisted []js_ast.Stmt, body []js_ast.Stmt) {
	var decls []js_ast.Decl
	var functions []js_ast.Stmt
	declare := func(loc logger.Loc, ref js_ast.Ref) {
		decls = append(decls, js_ast.Decl{Binding: js_ast.Binding{Loc: loc, Data: &js_ast.BIdentifier{Ref: ref}}})
	}
	identifier := func(loc logger.Loc, ref js_ast.Ref) js_ast.Expr {
		return js_ast.Expr{Loc: loc, Data: &js_ast.EIdentifier{Ref: ref}}
	}

	for _, stmt := range stmts {
		switch s := stmt.Data.(type) {
		case *js_ast.SLocal:
			var values []js_ast.Expr
			for _, decl := range s.Decls {
				js_ast.ForEachIdentifierBinding(decl.Binding, func(loc logger.Loc, b *js_ast.BIdentifier) {
					declare(loc, b.Ref)
				})
				if decl.ValueOrNil.Data != nil {
					target := js_ast.ConvertBindingToExpr(decl.Binding, identifier)
					values = append(values, js_ast.Assign(target, decl.ValueOrNil))
				}
			}
			if len(values) > 0 {
				body = append(body, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SExpr{Value: js_ast.JoinAllWithComma(values)}})
			}

		case *js_ast.SFunction:
			functions = append(functions, stmt)

		case *js_ast.SClass:
			// "class Foo {}" => "Foo = class Foo {}"
			declare(s.Class.Name.Loc, s.Class.Name.Ref)
			body = append(body, js_ast.AssignStmt(
				identifier(s.Class.Name.Loc, s.Class.Name.Ref),
				js_ast.Expr{Loc: stmt.Loc, Data: &js_ast.EClass{Class: s.Class}},
			))

		default:
			body = append(body, stmt)
		}
	}

	if len(decls) > 0 {
		hoisted = append(hoisted, js_ast.Stmt{Data: &js_ast.SLocal{Kind: js_ast.LocalVar, Decls: decls}})
	}
	hoisted = append(hoisted, functions...)
	return
}

// Strips the module syntax from a list of statements. Imports of other
// modules in the bundle either disappear (their bindings were merged) or
// become calls to the imported module's wrapper.
func (c *linkerContext) convertStmts(chunk *chunkInfo, sourceIndex uint32, stmts []js_ast.Stmt, partStmts []js_ast.Stmt) []js_ast.Stmt {
	file := &c.graph.Files[sourceIndex]
	isESM := c.options.Format == config.FormatESModule

	for _, stmt := range partStmts {
		switch s := stmt.Data.(type) {
		case *js_ast.SImport:
			stmts = c.convertImport(chunk, sourceIndex, stmts, stmt, s)

		case *js_ast.SExportFrom:
			// "export {a, b as c} from 'path'" => "import {a, b} from 'path'"
			items := make([]js_ast.ClauseItem, 0, len(s.Items))
			for _, item := range s.Items {
				items = append(items, js_ast.ClauseItem{
					Alias:    item.Name.Name,
					AliasLoc: item.Name.Loc,
					Name:     item.Name,
				})
			}
			stmts = c.convertImport(chunk, sourceIndex, stmts, stmt, &js_ast.SImport{
				NamespaceRef:      s.NamespaceRef,
				Items:             &items,
				ImportRecordIndex: s.ImportRecordIndex,
			})

		case *js_ast.SExportStar:
			record := &file.AST.ImportRecords[s.ImportRecordIndex]

			if s.Alias != nil {
				// "export * as ns from 'path'" => "import * as ns from 'path'"
				stmts = c.convertImport(chunk, sourceIndex, stmts, stmt, &js_ast.SImport{
					NamespaceRef:      s.NamespaceRef,
					StarNameLoc:       &s.Alias.AliasLoc,
					ImportRecordIndex: s.ImportRecordIndex,
				})
				continue
			}

			if !record.SourceIndex.IsValid() {
				// "export * from 'path'" of an external module. The exports are
				// copied over at run time if this module has a namespace object.
				// Entry points re-export the module from their tail instead.
				if isESM {
					if file.Meta.NeedsExportsVariable {
						stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SImport{
							NamespaceRef:      s.NamespaceRef,
							StarNameLoc:       &stmt.Loc,
							ImportRecordIndex: s.ImportRecordIndex,
						}})
						stmts = append(stmts, c.reExportStmt(stmt.Loc, file.AST.ExportsRef,
							js_ast.Expr{Loc: stmt.Loc, Data: &js_ast.EIdentifier{Ref: s.NamespaceRef}}))
					} else {
						stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SImport{
							NamespaceRef:      js_ast.InvalidRef,
							ImportRecordIndex: s.ImportRecordIndex,
						}})
					}
				} else {
					value := js_ast.Expr{Loc: stmt.Loc, Data: &js_ast.ERequireString{ImportRecordIndex: s.ImportRecordIndex}}
					if file.Meta.NeedsExportsVariable {
						stmts = append(stmts, c.reExportStmt(stmt.Loc, file.AST.ExportsRef, value))
					} else {
						stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SExpr{Value: value}})
					}
				}
				continue
			}

			otherSourceIndex := record.SourceIndex.GetIndex()
			if otherSourceIndex == sourceIndex {
				continue
			}
			otherFile := &c.graph.Files[otherSourceIndex]

			switch otherFile.Meta.Wrap {
			case graph.WrapCJS:
				// "__reExport(foo_exports, require_bar())"
				value := js_ast.Expr{Loc: stmt.Loc, Data: &js_ast.ERequireString{ImportRecordIndex: s.ImportRecordIndex}}
				if file.Meta.NeedsExportsVariable {
					stmts = append(stmts, c.reExportStmt(stmt.Loc, file.AST.ExportsRef, value))
				} else {
					stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SExpr{Value: value}})
				}

			case graph.WrapESM:
				stmts = append(stmts, callWrapperStmt(stmt.Loc, otherFile.AST.WrapperRef))
				fallthrough

			case graph.WrapNone:
				if file.Meta.NeedsExportsVariable && otherFile.Meta.HasDynamicExportFallback {
					stmts = append(stmts, c.reExportStmt(stmt.Loc, file.AST.ExportsRef,
						js_ast.Expr{Loc: stmt.Loc, Data: &js_ast.EIdentifier{Ref: otherFile.AST.ExportsRef}}))
				}
			}

		case *js_ast.SExportClause:
			// The exports of the entry point are generated at the end of the chunk

		case *js_ast.SExportDefault:
			switch s2 := s.Value.Data.(type) {
			case *js_ast.SExpr:
				// "export default foo" => "var default = foo"
				stmts = append(stmts, varDecl(stmt.Loc, s.DefaultName.Ref, s2.Value))

			case *js_ast.SFunction:
				// "export default function() {}" => "function default() {}"
				fn := s2.Fn
				if fn.Name != nil {
					stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SFunction{Fn: fn}})
					break
				}
				fn.Name = &js_ast.LocRef{Loc: s.DefaultName.Loc, Ref: s.DefaultName.Ref}
				stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SFunction{Fn: fn}},
					c.nameDefaultStmt(stmt.Loc, s.DefaultName.Ref))

			case *js_ast.SClass:
				// "export default class {}" => "class default {}"
				class := s2.Class
				if class.Name != nil {
					stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SClass{Class: class}})
					break
				}
				class.Name = &js_ast.LocRef{Loc: s.DefaultName.Loc, Ref: s.DefaultName.Ref}
				stmts = append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SClass{Class: class}},
					c.nameDefaultStmt(stmt.Loc, s.DefaultName.Ref))

			default:
				panic("Internal error")
			}

		case *js_ast.SLocal:
			if s.IsExport {
				clone := *s
				clone.IsExport = false
				stmt = js_ast.Stmt{Loc: stmt.Loc, Data: &clone}
			}
			stmts = append(stmts, stmt)

		case *js_ast.SFunction:
			if s.IsExport {
				clone := *s
				clone.IsExport = false
				stmt = js_ast.Stmt{Loc: stmt.Loc, Data: &clone}
			}
			stmts = append(stmts, stmt)

		case *js_ast.SClass:
			if s.IsExport {
				clone := *s
				clone.IsExport = false
				stmt = js_ast.Stmt{Loc: stmt.Loc, Data: &clone}
			}
			stmts = append(stmts, stmt)

		default:
			stmts = append(stmts, stmt)
		}
	}

	return stmts
}

func (c *linkerContext) convertImport(chunk *chunkInfo, sourceIndex uint32, stmts []js_ast.Stmt, stmt js_ast.Stmt, s *js_ast.SImport) []js_ast.Stmt {
	file := &c.graph.Files[sourceIndex]
	record := &file.AST.ImportRecords[s.ImportRecordIndex]
	isBare := record.Flags.Has(ast.WasOriginallyBareImport)

	if !record.SourceIndex.IsValid() {
		// Imports of external modules stay as they are in ESM output
		if c.options.Format == config.FormatESModule {
			return append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: s})
		}

		// "import 'path'" => "require('path')"
		value := js_ast.Expr{Loc: stmt.Loc, Data: &js_ast.ERequireString{ImportRecordIndex: s.ImportRecordIndex}}
		if isBare {
			return append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SExpr{Value: value}})
		}

		// "import * as ns from 'path'" => "var ns = __toESM(require('path'))"
		if record.Flags.Has(ast.ContainsImportStar) || record.Flags.Has(ast.ContainsDefaultAlias) {
			value = c.toESM(value)
		}
		return append(stmts, varDecl(stmt.Loc, s.NamespaceRef, value))
	}

	otherSourceIndex := record.SourceIndex.GetIndex()
	if otherSourceIndex == sourceIndex {
		return stmts
	}
	otherFile := &c.graph.Files[otherSourceIndex]

	switch otherFile.Meta.Wrap {
	case graph.WrapCJS:
		// "import * as ns from './foo'" => "var ns = __toESM(require_foo())"
		value := js_ast.Expr{Loc: stmt.Loc, Data: &js_ast.ERequireString{ImportRecordIndex: s.ImportRecordIndex}}
		if isBare {
			return append(stmts, js_ast.Stmt{Loc: stmt.Loc, Data: &js_ast.SExpr{Value: value}})
		}

		// Every import of the module shares the namespace object of the first
		key := commonJSBindingKey{target: otherSourceIndex}
		if file.Meta.Wrap != graph.WrapNone {
			key.owner = ast.MakeIndex32(sourceIndex)
		}
		if ref, ok := chunk.commonJSBindings[key]; ok {
			c.linkSymbolInChunk(chunk, s.NamespaceRef, ref)
			return stmts
		}
		chunk.commonJSBindings[key] = s.NamespaceRef
		return append(stmts, varDecl(stmt.Loc, s.NamespaceRef, c.toESM(value)))

	case graph.WrapESM:
		// "import {foo} from './foo'" => "init_foo()"
		return append(stmts, callWrapperStmt(stmt.Loc, otherFile.AST.WrapperRef))
	}

	// The bindings were merged with the exports of the other module
	return stmts
}

// Makes "ref" print as "target" in this chunk. The symbols of other chunks
// are shared, so the file's symbols are copied before the first change.
func (c *linkerContext) linkSymbolInChunk(chunk *chunkInfo, ref js_ast.Ref, target js_ast.Ref) {
	target = js_ast.FollowSymbols(chunk.symbols, target)
	if ref == target {
		return
	}
	if !chunk.ownedSymbols[ref.SourceIndex] {
		chunk.ownedSymbols[ref.SourceIndex] = true
		chunk.symbols.Outer[ref.SourceIndex] = append([]js_ast.Symbol{}, chunk.symbols.Outer[ref.SourceIndex]...)
	}
	chunk.symbols.Get(ref).Link = target
}

// "throw new Error('Could not resolve \"./foo.js\"')"
func (c *linkerContext) throwCouldNotLoad(chunk *chunkInfo, loc logger.Loc, record *ast.ImportRecord) js_ast.Stmt {
	if chunk.errorRef == js_ast.InvalidRef {
		chunk.errorRef = c.generateChunkSymbol(chunk, js_ast.SymbolUnbound, "Error")
	}
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SThrow{Value: js_ast.Expr{Loc: loc, Data: &js_ast.ENew{
		Target: js_ast.Expr{Loc: loc, Data: &js_ast.EIdentifier{Ref: chunk.errorRef}},
		Args:   []js_ast.Expr{{Loc: loc, Data: &js_ast.EString{Value: "Could not resolve \"" + record.Path.Text + "\""}}},
	}}}}
}

func (c *linkerContext) toESM(value js_ast.Expr) js_ast.Expr {
	args := []js_ast.Expr{value}
	if c.options.DefaultInterop == config.InteropNode {
		args = append(args, js_ast.Expr{Loc: value.Loc, Data: &js_ast.ENumber{Value: 1}})
	}
	return js_ast.Expr{Loc: value.Loc, Data: &js_ast.ECall{
		Target: js_ast.Expr{Loc: value.Loc, Data: &js_ast.EIdentifier{Ref: c.toESMRuntimeRef}},
		Args:   args,
	}}
}

func (c *linkerContext) reExportStmt(loc logger.Loc, exportsRef js_ast.Ref, value js_ast.Expr) js_ast.Stmt {
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SExpr{Value: js_ast.Expr{Loc: loc, Data: &js_ast.ECall{
		Target: js_ast.Expr{Loc: loc, Data: &js_ast.EIdentifier{Ref: c.reExportRuntimeRef}},
		Args:   []js_ast.Expr{{Loc: loc, Data: &js_ast.EIdentifier{Ref: exportsRef}}, value},
	}}}}
}

// "__name(foo_default, 'default')"
func (c *linkerContext) nameDefaultStmt(loc logger.Loc, ref js_ast.Ref) js_ast.Stmt {
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SExpr{Value: js_ast.Expr{Loc: loc, Data: &js_ast.ECall{
		Target: js_ast.Expr{Loc: loc, Data: &js_ast.EIdentifier{Ref: c.nameRuntimeRef}},
		Args: []js_ast.Expr{
			{Loc: loc, Data: &js_ast.EIdentifier{Ref: ref}},
			{Loc: loc, Data: &js_ast.EString{Value: "default"}},
		},
	}}}}
}

func callWrapperStmt(loc logger.Loc, wrapperRef js_ast.Ref) js_ast.Stmt {
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SExpr{Value: js_ast.Expr{Loc: loc, Data: &js_ast.ECall{
		Target: js_ast.Expr{Loc: loc, Data: &js_ast.EIdentifier{Ref: wrapperRef}},
	}}}}
}

func varDecl(loc logger.Loc, ref js_ast.Ref, value js_ast.Expr) js_ast.Stmt {
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SLocal{
		Kind: js_ast.LocalVar,
		Decls: []js_ast.Decl{{
			Binding:    js_ast.Binding{Loc: loc, Data: &js_ast.BIdentifier{Ref: ref}},
			ValueOrNil: value,
		}},
	}}
}

// Generates the statements that end a chunk: the exports of the entry point
// and the exports other chunks import
func (c *linkerContext) generateChunkTail(chunk *chunkInfo) (stmts []js_ast.Stmt, records []ast.ImportRecord, usesExport bool) {
	isESM := c.options.Format == config.FormatESModule

	if chunk.isEntryPoint {
		file := &c.graph.Files[chunk.sourceIndex]
		callWrapper := js_ast.Expr{Data: &js_ast.ECall{Target: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: file.AST.WrapperRef}}}}

		switch {
		case file.Meta.Wrap == graph.WrapCJS && isESM:
			// "export default require_foo();"
			stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExportDefault{
				DefaultName: js_ast.LocRef{Ref: file.AST.WrapperRef},
				Value:       js_ast.Stmt{Data: &js_ast.SExpr{Value: callWrapper}},
			}})

		case file.Meta.Wrap == graph.WrapCJS:
			// "module.exports = require_foo();"
			stmts = append(stmts, c.assignModuleExports(chunk, callWrapper))

		case isESM:
			if file.Meta.Wrap == graph.WrapESM {
				stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExpr{Value: callWrapper}})
			}
			var exportStmts []js_ast.Stmt
			exportStmts, records = c.generateEntryPointExports(chunk)
			stmts = append(stmts, exportStmts...)

		default:
			if file.Meta.Wrap == graph.WrapESM {
				stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExpr{Value: callWrapper}})
			}

			// "module.exports = __toCommonJS(foo_exports);"
			if file.Meta.NSExportPartIndex.IsValid() {
				stmts = append(stmts, c.assignModuleExports(chunk, js_ast.Expr{Data: &js_ast.ECall{
					Target: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: c.toCommonJSRuntimeRef}},
					Args:   []js_ast.Expr{{Data: &js_ast.EIdentifier{Ref: file.AST.ExportsRef}}},
				}}))
			}
		}
	}

	if len(chunk.exportsToOtherChunks) == 0 {
		return
	}

	aliases := make([]string, 0, len(chunk.exportsToOtherChunks))
	refForAlias := make(map[string]js_ast.Ref, len(chunk.exportsToOtherChunks))
	for ref, alias := range chunk.exportsToOtherChunks {
		aliases = append(aliases, alias)
		refForAlias[alias] = ref
	}
	sort.Strings(aliases)

	if isESM {
		// "export { foo, bar as bar2 };"
		items := make([]js_ast.ClauseItem, 0, len(aliases))
		for _, alias := range aliases {
			items = append(items, js_ast.ClauseItem{Alias: alias, Name: js_ast.LocRef{Ref: refForAlias[alias]}})
		}
		stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExportClause{Items: items}})
		return
	}

	// "__export(exports, { foo: () => foo });"
	properties := make([]js_ast.Property, 0, len(aliases))
	for _, alias := range aliases {
		body := js_ast.FnBody{Stmts: []js_ast.Stmt{{Data: &js_ast.SReturn{
			ValueOrNil: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: refForAlias[alias]}},
		}}}}
		properties = append(properties, js_ast.Property{
			Key:        js_ast.Expr{Data: &js_ast.EString{Value: alias}},
			ValueOrNil: js_ast.Expr{Data: &js_ast.EArrow{PreferExpr: true, Body: body}},
		})
	}
	if chunk.exportsRef == js_ast.InvalidRef {
		chunk.exportsRef = c.generateChunkSymbol(chunk, js_ast.SymbolUnbound, "exports")
	}
	stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExpr{Value: js_ast.Expr{Data: &js_ast.ECall{
		Target: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: c.exportRuntimeRef}},
		Args: []js_ast.Expr{
			{Data: &js_ast.EIdentifier{Ref: chunk.exportsRef}},
			{Data: &js_ast.EObject{Properties: properties}},
		},
	}}}})
	usesExport = true
	return
}

func (c *linkerContext) assignModuleExports(chunk *chunkInfo, value js_ast.Expr) js_ast.Stmt {
	if chunk.moduleRef == js_ast.InvalidRef {
		chunk.moduleRef = c.generateChunkSymbol(chunk, js_ast.SymbolUnbound, "module")
	}
	return js_ast.AssignStmt(
		js_ast.Expr{Data: &js_ast.EDot{Target: js_ast.Expr{Data: &js_ast.EIdentifier{Ref: chunk.moduleRef}}, Name: "exports"}},
		value,
	)
}

// "export { a, b as c };" for the exports of an entry point in ESM output.
// Exports that live in another chunk are re-exported from that chunk, and
// exports that are property accesses get a variable of their own.
func (c *linkerContext) generateEntryPointExports(chunk *chunkInfo) (stmts []js_ast.Stmt, records []ast.ImportRecord) {
	file := &c.graph.Files[chunk.sourceIndex]

	chunkForNamespace := make(map[js_ast.Ref]uint32, len(chunk.chunkNamespaceRefs))
	for otherChunkIndex, namespaceRef := range chunk.chunkNamespaceRefs {
		chunkForNamespace[namespaceRef] = otherChunkIndex
	}

	var items []js_ast.ClauseItem
	itemsFromChunk := make(map[uint32][]js_ast.ClauseItem)
	var fromChunks []uint32

	for _, alias := range file.Meta.SortedAndFilteredExportAliases {
		export := file.Meta.ResolvedExports[alias]
		ref := js_ast.FollowSymbols(chunk.symbols, export.Ref)
		symbol := chunk.symbols.Get(ref)

		if symbol.ImportItemStatus == js_ast.ImportItemMissing {
			continue
		}

		if importAlias, ok := chunk.importAliases[ref]; ok {
			// "export { a as b } from './chunk-x.js'"
			otherChunkIndex := chunkForNamespace[importAlias.NamespaceRef]
			if _, ok := itemsFromChunk[otherChunkIndex]; !ok {
				fromChunks = append(fromChunks, otherChunkIndex)
			}
			itemsFromChunk[otherChunkIndex] = append(itemsFromChunk[otherChunkIndex], js_ast.ClauseItem{
				Alias: alias,
				Name:  js_ast.LocRef{Name: importAlias.Alias},
			})
			continue
		}

		if symbol.NamespaceAlias != nil {
			// "var export_a = import_foo.a; export { export_a as a }"
			tempRef := c.generateChunkSymbol(chunk, js_ast.SymbolOther, "export_"+ast.GenerateNonUniqueNameFromPath(alias))
			stmts = append(stmts, varDecl(logger.Loc{}, tempRef, js_ast.Expr{Data: &js_ast.EIdentifier{Ref: ref}}))
			ref = tempRef
		}

		items = append(items, js_ast.ClauseItem{Alias: alias, Name: js_ast.LocRef{Ref: ref}})
	}

	if len(items) > 0 {
		stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExportClause{Items: items}})
	}

	sort.Slice(fromChunks, func(i, j int) bool { return fromChunks[i] < fromChunks[j] })
	for _, otherChunkIndex := range fromChunks {
		recordIndex := uint32(len(records))
		records = append(records, ast.ImportRecord{
			Path: logger.Path{Text: c.relativeChunkPath(otherChunkIndex)},
			Kind: ast.ImportStmt,
		})
		stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExportFrom{
			Items:             itemsFromChunk[otherChunkIndex],
			NamespaceRef:      js_ast.InvalidRef,
			ImportRecordIndex: recordIndex,
		}})
	}

	// Names that an "export * from" of an external module provides are only
	// known at run time, so the entry point re-exports the module as a whole
	for _, path := range c.externalExportStars(chunk.sourceIndex) {
		recordIndex := uint32(len(records))
		records = append(records, ast.ImportRecord{Path: path, Kind: ast.ImportStmt})
		stmts = append(stmts, js_ast.Stmt{Data: &js_ast.SExportStar{
			NamespaceRef:      js_ast.InvalidRef,
			ImportRecordIndex: recordIndex,
		}})
	}

	return
}

// Finds the external modules re-exported with "export * from" by a module,
// following "export * from" statements through other ESM modules
func (c *linkerContext) externalExportStars(sourceIndex uint32) []logger.Path {
	var paths []logger.Path
	seenPaths := make(map[string]bool)
	visited := make(map[uint32]bool)

	var visit func(uint32)
	visit = func(sourceIndex uint32) {
		if visited[sourceIndex] {
			return
		}
		visited[sourceIndex] = true
		file := &c.graph.Files[sourceIndex]
		for _, importRecordIndex := range file.AST.ExportStarImportRecords {
			record := &file.AST.ImportRecords[importRecordIndex]
			if !record.SourceIndex.IsValid() {
				if !seenPaths[record.Path.Text] {
					seenPaths[record.Path.Text] = true
					paths = append(paths, record.Path)
				}
			} else if otherFile := &c.graph.Files[record.SourceIndex.GetIndex()]; otherFile.AST.ExportsKind != js_ast.ExportsCommonJS {
				visit(record.SourceIndex.GetIndex())
			}
		}
	}

	visit(sourceIndex)
	return paths
}

func (c *linkerContext) renameSymbolsInChunk(chunk *chunkInfo, files []uint32, runtimeParts []uint32) *renamer.NumberRenamer {
	runtimeFile := &c.graph.Files[runtime.SourceIndex]

	// Determine the reserved names (e.g. can't generate the name "if")
	moduleScopes := []*js_ast.Scope{chunk.chunkScope, runtimeFile.AST.ModuleScope}
	for _, sourceIndex := range files {
		moduleScopes = append(moduleScopes, c.graph.Files[sourceIndex].AST.ModuleScope)
	}
	reservedNames := renamer.ComputeReservedNames(moduleScopes, chunk.symbols)

	// Symbols from other chunks and symbols that are printed as property
	// accesses don't get a name in this chunk
	var topLevelSymbols []js_ast.Ref
	addTopLevelSymbol := func(ref js_ast.Ref) {
		canonical := js_ast.FollowSymbols(chunk.symbols, ref)
		if _, ok := chunk.importAliases[canonical]; ok {
			return
		}
		symbol := chunk.symbols.Get(canonical)
		if symbol.NamespaceAlias != nil || symbol.ImportItemStatus == js_ast.ImportItemMissing {
			return
		}
		topLevelSymbols = append(topLevelSymbols, ref)
	}
	addPartSymbols := func(part *js_ast.Part) {
		for _, declared := range part.DeclaredSymbols {
			if declared.IsTopLevel {
				addTopLevelSymbol(declared.Ref)
			}
		}
	}

	// Names are assigned in the order the code appears
	for _, ref := range chunk.chunkScope.Generated {
		addTopLevelSymbol(ref)
	}
	for _, partIndex := range runtimeParts {
		addPartSymbols(&runtimeFile.AST.Parts[partIndex])
	}
	nestedScopes := map[uint32][]*js_ast.Scope{
		runtime.SourceIndex: runtimeFile.AST.ModuleScope.Children,
	}
	for _, sourceIndex := range files {
		file := &c.graph.Files[sourceIndex]
		for partIndex := range file.AST.Parts {
			if file.Meta.PartMeta[partIndex].IsLive {
				addPartSymbols(&file.AST.Parts[partIndex])
			}
		}

		// The "exports" and "module" arguments of a CommonJS closure are only
		// visible inside of it
		if file.Meta.Wrap == graph.WrapCJS {
			nestedScopes[sourceIndex] = []*js_ast.Scope{{
				Kind: js_ast.ScopeFunction,
				Members: map[string]js_ast.ScopeMember{
					"exports": {Ref: file.AST.ExportsRef},
					"module":  {Ref: file.AST.ModuleRef},
				},
				Children: file.AST.ModuleScope.Children,
			}}
		} else {
			nestedScopes[sourceIndex] = file.AST.ModuleScope.Children
		}
	}

	return renamer.ComputeRenameMap(chunk.symbols, reservedNames, topLevelSymbols, nestedScopes)
}
