package bundler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/cache"
	"github.com/esmerge/esmerge/internal/graph"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/resolver"
	"github.com/esmerge/esmerge/internal/runtime"
	"github.com/rs/zerolog"
)

// The state of one module identity discovered by the scan
type scannedModule struct {
	path   logger.Path
	record *graph.ModuleRecord
	err    error

	// Parallel to the record's import records. Nil until the load finished.
	imports []resolvedImport

	// Reachable from an entry point through import statements and
	// "require()" calls that aren't inside a "try" block
	isStatic bool

	isEntryPoint bool
	done         bool
}

type resolvedImport struct {
	result resolver.ResolveResult
	err    error
}

type scanResult struct {
	path    logger.Path
	record  *graph.ModuleRecord
	err     error
	imports []resolvedImport
}

type scanner struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Log
	logger zerolog.Logger
	loader *cache.Loader

	modules       map[logger.Path]*scannedModule
	resultChannel chan scanResult
	remaining     int

	// The first fatal diagnostic, wrapping one of the "graph" sentinels
	err error
}

// ScanBundle discovers every module reachable from the entry points and
// returns the module graph the linker works on. Modules are loaded
// concurrently but the result only depends on the contents of the modules,
// never on the order in which loads finish.
//
// Failures of modules that an entry point can't avoid evaluating are fatal.
// Everything else is reported as a warning and the import is left as a
// run-time import.
func ScanBundle(ctx context.Context, log logger.Log, zlog zerolog.Logger, loader *cache.Loader, entryPoints []string) (graph.Input, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &scanner{
		ctx:           ctx,
		cancel:        cancel,
		log:           log,
		logger:        zlog,
		loader:        loader,
		modules:       make(map[logger.Path]*scannedModule),
		resultChannel: make(chan scanResult),
	}

	runtimeRecord, err := loader.Runtime()
	if err != nil {
		return graph.Input{}, fmt.Errorf("%w: runtime helpers: %w", graph.ErrParse, err)
	}

	// Entry points are resolved in order so the first one always wins
	var entries []*scannedModule
	var inputEntryPoints []graph.EntryPoint
	duplicateSpecifiers := make(map[string]bool)
	for _, specifier := range entryPoints {
		if duplicateSpecifiers[specifier] {
			s.fatal(graph.ErrUnresolved, logger.MsgID_Bundler_UnresolvedImport, nil, logger.Range{},
				fmt.Sprintf("Duplicate entry point %q", specifier))
			continue
		}
		duplicateSpecifiers[specifier] = true

		result, err := loader.Resolve(ctx, specifier, logger.Path{})
		if err != nil {
			if isContextError(err) {
				return graph.Input{}, err
			}
			s.fatal(graph.ErrUnresolved, logger.MsgID_Bundler_UnresolvedImport, nil, logger.Range{},
				fmt.Sprintf("Could not resolve entry point %q", specifier))
			continue
		}
		if result.IsExternal {
			s.fatal(graph.ErrUnresolved, logger.MsgID_Bundler_UnresolvedImport, nil, logger.Range{},
				fmt.Sprintf("The entry point %q is marked as external", specifier))
			continue
		}
		if module, ok := s.modules[result.Path]; ok && module.isEntryPoint {
			s.fatal(graph.ErrUnresolved, logger.MsgID_Bundler_UnresolvedImport, nil, logger.Range{},
				fmt.Sprintf("Duplicate entry point %q", loader.PrettyPath(result.Path)))
			continue
		}

		module := s.maybeLoad(result.Path)
		module.isEntryPoint = true
		entries = append(entries, module)
		inputEntryPoints = append(inputEntryPoints, graph.EntryPoint{Specifier: specifier})
	}

	// Entry points are always evaluated
	for _, module := range entries {
		s.markStatic(module)
	}

	// Continue scanning until all dependencies have been discovered. Results
	// are drained even after a fatal error so that no goroutine is leaked.
	for s.remaining > 0 {
		result := <-s.resultChannel
		s.remaining--

		module := s.modules[result.path]
		module.record = result.record
		module.err = result.err
		module.imports = result.imports
		module.done = true

		if module.err != nil {
			if isContextError(module.err) {
				continue
			}
			s.logger.Debug().Str("path", module.path.String()).Err(module.err).Msg("load failed")
		}

		if module.record != nil && !module.record.IsUnsupported() {
			for i, imported := range module.imports {
				if imported.err == nil && !imported.result.IsExternal && module.record.AST.ImportRecords[i].Kind != ast.ImportEntryPoint {
					s.maybeLoad(imported.result.Path)
				}
			}
		}

		if module.isStatic {
			s.checkStatic(module)
			s.markStaticImports(module)
		}
	}

	if s.err != nil {
		return graph.Input{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return graph.Input{}, err
	}

	// Failures nothing has to evaluate are only warnings
	s.reportNonStaticFailures()

	input := s.buildInput(runtimeRecord, entries, inputEntryPoints)
	s.logger.Debug().
		Int("modules", len(input.ReachableFiles)-1).
		Int("cycle_groups", len(input.CycleGroups)).
		Msg("scan finished")
	return input, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *scanner) fatal(sentinel error, id logger.MsgID, source *logger.Source, r logger.Range, text string) {
	s.log.AddID(id, logger.Error, source, r, text)
	if s.err == nil {
		s.err = fmt.Errorf("%w: %s", sentinel, text)

		// Everything still loading is now wasted work
		s.cancel()
	}
}

func (s *scanner) maybeLoad(path logger.Path) *scannedModule {
	if module, ok := s.modules[path]; ok {
		return module
	}

	module := &scannedModule{path: path}
	s.modules[path] = module
	s.remaining++

	go func() {
		result := scanResult{path: path}
		result.record, result.err = s.loader.Load(s.ctx, path)

		// Resolve all import paths in parallel with other modules. The results
		// are handed back to the coordinator, which owns the graph.
		if result.record != nil && !result.record.IsUnsupported() {
			records := result.record.ImportRecords()
			result.imports = make([]resolvedImport, len(records))
			for i := range records {
				resolved := &result.imports[i]
				if err := s.ctx.Err(); err != nil {
					resolved.err = err
					continue
				}
				resolved.result, resolved.err = s.loader.Resolve(s.ctx, records[i].Path.Text, path)
			}
		}

		s.resultChannel <- result
	}()

	return module
}

// Returns true if evaluating the importer always evaluates the target
func isStaticImport(record *ast.ImportRecord) bool {
	switch record.Kind {
	case ast.ImportStmt:
		return true
	case ast.ImportRequire:
		return !record.Flags.Has(ast.HandlesImportErrors)
	}
	return false
}

func (s *scanner) markStatic(module *scannedModule) {
	if module.isStatic {
		return
	}
	module.isStatic = true
	if module.done {
		s.checkStatic(module)
		s.markStaticImports(module)
	}
}

func (s *scanner) markStaticImports(module *scannedModule) {
	if module.record == nil || module.record.IsUnsupported() {
		return
	}
	for i, imported := range module.imports {
		if imported.err != nil || imported.result.IsExternal {
			continue
		}
		if isStaticImport(&module.record.AST.ImportRecords[i]) {
			if target, ok := s.modules[imported.result.Path]; ok {
				s.markStatic(target)
			}
		}
	}
}

// Reports the failures of a module that an entry point can't avoid
func (s *scanner) checkStatic(module *scannedModule) {
	if module.err != nil {
		if !isContextError(module.err) {
			s.reportLoadError(module, logger.Error)
		}
		return
	}

	record := module.record
	if record.IsUnsupported() && module.isEntryPoint {
		span := record.AST.UnsupportedSyntax[0]
		s.fatal(graph.ErrUnsupportedSyntax, logger.MsgID_Bundler_UnsupportedSyntax, &record.Source, span.Range,
			fmt.Sprintf("The entry point %q can't be bundled because it uses %s", record.Source.PrettyPath, span.Text))
		return
	}

	for i, imported := range module.imports {
		importRecord := &record.AST.ImportRecords[i]
		if imported.err != nil && !isContextError(imported.err) && isStaticImport(importRecord) {
			s.fatal(graph.ErrUnresolved, logger.MsgID_Bundler_UnresolvedImport, &record.Source, importRecord.Range,
				fmt.Sprintf("Could not resolve %q", importRecord.Path.Text))
		}
	}
}

func (s *scanner) reportLoadError(module *scannedModule, kind logger.MsgKind) {
	var loadErr *cache.LoadError
	if !errors.As(module.err, &loadErr) {
		if kind == logger.Error {
			s.fatal(graph.ErrIO, logger.MsgID_Bundler_IOError, nil, logger.Range{}, module.err.Error())
		} else {
			s.log.AddID(logger.MsgID_Bundler_IOError, kind, nil, logger.Range{}, module.err.Error())
		}
		return
	}

	for _, msg := range loadErr.Msgs {
		if msg.Kind == logger.Error {
			msg.Kind = kind
		}
		s.log.AddMsg(msg)
	}
	if kind == logger.Error && s.err == nil {
		s.err = module.err
		s.cancel()
	}
}

func (s *scanner) reportNonStaticFailures() {
	for _, module := range s.sortedModules() {
		if module.isStatic {
			continue
		}
		if module.err != nil {
			s.reportLoadError(module, logger.Warning)
			continue
		}
		record := module.record
		for i, imported := range module.imports {
			if imported.err != nil {
				importRecord := &record.AST.ImportRecords[i]
				s.log.AddID(logger.MsgID_Bundler_UnresolvedImport, logger.Warning, &record.Source, importRecord.Range,
					fmt.Sprintf("Could not resolve %q", importRecord.Path.Text))
			}
		}
	}

	// Guarded "require()" calls and "import()" expressions that fail are left
	// as they are, even in modules that are always evaluated
	for _, module := range s.sortedModules() {
		if !module.isStatic || module.record == nil {
			continue
		}
		record := module.record
		for i, imported := range module.imports {
			importRecord := &record.AST.ImportRecords[i]
			if imported.err != nil && !isStaticImport(importRecord) {
				s.log.AddID(logger.MsgID_Bundler_UnresolvedImport, logger.Warning, &record.Source, importRecord.Range,
					fmt.Sprintf("Could not resolve %q", importRecord.Path.Text))
			}
		}
	}
}

// The diagnostics are sorted by the log, but iterating in a fixed order keeps
// the order of equal messages stable too
func (s *scanner) sortedModules() []*scannedModule {
	modules := make([]*scannedModule, 0, len(s.modules))
	for _, module := range s.modules {
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].path.ComesBeforeInSortedOrder(modules[j].path)
	})
	return modules
}

// The module a resolved import points at, if it's part of the bundle.
// Modules that failed to load or that can't be bundled are loaded at run
// time instead.
func (s *scanner) targetOf(imported resolvedImport) (*scannedModule, bool) {
	if imported.err != nil || imported.result.IsExternal {
		return nil, false
	}
	target, ok := s.modules[imported.result.Path]
	if !ok || target.record == nil {
		return nil, false
	}
	if target.record.IsUnsupported() {
		return nil, false
	}
	return target, true
}

// Imports that were only warned about because nothing has to evaluate them
func (s *scanner) failed(imported resolvedImport) bool {
	if imported.err != nil {
		return true
	}
	if imported.result.IsExternal {
		return false
	}
	target, ok := s.modules[imported.result.Path]
	return ok && target.err != nil
}

func (s *scanner) buildInput(runtimeRecord *graph.ModuleRecord, entries []*scannedModule, entryPoints []graph.EntryPoint) graph.Input {
	recordCount := uint32(runtime.SourceIndex + 1)
	for _, module := range s.modules {
		if module.record != nil && module.record.Source.Index+1 > recordCount {
			recordCount = module.record.Source.Index + 1
		}
	}

	input := graph.Input{
		Records:       make([]*graph.ModuleRecord, recordCount),
		ImportTargets: make([][]ast.Index32, recordCount),
		FailedImports: make([][]uint32, recordCount),
		EntryPoints:   entryPoints,
	}
	input.Records[runtime.SourceIndex] = runtimeRecord

	// Unsupported modules that the bundle imports are reported once each
	reportedUnsupported := make(map[uint32]bool)

	// Each file must come after its dependencies. The traversal follows
	// import records in the order they appear in the source, so the order
	// doesn't depend on which load finished first.
	input.ReachableFiles = []uint32{runtime.SourceIndex}
	visited := make(map[uint32]bool)
	var visit func(module *scannedModule)
	visit = func(module *scannedModule) {
		record := module.record
		sourceIndex := record.Source.Index
		if visited[sourceIndex] {
			return
		}
		visited[sourceIndex] = true
		input.Records[sourceIndex] = record

		for _, msg := range record.Msgs {
			s.log.AddMsg(msg)
		}

		targets := make([]ast.Index32, len(record.AST.ImportRecords))
		for i, imported := range module.imports {
			importRecord := &record.AST.ImportRecords[i]
			target, ok := s.targetOf(imported)
			if !ok {
				if s.failed(imported) {
					input.FailedImports[sourceIndex] = append(input.FailedImports[sourceIndex], uint32(i))
					continue
				}
				if t, exists := s.modules[imported.result.Path]; exists && imported.err == nil && t.record != nil &&
					t.record.IsUnsupported() && !reportedUnsupported[t.record.Source.Index] {
					reportedUnsupported[t.record.Source.Index] = true
					span := t.record.AST.UnsupportedSyntax[0]
					s.log.AddID(logger.MsgID_Bundler_UnsupportedSyntax, logger.Warning, &t.record.Source, span.Range,
						fmt.Sprintf("%q is left as a run-time import because it uses %s", t.record.Source.PrettyPath, span.Text))
				}
				continue
			}
			targetIndex := target.record.Source.Index
			targets[i] = ast.MakeIndex32(targetIndex)
			visit(target)

			// Self-imports aren't edges
			if targetIndex != sourceIndex {
				input.Edges = append(input.Edges, graph.Edge{
					From:              sourceIndex,
					To:                targetIndex,
					Kind:              importRecord.Kind,
					ImportRecordIndex: uint32(i),
					Names:             graph.ImportedNames(&record.AST, uint32(i)),
				})
			}
		}
		input.ImportTargets[sourceIndex] = targets
		input.ReachableFiles = append(input.ReachableFiles, sourceIndex)
	}
	for i, module := range entries {
		visit(module)
		input.EntryPoints[i].SourceIndex = module.record.Source.Index
	}

	input.CycleGroups = findCycleGroups(input)
	return input
}
