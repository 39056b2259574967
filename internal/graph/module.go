package graph

// This is the module record the loader produces for each module identity.
// Records are immutable after the scope analyzer runs. Everything that
// changes while bundling (resolved import targets, liveness, wrapping) lives
// on the per-run "LinkerFile" copy instead so a record can be reused by
// several runs.

import (
	"sort"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
)

type ModuleRecord struct {
	Source logger.Source
	AST    js_ast.AST

	// The format hint the resolver gave the parser
	Format js_ast.ModuleFormat

	// If false, an import statement that doesn't use any of this module's
	// exports can be dropped along with the whole module. This comes from the
	// "sideEffects" field in "package.json".
	HasSideEffects bool

	// Warnings generated while parsing and binding. Errors cause the load to
	// fail instead.
	Msgs []logger.Msg
}

func (record *ModuleRecord) ImportRecords() []ast.ImportRecord {
	return record.AST.ImportRecords
}

// Returns true if this module can't be merged with other modules and must be
// loaded at run-time instead
func (record *ModuleRecord) IsUnsupported() bool {
	return len(record.AST.UnsupportedSyntax) > 0
}

// An edge in the module graph. There is one edge per resolved import record,
// so two imports of the same module from one importer are two edges.
type Edge struct {
	From uint32
	To   uint32
	Kind ast.ImportKind

	// The index of the import record in the importer that created this edge
	ImportRecordIndex uint32

	// The names imported through this edge. A namespace import is "*" and a
	// bare import has no names.
	Names []string
}

// The names imported through an import record, in source order
func ImportedNames(tree *js_ast.AST, importRecordIndex uint32) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	record := &tree.ImportRecords[importRecordIndex]
	if record.Flags.Has(ast.ContainsImportStar) || record.Flags.Has(ast.IsExportStar) || record.Kind != ast.ImportStmt {
		add("*")
	}

	for _, part := range tree.Parts {
		for _, stmt := range part.Stmts {
			switch s := stmt.Data.(type) {
			case *js_ast.SImport:
				if s.ImportRecordIndex != importRecordIndex {
					continue
				}
				if s.DefaultName != nil {
					add("default")
				}
				if s.Items != nil {
					for _, item := range *s.Items {
						add(item.Alias)
					}
				}

			case *js_ast.SExportFrom:
				if s.ImportRecordIndex != importRecordIndex {
					continue
				}
				for _, item := range s.Items {
					add(item.Name.Name)
				}
			}
		}
	}

	// Property accesses off of a namespace import are imported names too
	var generated []string
	for _, named := range tree.NamedImports {
		if named.ImportRecordIndex == importRecordIndex && !named.AliasIsStar {
			generated = append(generated, named.Alias)
		}
	}
	sort.Strings(generated)
	for _, name := range generated {
		add(name)
	}

	return names
}
