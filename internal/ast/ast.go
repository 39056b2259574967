package ast

// This file contains the data structures that describe the edges between
// modules. They are shared by the parser, the scope analyzer, the graph
// builder and the linker.

import (
	"github.com/esmerge/esmerge/internal/logger"
)

type ImportKind uint8

const (
	// An entry point provided by the user
	ImportEntryPoint ImportKind = iota

	// An ES6 import or re-export statement
	ImportStmt

	// A call to "require()"
	ImportRequire

	// An "import()" expression with a string argument
	ImportDynamic
)

func (kind ImportKind) String() string {
	switch kind {
	case ImportStmt:
		return "import-statement"
	case ImportRequire:
		return "require-call"
	case ImportDynamic:
		return "dynamic-import"
	case ImportEntryPoint:
		return "entry-point"
	default:
		panic("Internal error")
	}
}

// Static edges are evaluated as soon as the importer is evaluated. Dynamic
// imports are evaluated later, if at all.
func (kind ImportKind) IsStatic() bool {
	return kind == ImportStmt || kind == ImportRequire || kind == ImportEntryPoint
}

type ImportRecordFlags uint16

const (
	// If this is true, the import contains syntax like "* as ns"
	ContainsImportStar ImportRecordFlags = 1 << iota

	// If this is true, the import contains an import for the alias "default",
	// either via the "import x from" or "import {default as x} from" syntax.
	ContainsDefaultAlias

	// True for the following case:
	//
	//   try { require('x') } catch { handle }
	//
	// In this case we shouldn't fail the build if the path could not be
	// resolved.
	HandlesImportErrors

	// If true, this was originally written as a bare "import 'file'" statement
	WasOriginallyBareImport

	// If true, this record comes from an "export * from 'path'" statement
	IsExportStar

	// If true, this record comes from an "export ... from 'path'" statement
	IsReExport

	// If true, the path couldn't be resolved or the module couldn't be
	// loaded. Only set on the per-run copy of a module's import records.
	FailedToLoad
)

func (flags ImportRecordFlags) Has(flag ImportRecordFlags) bool {
	return (flags & flag) != 0
}

type ImportRecord struct {
	// The specifier exactly as it was written in the source code
	Path  logger.Path
	Range logger.Range

	// The resolved source index for an internal import (within the bundle) or
	// invalid for an external import (not included in the bundle). This is
	// only ever filled in on the per-run copy of a module's import records.
	SourceIndex Index32

	Flags ImportRecordFlags
	Kind  ImportKind
}

// This stores a 32-bit index where the zero value is an invalid index. This is
// a better alternative to storing the index as a pointer since that has the
// same properties but takes up more space and costs an extra pointer traversal.
type Index32 struct {
	flippedBits uint32
}

func MakeIndex32(index uint32) Index32 {
	return Index32{flippedBits: ^index}
}

func (i Index32) IsValid() bool {
	return i.flippedBits != 0
}

func (i Index32) GetIndex() uint32 {
	return ^i.flippedBits
}
