package graph

import (
	"errors"

	"github.com/esmerge/esmerge/internal/logger"
)

// Every error a bundling run returns wraps exactly one of these, so callers
// can classify failures with "errors.Is".
var (
	ErrUnresolved        = errors.New("unresolved import")
	ErrParse             = errors.New("parse failure")
	ErrIO                = errors.New("I/O error")
	ErrCyclicReexport    = errors.New("cyclic re-export")
	ErrDuplicateExport   = errors.New("duplicate export")
	ErrUnsupportedSyntax = errors.New("unsupported syntax")
	ErrMissingImport     = errors.New("missing import")
)

// Maps the message ID of an error-level diagnostic to its sentinel
func ErrForMsgID(id logger.MsgID) error {
	switch id {
	case logger.MsgID_Bundler_UnresolvedImport:
		return ErrUnresolved
	case logger.MsgID_Bundler_ParseFailure:
		return ErrParse
	case logger.MsgID_Bundler_IOError:
		return ErrIO
	case logger.MsgID_Bundler_CyclicReexport:
		return ErrCyclicReexport
	case logger.MsgID_Bundler_DuplicateExport:
		return ErrDuplicateExport
	case logger.MsgID_Bundler_UnsupportedSyntax:
		return ErrUnsupportedSyntax
	case logger.MsgID_Bundler_MissingImport:
		return ErrMissingImport
	}
	return nil
}
