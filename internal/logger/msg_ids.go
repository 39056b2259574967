package logger

// Every diagnostic the bundler reports carries a message ID naming its place
// in the error taxonomy. Callers use the ID (never the text) to decide how to
// react to a diagnostic. Messages that are not part of the taxonomy, such as
// internal debugging output, use "MsgID_None".
type MsgID = uint8

const (
	MsgID_None MsgID = iota

	// Loading
	MsgID_Bundler_UnresolvedImport
	MsgID_Bundler_ParseFailure
	MsgID_Bundler_IOError

	// Linking
	MsgID_Bundler_CyclicReexport
	MsgID_Bundler_DuplicateExport
	MsgID_Bundler_UnsupportedSyntax
	MsgID_Bundler_MissingImport
	MsgID_Bundler_ImportIsUndefined

	// JavaScript
	MsgID_JS_CommonJSVariableInESM
	MsgID_JS_DirectEval
	MsgID_JS_UnsupportedRequireCall

	MsgID_END // Keep this at the end (used only for tests)
)

func MsgIDToString(id MsgID) string {
	switch id {
	case MsgID_Bundler_UnresolvedImport:
		return "unresolved-import"
	case MsgID_Bundler_ParseFailure:
		return "parse-failure"
	case MsgID_Bundler_IOError:
		return "io-error"
	case MsgID_Bundler_CyclicReexport:
		return "cyclic-reexport"
	case MsgID_Bundler_DuplicateExport:
		return "duplicate-export"
	case MsgID_Bundler_UnsupportedSyntax:
		return "unsupported-syntax"
	case MsgID_Bundler_MissingImport:
		return "missing-import"
	case MsgID_Bundler_ImportIsUndefined:
		return "import-is-undefined"
	case MsgID_JS_CommonJSVariableInESM:
		return "commonjs-variable-in-esm"
	case MsgID_JS_DirectEval:
		return "direct-eval"
	case MsgID_JS_UnsupportedRequireCall:
		return "unsupported-require-call"
	}
	return ""
}

func StringToMsgID(str string) (MsgID, bool) {
	for id := MsgID_None + 1; id < MsgID_END; id++ {
		if MsgIDToString(id) == str {
			return id, true
		}
	}
	return MsgID_None, false
}
