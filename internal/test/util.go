package test

import (
	"testing"

	"github.com/esmerge/esmerge/internal/logger"
	"github.com/kylelemons/godebug/diff"
)

func AssertEqualWithDiff(t *testing.T, observed string, expected string) {
	t.Helper()
	if observed != expected {
		t.Fatalf("output differs from expected (- observed, + expected):\n%s", diff.Diff(observed, expected))
	}
}

func SourceForTest(contents string) logger.Source {
	return logger.Source{
		Index:          0,
		KeyPath:        logger.Path{Text: "<stdin>"},
		PrettyPath:     "<stdin>",
		Contents:       contents,
		IdentifierName: "stdin",
	}
}

// Joins all messages the way they are printed to a terminal
func MsgsToString(msgs []logger.Msg) string {
	text := ""
	for _, msg := range msgs {
		text += msg.String(logger.OutputOptions{})
	}
	return text
}
