package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/esmerge/esmerge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainMatchesLogger(t *testing.T) {
	msgs := []logger.Msg{
		{Kind: logger.Warning, Text: "no location"},
		{Kind: logger.Error, Text: "Could not resolve \"./x.js\"", Location: &logger.MsgLocation{
			File:     "entry.js",
			Line:     1,
			Column:   18,
			Length:   8,
			LineText: "import { x } from './x.js'",
		}},
		{Kind: logger.Error, Text: "tabs", Location: &logger.MsgLocation{
			File:     "tabs.js",
			Line:     3,
			Column:   2,
			Length:   1,
			LineText: "\t\tfoo()",
		}},
	}

	for _, includeSource := range []bool{false, true} {
		for _, msg := range msgs {
			expected := msg.String(logger.OutputOptions{IncludeSource: includeSource})
			actual := MsgString(msg, Options{IncludeSource: includeSource}, TerminalInfo{})
			assert.Equal(t, expected, actual)
		}
	}
}

func TestColorEscapes(t *testing.T) {
	terminal := TerminalInfo{IsTTY: true, UseColorEscapes: true}

	msg := logger.Msg{Kind: logger.Warning, Text: "oops"}
	assert.Equal(t, "\033[1m\033[35mwarning: \033[0;1moops\033[0m\n", MsgString(msg, Options{}, terminal))

	msg = logger.Msg{Kind: logger.Error, Text: "bad", Location: &logger.MsgLocation{
		File:     "a.js",
		Line:     2,
		Column:   4,
		Length:   3,
		LineText: "let foo = 1",
	}}
	assert.Equal(t,
		"\033[1ma.js:2:4: \033[31merror: \033[0;1mbad\n"+
			"\033[0mlet \033[32mfoo\033[0m = 1\n"+
			"\033[32m    ~~~\033[0m\n",
		MsgString(msg, Options{IncludeSource: true}, terminal))
}

func TestTrimToTerminalWidth(t *testing.T) {
	msg := logger.Msg{Kind: logger.Error, Text: "oops", Location: &logger.MsgLocation{
		File:     "a.js",
		Line:     1,
		Column:   30,
		Length:   2,
		LineText: strings.Repeat("a", 30) + "XY" + strings.Repeat("b", 30),
	}}

	actual := MsgString(msg, Options{IncludeSource: true}, TerminalInfo{Width: 20})
	assert.Equal(t, "a.js:1:30: error: oops\n...aaaaaaXYbbbbbb...\n         ~~\n", actual)
}

func TestParseColor(t *testing.T) {
	for text, expected := range map[string]Color{
		"":       ColorIfTerminal,
		"auto":   ColorIfTerminal,
		"never":  ColorNever,
		"always": ColorAlways,
	} {
		color, err := ParseColor(text)
		require.NoError(t, err)
		assert.Equal(t, expected, color)
	}

	_, err := ParseColor("sometimes")
	assert.EqualError(t, err, `invalid color "sometimes" (valid values are "auto", "never", or "always")`)
}

func TestPrinterCounts(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, Options{Color: ColorNever})

	counts := printer.Print([]logger.Msg{
		{Kind: logger.Error, Text: "one"},
		{Kind: logger.Warning, Text: "two"},
		{Kind: logger.Error, Text: "three"},
	})

	assert.Equal(t, MsgCounts{Errors: 2, Warnings: 1}, counts)
	assert.Equal(t, "error: one\nwarning: two\nerror: three\n", buf.String())
}
