package logging

// Diagnostics are printed to look and feel like clang's error format. When
// the output is a terminal, the kind and the marked range are colored and
// long source lines are trimmed to fit the window.

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/esmerge/esmerge/internal/logger"
)

type TerminalInfo struct {
	IsTTY           bool
	UseColorEscapes bool
	Width           int
}

type Color uint8

const (
	ColorIfTerminal Color = iota
	ColorNever
	ColorAlways
)

func ParseColor(text string) (Color, error) {
	switch text {
	case "", "auto":
		return ColorIfTerminal, nil
	case "never":
		return ColorNever, nil
	case "always":
		return ColorAlways, nil
	default:
		return 0, fmt.Errorf("invalid color %q (valid values are \"auto\", \"never\", or \"always\")", text)
	}
}

type Options struct {
	IncludeSource bool
	Color         Color
}

type MsgCounts struct {
	Errors   int
	Warnings int
}

type Printer struct {
	w        io.Writer
	options  Options
	terminal TerminalInfo
}

// NewPrinter only detects a terminal when "w" is an "*os.File"
func NewPrinter(w io.Writer, options Options) *Printer {
	var terminal TerminalInfo
	if file, ok := w.(*os.File); ok {
		terminal = GetTerminalInfo(file)
	}

	switch options.Color {
	case ColorNever:
		terminal.UseColorEscapes = false
	case ColorAlways:
		terminal.UseColorEscapes = SupportsColorEscapes
	}

	return &Printer{w: w, options: options, terminal: terminal}
}

func (p *Printer) Print(msgs []logger.Msg) (counts MsgCounts) {
	for _, msg := range msgs {
		io.WriteString(p.w, MsgString(msg, p.options, p.terminal))
		switch msg.Kind {
		case logger.Error:
			counts.Errors++
		case logger.Warning:
			counts.Warnings++
		}
	}
	return
}

const colorReset = "\033[0m"
const colorRed = "\033[31m"
const colorGreen = "\033[32m"
const colorMagenta = "\033[35m"
const colorBold = "\033[1m"
const colorResetBold = "\033[0;1m"

func MsgString(msg logger.Msg, options Options, terminal TerminalInfo) string {
	kind := msg.Kind.String()
	kindColor := colorRed
	if msg.Kind == logger.Warning {
		kindColor = colorMagenta
	}

	if msg.Location == nil {
		if terminal.UseColorEscapes {
			return fmt.Sprintf("%s%s%s: %s%s%s\n",
				colorBold, kindColor, kind,
				colorResetBold, msg.Text,
				colorReset)
		}

		return fmt.Sprintf("%s: %s\n", kind, msg.Text)
	}

	if !options.IncludeSource {
		loc := msg.Location
		if terminal.UseColorEscapes {
			return fmt.Sprintf("%s%s:%d:%d: %s%s: %s%s%s\n",
				colorBold, loc.File, loc.Line, loc.Column,
				kindColor, kind,
				colorResetBold, msg.Text,
				colorReset)
		}

		return fmt.Sprintf("%s:%d:%d: %s: %s\n", loc.File, loc.Line, loc.Column, kind, msg.Text)
	}

	d := detailStruct(msg, terminal)

	if terminal.UseColorEscapes {
		return fmt.Sprintf("%s%s:%d:%d: %s%s: %s%s\n%s%s%s%s%s%s\n%s%s%s%s\n",
			colorBold, d.Path,
			d.Line,
			d.Column,
			kindColor, d.Kind,
			colorResetBold, d.Message,
			colorReset, d.SourceBefore, colorGreen, d.SourceMarked, colorReset, d.SourceAfter,
			colorGreen, d.Indent, d.Marker,
			colorReset)
	}

	return fmt.Sprintf("%s:%d:%d: %s: %s\n%s\n%s%s\n",
		d.Path, d.Line, d.Column, d.Kind, d.Message, d.Source, d.Indent, d.Marker)
}

type msgDetail struct {
	Path    string
	Line    int
	Column  int
	Kind    string
	Message string

	// Source == SourceBefore + SourceMarked + SourceAfter
	Source       string
	SourceBefore string
	SourceMarked string
	SourceAfter  string

	Indent string
	Marker string
}

const spacesPerTab = 2

func detailStruct(msg logger.Msg, terminal TerminalInfo) msgDetail {
	loc := *msg.Location

	// Clamp values in range
	if loc.Column < 0 {
		loc.Column = 0
	}
	if loc.Column > len(loc.LineText) {
		loc.Column = len(loc.LineText)
	}
	if loc.Length < 0 {
		loc.Length = 0
	}
	if loc.Length > len(loc.LineText)-loc.Column {
		loc.Length = len(loc.LineText) - loc.Column
	}

	lineText := logger.RenderTabStops(loc.LineText, spacesPerTab)
	markerStart := len(logger.RenderTabStops(loc.LineText[:loc.Column], spacesPerTab))
	markerEnd := markerStart
	if loc.Length > 0 {
		markerEnd = len(logger.RenderTabStops(loc.LineText[:loc.Column+loc.Length], spacesPerTab))
	}

	// Trim the line to fit the terminal width
	if width := terminal.Width; width > 0 && len(lineText) > width {
		// Try to center the marked range
		sliceStart := (markerStart + markerEnd - width) / 2
		if sliceStart > markerStart-width/5 {
			sliceStart = markerStart - width/5
		}
		if sliceStart < 0 {
			sliceStart = 0
		}
		if sliceStart > len(lineText)-width {
			sliceStart = len(lineText) - width
		}
		sliceEnd := sliceStart + width

		slicedLine := lineText[sliceStart:sliceEnd]
		markerStart -= sliceStart
		markerEnd -= sliceStart
		if markerStart < 0 {
			markerStart = 0
		}
		if markerEnd > len(slicedLine) {
			markerEnd = len(slicedLine)
		}

		// Truncate the ends with "..."
		if len(slicedLine) > 3 && sliceStart > 0 {
			slicedLine = "..." + slicedLine[3:]
			if markerStart < 3 {
				markerStart = 3
			}
			if markerEnd < markerStart {
				markerEnd = markerStart
			}
		}
		if len(slicedLine) > 3 && sliceEnd < len(lineText) {
			slicedLine = slicedLine[:len(slicedLine)-3] + "..."
			if markerEnd > len(slicedLine)-3 {
				markerEnd = len(slicedLine) - 3
			}
			if markerEnd < markerStart {
				markerEnd = markerStart
			}
		}

		lineText = slicedLine
	}

	marker := "^"
	if markerEnd-markerStart > 1 {
		marker = strings.Repeat("~", markerEnd-markerStart)
	}

	return msgDetail{
		Path:    loc.File,
		Line:    loc.Line,
		Column:  loc.Column,
		Kind:    msg.Kind.String(),
		Message: msg.Text,

		Source:       lineText,
		SourceBefore: lineText[:markerStart],
		SourceMarked: lineText[markerStart:markerEnd],
		SourceAfter:  lineText[markerEnd:],

		Indent: strings.Repeat(" ", markerStart),
		Marker: marker,
	}
}
