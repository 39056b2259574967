package logger

// Diagnostics are designed to look and feel like clang's error format. Each
// message contains the contents of the line with the problem. Messages are
// collected during a run and sorted when the run finishes so that the final
// list does not depend on goroutine scheduling.

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

type Log struct {
	AddMsg    func(Msg)
	HasErrors func() bool
	Done      func() []Msg
}

type MsgKind uint8

const (
	Error MsgKind = iota
	Warning
)

func (kind MsgKind) String() string {
	switch kind {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		panic("Internal error")
	}
}

type Msg struct {
	ID       MsgID
	Kind     MsgKind
	Text     string
	Location *MsgLocation
}

type MsgLocation struct {
	File     string
	Line     int // 1-based
	Column   int // 0-based, in bytes
	Length   int // in bytes
	LineText string
}

type Loc struct {
	// This is the 0-based index of this location from the start of the file, in bytes
	Start int32
}

type Range struct {
	Loc Loc
	Len int32
}

func (r Range) End() int32 {
	return r.Loc.Start + r.Len
}

// This type is just so we can use Go's native sort function
type msgsArray []Msg

func (a msgsArray) Len() int          { return len(a) }
func (a msgsArray) Swap(i int, j int) { a[i], a[j] = a[j], a[i] }

func (a msgsArray) Less(i int, j int) bool {
	ai := a[i]
	aj := a[j]

	li := ai.Location
	lj := aj.Location

	// Location
	if li == nil && lj != nil {
		return true
	}
	if li != nil && lj == nil {
		return false
	}

	if li != nil && lj != nil {
		if li.File != lj.File {
			return li.File < lj.File
		}
		if li.Line != lj.Line {
			return li.Line < lj.Line
		}
		if li.Column != lj.Column {
			return li.Column < lj.Column
		}
		if li.Length != lj.Length {
			return li.Length < lj.Length
		}
	}

	if ai.Kind != aj.Kind {
		return ai.Kind < aj.Kind
	}
	if ai.ID != aj.ID {
		return ai.ID < aj.ID
	}
	return ai.Text < aj.Text
}

// This is the identity of a module. Namespace "file" means the text is a
// file system path. Any other namespace is an abstract module path handed
// out by a custom resolver.
type Path struct {
	Text      string
	Namespace string
}

func (a Path) ComesBeforeInSortedOrder(b Path) bool {
	return a.Namespace > b.Namespace || (a.Namespace == b.Namespace && a.Text < b.Text)
}

func (a Path) String() string {
	if a.Namespace == "" || a.Namespace == "file" {
		return a.Text
	}
	return a.Namespace + ":" + a.Text
}

type Source struct {
	Index uint32

	// This is used as a unique key to identify this source file
	KeyPath Path

	// This is used for error messages and for the "// path" comments in the
	// generated code. It never contains environment-specific details.
	PrettyPath string

	// An identifier that is mixed in to automatically-generated symbol names to
	// improve readability. For example, if the identifier is "util" then the
	// symbol for an "export default" statement will be called "util_default".
	IdentifierName string

	Contents string
}

func (s *Source) RangeOfString(loc Loc) Range {
	text := s.Contents[loc.Start:]
	if len(text) == 0 {
		return Range{Loc: loc, Len: 0}
	}

	quote := text[0]
	if quote == '"' || quote == '\'' {
		// Search for the matching quote character
		for i := 1; i < len(text); i++ {
			c := text[i]
			if c == quote {
				return Range{Loc: loc, Len: int32(i + 1)}
			} else if c == '\\' {
				i += 1
			}
		}
	}

	return Range{Loc: loc, Len: 0}
}

func (s *Source) RangeOfIdentifier(loc Loc) Range {
	text := s.Contents[loc.Start:]
	for i, c := range text {
		if c != '_' && c != '$' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			return Range{Loc: loc, Len: int32(i)}
		}
	}
	return Range{Loc: loc, Len: int32(len(text))}
}

func plural(prefix string, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, prefix)
	}
	return fmt.Sprintf("%d %ss", count, prefix)
}

func ErrorAndWarningSummary(msgs []Msg) string {
	errors := 0
	warnings := 0
	for _, msg := range msgs {
		if msg.Kind == Error {
			errors++
		} else {
			warnings++
		}
	}
	switch {
	case errors == 0:
		return plural("warning", warnings)
	case warnings == 0:
		return plural("error", errors)
	default:
		return fmt.Sprintf("%s and %s",
			plural("warning", warnings),
			plural("error", errors))
	}
}

func NewDeferLog() Log {
	var msgs msgsArray
	var mutex sync.Mutex
	var hasErrors bool

	return Log{
		AddMsg: func(msg Msg) {
			mutex.Lock()
			defer mutex.Unlock()
			if msg.Kind == Error {
				hasErrors = true
			}
			msgs = append(msgs, msg)
		},
		HasErrors: func() bool {
			mutex.Lock()
			defer mutex.Unlock()
			return hasErrors
		},
		Done: func() []Msg {
			mutex.Lock()
			defer mutex.Unlock()
			sort.Stable(msgs)
			return append([]Msg{}, msgs...)
		},
	}
}

type OutputOptions struct {
	IncludeSource bool
}

func (msg Msg) String(options OutputOptions) string {
	kind := msg.Kind.String()

	if msg.Location == nil {
		return fmt.Sprintf("%s: %s\n", kind, msg.Text)
	}

	if !options.IncludeSource {
		return fmt.Sprintf("%s:%d:%d: %s: %s\n",
			msg.Location.File, msg.Location.Line, msg.Location.Column, kind, msg.Text)
	}

	d := detailStruct(msg)
	return fmt.Sprintf("%s:%d:%d: %s: %s\n%s\n%s%s\n",
		d.Path, d.Line, d.Column, d.Kind, d.Message, d.Source, d.Indent, d.Marker)
}

type MsgDetail struct {
	Path    string
	Line    int
	Column  int
	Kind    string
	Message string
	Source  string
	Indent  string
	Marker  string
}

func computeLineAndColumn(contents string, offset int) (lineCount int, columnCount int, lineStart int, lineEnd int) {
	var prevCodePoint rune
	if offset > len(contents) {
		offset = len(contents)
	}

	// Scan up to the offset and count lines
	for i, codePoint := range contents[:offset] {
		switch codePoint {
		case '\n':
			lineStart = i + 1
			if prevCodePoint != '\r' {
				lineCount++
			}
		case '\r':
			lineStart = i + 1
			lineCount++
		case '\u2028', '\u2029':
			lineStart = i + 3 // These take three bytes to encode in UTF-8
			lineCount++
		}
		prevCodePoint = codePoint
	}

	// Scan to the end of the line (or end of file if this is the last line)
	lineEnd = len(contents)
loop:
	for i, codePoint := range contents[offset:] {
		switch codePoint {
		case '\r', '\n', '\u2028', '\u2029':
			lineEnd = offset + i
			break loop
		}
	}

	columnCount = offset - lineStart
	return
}

func LocationOrNil(source *Source, r Range) *MsgLocation {
	if source == nil {
		return nil
	}

	// Convert the index into a line and column number
	lineCount, columnCount, lineStart, lineEnd := computeLineAndColumn(source.Contents, int(r.Loc.Start))

	return &MsgLocation{
		File:     source.PrettyPath,
		Line:     lineCount + 1, // 0-based to 1-based
		Column:   columnCount,
		Length:   int(r.Len),
		LineText: source.Contents[lineStart:lineEnd],
	}
}

func detailStruct(msg Msg) MsgDetail {
	loc := *msg.Location
	lineText := RenderTabStops(loc.LineText, 2)

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

	indent := strings.Repeat(" ", len(RenderTabStops(loc.LineText[:loc.Column], 2)))
	marker := "^"
	if loc.Length > 1 {
		marker = strings.Repeat("~", len(RenderTabStops(loc.LineText[loc.Column:loc.Column+loc.Length], 2)))
	}

	return MsgDetail{
		Path:    loc.File,
		Line:    loc.Line,
		Column:  loc.Column,
		Kind:    msg.Kind.String(),
		Message: msg.Text,
		Source:  lineText,
		Indent:  indent,
		Marker:  marker,
	}
}

// RenderTabStops expands tabs so markers line up under the source text
func RenderTabStops(withTabs string, spacesPerTab int) string {
	if !strings.ContainsRune(withTabs, '\t') {
		return withTabs
	}

	withoutTabs := strings.Builder{}
	count := 0

	for _, c := range withTabs {
		if c == '\t' {
			spaces := spacesPerTab - count%spacesPerTab
			for i := 0; i < spaces; i++ {
				withoutTabs.WriteRune(' ')
				count++
			}
		} else {
			withoutTabs.WriteRune(c)
			count++
		}
	}

	return withoutTabs.String()
}

func (log Log) AddError(source *Source, loc Loc, text string) {
	log.AddMsg(Msg{
		Kind:     Error,
		Text:     text,
		Location: LocationOrNil(source, Range{Loc: loc}),
	})
}

func (log Log) AddWarning(source *Source, loc Loc, text string) {
	log.AddMsg(Msg{
		Kind:     Warning,
		Text:     text,
		Location: LocationOrNil(source, Range{Loc: loc}),
	})
}

func (log Log) AddRangeError(source *Source, r Range, text string) {
	log.AddMsg(Msg{
		Kind:     Error,
		Text:     text,
		Location: LocationOrNil(source, r),
	})
}

// This is used for diagnostics that belong to a named category
func (log Log) AddID(id MsgID, kind MsgKind, source *Source, r Range, text string) {
	log.AddMsg(Msg{
		ID:       id,
		Kind:     kind,
		Text:     text,
		Location: LocationOrNil(source, r),
	})
}
