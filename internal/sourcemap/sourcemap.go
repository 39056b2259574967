package sourcemap

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/esmerge/esmerge/internal/logger"
	"github.com/goccy/go-json"
)

type Mapping struct {
	GeneratedLine   int32 // 0-based
	GeneratedColumn int32 // 0-based count of UTF-16 code units

	SourceIndex    int32 // 0-based index into "Sources"
	OriginalLine   int32 // 0-based
	OriginalColumn int32 // 0-based count of UTF-16 code units
}

type SourceMap struct {
	Sources        []string
	SourcesContent []string
	Mappings       []Mapping
}

// Find returns the last mapping at or before the generated position, or nil
// if there isn't one on that line
func (sm *SourceMap) Find(line int32, column int32) *Mapping {
	mappings := sm.Mappings

	// Binary search
	count := len(mappings)
	index := 0
	for count > 0 {
		step := count / 2
		i := index + step
		mapping := mappings[i]
		if mapping.GeneratedLine < line || (mapping.GeneratedLine == line && mapping.GeneratedColumn <= column) {
			index = i + 1
			count -= step + 1
		} else {
			count = step
		}
	}

	// Handle search failure
	if index > 0 {
		mapping := &mappings[index-1]

		// Match the behavior of the popular "source-map" library from Mozilla
		if mapping.GeneratedLine == line {
			return mapping
		}
	}
	return nil
}

type sourceMapJSON struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// Encode returns the source map in the version 3 JSON format
func (sm *SourceMap) Encode(file string) ([]byte, error) {
	sources := sm.Sources
	if sources == nil {
		sources = []string{}
	}
	return json.MarshalIndent(sourceMapJSON{
		Version:        3,
		File:           file,
		Sources:        sources,
		SourcesContent: sm.SourcesContent,
		Names:          []string{},
		Mappings:       string(EncodeMappings(sm.Mappings)),
	}, "", "  ")
}

func Decode(data []byte) (*SourceMap, error) {
	var parsed sourceMapJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	if parsed.Version != 3 {
		return nil, fmt.Errorf("unsupported source map version %d", parsed.Version)
	}
	mappings, err := DecodeMappings(parsed.Mappings, len(parsed.Sources))
	if err != nil {
		return nil, err
	}
	return &SourceMap{
		Sources:        parsed.Sources,
		SourcesContent: parsed.SourcesContent,
		Mappings:       mappings,
	}, nil
}

// Mappings must be sorted by generated position. Each segment stores the
// generated column relative to the previous segment on the same line and the
// other fields relative to the previous segment anywhere.
func EncodeMappings(mappings []Mapping) []byte {
	var encoded []byte
	var prev Mapping
	prevLine := int32(0)

	for i, m := range mappings {
		if m.GeneratedLine != prevLine {
			for prevLine < m.GeneratedLine {
				encoded = append(encoded, ';')
				prevLine++
			}
			prev.GeneratedColumn = 0
		} else if i > 0 {
			encoded = append(encoded, ',')
		}

		encoded = encodeVLQ(encoded, int(m.GeneratedColumn-prev.GeneratedColumn))
		encoded = encodeVLQ(encoded, int(m.SourceIndex-prev.SourceIndex))
		encoded = encodeVLQ(encoded, int(m.OriginalLine-prev.OriginalLine))
		encoded = encodeVLQ(encoded, int(m.OriginalColumn-prev.OriginalColumn))
		prev = m
	}

	return encoded
}

var errInvalidMappings = errors.New("invalid mappings")

func DecodeMappings(encoded string, sourcesCount int) ([]Mapping, error) {
	var mappings []Mapping
	var current Mapping
	data := []byte(encoded)

	for i := 0; i < len(data); {
		switch data[i] {
		case ';':
			current.GeneratedLine++
			current.GeneratedColumn = 0
			i++
			continue
		case ',':
			i++
			continue
		}

		// A fifth field holds a name index, which isn't used
		var fields [5]int
		count := 0
		for count < 5 && i < len(data) && data[i] != ',' && data[i] != ';' {
			value, next, ok := DecodeVLQ(data, i)
			if !ok {
				return nil, fmt.Errorf("%w at offset %d", errInvalidMappings, i)
			}
			fields[count] = value
			count++
			i = next
		}

		// Segments with only a generated column don't map to anything
		current.GeneratedColumn += int32(fields[0])
		if count == 1 {
			continue
		}
		if count < 4 {
			return nil, fmt.Errorf("%w: expected 4 fields in segment, got %d", errInvalidMappings, count)
		}
		current.SourceIndex += int32(fields[1])
		current.OriginalLine += int32(fields[2])
		current.OriginalColumn += int32(fields[3])
		if current.SourceIndex < 0 || int(current.SourceIndex) >= sourcesCount {
			return nil, fmt.Errorf("%w: source index %d is out of range", errInvalidMappings, current.SourceIndex)
		}
		mappings = append(mappings, current)
	}

	return mappings, nil
}

var base64 = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/")

// A single base 64 digit can contain 6 bits of data. For the base 64 variable
// length quantities we use in the source map spec, the first bit is the sign,
// the next four bits are the actual value, and the 6th bit is the continuation
// bit. The continuation bit tells us whether there are more digits in this
// value following this digit.
//
//	Continuation
//	|    Sign
//	|    |
//	V    V
//	101011
func encodeVLQ(encoded []byte, value int) []byte {
	var vlq int
	if value < 0 {
		vlq = ((-value) << 1) | 1
	} else {
		vlq = value << 1
	}

	// Handle the common case
	if (vlq >> 5) == 0 {
		digit := vlq & 31
		encoded = append(encoded, base64[digit])
		return encoded
	}

	for {
		digit := vlq & 31
		vlq >>= 5

		// If there are still more digits in this value, we must make sure the
		// continuation bit is marked
		if vlq != 0 {
			digit |= 32
		}

		encoded = append(encoded, base64[digit])

		if vlq == 0 {
			break
		}
	}

	return encoded
}

func DecodeVLQ(encoded []byte, start int) (value int, next int, ok bool) {
	shift := 0
	vlq := 0

	for {
		if start >= len(encoded) {
			return 0, start, false
		}
		index := bytes.IndexByte(base64, encoded[start])
		if index < 0 {
			return 0, start, false
		}

		// Decode a single byte
		vlq |= (index & 31) << shift
		start++
		shift += 5

		// Stop if there's no continuation bit
		if (index & 32) == 0 {
			break
		}
	}

	// Recover the value
	value = vlq >> 1
	if (vlq & 1) != 0 {
		value = -value
	}
	return value, start, true
}

type lineOffsetTable struct {
	byteOffsetToStartOfLine int32
	hasNonASCII             bool
}

func generateLineOffsetTables(contents string) []lineOffsetTable {
	tables := []lineOffsetTable{{}}
	for i := 0; i < len(contents); i++ {
		switch c := contents[i]; {
		case c == '\n':
			tables = append(tables, lineOffsetTable{byteOffsetToStartOfLine: int32(i + 1)})
		case c == '\r':
			if i+1 < len(contents) && contents[i+1] == '\n' {
				i++
			}
			tables = append(tables, lineOffsetTable{byteOffsetToStartOfLine: int32(i + 1)})
		case c >= 0x80:
			r, width := utf8.DecodeRuneInString(contents[i:])
			if r == '\u2028' || r == '\u2029' {
				tables = append(tables, lineOffsetTable{byteOffsetToStartOfLine: int32(i + width)})
			} else {
				tables[len(tables)-1].hasNonASCII = true
			}
			i += width - 1
		}
	}
	return tables
}

func utf16Length(text []byte) int32 {
	n := int32(0)
	for len(text) > 0 {
		r, width := utf8.DecodeRune(text)
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
		text = text[width:]
	}
	return n
}

// Builder collects mappings while a chunk is printed. The printer reports the
// original location of each statement together with everything it has
// printed so far.
type Builder struct {
	sourceForIndex func(uint32) *logger.Source

	sources        []string
	sourcesContent []string
	slots          map[uint32]int32
	lineTables     map[uint32][]lineOffsetTable
	mappings       []Mapping

	// How far into the output the generated position below is
	scanned         int
	generatedLine   int32
	generatedColumn int32
}

func NewBuilder(sourceForIndex func(uint32) *logger.Source) *Builder {
	return &Builder{
		sourceForIndex: sourceForIndex,
		slots:          make(map[uint32]int32),
		lineTables:     make(map[uint32][]lineOffsetTable),
	}
}

func (b *Builder) AddMapping(sourceIndex uint32, originalLoc logger.Loc, output []byte) {
	b.advance(output)

	slot, ok := b.slots[sourceIndex]
	if !ok {
		source := b.sourceForIndex(sourceIndex)
		slot = int32(len(b.sources))
		b.slots[sourceIndex] = slot
		b.sources = append(b.sources, source.PrettyPath)
		b.sourcesContent = append(b.sourcesContent, source.Contents)
		b.lineTables[sourceIndex] = generateLineOffsetTables(source.Contents)
	}

	// Find the original line with a binary search
	tables := b.lineTables[sourceIndex]
	offset := originalLoc.Start
	line := sort.Search(len(tables), func(i int) bool {
		return tables[i].byteOffsetToStartOfLine > offset
	}) - 1
	if line < 0 {
		line = 0
	}
	table := tables[line]
	column := offset - table.byteOffsetToStartOfLine
	if table.hasNonASCII {
		contents := b.sourcesContent[slot]
		end := int(offset)
		if end > len(contents) {
			end = len(contents)
		}
		column = utf16Length([]byte(contents[table.byteOffsetToStartOfLine:end]))
	}

	mapping := Mapping{
		GeneratedLine:   b.generatedLine,
		GeneratedColumn: b.generatedColumn,
		SourceIndex:     slot,
		OriginalLine:    int32(line),
		OriginalColumn:  column,
	}

	// Only the last mapping for a generated position counts
	if n := len(b.mappings); n > 0 {
		last := &b.mappings[n-1]
		if last.GeneratedLine == mapping.GeneratedLine && last.GeneratedColumn == mapping.GeneratedColumn {
			*last = mapping
			return
		}
	}
	b.mappings = append(b.mappings, mapping)
}

func (b *Builder) advance(output []byte) {
	text := output[b.scanned:]
	for len(text) > 0 {
		if i := bytes.IndexByte(text, '\n'); i >= 0 {
			b.generatedLine++
			b.generatedColumn = 0
			text = text[i+1:]
			continue
		}
		b.generatedColumn += utf16Length(text)
		break
	}
	b.scanned = len(output)
}

func (b *Builder) SourceMap() *SourceMap {
	return &SourceMap{
		Sources:        b.sources,
		SourcesContent: b.sourcesContent,
		Mappings:       b.mappings,
	}
}
