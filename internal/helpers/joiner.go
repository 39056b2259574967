package helpers

// This concatenates the printed pieces of a chunk. It measures exactly how
// big the output buffer should be and then allocates once.
type Joiner struct {
	strings  []joinerString
	length   uint32
	lastByte byte
}

type joinerString struct {
	data   string
	offset uint32
}

func (j *Joiner) AddString(data string) {
	if len(data) == 0 {
		return
	}
	j.lastByte = data[len(data)-1]
	j.strings = append(j.strings, joinerString{data, j.length})
	j.length += uint32(len(data))
}

func (j *Joiner) AddBytes(data []byte) {
	j.AddString(string(data))
}

func (j *Joiner) LastByte() byte {
	return j.lastByte
}

func (j *Joiner) Length() uint32 {
	return j.length
}

func (j *Joiner) EnsureNewlineAtEnd() {
	if j.length > 0 && j.lastByte != '\n' {
		j.AddString("\n")
	}
}

func (j *Joiner) Done() []byte {
	buffer := make([]byte, j.length)
	for _, item := range j.strings {
		copy(buffer[item.offset:], item.data)
	}
	return buffer
}
