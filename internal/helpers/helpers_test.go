package helpers_test

import (
	"testing"

	"github.com/esmerge/esmerge/internal/helpers"
	"github.com/stretchr/testify/assert"
)

func TestBitSet(t *testing.T) {
	bs := helpers.NewBitSet(20)
	assert.True(t, bs.IsEmpty())

	bs.SetBit(3)
	bs.SetBit(17)
	assert.True(t, bs.HasBit(3))
	assert.False(t, bs.HasBit(4))
	assert.Equal(t, 2, bs.Count())
	assert.Equal(t, []uint{3, 17}, bs.Bits())

	other := bs.Clone()
	assert.True(t, bs.Equals(other))
	other.SetBit(0)
	assert.False(t, bs.Equals(other))
	assert.False(t, bs.HasBit(0))
	assert.NotEqual(t, bs.String(), other.String())
}

func TestJoiner(t *testing.T) {
	j := helpers.Joiner{}
	j.AddString("let a")
	j.AddString("")
	j.AddBytes([]byte(" = 1;"))
	j.EnsureNewlineAtEnd()
	j.EnsureNewlineAtEnd()
	assert.Equal(t, byte('\n'), j.LastByte())
	assert.Equal(t, "let a = 1;\n", string(j.Done()))
}
