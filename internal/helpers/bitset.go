package helpers

import "bytes"

// A fixed-size set of small integers. The linker uses one per module to track
// which chunk seeds (entry points and split points) can reach that module.
type BitSet struct {
	entries []byte
}

func NewBitSet(bitCount uint) BitSet {
	return BitSet{make([]byte, (bitCount+7)/8)}
}

func (bs BitSet) HasBit(bit uint) bool {
	return (bs.entries[bit/8] & (1 << (bit & 7))) != 0
}

func (bs BitSet) SetBit(bit uint) {
	bs.entries[bit/8] |= 1 << (bit & 7)
}

func (bs BitSet) Equals(other BitSet) bool {
	return bytes.Equal(bs.entries, other.entries)
}

func (bs BitSet) IsEmpty() bool {
	for _, b := range bs.entries {
		if b != 0 {
			return false
		}
	}
	return true
}

func (bs BitSet) Count() (count int) {
	for _, b := range bs.entries {
		for ; b != 0; b &= b - 1 {
			count++
		}
	}
	return
}

// Returns the set bits in ascending order
func (bs BitSet) Bits() (bits []uint) {
	for i, b := range bs.entries {
		for j := uint(0); j < 8; j++ {
			if b&(1<<j) != 0 {
				bits = append(bits, uint(i)*8+j)
			}
		}
	}
	return
}

func (bs BitSet) Clone() BitSet {
	return BitSet{append([]byte{}, bs.entries...)}
}

// This is suitable for use as a map key
func (bs BitSet) String() string {
	return string(bs.entries)
}
