// Package bitmap provides a fixed-size bit set with one bit per NAND block.
// The allocator keeps one bitmap per chip select for bad blocks and one for
// allocated blocks; the snapshot codec serializes the raw words.
package bitmap

import "math/bits"

const wordBits = 64

// Bitmap is a fixed-size bit set. The zero value is not usable; create one
// with New.
type Bitmap struct {
	bits []uint64
	size uint32
}

// New returns an all-zero bitmap holding size bits.
func New(size uint32) *Bitmap {
	return &Bitmap{
		bits: make([]uint64, (size+wordBits-1)/wordBits),
		size: size,
	}
}

// Size returns the number of bits the bitmap holds.
func (b *Bitmap) Size() uint32 { return b.size }

// Test reports whether bit i is set. Out-of-range indices report false.
func (b *Bitmap) Test(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.bits[i/wordBits]&(1<<(i%wordBits)) != 0
}

// Set sets bit i. Out-of-range indices are ignored.
func (b *Bitmap) Set(i uint32) {
	if i >= b.size {
		return
	}
	b.bits[i/wordBits] |= 1 << (i % wordBits)
}

// Clear clears bit i. Out-of-range indices are ignored.
func (b *Bitmap) Clear(i uint32) {
	if i >= b.size {
		return
	}
	b.bits[i/wordBits] &^= 1 << (i % wordBits)
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint32 {
	var n int
	for _, w := range b.bits {
		n += bits.OnesCount64(w)
	}
	return uint32(n)
}

// Words exposes the underlying words for serialization. The slice aliases
// the bitmap's storage; callers must not resize it.
func (b *Bitmap) Words() []uint64 { return b.bits }

// Clone returns an independent copy.
func (b *Bitmap) Clone() *Bitmap {
	c := New(b.size)
	copy(c.bits, b.bits)
	return c
}
