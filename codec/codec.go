// Package codec encodes user data into full NAND pages and back. A page is
// scrambled with an LFSR keystream (breaking up long runs of identical
// bits, which real NAND cells dislike) and tagged with a CRC32 stored in
// the spare area so corruption is detected on read. ECC is intentionally
// absent.
package codec

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/wipeseals/cauliflower/internal/format"
	"github.com/wipeseals/cauliflower/nand"
)

var (
	// ErrDataSize indicates a payload that is not exactly one page's user
	// data area (for Encode) or one full page (for Decode).
	ErrDataSize = errors.New("codec: wrong payload size")

	// ErrCorrupt indicates the CRC tag did not match the page contents.
	ErrCorrupt = errors.New("codec: page failed integrity check")
)

// DefaultScrambleSeed is the LFSR seed used unless WithSeed overrides it.
// Pages written under one seed only decode under the same seed.
const DefaultScrambleSeed = 0xA5

// Codec transforms between user data and full page images.
type Codec struct {
	dataBytes  uint32
	spareBytes uint32
	seed       byte
	scramble   bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithSeed overrides the scrambler seed.
func WithSeed(seed byte) Option {
	return func(c *Codec) { c.seed = seed }
}

// WithoutScramble disables scrambling, leaving only the CRC tag. Useful
// when inspecting raw images.
func WithoutScramble() Option {
	return func(c *Codec) { c.scramble = false }
}

// New returns a Codec for the given geometry.
func New(cfg nand.Config, opts ...Option) *Codec {
	c := &Codec{
		dataBytes:  cfg.PageDataBytes,
		spareBytes: cfg.PageSpareBytes,
		seed:       DefaultScrambleSeed,
		scramble:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode produces a full page image (data plus spare) from one page of
// user data. The spare area carries the CRC32 of the plain data; unused
// spare bytes stay at the erased value so they never fight the flash.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	if uint32(len(data)) != c.dataBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDataSize, len(data), c.dataBytes)
	}

	page := make([]byte, c.dataBytes+c.spareBytes)
	copy(page, data)
	if c.scramble {
		lfsr := newLFSR8(c.seed)
		for i := uint32(0); i < c.dataBytes; i++ {
			page[i] ^= lfsr.next()
		}
	}

	spare := page[c.dataBytes:]
	for i := range spare {
		spare[i] = format.ErasedByte
	}
	format.PutU32(spare, 0, crc32.ChecksumIEEE(data))
	return page, nil
}

// Decode recovers the user data from a full page image, verifying the CRC
// tag. ErrCorrupt means the page was damaged (or never programmed).
func (c *Codec) Decode(page []byte) ([]byte, error) {
	if uint32(len(page)) != c.dataBytes+c.spareBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d",
			ErrDataSize, len(page), c.dataBytes+c.spareBytes)
	}

	data := make([]byte, c.dataBytes)
	copy(data, page[:c.dataBytes])
	if c.scramble {
		lfsr := newLFSR8(c.seed)
		for i := range data {
			data[i] ^= lfsr.next()
		}
	}

	if crc32.ChecksumIEEE(data) != format.ReadU32(page[c.dataBytes:], 0) {
		return nil, ErrCorrupt
	}
	return data, nil
}
