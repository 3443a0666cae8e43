package nand

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wipeseals/cauliflower/internal/format"
)

// Config describes the geometry and identity of the attached NAND devices.
// It is constructed once at startup and passed by value into the Commander
// and the block manager; nothing mutates it afterwards.
type Config struct {
	// PageDataBytes is the user data area of a page.
	PageDataBytes uint32

	// PageSpareBytes is the spare (redundancy) area appended to each page.
	PageSpareBytes uint32

	// PagesPerBlock is the number of pages in one erase block.
	PagesPerBlock uint32

	// BlocksPerCS is the number of erase blocks behind one chip select.
	BlocksPerCS uint32

	// NumCS is the number of chip-select lines the bus wires up. Fewer
	// chips may actually answer; probing establishes the live count.
	NumCS uint8

	// ExpectedID is the identification byte sequence a healthy chip
	// returns for CmdReadID.
	ExpectedID []byte

	// ReadyTimeout bounds every busy-wait on the ready/busy line.
	ReadyTimeout time.Duration
}

// DefaultConfig returns the configuration for the JISC-SSD board: two
// TC58NVG0S3HTA00 dies, 2048+128 byte pages, 64 pages per block, 1024
// blocks per chip select.
func DefaultConfig() Config {
	return Config{
		PageDataBytes:  2048,
		PageSpareBytes: 128,
		PagesPerBlock:  64,
		BlocksPerCS:    1024,
		NumCS:          2,
		ExpectedID:     []byte{0x98, 0xF1, 0x80, 0x15, 0x72},
		ReadyTimeout:   time.Second,
	}
}

// PageTotalBytes is the full programmable page size: data plus spare.
func (c Config) PageTotalBytes() uint32 {
	return c.PageDataBytes + c.PageSpareBytes
}

// BlockBytes is the size of one erase block including spare areas.
func (c Config) BlockBytes() int64 {
	return int64(c.PageTotalBytes()) * int64(c.PagesPerBlock)
}

// ChipBytes is the size of the full image behind one chip select.
func (c Config) ChipBytes() int64 {
	return c.BlockBytes() * int64(c.BlocksPerCS)
}

// Validate reports the first problem with the configuration.
func (c Config) Validate() error {
	switch {
	case c.PageDataBytes == 0:
		return fmt.Errorf("nand: config: page data size must be positive")
	case c.PagesPerBlock == 0 || c.PagesPerBlock > 64:
		return fmt.Errorf("nand: config: pages per block %d out of range (1..64)", c.PagesPerBlock)
	case c.BlocksPerCS == 0 || c.BlocksPerCS > 2048:
		return fmt.Errorf("nand: config: blocks per chip select %d out of range (1..2048)", c.BlocksPerCS)
	case c.NumCS == 0 || c.NumCS > 2:
		return fmt.Errorf("nand: config: %d chip selects out of range (1..2)", c.NumCS)
	case len(c.ExpectedID) != format.IDLength:
		return fmt.Errorf("nand: config: expected ID must be %d bytes, got %d", format.IDLength, len(c.ExpectedID))
	case c.ReadyTimeout <= 0:
		return fmt.Errorf("nand: config: ready timeout must be positive")
	}
	return nil
}

// IDMatches reports whether id equals the configured expected device ID.
func (c Config) IDMatches(id []byte) bool {
	return bytes.Equal(id, c.ExpectedID)
}
