// Package sim provides a file-backed NAND driver for development and tests.
// Each attached chip select is modeled as a flat image file (mmap-backed)
// plus a small register machine that interprets the same command, address,
// and data phases the hardware driver would put on the bus. Erase fills a
// block with all one-bits; program logically ANDs the payload into the
// page, so bits can be cleared but never set without an intervening erase.
package sim

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wipeseals/cauliflower/internal/format"
	"github.com/wipeseals/cauliflower/internal/mmfile"
	"github.com/wipeseals/cauliflower/nand"
)

type blockPage struct {
	block uint32
	page  uint32
}

// chip models one NAND die: its image plus the register state the command
// phases drive.
type chip struct {
	image *mmfile.File

	lastCmd  byte
	addr     []byte
	dataOut  []byte
	readBuf  []byte
	readPos  int
	status   byte
	statused bool

	failErase   map[uint32]bool
	failProgram map[blockPage]bool
}

// Driver is a file-backed implementation of nand.Driver.
//
// NOT thread-safe, like the bus it stands in for.
type Driver struct {
	cfg      nand.Config
	dir      string
	log      *slog.Logger
	numChips uint8

	chips    []*chip
	selected int // index into chips, -1 when deselected or chip absent
	wp       bool
	stall    bool
}

// Option configures the simulator.
type Option func(*Driver)

// WithNumChips limits how many chip selects actually answer, independent of
// how many the configuration wires up. Selecting an absent chip reads back
// zeros, which is what probing uses to count attached dies.
func WithNumChips(n uint8) Option {
	return func(d *Driver) { d.numChips = n }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// New returns a simulator storing chip images under dir. Call Setup before
// use.
func New(cfg nand.Config, dir string, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:      cfg,
		dir:      dir,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		numChips: cfg.NumCS,
		selected: -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

var _ nand.Driver = (*Driver)(nil)

// ImagePath returns the image file path for a chip select.
func (d *Driver) ImagePath(cs uint8) string {
	return filepath.Join(d.dir, fmt.Sprintf("cs%02d.bin", cs))
}

// Setup opens (creating if necessary) one image per attached chip. Fresh
// images are filled with the erased pattern.
func (d *Driver) Setup() error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("sim: create image dir: %w", err)
	}
	for cs := uint8(0); cs < d.numChips; cs++ {
		path := d.ImagePath(cs)
		_, statErr := os.Stat(path)
		fresh := os.IsNotExist(statErr)

		img, err := mmfile.OpenRW(path, d.cfg.ChipBytes())
		if err != nil {
			return fmt.Errorf("sim: open image cs=%d: %w", cs, err)
		}
		if fresh {
			data := img.Bytes()
			for i := range data {
				data[i] = format.ErasedByte
			}
		}
		d.chips = append(d.chips, &chip{
			image:       img,
			status:      format.StatusDataCacheReady | format.StatusPageBufferReady,
			failErase:   make(map[uint32]bool),
			failProgram: make(map[blockPage]bool),
		})
	}
	d.log.Debug("simulator ready", "dir", d.dir, "chips", d.numChips)
	return nil
}

// Close flushes and unmaps every image.
func (d *Driver) Close() error {
	var first error
	for _, c := range d.chips {
		if err := c.image.Close(); err != nil && first == nil {
			first = err
		}
	}
	d.chips = nil
	return first
}

// Sync flushes every image to its file.
func (d *Driver) Sync() error {
	for _, c := range d.chips {
		if err := c.image.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Select asserts the chip-enable line for cs. Selecting a chip select with
// no die attached leaves the bus floating; reads return zeros.
func (d *Driver) Select(cs uint8) {
	if int(cs) < len(d.chips) {
		d.selected = int(cs)
	} else {
		d.selected = -1
	}
}

// Deselect deasserts all chip-enable lines.
func (d *Driver) Deselect() { d.selected = -1 }

// SetWriteProtect drives the write-protect line for all chips.
func (d *Driver) SetWriteProtect(enabled bool) { d.wp = enabled }

// Command clocks one command byte into the selected chip.
func (d *Driver) Command(cmd byte) {
	c := d.chip()
	if c == nil {
		return
	}
	switch cmd {
	case format.CmdReadID, format.CmdReadFirst, format.CmdEraseFirst, format.CmdProgramFirst:
		c.addr = c.addr[:0]
		c.dataOut = c.dataOut[:0]
		c.lastCmd = cmd
	case format.CmdReadSecond:
		if c.lastCmd == format.CmdReadFirst {
			d.loadReadBuffer(c)
		}
		c.lastCmd = cmd
	case format.CmdEraseSecond:
		if c.lastCmd == format.CmdEraseFirst {
			d.eraseBlock(c)
		}
		c.lastCmd = cmd
	case format.CmdProgramSecond:
		if c.lastCmd == format.CmdProgramFirst {
			d.programPage(c)
		}
		c.lastCmd = cmd
	case format.CmdStatusRead:
		c.statused = true
		c.lastCmd = cmd
	default:
		c.lastCmd = cmd
	}
}

// Address clocks address cycles into the selected chip.
func (d *Driver) Address(cycles []byte) {
	if c := d.chip(); c != nil {
		c.addr = append(c.addr, cycles...)
	}
}

// DataOut clocks a program payload into the selected chip.
func (d *Driver) DataOut(p []byte) {
	if c := d.chip(); c != nil {
		c.dataOut = append(c.dataOut, p...)
	}
}

// DataIn clocks bytes out of the selected chip. An absent chip reads as
// zeros.
func (d *Driver) DataIn(p []byte) {
	c := d.chip()
	if c == nil {
		for i := range p {
			p[i] = 0x00
		}
		return
	}
	switch c.lastCmd {
	case format.CmdReadID:
		id := d.cfg.ExpectedID
		for i := range p {
			if i < len(id) {
				p[i] = id[i]
			} else {
				p[i] = 0x00
			}
		}
	case format.CmdStatusRead:
		status := c.status
		if !d.wp {
			status |= format.StatusWriteEnabled
		}
		for i := range p {
			p[i] = status
		}
		c.statused = false
	default:
		for i := range p {
			if c.readPos < len(c.readBuf) {
				p[i] = c.readBuf[c.readPos]
				c.readPos++
			} else {
				p[i] = format.ErasedByte
			}
		}
	}
}

// WaitReady reports ready immediately; every modeled operation completes
// synchronously. ForceBusy turns it into a timeout for tests.
func (d *Driver) WaitReady(timeout time.Duration) error {
	if d.stall {
		return nand.ErrDeviceTimeout
	}
	return nil
}

// ForceBusy makes every subsequent WaitReady report ErrDeviceTimeout,
// modeling a hung device.
func (d *Driver) ForceBusy(busy bool) { d.stall = busy }

// InjectEraseFailure makes every erase of the given block report failure in
// the status register.
func (d *Driver) InjectEraseFailure(cs uint8, block uint32) {
	if int(cs) < len(d.chips) {
		d.chips[cs].failErase[block] = true
	}
}

// InjectProgramFailure makes every program of the given page report failure
// in the status register.
func (d *Driver) InjectProgramFailure(cs uint8, block, page uint32) {
	if int(cs) < len(d.chips) {
		d.chips[cs].failProgram[blockPage{block, page}] = true
	}
}

// MarkFactoryBad stamps the factory bad-block marker onto a block, as the
// manufacturer would before shipping. Call between Setup and the first scan.
func (d *Driver) MarkFactoryBad(cs uint8, block uint32) {
	if int(cs) >= len(d.chips) || block >= d.cfg.BlocksPerCS {
		return
	}
	off := d.pageOffset(block, format.BadBlockMarkerPage) + format.BadBlockMarkerColumn
	d.chips[cs].image.Bytes()[off] = 0x00
}

func (d *Driver) chip() *chip {
	if d.selected < 0 {
		return nil
	}
	return d.chips[d.selected]
}

func (d *Driver) pageOffset(block, page uint32) int64 {
	return (int64(block)*int64(d.cfg.PagesPerBlock) + int64(page)) *
		int64(d.cfg.PageTotalBytes())
}

func (d *Driver) inBounds(block, page uint32) bool {
	return block < d.cfg.BlocksPerCS && page < d.cfg.PagesPerBlock
}

func (d *Driver) loadReadBuffer(c *chip) {
	block, page, col := format.DecodePageAddress(c.addr)
	if !d.inBounds(block, page) || col >= d.cfg.PageTotalBytes() {
		c.readBuf = nil
		c.readPos = 0
		return
	}
	start := d.pageOffset(block, page) + int64(col)
	end := d.pageOffset(block, page) + int64(d.cfg.PageTotalBytes())
	c.readBuf = c.image.Bytes()[start:end]
	c.readPos = 0
}

func (d *Driver) eraseBlock(c *chip) {
	block := format.DecodeBlockAddress(c.addr)
	if !d.inBounds(block, 0) || d.wp {
		c.status |= format.StatusFail
		return
	}
	if c.failErase[block] {
		d.log.Debug("injected erase failure", "block", block)
		c.status |= format.StatusFail
		return
	}
	start := d.pageOffset(block, 0)
	end := start + d.cfg.BlockBytes()
	data := c.image.Bytes()[start:end]
	for i := range data {
		data[i] = format.ErasedByte
	}
	c.status &^= format.StatusFail
}

func (d *Driver) programPage(c *chip) {
	block, page, col := format.DecodePageAddress(c.addr)
	if !d.inBounds(block, page) || col != 0 || d.wp {
		c.status |= format.StatusFail
		return
	}
	if c.failProgram[blockPage{block, page}] {
		d.log.Debug("injected program failure", "block", block, "page", page)
		c.status |= format.StatusFail
		return
	}
	start := d.pageOffset(block, page)
	target := c.image.Bytes()[start : start+int64(d.cfg.PageTotalBytes())]
	n := len(c.dataOut)
	if n > len(target) {
		n = len(target)
	}
	for i := 0; i < n; i++ {
		target[i] &= c.dataOut[i]
	}
	c.status &^= format.StatusFail
}
