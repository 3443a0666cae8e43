// Package ftl exposes the NAND array as a flat logical block device. A
// logical sector is one page of user data; writes always go to the next
// free page of the current write block, so an overwrite never touches the
// old page. The logical-to-physical map lives in memory and is rebuilt
// empty on every start; the allocator underneath owns all durable state.
package ftl

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/wipeseals/cauliflower/blockmgr"
	"github.com/wipeseals/cauliflower/codec"
	"github.com/wipeseals/cauliflower/nand"
)

var (
	// ErrOutOfRange indicates a sector index past the device capacity.
	ErrOutOfRange = errors.New("ftl: sector out of range")

	// ErrBufferSize indicates a buffer too small for the requested sectors.
	ErrBufferSize = errors.New("ftl: buffer too small")

	// ErrNoSpace indicates the array has too few good blocks for a device
	// of any useful size.
	ErrNoSpace = errors.New("ftl: not enough good blocks")
)

// Pool is the slice of the block allocator the device consumes.
// *blockmgr.Manager implements it.
type Pool interface {
	Alloc() (blockmgr.BlockRef, error)
	Release(ref blockmgr.BlockRef) error
	Read(ref blockmgr.BlockRef, page uint32) ([]byte, error)
	Program(ref blockmgr.BlockRef, page uint32, data []byte) (bool, error)
	Stats() blockmgr.Stats
}

var _ Pool = (*blockmgr.Manager)(nil)

// mapping locates one logical sector on flash.
type mapping struct {
	ref   blockmgr.BlockRef
	page  uint32
	valid bool
}

// openBlock tracks an allocated block holding live sectors.
type openBlock struct {
	live     uint32
	nextPage uint32
}

// Device is the logical block device. NOT thread-safe, matching the
// layers below it.
type Device struct {
	pool  Pool
	codec *codec.Codec
	log   *slog.Logger

	sectorSize    uint32
	pagesPerBlock uint32
	sectorCount   uint64

	sectors []mapping
	open    map[blockmgr.BlockRef]*openBlock

	cur    blockmgr.BlockRef
	curSet bool
}

// Option configures a Device.
type Option func(*devConfig)

type devConfig struct {
	log     *slog.Logger
	reserve uint32
	codec   []codec.Option
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *devConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithReservedBlocks sets how many good blocks stay out of the advertised
// capacity as replacements for grown bad blocks. Default 2.
func WithReservedBlocks(n uint32) Option {
	return func(c *devConfig) { c.reserve = n }
}

// WithCodecOptions forwards options to the page codec.
func WithCodecOptions(opts ...codec.Option) Option {
	return func(c *devConfig) { c.codec = opts }
}

// New sizes a Device over the pool's current free blocks. A few blocks
// are held back so a grown bad block does not immediately shrink the
// device below its advertised capacity.
func New(cfg nand.Config, pool Pool, opts ...Option) (*Device, error) {
	dc := devConfig{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		reserve: 2,
	}
	for _, opt := range opts {
		opt(&dc)
	}

	var free uint32
	for _, chip := range pool.Stats().Chips {
		free += chip.Free
	}
	if free <= dc.reserve {
		return nil, fmt.Errorf("%w: %d free, %d reserved", ErrNoSpace, free, dc.reserve)
	}
	usable := free - dc.reserve

	d := &Device{
		pool:          pool,
		codec:         codec.New(cfg, dc.codec...),
		log:           dc.log,
		sectorSize:    cfg.PageDataBytes,
		pagesPerBlock: cfg.PagesPerBlock,
		sectorCount:   uint64(usable) * uint64(cfg.PagesPerBlock),
		open:          make(map[blockmgr.BlockRef]*openBlock),
	}
	d.sectors = make([]mapping, d.sectorCount)
	d.log.Info("logical device sized",
		"sectors", d.sectorCount, "sectorBytes", d.sectorSize,
		"freeBlocks", free, "reserved", dc.reserve)
	return d, nil
}

// BlockSize returns the logical sector size in bytes.
func (d *Device) BlockSize() uint32 { return d.sectorSize }

// BlockCount returns the number of logical sectors.
func (d *Device) BlockCount() uint64 { return d.sectorCount }

// Read copies whole sectors starting at lba into buf and returns how many
// sectors it read. Sectors never written read as zeros.
func (d *Device) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	if err := d.checkRange(lba, blocks, buf); err != nil {
		return 0, err
	}
	for i := uint32(0); i < blocks; i++ {
		dst := buf[uint64(i)*uint64(d.sectorSize):][:d.sectorSize]
		if err := d.readSector(lba+uint64(i), dst); err != nil {
			return i, err
		}
	}
	return blocks, nil
}

// Write stores whole sectors starting at lba from buf and returns how many
// sectors it wrote. Each sector lands on a fresh page; the page previously
// holding it becomes stale, and a block whose pages are all stale goes back
// to the free pool.
func (d *Device) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	if err := d.checkRange(lba, blocks, buf); err != nil {
		return 0, err
	}
	for i := uint32(0); i < blocks; i++ {
		src := buf[uint64(i)*uint64(d.sectorSize):][:d.sectorSize]
		if err := d.writeSector(lba+uint64(i), src); err != nil {
			return i, err
		}
	}
	return blocks, nil
}

// Trim forgets the contents of whole sectors starting at lba. Trimmed
// sectors read as zeros; blocks emptied by the trim are released.
func (d *Device) Trim(lba uint64, blocks uint32) error {
	if uint64(blocks) > d.sectorCount || lba > d.sectorCount-uint64(blocks) {
		return fmt.Errorf("%w: lba %d + %d sectors (have %d)",
			ErrOutOfRange, lba, blocks, d.sectorCount)
	}
	for i := uint32(0); i < blocks; i++ {
		if err := d.unmap(lba + uint64(i)); err != nil {
			return err
		}
	}
	return nil
}

// Sync is a no-op: the allocator persists its state on every transition
// and the sector map is volatile by design.
func (d *Device) Sync() error { return nil }

func (d *Device) checkRange(lba uint64, blocks uint32, buf []byte) error {
	// Subtract instead of adding so an LBA near the top of uint64 cannot
	// wrap past the guard.
	if uint64(blocks) > d.sectorCount || lba > d.sectorCount-uint64(blocks) {
		return fmt.Errorf("%w: lba %d + %d sectors (have %d)",
			ErrOutOfRange, lba, blocks, d.sectorCount)
	}
	if need := uint64(blocks) * uint64(d.sectorSize); uint64(len(buf)) < need {
		return fmt.Errorf("%w: got %d bytes, need %d", ErrBufferSize, len(buf), need)
	}
	return nil
}

func (d *Device) readSector(sector uint64, dst []byte) error {
	m := d.sectors[sector]
	if !m.valid {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	page, err := d.pool.Read(m.ref, m.page)
	if err != nil {
		return fmt.Errorf("ftl: sector %d: %w", sector, err)
	}
	data, err := d.codec.Decode(page)
	if err != nil {
		return fmt.Errorf("ftl: sector %d at %v page %d: %w", sector, m.ref, m.page, err)
	}
	copy(dst, data)
	return nil
}

func (d *Device) writeSector(sector uint64, src []byte) error {
	page, err := d.codec.Encode(src)
	if err != nil {
		return err
	}

	for {
		ref, slot, err := d.writeSlot()
		if err != nil {
			return err
		}
		ok, err := d.pool.Program(ref, slot, page)
		if err != nil {
			return err
		}
		if !ok {
			// The write block went bad mid-stream. Its earlier pages are
			// gone with it; drop their mappings and start a fresh block.
			d.retire(ref)
			continue
		}

		ob := d.open[ref]
		ob.live++
		if err := d.unmap(sector); err != nil {
			return err
		}
		d.sectors[sector] = mapping{ref: ref, page: slot, valid: true}
		return nil
	}
}

// writeSlot returns the block and page index the next sector write should
// land on, allocating a fresh block when the current one is full.
func (d *Device) writeSlot() (blockmgr.BlockRef, uint32, error) {
	if d.curSet {
		ob := d.open[d.cur]
		if ob.nextPage < d.pagesPerBlock {
			slot := ob.nextPage
			ob.nextPage++
			return d.cur, slot, nil
		}
		full := d.cur
		d.curSet = false
		if ob.live == 0 {
			// Every page written here was overwritten while it was still
			// the write block; nothing maps into it anymore.
			delete(d.open, full)
			if err := d.pool.Release(full); err != nil {
				return blockmgr.BlockRef{}, 0, err
			}
		}
	}

	ref, err := d.pool.Alloc()
	if err != nil {
		return blockmgr.BlockRef{}, 0, err
	}
	ob := &openBlock{nextPage: 1}
	d.open[ref] = ob
	d.cur = ref
	d.curSet = true
	return ref, 0, nil
}

// unmap drops the mapping for one sector, releasing its block once no
// live sector remains on it.
func (d *Device) unmap(sector uint64) error {
	m := d.sectors[sector]
	if !m.valid {
		return nil
	}
	d.sectors[sector] = mapping{}

	ob := d.open[m.ref]
	ob.live--
	if ob.live > 0 {
		return nil
	}
	if d.curSet && m.ref == d.cur {
		// Still the write block; keep filling it.
		return nil
	}
	delete(d.open, m.ref)
	if err := d.pool.Release(m.ref); err != nil {
		return err
	}
	d.log.Debug("stale block released", "cs", m.ref.Chip, "block", m.ref.Block)
	return nil
}

// retire is the failure path: a block refused a program and the allocator
// has already marked it bad. Every sector mapped into it is lost.
func (d *Device) retire(ref blockmgr.BlockRef) {
	var lost int
	for i := range d.sectors {
		if d.sectors[i].valid && d.sectors[i].ref == ref {
			d.sectors[i] = mapping{}
			lost++
		}
	}
	delete(d.open, ref)
	if d.curSet && d.cur == ref {
		d.curSet = false
	}
	if lost > 0 {
		d.log.Warn("write block retired, sectors lost",
			"cs", ref.Chip, "block", ref.Block, "sectors", lost)
	}
}
