package blockmgr

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/wipeseals/cauliflower/internal/bitmap"
	"github.com/wipeseals/cauliflower/internal/format"
	"github.com/wipeseals/cauliflower/nand"
)

// BlockState is the allocator's view of one erase block.
type BlockState uint8

const (
	// Free blocks are eligible for allocation.
	Free BlockState = iota
	// Allocated blocks are owned by a caller until released.
	Allocated
	// Bad blocks failed manufacturing test or a runtime erase/program.
	// They never leave this state.
	Bad
)

func (s BlockState) String() string {
	switch s {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Bad:
		return "bad"
	default:
		return fmt.Sprintf("BlockState(%d)", uint8(s))
	}
}

// BlockRef names one erase block on one chip select.
type BlockRef struct {
	Chip  uint8
	Block uint32
}

func (r BlockRef) String() string {
	return fmt.Sprintf("cs%d/block%d", r.Chip, r.Block)
}

// Commands is the slice of the NAND command layer the manager consumes.
// *nand.Commander implements it.
type Commands interface {
	ReadID(cs uint8) ([]byte, error)
	ReadPage(cs uint8, block, page uint32) ([]byte, error)
	ReadPageSlice(cs uint8, block, page, col, n uint32) ([]byte, error)
	EraseBlock(cs uint8, block uint32) (bool, error)
	ProgramPage(cs uint8, block, page uint32, data []byte) (bool, error)
}

var _ Commands = (*nand.Commander)(nil)

// Stats summarizes per-chip block states.
type Stats struct {
	Chips []ChipStats
}

// ChipStats counts block states on one chip select.
type ChipStats struct {
	Free      uint32
	Allocated uint32
	Bad       uint32
}

// Manager is the block allocator. It is the sole owner of the allocation
// and bad-block bitmaps and of the persisted snapshot.
//
// NOT thread-safe: the USB front-end, manager, and command layer run as one
// sequential call chain. A future concurrent caller must wrap every
// state-changing operation in a single critical section to preserve the
// no-double-allocation invariant.
type Manager struct {
	cfg   nand.Config
	cmd   Commands
	store SnapshotStore
	log   *slog.Logger

	numCS     uint8
	bad       []*bitmap.Bitmap
	allocated []*bitmap.Bitmap
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger attaches a structured logger. Without it, the manager is
// silent.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// New builds a Manager and runs the initialization protocol: probe the
// attached chips, load the persisted snapshot, and fall back to a full
// factory bad-block scan when the snapshot is missing, corrupt, or was
// taken under a different geometry. The resulting state is persisted
// before New returns.
func New(cfg nand.Config, cmd Commands, store SnapshotStore, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:   cfg,
		cmd:   cmd,
		store: store,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}

	numCS, err := m.probeChips()
	if err != nil {
		return nil, err
	}
	if numCS == 0 {
		return nil, ErrNoChips
	}
	m.numCS = numCS

	if err := m.restore(); err != nil {
		// A bad snapshot is recoverable; rebuild from the chips.
		m.log.Warn("snapshot unusable, rebuilding from scan", "error", err)
		if scanErr := m.rebuild(); scanErr != nil {
			return nil, scanErr
		}
	}

	if err := m.persist(); err != nil {
		return nil, fmt.Errorf("blockmgr: persist initial snapshot: %w", err)
	}
	return m, nil
}

// NumChips returns the number of chip selects that answered probing.
func (m *Manager) NumChips() uint8 { return m.numCS }

// State reports the allocator's view of one block.
func (m *Manager) State(cs uint8, block uint32) (BlockState, error) {
	if err := m.checkBlock(cs, block); err != nil {
		return Free, err
	}
	switch {
	case m.bad[cs].Test(block):
		return Bad, nil
	case m.allocated[cs].Test(block):
		return Allocated, nil
	default:
		return Free, nil
	}
}

// Stats summarizes block states across all live chips.
func (m *Manager) Stats() Stats {
	var st Stats
	for cs := uint8(0); cs < m.numCS; cs++ {
		bad := m.bad[cs].Count()
		alloc := m.allocated[cs].Count()
		st.Chips = append(st.Chips, ChipStats{
			Free:      m.cfg.BlocksPerCS - bad - alloc,
			Allocated: alloc,
			Bad:       bad,
		})
	}
	return st
}

// Alloc claims the first free, good block, scanning chip selects in
// ascending order and block indices in ascending order within each.
// The block is erased before it is handed out; a block that refuses to
// erase is marked bad and the scan continues. Returns ErrExhausted when
// no eligible block remains.
func (m *Manager) Alloc() (BlockRef, error) {
	return m.alloc(-1)
}

// AllocOn is Alloc restricted to a single chip select.
func (m *Manager) AllocOn(cs uint8) (BlockRef, error) {
	if cs >= m.numCS {
		return BlockRef{}, fmt.Errorf("%w: cs %d (have %d)", ErrOutOfRange, cs, m.numCS)
	}
	return m.alloc(int(cs))
}

func (m *Manager) alloc(only int) (BlockRef, error) {
	for {
		ref, found := m.pickFree(only)
		if !found {
			return BlockRef{}, ErrExhausted
		}

		ok, err := m.cmd.EraseBlock(ref.Chip, ref.Block)
		if err != nil {
			return BlockRef{}, err
		}
		if !ok {
			// The candidate went bad under erase; keep scanning.
			if err := m.markBad(ref); err != nil {
				return BlockRef{}, err
			}
			continue
		}

		m.allocated[ref.Chip].Set(ref.Block)
		if err := m.persist(); err != nil {
			m.allocated[ref.Chip].Clear(ref.Block)
			return BlockRef{}, err
		}
		m.log.Debug("alloc", "cs", ref.Chip, "block", ref.Block)
		return ref, nil
	}
}

// Release returns an allocated block to the free pool. The block must
// currently be allocated; releasing a free or bad block is ErrInvalidState.
func (m *Manager) Release(ref BlockRef) error {
	if err := m.checkBlock(ref.Chip, ref.Block); err != nil {
		return err
	}
	if m.bad[ref.Chip].Test(ref.Block) || !m.allocated[ref.Chip].Test(ref.Block) {
		return fmt.Errorf("%w: release %v", ErrInvalidState, ref)
	}
	m.allocated[ref.Chip].Clear(ref.Block)
	if err := m.persist(); err != nil {
		m.allocated[ref.Chip].Set(ref.Block)
		return err
	}
	m.log.Debug("release", "cs", ref.Chip, "block", ref.Block)
	return nil
}

// Read returns one full page of an allocated block. State and bounds are
// checked before any hardware access; reading never mutates allocator
// state.
func (m *Manager) Read(ref BlockRef, page uint32) ([]byte, error) {
	if err := m.checkPage(ref, page); err != nil {
		return nil, err
	}
	if !m.allocated[ref.Chip].Test(ref.Block) || m.bad[ref.Chip].Test(ref.Block) {
		return nil, fmt.Errorf("%w: read %v", ErrInvalidState, ref)
	}
	return m.cmd.ReadPage(ref.Chip, ref.Block, page)
}

// Program writes one full page (data plus spare) of an allocated block.
// A hardware-reported failure marks the block bad, persists, and returns
// false; the caller is expected to allocate a replacement. True means the
// chip accepted the page.
func (m *Manager) Program(ref BlockRef, page uint32, data []byte) (bool, error) {
	if err := m.checkPage(ref, page); err != nil {
		return false, err
	}
	if !m.allocated[ref.Chip].Test(ref.Block) || m.bad[ref.Chip].Test(ref.Block) {
		return false, fmt.Errorf("%w: program %v", ErrInvalidState, ref)
	}

	ok, err := m.cmd.ProgramPage(ref.Chip, ref.Block, page, data)
	if err != nil {
		return false, err
	}
	if !ok {
		if err := m.markBad(ref); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Erase erases an allocated block in place, keeping it allocated. Like
// Program, a refused erase marks the block bad and returns false.
func (m *Manager) Erase(ref BlockRef) (bool, error) {
	if err := m.checkBlock(ref.Chip, ref.Block); err != nil {
		return false, err
	}
	if !m.allocated[ref.Chip].Test(ref.Block) || m.bad[ref.Chip].Test(ref.Block) {
		return false, fmt.Errorf("%w: erase %v", ErrInvalidState, ref)
	}

	ok, err := m.cmd.EraseBlock(ref.Chip, ref.Block)
	if err != nil {
		return false, err
	}
	if !ok {
		if err := m.markBad(ref); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ---- initialization ----

func (m *Manager) probeChips() (uint8, error) {
	var n uint8
	for cs := uint8(0); cs < m.cfg.NumCS; cs++ {
		id, err := m.cmd.ReadID(cs)
		if err != nil {
			return 0, fmt.Errorf("blockmgr: probe cs %d: %w", cs, err)
		}
		if !m.cfg.IDMatches(id) {
			break
		}
		n++
	}
	m.log.Info("probed chips", "attached", n, "wired", m.cfg.NumCS)
	return n, nil
}

func (m *Manager) restore() error {
	snap, err := m.store.Load()
	if err != nil {
		return err
	}
	if err := snap.CheckGeometry(uint32(m.numCS), m.cfg.BlocksPerCS); err != nil {
		return err
	}
	m.bad = snap.Bad
	m.allocated = snap.Allocated
	m.log.Info("snapshot restored", "chips", m.numCS)
	return nil
}

// rebuild performs the expensive fallback: scan every block's factory
// bad-block marker and start with everything else free.
func (m *Manager) rebuild() error {
	m.bad = nil
	m.allocated = nil
	for cs := uint8(0); cs < m.numCS; cs++ {
		bad := bitmap.New(m.cfg.BlocksPerCS)
		for block := uint32(0); block < m.cfg.BlocksPerCS; block++ {
			marker, err := m.cmd.ReadPageSlice(cs, block,
				format.BadBlockMarkerPage, format.BadBlockMarkerColumn, 1)
			if err != nil {
				return fmt.Errorf("blockmgr: scan cs %d block %d: %w", cs, block, err)
			}
			if marker[0] != format.ErasedByte {
				bad.Set(block)
			}
		}
		m.log.Info("bad-block scan", "cs", cs, "bad", bad.Count())
		m.bad = append(m.bad, bad)
		m.allocated = append(m.allocated, bitmap.New(m.cfg.BlocksPerCS))
	}
	return nil
}

// ---- internals ----

func (m *Manager) snapshot() *format.Snapshot {
	return &format.Snapshot{
		NumCS:       uint32(m.numCS),
		BlocksPerCS: m.cfg.BlocksPerCS,
		Bad:         m.bad,
		Allocated:   m.allocated,
	}
}

func (m *Manager) persist() error {
	return m.store.Save(m.snapshot())
}

func (m *Manager) markBad(ref BlockRef) error {
	m.bad[ref.Chip].Set(ref.Block)
	m.allocated[ref.Chip].Clear(ref.Block)
	m.log.Warn("block marked bad", "cs", ref.Chip, "block", ref.Block)
	return m.persist()
}

func (m *Manager) pickFree(only int) (BlockRef, bool) {
	for cs := uint8(0); cs < m.numCS; cs++ {
		if only >= 0 && cs != uint8(only) {
			continue
		}
		for block := uint32(0); block < m.cfg.BlocksPerCS; block++ {
			if m.bad[cs].Test(block) || m.allocated[cs].Test(block) {
				continue
			}
			return BlockRef{Chip: cs, Block: block}, true
		}
	}
	return BlockRef{}, false
}

func (m *Manager) checkBlock(cs uint8, block uint32) error {
	if cs >= m.numCS {
		return fmt.Errorf("%w: cs %d (have %d)", ErrOutOfRange, cs, m.numCS)
	}
	if block >= m.cfg.BlocksPerCS {
		return fmt.Errorf("%w: block %d (have %d)", ErrOutOfRange, block, m.cfg.BlocksPerCS)
	}
	return nil
}

func (m *Manager) checkPage(ref BlockRef, page uint32) error {
	if err := m.checkBlock(ref.Chip, ref.Block); err != nil {
		return err
	}
	if page >= m.cfg.PagesPerBlock {
		return fmt.Errorf("%w: page %d (have %d)", ErrOutOfRange, page, m.cfg.PagesPerBlock)
	}
	return nil
}
