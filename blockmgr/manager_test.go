package blockmgr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wipeseals/cauliflower/nand"
	"github.com/wipeseals/cauliflower/nand/sim"
)

// smallConfig keeps test arrays tiny: 2 chips, 8 blocks of 4 pages each.
func smallConfig() nand.Config {
	cfg := nand.DefaultConfig()
	cfg.PageDataBytes = 64
	cfg.PageSpareBytes = 8
	cfg.PagesPerBlock = 4
	cfg.BlocksPerCS = 8
	return cfg
}

type fixture struct {
	cfg   nand.Config
	drv   *sim.Driver
	cmd   *nand.Commander
	store SnapshotStore
}

func newFixture(t *testing.T, cfg nand.Config, store SnapshotStore, opts ...sim.Option) *fixture {
	t.Helper()
	drv, err := sim.New(cfg, t.TempDir(), opts...)
	require.NoError(t, err)
	require.NoError(t, drv.Setup())
	t.Cleanup(func() { drv.Close() })

	cmd, err := nand.NewCommander(cfg, drv)
	require.NoError(t, err)

	if store == nil {
		store = &MemStore{}
	}
	return &fixture{cfg: cfg, drv: drv, cmd: cmd, store: store}
}

func (f *fixture) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(f.cfg, f.cmd, f.store)
	require.NoError(t, err)
	return m
}

func fullPage(cfg nand.Config, fill byte) []byte {
	p := make([]byte, cfg.PageTotalBytes())
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestAlloc_ReturnsFreeGoodBlocks(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)
	require.Equal(t, BlockRef{Chip: 0, Block: 0}, ref)

	state, err := m.State(ref.Chip, ref.Block)
	require.NoError(t, err)
	require.Equal(t, Allocated, state)
}

func TestAlloc_NeverReturnsSameBlockTwice(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	seen := make(map[BlockRef]bool)
	for {
		ref, err := m.Alloc()
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		require.False(t, seen[ref], "block %v allocated twice", ref)
		seen[ref] = true
	}
	require.Len(t, seen, 16, "2 chips x 8 blocks")
}

func TestAlloc_Deterministic(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	var got []BlockRef
	for i := 0; i < 10; i++ {
		ref, err := m.Alloc()
		require.NoError(t, err)
		got = append(got, ref)
	}
	// Lowest chip select first, then lowest block index.
	for i, ref := range got {
		require.Equal(t, BlockRef{Chip: uint8(i / 8), Block: uint32(i % 8)}, ref)
	}
}

func TestAlloc_EraseFailureSkipsAndMarksBad(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	f.drv.InjectEraseFailure(0, 0)
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)
	require.Equal(t, BlockRef{Chip: 0, Block: 1}, ref)

	state, err := m.State(0, 0)
	require.NoError(t, err)
	require.Equal(t, Bad, state)
}

func TestProgramReadRoundTrip(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)

	for page := uint32(0); page < f.cfg.PagesPerBlock; page++ {
		want := fullPage(f.cfg, byte(0xA0+page))
		ok, err := m.Program(ref, page, want)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := m.Read(ref, page)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestProgram_UnallocatedBlockRejected(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	before := m.Stats()
	_, err := m.Program(BlockRef{Chip: 0, Block: 3}, 0, fullPage(f.cfg, 0xAA))
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, before, m.Stats(), "failed program must leave bitmaps unchanged")
}

func TestProgram_WrongLength(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)

	_, err = m.Program(ref, 0, make([]byte, f.cfg.PageDataBytes))
	require.ErrorIs(t, err, nand.ErrPageSize)
}

func TestRead_ChecksBeforeHardware(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	_, err := m.Read(BlockRef{Chip: 0, Block: 99}, 0)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = m.Read(BlockRef{Chip: 9, Block: 0}, 0)
	require.ErrorIs(t, err, ErrOutOfRange)

	ref, err := m.Alloc()
	require.NoError(t, err)
	_, err = m.Read(ref, f.cfg.PagesPerBlock)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = m.Read(BlockRef{Chip: 0, Block: 5}, 0)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReleaseAndReuse(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)

	require.NoError(t, m.Release(ref))
	state, err := m.State(ref.Chip, ref.Block)
	require.NoError(t, err)
	require.Equal(t, Free, state)

	// First-fit hands the same block out again.
	ref2, err := m.Alloc()
	require.NoError(t, err)
	require.Equal(t, ref, ref2)
}

func TestRelease_InvalidStates(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	f.drv.InjectEraseFailure(0, 0)
	m := f.manager(t)

	require.ErrorIs(t, m.Release(BlockRef{Chip: 0, Block: 4}), ErrInvalidState)

	if _, err := m.Alloc(); err != nil { // marks block 0 bad along the way
		t.Fatal(err)
	}
	require.ErrorIs(t, m.Release(BlockRef{Chip: 0, Block: 0}), ErrInvalidState)
}

func TestErase_RequiresAllocation(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	_, err := m.Erase(BlockRef{Chip: 0, Block: 2})
	require.ErrorIs(t, err, ErrInvalidState)

	ref, err := m.Alloc()
	require.NoError(t, err)

	ok, err := m.Program(ref, 0, fullPage(f.cfg, 0x00))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Erase(ref)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := m.Read(ref, 0)
	require.NoError(t, err)
	require.Equal(t, fullPage(f.cfg, 0xFF), got)
}

func TestBadBlock_Monotonic(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	f.drv.InjectProgramFailure(0, 0, 0)
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)

	ok, err := m.Program(ref, 0, fullPage(f.cfg, 0x55))
	require.NoError(t, err)
	require.False(t, ok)

	state, err := m.State(0, 0)
	require.NoError(t, err)
	require.Equal(t, Bad, state)

	// Bad is terminal: release and re-program both refuse.
	require.ErrorIs(t, m.Release(ref), ErrInvalidState)
	_, err = m.Program(ref, 1, fullPage(f.cfg, 0x55))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPersistence_SurvivesRestart(t *testing.T) {
	store := &MemStore{}
	f := newFixture(t, smallConfig(), store)
	m := f.manager(t)

	first, err := m.Alloc()
	require.NoError(t, err)
	second, err := m.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// A new manager over the same store must not re-allocate either block.
	m2, err := New(f.cfg, f.cmd, store)
	require.NoError(t, err)
	third, err := m2.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, first, third)
	require.NotEqual(t, second, third)
}

func TestPersistence_CorruptSnapshotRebuilds(t *testing.T) {
	store := &MemStore{}
	f := newFixture(t, smallConfig(), store)
	f.drv.MarkFactoryBad(1, 7)

	m := f.manager(t)
	_, err := m.Alloc()
	require.NoError(t, err)

	store.Corrupt()

	m2, err := New(f.cfg, f.cmd, store)
	require.NoError(t, err)

	// The allocation is forgotten (it was only in the corrupt snapshot),
	// but the factory marker is rediscovered by the scan.
	state, err := m2.State(1, 7)
	require.NoError(t, err)
	require.Equal(t, Bad, state)
	state, err = m2.State(0, 0)
	require.NoError(t, err)
	require.Equal(t, Free, state)
}

func TestProbe_NoChips(t *testing.T) {
	f := newFixture(t, smallConfig(), nil, sim.WithNumChips(0))
	_, err := New(f.cfg, f.cmd, f.store)
	require.ErrorIs(t, err, ErrNoChips)
}

func TestProbe_SingleChip(t *testing.T) {
	f := newFixture(t, smallConfig(), nil, sim.WithNumChips(1))
	m := f.manager(t)
	require.Equal(t, uint8(1), m.NumChips())

	_, err := m.AllocOn(1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestStats(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	f.drv.MarkFactoryBad(0, 3)
	m := f.manager(t)

	_, err := m.Alloc()
	require.NoError(t, err)

	st := m.Stats()
	require.Len(t, st.Chips, 2)
	require.Equal(t, ChipStats{Free: 6, Allocated: 1, Bad: 1}, st.Chips[0])
	require.Equal(t, ChipStats{Free: 8, Allocated: 0, Bad: 0}, st.Chips[1])
}
