package blockmgr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wipeseals/cauliflower/nand"
	"github.com/wipeseals/cauliflower/nand/sim"
)

// End-to-end lifecycle scenarios over the simulator.

func TestScenario_FreshArrayFirstAllocation(t *testing.T) {
	f := newFixture(t, smallConfig(), nil, sim.WithNumChips(1))
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)
	require.Equal(t, BlockRef{Chip: 0, Block: 0}, ref)

	want := fullPage(f.cfg, 0x5A)
	ok, err := m.Program(ref, 0, want)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := m.Read(ref, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestScenario_ProgramFailureRetiresBlock(t *testing.T) {
	store := &MemStore{}
	f := newFixture(t, smallConfig(), store)
	f.drv.InjectProgramFailure(0, 0, 0)
	m := f.manager(t)

	ref, err := m.Alloc()
	require.NoError(t, err)
	require.Equal(t, BlockRef{Chip: 0, Block: 0}, ref)

	ok, err := m.Program(ref, 0, fullPage(f.cfg, 0x11))
	require.NoError(t, err)
	require.False(t, ok)

	// The retirement is already durable.
	snap, err := store.Load()
	require.NoError(t, err)
	require.True(t, snap.Bad[0].Test(0))

	// Block 0 never comes back.
	for i := 0; i < 3; i++ {
		next, err := m.Alloc()
		require.NoError(t, err)
		require.NotEqual(t, uint32(0), next.Block)
	}
}

func TestScenario_ChipExhaustionFallsOverToOtherChip(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	for block := uint32(0); block < f.cfg.BlocksPerCS; block++ {
		ref, err := m.AllocOn(0)
		require.NoError(t, err)
		require.Equal(t, uint8(0), ref.Chip)
	}

	_, err := m.AllocOn(0)
	require.ErrorIs(t, err, ErrExhausted)

	// Unpinned allocation still succeeds on chip 1.
	ref, err := m.Alloc()
	require.NoError(t, err)
	require.Equal(t, BlockRef{Chip: 1, Block: 0}, ref)
}

func TestScenario_DeletedSnapshotTriggersScan(t *testing.T) {
	cfg := smallConfig()
	dir := t.TempDir()
	snapPath := filepath.Join(t.TempDir(), "allocator.snap")
	store := &FileStore{Path: snapPath}

	drv, err := sim.New(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, drv.Setup())
	drv.MarkFactoryBad(0, 2)
	drv.MarkFactoryBad(1, 5)
	cmd, err := nand.NewCommander(cfg, drv)
	require.NoError(t, err)

	m, err := New(cfg, cmd, store)
	require.NoError(t, err)
	_, err = m.Alloc()
	require.NoError(t, err)
	require.NoError(t, drv.Close())

	require.NoError(t, os.Remove(snapPath))

	// Reopen the same array without a snapshot: a full scan must
	// reconstruct the factory bad set and persist a fresh snapshot.
	drv2, err := sim.New(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, drv2.Setup())
	defer drv2.Close()
	cmd2, err := nand.NewCommander(cfg, drv2)
	require.NoError(t, err)

	m2, err := New(cfg, cmd2, store)
	require.NoError(t, err)

	for _, tc := range []struct {
		ref  BlockRef
		want BlockState
	}{
		{BlockRef{Chip: 0, Block: 2}, Bad},
		{BlockRef{Chip: 1, Block: 5}, Bad},
		{BlockRef{Chip: 0, Block: 0}, Free},
	} {
		state, err := m2.State(tc.ref.Chip, tc.ref.Block)
		require.NoError(t, err)
		require.Equalf(t, tc.want, state, "state of %v", tc.ref)
	}

	snap, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, snap.CheckGeometry(2, cfg.BlocksPerCS))
	require.True(t, snap.Bad[0].Test(2))
	require.True(t, snap.Bad[1].Test(5))
}

func TestScenario_FullArrayExhaustion(t *testing.T) {
	f := newFixture(t, smallConfig(), nil)
	m := f.manager(t)

	var n int
	for {
		_, err := m.Alloc()
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		n++
	}
	require.Equal(t, 16, n)

	// Releasing one block makes exactly one allocation possible again.
	require.NoError(t, m.Release(BlockRef{Chip: 1, Block: 3}))
	ref, err := m.Alloc()
	require.NoError(t, err)
	require.Equal(t, BlockRef{Chip: 1, Block: 3}, ref)
	_, err = m.Alloc()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestScenario_GeometryChangeTriggersRebuild(t *testing.T) {
	store := &MemStore{}
	f := newFixture(t, smallConfig(), store)
	m := f.manager(t)
	_, err := m.Alloc()
	require.NoError(t, err)

	// Same store, different geometry: snapshot must be rejected and the
	// allocation forgotten rather than misread.
	cfg2 := smallConfig()
	cfg2.BlocksPerCS = 4
	drv, err := sim.New(cfg2, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, drv.Setup())
	defer drv.Close()
	cmd, err := nand.NewCommander(cfg2, drv)
	require.NoError(t, err)

	m2, err := New(cfg2, cmd, store)
	require.NoError(t, err)
	state, err := m2.State(0, 0)
	require.NoError(t, err)
	require.Equal(t, Free, state)

	snap, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, uint32(4), snap.BlocksPerCS)
	require.Equal(t, uint32(2), snap.NumCS)
}
