package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/wipeseals/cauliflower/blockmgr"
	"github.com/wipeseals/cauliflower/cmd/cauliflowerctl/logger"
	"github.com/wipeseals/cauliflower/nand"
	"github.com/wipeseals/cauliflower/nand/sim"
)

// stack bundles the layers every subcommand needs: config, simulated
// driver, and command layer. The block manager is built on demand since
// raw page commands bypass it.
type stack struct {
	cfg nand.Config
	drv *sim.Driver
	cmd *nand.Commander
}

func openStack() (*stack, error) {
	cfg := nand.DefaultConfig()
	drv, err := sim.New(cfg, flashDir, sim.WithLogger(logger.L))
	if err != nil {
		return nil, err
	}
	if err := drv.Setup(); err != nil {
		return nil, fmt.Errorf("open flash images in %s: %w", flashDir, err)
	}
	if writeProtect {
		drv.SetWriteProtect(true)
		printVerbose("Write protect asserted; program and erase will be refused\n")
	}
	cmd, err := nand.NewCommander(cfg, drv, nand.WithLogger(logger.L))
	if err != nil {
		drv.Close()
		return nil, err
	}
	return &stack{cfg: cfg, drv: drv, cmd: cmd}, nil
}

func (s *stack) manager() (*blockmgr.Manager, error) {
	if writeProtect {
		// The manager treats a refused erase as a grown bad block and
		// persists that verdict, so running it behind write protect would
		// poison the snapshot.
		return nil, errors.New("block manager commands are unavailable with --write-protect")
	}
	path := snapshotPath
	if path == "" {
		path = filepath.Join(flashDir, "snapshot.bin")
	}
	printVerbose("Snapshot: %s\n", path)
	return blockmgr.New(s.cfg, s.cmd, &blockmgr.FileStore{Path: path},
		blockmgr.WithLogger(logger.L))
}

func (s *stack) Close() error {
	return s.drv.Close()
}

// parseChip parses a chip select argument.
func parseChip(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid chip select %q: %w", s, err)
	}
	return uint8(v), nil
}

// parseIndex parses a block or page index argument.
func parseIndex(s, what string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	return uint32(v), nil
}
