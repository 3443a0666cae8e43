package main

import (
	"github.com/spf13/cobra"

	"github.com/wipeseals/cauliflower/internal/format"
)

func init() {
	rootCmd.AddCommand(newScanCmd())
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan every block's factory bad-block marker",
		Long: `Reads the bad-block marker byte of every block on every attached
chip, bypassing the block manager's snapshot. Blocks whose marker byte is
not 0xFF left the factory unusable.

Example:
  cauliflowerctl scan
  cauliflowerctl scan --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan()
		},
	}
}

type scanResult struct {
	Chip      uint8    `json:"chip"`
	Blocks    uint32   `json:"blocks"`
	BadBlocks []uint32 `json:"badBlocks"`
}

func runScan() error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	var out []scanResult
	for cs := uint8(0); cs < s.cfg.NumCS; cs++ {
		id, err := s.cmd.ReadID(cs)
		if err != nil {
			return err
		}
		if !s.cfg.IDMatches(id) {
			printVerbose("cs%d: absent, skipping\n", cs)
			continue
		}

		res := scanResult{Chip: cs, Blocks: s.cfg.BlocksPerCS, BadBlocks: []uint32{}}
		for block := uint32(0); block < s.cfg.BlocksPerCS; block++ {
			marker, err := s.cmd.ReadPageSlice(cs, block,
				format.BadBlockMarkerPage, format.BadBlockMarkerColumn, 1)
			if err != nil {
				return err
			}
			if marker[0] != format.ErasedByte {
				res.BadBlocks = append(res.BadBlocks, block)
			}
		}
		out = append(out, res)
	}

	if jsonOut {
		return printJSON(out)
	}
	for _, res := range out {
		printInfo("cs%d: %d blocks, %d bad\n", res.Chip, res.Blocks, len(res.BadBlocks))
		for _, block := range res.BadBlocks {
			printInfo("  block %d\n", block)
		}
	}
	return nil
}
