package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Report block states per chip",
		Long: `Brings up the block manager (probing chips and loading or
rebuilding the state snapshot) and prints free, allocated, and bad block
counts for every attached chip.

Example:
  cauliflowerctl info
  cauliflowerctl info --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
}

func runInfo() error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	mgr, err := s.manager()
	if err != nil {
		return err
	}

	stats := mgr.Stats()
	if jsonOut {
		return printJSON(stats)
	}

	printInfo("Geometry: %d bytes/page (+%d spare), %d pages/block, %d blocks/chip\n",
		s.cfg.PageDataBytes, s.cfg.PageSpareBytes, s.cfg.PagesPerBlock, s.cfg.BlocksPerCS)
	printInfo("Attached chips: %d\n\n", mgr.NumChips())
	for cs, chip := range stats.Chips {
		printInfo("cs%d: free %d, allocated %d, bad %d\n",
			cs, chip.Free, chip.Allocated, chip.Bad)
	}
	return nil
}
