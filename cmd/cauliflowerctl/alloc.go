package main

import (
	"github.com/spf13/cobra"

	"github.com/wipeseals/cauliflower/blockmgr"
)

func init() {
	rootCmd.AddCommand(newAllocCmd())
	rootCmd.AddCommand(newReleaseCmd())
}

func newAllocCmd() *cobra.Command {
	var cs int
	cmd := &cobra.Command{
		Use:   "alloc",
		Short: "Allocate and erase one block",
		Long: `Claims the first free good block through the block manager. The
block is erased on the way out and stays allocated until released.

Example:
  cauliflowerctl alloc
  cauliflowerctl alloc --cs 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlloc(cs)
		},
	}
	cmd.Flags().IntVar(&cs, "cs", -1, "Restrict allocation to one chip select")
	return cmd
}

func runAlloc(cs int) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	mgr, err := s.manager()
	if err != nil {
		return err
	}

	var ref blockmgr.BlockRef
	if cs >= 0 {
		ref, err = mgr.AllocOn(uint8(cs))
	} else {
		ref, err = mgr.Alloc()
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(ref)
	}
	printInfo("%s\n", ref)
	return nil
}

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "release <cs> <block>",
		Short:   "Return an allocated block to the free pool",
		Example: "  cauliflowerctl release 0 42",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(args)
		},
	}
}

func runRelease(args []string) error {
	cs, err := parseChip(args[0])
	if err != nil {
		return err
	}
	block, err := parseIndex(args[1], "block")
	if err != nil {
		return err
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	mgr, err := s.manager()
	if err != nil {
		return err
	}
	if err := mgr.Release(blockmgr.BlockRef{Chip: cs, Block: block}); err != nil {
		return err
	}
	printInfo("released cs%d/block%d\n", cs, block)
	return nil
}
