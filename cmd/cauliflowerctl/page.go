package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wipeseals/cauliflower/codec"
	"github.com/wipeseals/cauliflower/internal/format"
)

func init() {
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newWriteCmd())
	rootCmd.AddCommand(newEraseCmd())
}

func newReadCmd() *cobra.Command {
	var out string
	var decode bool
	cmd := &cobra.Command{
		Use:   "read <cs> <block> <page>",
		Short: "Read one raw page",
		Long: `Reads one full page (data plus spare) straight from the chip,
bypassing the block manager. With --decode the page is run through the
page codec first and only the verified user data is emitted.

Example:
  cauliflowerctl read 0 12 3
  cauliflowerctl read 0 12 3 --decode --out page.bin`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args, out, decode)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write page bytes to a file instead of hex-dumping")
	cmd.Flags().BoolVar(&decode, "decode", false, "Descramble and verify the page codec tag")
	return cmd
}

func runRead(args []string, out string, decode bool) error {
	cs, block, page, err := parsePageArgs(args)
	if err != nil {
		return err
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := s.cmd.ReadPage(cs, block, page)
	if err != nil {
		return err
	}
	if decode {
		data, err = codec.New(s.cfg).Decode(data)
		if err != nil {
			return err
		}
	}

	if out != "" {
		return os.WriteFile(out, data, 0644)
	}
	fmt.Print(hex.Dump(data))
	return nil
}

func newWriteCmd() *cobra.Command {
	var encode bool
	cmd := &cobra.Command{
		Use:   "write <cs> <block> <page> <file>",
		Short: "Program one page from a file",
		Long: `Programs one page straight to the chip, bypassing the block
manager. The target page must be erased. A raw file must be exactly one
full page (data plus spare); with --encode it must be exactly the user
data area and the page codec fills in the rest.

Example:
  cauliflowerctl write 0 12 3 page.bin
  cauliflowerctl write 0 12 3 data.bin --encode`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(args, encode)
		},
	}
	cmd.Flags().BoolVar(&encode, "encode", false, "Scramble and tag the data with the page codec")
	return cmd
}

func runWrite(args []string, encode bool) error {
	cs, block, page, err := parsePageArgs(args)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[3])
	if err != nil {
		return err
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	if encode {
		data, err = codec.New(s.cfg).Encode(data)
		if err != nil {
			return err
		}
	}

	ok, err := s.cmd.ProgramPage(cs, block, page, data)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("chip refused program of cs%d/block%d page %d", cs, block, page)
	}
	printInfo("programmed cs%d/block%d page %d (%d bytes)\n", cs, block, page, len(data))
	return nil
}

func newEraseCmd() *cobra.Command {
	var ignoreFail bool
	cmd := &cobra.Command{
		Use:   "erase <cs> <block>",
		Short: "Erase one block",
		Long: `Erases one block straight on the chip, bypassing the block
manager. Every page in the block returns to 0xFF. With --ignore-fail a
refused erase is reported but not treated as a command failure.

Example:
  cauliflowerctl erase 0 12`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runErase(args, ignoreFail)
		},
	}
	cmd.Flags().BoolVar(&ignoreFail, "ignore-fail", false, "Report a refused erase without failing")
	return cmd
}

func runErase(args []string, ignoreFail bool) error {
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

	ok, err := s.cmd.EraseBlock(cs, block)
	if err != nil {
		return err
	}
	if !ok {
		if ignoreFail {
			printInfo("erase of cs%d/block%d refused by chip\n", cs, block)
			return nil
		}
		return fmt.Errorf("chip refused erase of cs%d/block%d", cs, block)
	}
	printInfo("erased cs%d/block%d (%d pages back to %#02x)\n",
		cs, block, s.cfg.PagesPerBlock, format.ErasedByte)
	return nil
}

func parsePageArgs(args []string) (uint8, uint32, uint32, error) {
	cs, err := parseChip(args[0])
	if err != nil {
		return 0, 0, 0, err
	}
	block, err := parseIndex(args[1], "block")
	if err != nil {
		return 0, 0, 0, err
	}
	page, err := parseIndex(args[2], "page")
	if err != nil {
		return 0, 0, 0, err
	}
	return cs, block, page, nil
}
