package main

import (
	"encoding/hex"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newIDCmd())
}

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Probe every wired chip select and print its ID",
		Long: `Issues a Read ID to every wired chip select and reports which
chips answered with the expected device signature.

Example:
  cauliflowerctl id
  cauliflowerctl id --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runID()
		},
	}
}

type chipID struct {
	Chip     uint8  `json:"chip"`
	ID       string `json:"id"`
	Attached bool   `json:"attached"`
}

func runID() error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	var out []chipID
	for cs := uint8(0); cs < s.cfg.NumCS; cs++ {
		id, err := s.cmd.ReadID(cs)
		if err != nil {
			return err
		}
		out = append(out, chipID{
			Chip:     cs,
			ID:       hex.EncodeToString(id),
			Attached: s.cfg.IDMatches(id),
		})
	}

	if jsonOut {
		return printJSON(out)
	}
	for _, c := range out {
		state := "absent"
		if c.Attached {
			state = "attached"
		}
		printInfo("cs%d: %s (%s)\n", c.Chip, c.ID, state)
	}
	return nil
}
