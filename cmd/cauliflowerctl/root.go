package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wipeseals/cauliflower/cmd/cauliflowerctl/logger"
)

var (
	// Global flags
	verbose  bool
	quiet    bool
	jsonOut  bool
	debugLog bool

	flashDir     string
	snapshotPath string
	writeProtect bool
)

var rootCmd = &cobra.Command{
	Use:   "cauliflowerctl",
	Short: "Inspect and exercise a simulated raw NAND array",
	Long: `cauliflowerctl drives the NAND management stack against the
file-backed chip simulator. It can probe chip IDs, scan for factory bad
blocks, allocate and release erase blocks through the block manager, and
read, program, and erase pages directly.

The simulated array lives in a directory of per-chip image files; the
block manager's snapshot sits next to them unless --snapshot points
elsewhere.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(logger.Options{
			Enabled: debugLog,
			Level:   slog.LevelDebug,
		})
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Log debug output to ~/.cauliflower/logs")
	rootCmd.PersistentFlags().
		StringVar(&flashDir, "dir", "flash", "Directory holding the chip image files")
	rootCmd.PersistentFlags().
		StringVar(&snapshotPath, "snapshot", "", "Block state snapshot path (default <dir>/snapshot.bin)")
	rootCmd.PersistentFlags().
		BoolVar(&writeProtect, "write-protect", false, "Assert write protect for a read-only session")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
