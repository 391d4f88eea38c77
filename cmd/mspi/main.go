package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	simulate bool
	partName string
	module   int
	verbose  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mspi",
		Short: "Serial memory programmer and timing calibration tool",
		Long: `mspi talks to NOR flash, SPI NAND and PSRAM through an FT2232H board
such as the iCEBreaker, or through an in-process simulator with --sim.

The simulated memory lives only as long as one command, so writes are not
visible to a later invocation.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&simulate, "sim", false, "Use the simulated controller instead of an FT2232H")
	rootCmd.PersistentFlags().StringVarP(&partName, "part", "p", "", "Part name, e.g. W25Q or W25N (default: detect from JEDEC ID)")
	rootCmd.PersistentFlags().IntVarP(&module, "module", "m", 0, "Controller instance")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log controller activity to stderr")

	rootCmd.AddCommand(idCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(partsCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(writeCmd())
	rootCmd.AddCommand(eraseCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(badBlockCmd())

	return rootCmd
}
