package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/gentam/mspi"
	"github.com/spf13/cobra"
)

func readCmd() *cobra.Command {
	var (
		addr       uint32
		nread      int
		statusOnly bool
		outFile    string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read memory",
		Long: `Read memory starting at --addr. NAND reads start on a page boundary.

Examples:
  # Hexdump the first 256 bytes
  mspi read

  # Dump 1MB to a file
  mspi read -n 0x100000 -o flash.bin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(func(t *target, dev mspi.MemoryDevice) error {
				if statusOnly {
					f, ok := dev.(*mspi.NOR)
					if !ok {
						return errors.New("status register is only shown for NOR flash")
					}
					sr, err := f.Status()
					if err != nil {
						return fmt.Errorf("read flash status register failed: %w", err)
					}
					fmt.Println(sr)
					return nil
				}

				data := make([]byte, nread)
				if err := dev.ReadAt(data, addr); err != nil {
					return fmt.Errorf("read failed: %w", err)
				}
				if outFile == "" {
					fmt.Print(hex.Dump(data))
					return nil
				}
				return os.WriteFile(outFile, data, 0644)
			})
		},
	}

	cmd.Flags().Uint32VarP(&addr, "addr", "a", 0, "Start address")
	cmd.Flags().IntVarP(&nread, "count", "n", 256, "Number of bytes to read")
	cmd.Flags().BoolVarP(&statusOnly, "status", "s", false, "Just print the flash status register")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file (default: hexdump)")
	return cmd
}
