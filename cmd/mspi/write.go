package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gentam/mspi"
	"github.com/spf13/cobra"
)

func writeCmd() *cobra.Command {
	var (
		addr     uint32
		filename string
		erase    bool
		verify   bool
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a file to memory",
		Long: `Write a file to memory starting at --addr. Flash must be erased first;
--erase erases the units covering the file before programming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filename == "" {
				return errors.New("input file is required")
			}
			data, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			return withDevice(func(t *target, dev mspi.MemoryDevice) error {
				if erase {
					unit := eraseUnit(t.part)
					if addr%uint32(unit) != 0 {
						return fmt.Errorf("address 0x%X is not aligned to the erase unit %d", addr, unit)
					}
					if err := dev.EraseRange(addr, roundUp(len(data), unit)); err != nil {
						return fmt.Errorf("erase failed: %w", err)
					}
				}
				if err := dev.WriteAt(data, addr); err != nil {
					return fmt.Errorf("write failed: %w", err)
				}
				if !verify {
					return nil
				}
				got := make([]byte, len(data))
				if err := dev.ReadAt(got, addr); err != nil {
					return fmt.Errorf("read back failed: %w", err)
				}
				for i := range data {
					if got[i] != data[i] {
						return fmt.Errorf("%w at 0x%X: got %02X, want %02X", mspi.ErrVerifyMismatch, addr+uint32(i), got[i], data[i])
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().Uint32VarP(&addr, "addr", "a", 0, "Start address")
	cmd.Flags().StringVarP(&filename, "file", "f", "", "Input file")
	cmd.Flags().BoolVarP(&erase, "erase", "e", false, "Erase before programming")
	cmd.Flags().BoolVar(&verify, "verify", true, "Read back and compare")
	return cmd
}

func eraseCmd() *cobra.Command {
	var (
		addr uint32
		size int
		chip bool
	)

	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase flash",
		Long: `Erase --size bytes at --addr, or the whole chip with --chip. Both must be
multiples of the erase unit: the sector on NOR, the block on NAND.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(func(t *target, dev mspi.MemoryDevice) error {
				if !chip {
					return dev.EraseRange(addr, size)
				}
				if f, ok := dev.(*mspi.NOR); ok && t.part.Ops.ChipErase != 0 {
					return f.ChipErase()
				}
				return dev.EraseRange(0, int(t.part.Capacity))
			})
		},
	}

	cmd.Flags().Uint32VarP(&addr, "addr", "a", 0, "Start address")
	cmd.Flags().IntVar(&size, "size", 0, "Number of bytes to erase")
	cmd.Flags().BoolVar(&chip, "chip", false, "Erase the entire device")
	return cmd
}
