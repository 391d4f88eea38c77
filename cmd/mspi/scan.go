package main

import (
	"errors"
	"fmt"

	"github.com/gentam/mspi"
	"github.com/spf13/cobra"
)

func scanCmd() *cobra.Command {
	var (
		opts mspi.ScanOptions
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Calibrate the read timing",
		Long: `Search the delay and edge settings for the widest window in which a test
pattern reads back intact. The scratch region at --addr is erased and
overwritten.

Examples:
  # Sweep TX and RX delays on the simulated board
  mspi --sim scan

  # Sweep every axis on a NAND part
  mspi --sim -p W25N scan --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				opts.Axes = mspi.AllAxes
			}
			return withDevice(func(t *target, dev mspi.MemoryDevice) error {
				tm, err := mspi.ScanTiming(dev, opts)
				if err != nil {
					return err
				}
				if err := mspi.VerifyTiming(dev, opts); err != nil {
					return fmt.Errorf("verify at %v: %w", tm, err)
				}
				fmt.Println(tm)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also sweep clock edges, capture phase and turnaround")
	cmd.Flags().Uint32VarP(&opts.Addr, "addr", "a", 0, "Scratch region address")
	cmd.Flags().IntVar(&opts.Size, "size", 0, "Scratch region size (default: 128 pages)")
	cmd.Flags().IntVar(&opts.MinWindow, "min-window", 0, "Shortest passing RX run that makes a TX delay viable (default 6)")
	return cmd
}

func badBlockCmd() *cobra.Command {
	var first, count int

	cmd := &cobra.Command{
		Use:   "badblock",
		Short: "List bad NAND blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(func(t *target, dev mspi.MemoryDevice) error {
				n, ok := dev.(*mspi.NAND)
				if !ok {
					return errors.New("bad block check needs a NAND part")
				}
				blocks := int(t.part.Capacity / int64(t.part.BlockSize))
				if count == 0 || first+count > blocks {
					count = blocks - first
				}
				bad := 0
				for b := first; b < first+count; b++ {
					isBad, err := n.IsBadBlock(b)
					if err != nil {
						return fmt.Errorf("block %d: %w", b, err)
					}
					if isBad {
						fmt.Printf("block %d (page 0x%X) bad\n", b, t.part.PageAddress(b))
						bad++
					}
				}
				fmt.Printf("%d of %d blocks bad\n", bad, count)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&first, "first", 0, "First block")
	cmd.Flags().IntVar(&count, "count", 0, "Number of blocks (default: to the end)")
	return cmd
}
