package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/gentam/mspi"
	"github.com/spf13/cobra"
	"periph.io/x/host/v3/ftdi"
)

func idCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the JEDEC ID and the matching part",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(func(t *target, dev mspi.MemoryDevice) error {
				id, err := dev.ReadID()
				if err != nil {
					return fmt.Errorf("read ID failed: %w", err)
				}
				fmt.Printf("%X\t%s\n", id, t.part)
				return nil
			})
		},
	}
}

func partsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parts",
		Short: "List known parts",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tID\tCAPACITY\tPAGE")
			for _, p := range mspi.Parts() {
				fmt.Fprintf(w, "%s\t%s\t%X\t%d\t%d\n", p.Name, p.Kind, p.ID, p.Capacity, p.PageSize)
			}
			return w.Flush()
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print FT2232H and board information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if simulate {
				return errors.New("info needs an FT2232H")
			}
			b, err := mspi.NewBoard()
			if err != nil {
				return err
			}
			defer b.Close()
			ft := b.FTDI

			// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
			i := ftdi.Info{}
			ft.Info(&i)
			fmt.Printf("Type:            %s\n", i.Type)
			fmt.Printf("Vendor ID:       %#04x\n", i.VenID)
			fmt.Printf("Device ID:       %#04x\n", i.DevID)

			ee := ftdi.EEPROM{}
			if err := ft.EEPROM(&ee); err != nil {
				return fmt.Errorf("failed to read EEPROM: %w", err)
			}
			fmt.Printf("Manufacturer:    %s\n", ee.Manufacturer)
			fmt.Printf("ManufacturerID:  %s\n", ee.ManufacturerID)
			fmt.Printf("Desc:            %s\n", ee.Desc)
			fmt.Printf("Serial:          %s\n", ee.Serial)

			h := ee.AsHeader()
			fmt.Printf("MaxPower:        %dmA\n", h.MaxPower)
			fmt.Printf("SelfPowered:     %x\n", h.SelfPowered)
			fmt.Printf("RemoteWakeup:    %x\n", h.RemoteWakeup)
			fmt.Printf("PullDownEnable:  %x\n", h.PullDownEnable)

			fmt.Printf("SPI clock:       %s\n", b.Clock())
			fmt.Printf("FPGA configured: %t\n", b.Configured())

			for _, p := range ft.Header() {
				fmt.Printf("%s: %s\n", p, p.Function())
			}
			return nil
		},
	}
}
