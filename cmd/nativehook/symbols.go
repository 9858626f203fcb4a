package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/k2io/nativehook/internal/addrtable"
	"github.com/spf13/cobra"
)

func newSymbolsCmd() *cobra.Command {
	var (
		filter string
		asYAML bool
	)
	c := &cobra.Command{
		Use:   "symbols <object file>",
		Short: "list the symbols of an ELF, PE or Mach-O file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := addrtable.FromObject(args[0])
			if err != nil {
				return err
			}
			for n := range t.Symbols {
				if filter != "" && !strings.Contains(n, filter) {
					delete(t.Symbols, n)
				}
			}
			if asYAML {
				buf, err := t.Marshal()
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(buf)
				return err
			}
			for _, n := range t.Names() {
				for goos, off := range t.Symbols[n] {
					fmt.Printf("%#x\t%s\t%s\n", off, goos, n)
				}
			}
			return nil
		},
	}
	c.Flags().StringVar(&filter, "filter", "", "only symbols containing this text")
	c.Flags().BoolVar(&asYAML, "yaml", false, "print an address table")
	return c
}
