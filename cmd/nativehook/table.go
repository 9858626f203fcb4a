package main

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/k2io/nativehook/internal/addrtable"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newTableCmd() *cobra.Command {
	var base, goos string
	c := &cobra.Command{
		Use:   "table <table.yaml> [symbol...]",
		Short: "resolve symbols of an address table against a load base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := addrtable.Load(args[0])
			if err != nil {
				return err
			}
			if base != "" {
				b, err := strconv.ParseUint(base, 0, 64)
				if err != nil {
					return errors.Wrapf(err, "base %q", base)
				}
				t.Base = b
			}
			names := args[1:]
			if len(names) == 0 {
				names = t.Names()
			}
			for _, n := range names {
				addr, err := t.ResolveFor(n, goos)
				if errors.Cause(err) == addrtable.ErrNoOffset {
					log.Warnf("%s: no offset for %s", n, goos)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Printf("%#x\t%s\n", addr, n)
			}
			return nil
		},
	}
	c.Flags().StringVar(&base, "base", "", "load base, overrides the table's")
	c.Flags().StringVar(&goos, "os", runtime.GOOS, "operating system whose offsets are used")
	return c
}
