package main

import (
	"fmt"
	"strconv"

	"github.com/k2io/nativehook/internal/trampoline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTrampolineCmd() *cobra.Command {
	var arch, kind, data, code string
	c := &cobra.Command{
		Use:   "trampoline",
		Short: "print the disassembled interceptor for an arch and hook kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseArch(arch)
			if err != nil {
				return err
			}
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			p := trampoline.Params{Arch: a, Convention: trampoline.DefaultConvention(a), Kind: k}
			if p.Data, err = strconv.ParseUint(data, 0, 64); err != nil {
				return errors.Wrap(err, "data address")
			}
			if p.Code, err = strconv.ParseUint(code, 0, 64); err != nil {
				return errors.Wrap(err, "code address")
			}
			tpl, err := trampoline.Build(p)
			if err != nil {
				return err
			}
			patch, err := trampoline.Patch(a, tpl.Entry)
			if err != nil {
				return err
			}
			lines, err := trampoline.Disassemble(a, p.Code, tpl.Code)
			if err != nil {
				return err
			}
			fmt.Printf("; %s %s %s, %d bytes, data block at %#x\n", a, p.Convention, k, len(tpl.Code), p.Data)
			fmt.Printf("; patch % x\n", patch)
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		},
	}
	c.Flags().StringVar(&arch, "arch", "amd64", "amd64 or i386")
	c.Flags().StringVar(&kind, "kind", "before", "once, before or after")
	c.Flags().StringVar(&data, "data", "0x200000", "data block address")
	c.Flags().StringVar(&code, "code", "0x100000", "address the code is placed at")
	return c
}
