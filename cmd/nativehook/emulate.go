package main

import (
	"fmt"

	"github.com/k2io/nativehook/internal/emu"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newEmulateCmd() *cobra.Command {
	var (
		arch, kind string
		calls      int
	)
	c := &cobra.Command{
		Use:   "emulate",
		Short: "hook a sample function in an emulator and call it",
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
			if calls < 1 {
				return errors.Errorf("calls must be positive, got %d", calls)
			}
			r, err := emu.Run(a, k, calls)
			if err != nil {
				return err
			}
			for i, call := range r.Calls {
				status := "ok"
				if call.Ret != call.Want {
					status = "MISMATCH"
				}
				fmt.Printf("call %d: ret %#x want %#x popped %d patched %v state %s %s\n",
					i, call.Ret, call.Want, call.Popped, call.Patched, call.State, status)
			}
			fmt.Printf("callbacks %d originals %d hits %d state %s\n", r.Callbacks, r.Originals, r.Hits, r.State)
			fmt.Printf("order %v\n", r.Events)
			return nil
		},
	}
	c.Flags().StringVar(&arch, "arch", "amd64", "amd64 or i386")
	c.Flags().StringVar(&kind, "kind", "before", "once, before or after")
	c.Flags().IntVar(&calls, "calls", 3, "number of calls through the hook")
	return c
}
