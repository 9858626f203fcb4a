// Command nativehook inspects hook templates and address tables, and runs
// hooked sample functions in an emulator.
package main

import (
	"os"

	"github.com/k2io/nativehook"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var debugFlag bool

func newRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:           "nativehook",
		Short:         "inline function hooks for amd64 and i386",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugFlag {
				log.SetLevel(log.DebugLevel)
			}
			nativehook.SetDebug(debugFlag)
			nativehook.SetLogger(log.StandardLogger())
		},
	}
	c.PersistentFlags().BoolVar(&debugFlag, "debug", false, "log at debug level")

	c.AddCommand(
		newSymbolsCmd(),
		newTableCmd(),
		newTrampolineCmd(),
		newEmulateCmd(),
	)
	return c
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
