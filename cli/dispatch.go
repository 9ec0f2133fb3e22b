// Package cli implements the fwdispatch command surface: dispatching,
// inspecting and packing firmware volumes.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/firmkit/fwdispatch/dispatcher"
)

var newService func() dispatcher.Service

// SetServiceFactory installs the constructor used to build a dispatch
// scheduler per command invocation; the binary wires the invoker and
// middleware stack into it.
func SetServiceFactory(f func() dispatcher.Service) {
	newService = f
}

func NewDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <volume.fv>...",
		Short: "Dispatch firmware volumes",
		Long: `Load one or more firmware volumes in argument order, run dispatch
rounds to fixpoint, and print the final report.

A corrupt volume is reported and skipped; the remaining volumes still
dispatch.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			svc := newService()
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				if err := svc.LoadVolume(cmd.Context(), raw); err != nil {
					logErrorCmd(*cmd, err)
				}
			}

			report, err := svc.Dispatch(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, report)
		},
	}
}
