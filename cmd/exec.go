package cmd

import (
	"fmt"

	"gpufleet/internal/dispatch"
	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	execBroadcast bool
	execInSession bool
	execWorkers   int
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec [command]...",
	Short: "Run ad-hoc commands on the fleet",
	Long: `Run the given commands as one atomic group on a running instance, or on
every running instance with --broadcast. With --session the commands are
sent into the tmux experiment session instead of running synchronously.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		outputs, err := ctl.Mapper().Dispatch(cmd.Context(),
			[]dispatch.CommandSequence{dispatch.Payload(args...)},
			dispatch.Options{
				Broadcast: execBroadcast,
				InSession: execInSession,
				Workers:   execWorkers,
			})
		if err != nil {
			logging.Logger().Fatal("Failed to execute commands", zap.Error(err))
		}

		for addr, out := range outputs {
			if out.Stdout == "" && out.Stderr == "" {
				continue
			}
			fmt.Printf("===== %s (exit %d) =====\n", addr, out.ExitCode)
			fmt.Print(out.Stdout)
			fmt.Print(out.Stderr)
		}
	},
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().BoolVarP(&execBroadcast, "broadcast", "b", false, "Run on every running instance")
	execCmd.Flags().BoolVar(&execInSession, "session", false, "Send into the tmux experiment session")
	execCmd.Flags().IntVarP(&execWorkers, "workers", "w", 1, "Concurrent instance executions")
}
