package cmd

import (
	"fmt"
	"sort"

	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logsPath string

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail a log file on every running instance",
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		outputs, err := ctl.TailLogs(cmd.Context(), logsPath)
		if err != nil {
			logging.Logger().Fatal("Failed to fetch logs", zap.Error(err))
		}

		addrs := make([]string, 0, len(outputs))
		for addr := range outputs {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)

		for _, addr := range addrs {
			out := outputs[addr]
			fmt.Printf("===== %s =====\n", addr)
			fmt.Print(out.Stdout)
			if out.Stderr != "" {
				fmt.Print(out.Stderr)
			}
			fmt.Println()
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsPath, "path", "p", "experiment.log", "Remote log file to tail")
}
