package cmd

import (
	"time"

	"gpufleet/internal/logging"
	"gpufleet/internal/monitor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	monitorIdleWindow int
	monitorDelay      int
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Shut this machine down once its GPUs have been idle",
	Long: `Run on an instance, not from the operator's machine. Samples GPU
utilization and powers the host off after every GPU has stayed at zero for
the full idle window. With --delay the shutdown is unconditional instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		mon := monitor.New(monitor.NvidiaSMI{})

		if monitorDelay > 0 {
			if err := mon.ShutdownAfter(cmd.Context(), time.Duration(monitorDelay)*time.Second); err != nil {
				logging.Logger().Fatal("Timed shutdown failed", zap.Error(err))
			}
			return
		}

		window := time.Duration(monitorIdleWindow) * time.Second
		if err := mon.ShutdownWhenIdle(cmd.Context(), window); err != nil {
			logging.Logger().Fatal("Idle monitor failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().IntVar(&monitorIdleWindow, "idle-window", 120, "Seconds every GPU must stay idle before shutdown")
	monitorCmd.Flags().IntVar(&monitorDelay, "delay", 0, "Shut down after this many seconds regardless of utilization")
}
