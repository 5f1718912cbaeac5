package cmd

import (
	"fmt"

	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List fleet instances",
	Long:  `List every known instance with its state and public address, sorted by ID.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		instances, err := ctl.Inventory().List(cmd.Context())
		if err != nil {
			logging.Logger().Fatal("Failed to list instances", zap.Error(err))
		}

		if len(instances) == 0 {
			fmt.Println("No instances found.")
			return
		}

		for _, inst := range instances {
			addr := inst.PublicIP
			if addr == "" {
				addr = "-"
			}
			fmt.Printf("%-22s %-10s %-16s %s\n", inst.ID, inst.State, addr, inst.Name)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
