package cmd

import (
	"context"
	"os"

	"gpufleet/internal/cluster"
	"gpufleet/internal/config"
	"gpufleet/internal/logging"
	"gpufleet/internal/manifest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gpufleet",
	Short: "Dispatch GPU experiment batches across a cloud fleet",
	Long: `gpufleet provisions cloud GPU instances, fans experiment commands out
over SSH into tmux sessions, syncs results back on a timer and shuts
idle machines down.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// mustController loads the config and wires a fleet controller, exiting on
// failure. Every fleet-facing subcommand starts here.
func mustController(ctx context.Context) (*cluster.Controller, *config.Config) {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}

	logging.Logger().Info("Configuration loaded",
		zap.String("provider", string(cfg.Provider.Type)),
		zap.String("remote_user", cfg.Remote.User),
	)

	ctl, err := cluster.New(ctx, cfg)
	if err != nil {
		logging.Logger().Fatal("Failed to create controller", zap.Error(err))
	}
	return ctl, cfg
}

func mustManifest(ref string) *manifest.Manifest {
	m, err := manifest.Load(ref)
	if err != nil {
		logging.Logger().Fatal("Failed to load manifest", zap.Error(err))
	}
	return m
}
