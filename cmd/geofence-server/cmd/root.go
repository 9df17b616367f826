package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/service/geofencer"
	"github.com/oshokin/geofencer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// regionsFile path where regions are persisted.
	regionsFile string
	// trackFile path of a recorded track to replay.
	trackFile string

	// rootCmd represents the base command for running the geofence server.
	rootCmd = &cobra.Command{
		Use:   "geofence-server [listen-address]",
		Short: "Run the geofencer gRPC server and the processing cycle.",
		Long: `Starts the geofencer server that evaluates the device position against the registered regions.

Every cycle waits for a location fix, classifies each region as inside, near (10 m bucket below 200 m)
or far, and hands the closest regions to the positioning provider for active monitoring.
Positions come from a simulated provider that replays a recorded track and accepts fixes over gRPC.

Only the port from ServerAddress config is used for listening (e.g., :50051).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:8080).
Regions are persisted to a JSON file for recovery across restarts.
Settings may be overridden with GEOFENCER_* variables, also read from a .env file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &geofencer.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				RegionsFile:   regionsFile,
				TrackFile:     trackFile,
			}

			return geofencer.Run(ctx, options)
		},
	}
)

// Execute runs the geofence-server CLI and exits with non-zero status on error.
func Execute() {
	// Environment overrides may live in a local .env file.
	_ = godotenv.Load(".env")

	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&regionsFile, "regions-file", "r", "", "path to persist regions (overrides config)")
	rootCmd.Flags().StringVarP(&trackFile, "track-file", "t", "", "recorded track to replay (overrides config)")
}
