package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/positioning"
	client "github.com/oshokin/geofencer/internal/service/client"
	"github.com/oshokin/geofencer/internal/service/watcher"
	"github.com/oshokin/geofencer/internal/version"
	"github.com/oshokin/geofencer/internal/wire"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the configured server address.
	serverAddress string

	// regionID is the id of the region to monitor.
	regionID string
	// radius is the region radius in meters.
	radius float64
	// wait polls until the region has been evaluated.
	wait bool

	// accuracy is the horizontal accuracy of a reported fix.
	accuracy float64

	// pollInterval is the delay between polls of the watch command.
	pollInterval time.Duration

	// regionsFile is read by the offline classify command.
	regionsFile string
	// maxDistance is the monitoring limit used by the offline classify command.
	maxDistance float64

	// rootCmd represents the base command of the geofencer client.
	rootCmd = &cobra.Command{
		Use:   "geofence-client",
		Short: "Manage regions on a geofencer server.",
		Long: `Registers and removes geofence regions, inspects the processing cycle and reports simulated
location fixes over gRPC. The classify command evaluates a regions file offline.

Server address can be provided with --server or loaded from configuration file.`,
		SilenceUsage: true,
	}

	monitorCmd = &cobra.Command{
		Use:   "monitor <latitude> <longitude>",
		Short: "Register a circular region.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			center, err := parseCoordinate(args)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			spec := wire.RegionSpec{ID: regionID, Center: center, Radius: radius}

			return client.Monitor(ctx, options(cmd), spec, wait)
		},
	}

	unmonitorCmd = &cobra.Command{
		Use:   "unmonitor <region-id>",
		Short: "Remove a region.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Unmonitor(ctx, options(cmd), args[0])
		},
	}

	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Print the processing cycle state and every region.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.State(ctx, options(cmd))
		},
	}

	retryCmd = &cobra.Command{
		Use:   "retry",
		Short: "Restart a processing cycle that missed its deadline.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Retry(ctx, options(cmd))
		},
	}

	fixCmd = &cobra.Command{
		Use:   "fix <latitude> <longitude>",
		Short: "Report a simulated location fix.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coordinate, err := parseCoordinate(args)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			fix := geofence.Fix{Coordinate: coordinate, Timestamp: time.Now(), HorizontalAccuracy: accuracy}

			return client.ReportFix(ctx, options(cmd), fix)
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Poll the server and log region transitions until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return watcher.Run(ctx, &watcher.Options{
				ConfigPath:    cfgPath,
				ServerAddress: serverAddress,
				PollInterval:  pollInterval,
			})
		},
	}

	classifyCmd = &cobra.Command{
		Use:   "classify <latitude> <longitude>",
		Short: "Classify the regions of a regions file against a position, without a server.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coordinate, err := parseCoordinate(args)
			if err != nil {
				return err
			}

			fix := geofence.Fix{Coordinate: coordinate, Timestamp: time.Now()}

			return client.Classify(cmd.Context(), regionsFile, fix, maxDistance, cmd.OutOrStdout())
		},
	}
)

// Execute runs the geofence-client CLI and exits with non-zero status on error.
func Execute() {
	// Environment overrides may live in a local .env file.
	_ = godotenv.Load(".env")

	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// options builds the remote command options from the persistent flags.
func options(cmd *cobra.Command) *client.Options {
	address := serverAddress
	if address == "" {
		address = os.Getenv(config.EnvServerAddress)
	}

	return &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: address,
		Output:        cmd.OutOrStdout(),
	}
}

// parseCoordinate parses "<latitude> <longitude>" arguments.
func parseCoordinate(args []string) (geofence.Coordinate, error) {
	return geofence.ParseCoordinate(args[0], args[1])
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "", "server address (overrides config)")

	monitorCmd.Flags().StringVar(&regionID, "id", "", "region id (generated when empty)")
	monitorCmd.Flags().Float64VarP(&radius, "radius", "r", 100, "region radius in meters")
	monitorCmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the region has been evaluated")

	fixCmd.Flags().Float64Var(&accuracy, "accuracy", 5, "horizontal accuracy in meters")

	watchCmd.Flags().DurationVarP(&pollInterval, "interval", "i", watcher.DefaultPollInterval, "poll interval")

	classifyCmd.Flags().StringVarP(&regionsFile, "regions-file", "f", config.DefaultRegionsFilename, "regions file to classify")
	classifyCmd.Flags().Float64Var(&maxDistance, "max-distance", positioning.DefaultMaximumMonitoringDistance,
		"largest radius that can be actively monitored")

	rootCmd.AddCommand(monitorCmd, unmonitorCmd, stateCmd, retryCmd, fixCmd, watchCmd, classifyCmd)
}
