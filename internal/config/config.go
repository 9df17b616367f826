package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/geofencer/internal/positioning"
	"github.com/oshokin/geofencer/internal/service/scheduler"
)

// Config holds the settings shared by the geofencer binaries.
type Config struct {
	// ServerAddress is the gRPC address the server listens on and clients dial.
	ServerAddress string `yaml:"server_addr"`
	// MetricsAddress is the HTTP address serving /metrics. Empty disables it.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// RegionsFile is the JSON file regions are persisted to.
	RegionsFile string `yaml:"regions_file"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Cycle tunes the processing cycle.
	Cycle CycleConfig `yaml:"cycle"`
	// Positioning configures the simulated positioning provider.
	Positioning PositioningConfig `yaml:"positioning"`
	// Tracing configures OpenTelemetry.
	Tracing TracingConfig `yaml:"tracing"`
}

// CycleConfig tunes the processing cycle scheduler.
type CycleConfig struct {
	// InterCycleDelay is the period between cycle starts.
	InterCycleDelay time.Duration `yaml:"inter_cycle_delay"`
	// DeadlineBudget is how long a cycle may take once started.
	DeadlineBudget time.Duration `yaml:"deadline_budget"`
	// MaxActiveRegions caps the actively monitored set.
	MaxActiveRegions int `yaml:"max_active_regions"`
}

// PositioningConfig configures the simulated positioning provider.
type PositioningConfig struct {
	// TrackFile is an optional YAML track replayed while updates are on.
	TrackFile string `yaml:"track_file,omitempty"`
	// ReplayInterval is the delay between replayed fixes.
	ReplayInterval time.Duration `yaml:"replay_interval"`
	// MaxMonitoringDistance is the largest radius the provider can monitor.
	MaxMonitoringDistance float64 `yaml:"max_monitoring_distance"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`
	// Exporter is "stdout" or "otlp".
	Exporter string `yaml:"exporter,omitempty"`
	// Endpoint is the OTLP collector address.
	Endpoint string `yaml:"endpoint,omitempty"`
	// SampleRatio is the fraction of sampled root spans; zero means every span.
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "geofencer-settings.yaml"

	// DefaultRegionsFilename is the default filename for persisted regions.
	DefaultRegionsFilename = "geofencer-regions.json"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultExporter is the span exporter used when tracing is enabled.
	DefaultExporter = "stdout"

	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600
)

// Environment variables read by ApplyEnv.
const (
	EnvServerAddress  = "GEOFENCER_SERVER_ADDR"
	EnvMetricsAddress = "GEOFENCER_METRICS_ADDR"
	EnvLogLevel       = "GEOFENCER_LOG_LEVEL"
	EnvRegionsFile    = "GEOFENCER_REGIONS_FILE"
	EnvTrackFile      = "GEOFENCER_TRACK_FILE"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errInvalidCycle is returned when the cycle timing is inconsistent.
	errInvalidCycle = errors.New("deadline budget must be positive and shorter than the inter-cycle delay")
	// errInvalidMonitoringDistance is returned for a negative monitoring distance.
	errInvalidMonitoringDistance = errors.New("max monitoring distance must be positive")
	// errInvalidSampleRatio is returned for a ratio outside [0, 1].
	errInvalidSampleRatio = errors.New("sample ratio must be within [0, 1]")
)

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{ServerAddress: "127.0.0.1:50051"}

	// Defaults are valid by construction.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	ApplyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from GEOFENCER_* environment variables.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}

	overrides := []struct {
		name   string
		target *string
	}{
		{EnvServerAddress, &cfg.ServerAddress},
		{EnvMetricsAddress, &cfg.MetricsAddress},
		{EnvLogLevel, &cfg.LogLevel},
		{EnvRegionsFile, &cfg.RegionsFile},
		{EnvTrackFile, &cfg.Positioning.TrackFile},
	}

	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.name); ok {
			*o.target = strings.TrimSpace(value)
		}
	}
}

// Validate checks the provided settings and fills defaults in place.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics socket: %w", err)
		}
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.RegionsFile == "" {
		settings.RegionsFile = DefaultRegionsFilename
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if err := validateCycle(&settings.Cycle); err != nil {
		return err
	}

	if err := validatePositioning(&settings.Positioning); err != nil {
		return err
	}

	return validateTracing(&settings.Tracing)
}

func validateCycle(cycle *CycleConfig) error {
	if cycle.InterCycleDelay == 0 {
		cycle.InterCycleDelay = scheduler.InterCycleDelay
	}

	if cycle.DeadlineBudget == 0 {
		cycle.DeadlineBudget = scheduler.DeadlineBudget
	}

	if cycle.MaxActiveRegions == 0 {
		cycle.MaxActiveRegions = scheduler.DefaultMaxActiveRegions
	}

	if cycle.DeadlineBudget <= 0 || cycle.DeadlineBudget >= cycle.InterCycleDelay {
		return fmt.Errorf("%w: delay %s, budget %s", errInvalidCycle, cycle.InterCycleDelay, cycle.DeadlineBudget)
	}

	return nil
}

func validatePositioning(p *PositioningConfig) error {
	if p.ReplayInterval <= 0 {
		p.ReplayInterval = positioning.DefaultReplayInterval
	}

	if p.MaxMonitoringDistance == 0 {
		p.MaxMonitoringDistance = positioning.DefaultMaximumMonitoringDistance
	}

	if p.MaxMonitoringDistance < 0 {
		return errInvalidMonitoringDistance
	}

	return nil
}

func validateTracing(t *TracingConfig) error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", errInvalidSampleRatio, t.SampleRatio)
	}

	if !t.Enabled {
		return nil
	}

	if t.Exporter == "" {
		t.Exporter = DefaultExporter
	}

	if t.SampleRatio == 0 {
		t.SampleRatio = 1
	}

	return nil
}
