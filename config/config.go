package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgersync/ledgersync/types"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// ModeValidator is the mode of a node taking part in consensus.
	ModeValidator = "validator"
	// ModeFull is the mode of a node that only replicates the ledger.
	ModeFull = "full"

	// BootstrappingModeApplyTransactions replays every transaction from the
	// local ledger up to the bootstrap target.
	BootstrappingModeApplyTransactions = "apply_transactions"
	// BootstrappingModeDownloadAccounts downloads the account states at the
	// bootstrap target and skips the intermediate history.
	BootstrappingModeDownloadAccounts = "download_accounts"
)

// NOTE: Most of the structs & relevant comments + the default configuration
// options are also rendered into config.toml by WriteConfigFile. Please keep
// the tomlConfig mirror in toml.go in sync with any change made here.
var (
	DefaultLedgerSyncDir = ".ledgersync"
	defaultConfigDir     = "config"
	defaultDataDir       = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for a ledgersync node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	StateSync       *StateSyncConfig       `mapstructure:"statesync"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a ledgersync node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		StateSync:       DefaultStateSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		StateSync:       TestStateSyncConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.StateSync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [statesync] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a ledgersync node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Mode of the node: validator | full
	Mode string `mapstructure:"mode"`

	// Trusted waypoint of the form "<version>:<hex ledger info hash>". Sync
	// refuses to follow any history that does not pass through it.
	Waypoint string `mapstructure:"waypoint"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`

	// Database backend: goleveldb | cleveldb | boltdb | rocksdb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`
}

// DefaultBaseConfig returns a default base configuration for a ledgersync node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		Mode:      ModeFull,
		Waypoint:  types.Waypoint{}.String(),
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatPlain,
		DBBackend: "goleveldb",
		DBPath:    defaultDataDir,
	}
}

// TestBaseConfig returns a base configuration for testing a ledgersync node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Mode = ModeValidator
	cfg.DBBackend = "memdb"
	return cfg
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// RoleType parses the configured mode.
func (cfg BaseConfig) RoleType() (types.RoleType, error) {
	return types.ParseRoleType(cfg.Mode)
}

// TrustedWaypoint parses the configured waypoint.
func (cfg BaseConfig) TrustedWaypoint() (types.Waypoint, error) {
	return types.ParseWaypoint(cfg.Waypoint)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	if _, err := cfg.RoleType(); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	if _, err := cfg.TrustedWaypoint(); err != nil {
		return fmt.Errorf("invalid waypoint: %w", err)
	}
	return nil
}

// DefaultLogLevel is the log level used when none is configured.
const DefaultLogLevel = "info"

//-----------------------------------------------------------------------------
// StateSyncConfig

// StateSyncConfig defines the tunables of the state sync driver and of the
// components it drives.
type StateSyncConfig struct {
	// How often the driver checks sync progress.
	ProgressCheckInterval time.Duration `mapstructure:"progress_check_interval"`

	// Seconds a genesis validator waits for peers before bootstrapping on its
	// own.
	MaxConnectionDeadlineSecs uint64 `mapstructure:"max_connection_deadline_secs"`

	// apply_transactions | download_accounts
	BootstrappingMode string `mapstructure:"bootstrapping_mode"`

	// Maximum number of data chunks queued in the storage synchronizer.
	MaxPendingDataChunks int `mapstructure:"max_pending_data_chunks"`

	// Maximum time to wait for a data stream notification before the stream
	// is considered stalled.
	MaxStreamWaitTime time.Duration `mapstructure:"max_stream_wait_time"`

	// Maximum number of stream notifications processed per progress check.
	MaxNotificationsPerProgressCheck int `mapstructure:"max_notifications_per_progress_check"`

	// Time consensus waits for the driver to answer a notification.
	ConsensusNotificationTimeout time.Duration `mapstructure:"consensus_notification_timeout"`

	// Time the driver waits for mempool to acknowledge a commit.
	MempoolCommitAckTimeout time.Duration `mapstructure:"mempool_commit_ack_timeout"`
}

// DefaultStateSyncConfig returns a default configuration for the state sync
// driver.
func DefaultStateSyncConfig() *StateSyncConfig {
	return &StateSyncConfig{
		ProgressCheckInterval:            100 * time.Millisecond,
		MaxConnectionDeadlineSecs:        10,
		BootstrappingMode:                BootstrappingModeApplyTransactions,
		MaxPendingDataChunks:             50,
		MaxStreamWaitTime:                5 * time.Second,
		MaxNotificationsPerProgressCheck: 3,
		ConsensusNotificationTimeout:     5 * time.Second,
		MempoolCommitAckTimeout:          5 * time.Second,
	}
}

// TestStateSyncConfig returns a configuration for testing the state sync
// driver.
func TestStateSyncConfig() *StateSyncConfig {
	cfg := DefaultStateSyncConfig()
	cfg.ProgressCheckInterval = 10 * time.Millisecond
	cfg.MaxConnectionDeadlineSecs = 0
	cfg.MaxStreamWaitTime = 100 * time.Millisecond
	cfg.ConsensusNotificationTimeout = time.Second
	cfg.MempoolCommitAckTimeout = time.Second
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *StateSyncConfig) ValidateBasic() error {
	if cfg.ProgressCheckInterval <= 0 {
		return errors.New("progress_check_interval must be positive")
	}
	switch cfg.BootstrappingMode {
	case BootstrappingModeApplyTransactions, BootstrappingModeDownloadAccounts:
	default:
		return fmt.Errorf("unknown bootstrapping_mode %q", cfg.BootstrappingMode)
	}
	if cfg.MaxPendingDataChunks <= 0 {
		return errors.New("max_pending_data_chunks must be positive")
	}
	if cfg.MaxStreamWaitTime <= 0 {
		return errors.New("max_stream_wait_time must be positive")
	}
	if cfg.MaxNotificationsPerProgressCheck <= 0 {
		return errors.New("max_notifications_per_progress_check must be positive")
	}
	if cfg.ConsensusNotificationTimeout < 0 {
		return errors.New("consensus_notification_timeout can't be negative")
	}
	if cfg.MempoolCommitAckTimeout < 0 {
		return errors.New("mempool_commit_ack_timeout can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are registered with the default registry.
	Prometheus bool `mapstructure:"prometheus"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus: false,
		Namespace:  "ledgersync",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.Namespace == "" {
		return errors.New("namespace is required when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
