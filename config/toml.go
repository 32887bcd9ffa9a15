package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/atomicfile"
	"github.com/spf13/viper"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

// EnvPrefix is the prefix of environment variables overriding config values,
// e.g. LEDGERSYNC_STATESYNC_PROGRESS_CHECK_INTERVAL.
const EnvPrefix = "LEDGERSYNC"

// tomlConfig mirrors Config for the file representation. Durations are
// rendered as strings so that viper can decode them back.
type tomlConfig struct {
	Moniker   string `toml:"moniker"`
	Mode      string `toml:"mode"`
	Waypoint  string `toml:"waypoint"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	DBBackend string `toml:"db_backend"`
	DBPath    string `toml:"db_dir"`

	StateSync struct {
		ProgressCheckInterval            string `toml:"progress_check_interval"`
		MaxConnectionDeadlineSecs        uint64 `toml:"max_connection_deadline_secs"`
		BootstrappingMode                string `toml:"bootstrapping_mode"`
		MaxPendingDataChunks             int    `toml:"max_pending_data_chunks"`
		MaxStreamWaitTime                string `toml:"max_stream_wait_time"`
		MaxNotificationsPerProgressCheck int    `toml:"max_notifications_per_progress_check"`
		ConsensusNotificationTimeout     string `toml:"consensus_notification_timeout"`
		MempoolCommitAckTimeout          string `toml:"mempool_commit_ack_timeout"`
	} `toml:"statesync"`

	Instrumentation struct {
		Prometheus bool   `toml:"prometheus"`
		Namespace  string `toml:"namespace"`
	} `toml:"instrumentation"`
}

func newTOMLConfig(cfg *Config) tomlConfig {
	var tc tomlConfig

	tc.Moniker = cfg.Moniker
	tc.Mode = cfg.Mode
	tc.Waypoint = cfg.Waypoint
	tc.LogLevel = cfg.LogLevel
	tc.LogFormat = cfg.LogFormat
	tc.DBBackend = cfg.DBBackend
	tc.DBPath = cfg.DBPath

	ss := cfg.StateSync
	tc.StateSync.ProgressCheckInterval = ss.ProgressCheckInterval.String()
	tc.StateSync.MaxConnectionDeadlineSecs = ss.MaxConnectionDeadlineSecs
	tc.StateSync.BootstrappingMode = ss.BootstrappingMode
	tc.StateSync.MaxPendingDataChunks = ss.MaxPendingDataChunks
	tc.StateSync.MaxStreamWaitTime = ss.MaxStreamWaitTime.String()
	tc.StateSync.MaxNotificationsPerProgressCheck = ss.MaxNotificationsPerProgressCheck
	tc.StateSync.ConsensusNotificationTimeout = ss.ConsensusNotificationTimeout.String()
	tc.StateSync.MempoolCommitAckTimeout = ss.MempoolCommitAckTimeout.String()

	tc.Instrumentation.Prometheus = cfg.Instrumentation.Prometheus
	tc.Instrumentation.Namespace = cfg.Instrumentation.Namespace

	return tc
}

// EnsureRoot creates the root, config, and data directories if they don't
// exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return fmt.Errorf("could not create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteConfigFile renders cfg as TOML and atomically writes it to
// <rootDir>/config/config.toml.
func WriteConfigFile(rootDir string, cfg *Config) error {
	return cfg.WriteToFile(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToFile writes the config to the exact file specified by the path. A
// reader never observes a partially written file.
func (cfg *Config) WriteToFile(path string) error {
	f, err := atomicfile.New(path, 0644)
	if err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(newTOMLConfig(cfg)); err != nil {
		f.Cancel()
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return f.Close()
}

// Load reads <home>/config/config.toml on top of the default configuration.
// Environment variables prefixed with EnvPrefix override file values. A
// missing config file is not an error.
func Load(home string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(home)
	v.AddConfigPath(filepath.Join(home, defaultConfigDir))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetRoot(home)

	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
