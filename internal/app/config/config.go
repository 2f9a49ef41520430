package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Property keys looked up through Settings. The mailbox account
// settings are re-read at the start of every poll cycle, so operators
// can repoint the daemon at another account without a restart.
const (
	PropMailHost            = "mail_host"
	PropMailAccount         = "mail_account"
	PropMailPassword        = "mail_password"
	PropMailProtocol        = "mail_protocol"
	PropMailProcessedFolder = "mail_processed_folder"
	PropMailJunkFolder      = "mail_junk_folder"
	PropSMTPRelayHost       = "smtp_relay_host"
	PropSMTPUsername        = "smtp_username"
	PropSMTPPassword        = "smtp_password"
)

const (
	DefaultPollInterval    = 5 * time.Minute
	DefaultProcessedFolder = "Processed"
	DefaultJunkFolder      = "Junk"
)

type Config struct {
	PollInterval     time.Duration `yaml:"poll_interval"`      // Interval between mailbox poll cycles.
	PollCycleTimeout time.Duration `yaml:"poll_cycle_timeout"` // Upper bound for a single poll cycle.
	LogLevel         int           `yaml:"log_level"`          // slog level value (-4: debug, 0: info, 4: warn, 8: error).
	Storage          StorageConfig `yaml:"storage"`            // Routing directory and message archive backend.
	Properties       Settings      `yaml:"properties"`         // String-keyed settings read per poll cycle.
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory".
	Path   string `yaml:"path"`   // SQLite database file path.
}

// Settings is a string-keyed property lookup with defaults.
type Settings map[string]string

// Get returns the value stored under key, or fallback when the key is
// absent or blank.
func (s Settings) Get(key, fallback string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return fallback
}

func Load(cfgFilepath, envFilepath string) (Config, error) {
	var cfg Config

	if _, err := os.Stat(envFilepath); err == nil {
		if err = godotenv.Load(envFilepath); err != nil {
			return cfg, fmt.Errorf("unable to load environment variables from file: %w", err)
		}
	}

	//nolint:gosec
	fileBytes, err := os.ReadFile(cfgFilepath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("configuration file at this path doesn't exist: %w", err)
		case errors.Is(err, os.ErrPermission):
			return cfg, fmt.Errorf("permission denied for accessing configuration file: %w", err)
		default:
			return cfg, fmt.Errorf("unexpected error during reading configuration file: %w", err)
		}
	}

	envExpanded := os.ExpandEnv(string(fileBytes))
	if err = yaml.Unmarshal([]byte(envExpanded), &cfg); err != nil {
		return cfg, fmt.Errorf("unable to unmarshal configuration file: %w", err)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollCycleTimeout <= 0 {
		cfg.PollCycleTimeout = cfg.PollInterval
	}
	if cfg.Properties == nil {
		cfg.Properties = Settings{}
	}

	return cfg, nil
}
