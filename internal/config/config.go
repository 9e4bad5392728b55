package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the CLI.
type Config struct {
	Tracker TrackerConfig
	Logger  LoggerConfig
}

// TrackerConfig holds connection values for one tracker.
type TrackerConfig struct {
	BaseURL               string
	Username              string
	Password              string
	RequestTimeoutSeconds int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// Load reads configuration from environment variables, applying defaults
// where possible. When a profiles file exists, the selected profile fills in
// values the environment left empty.
func Load() (*Config, error) {
	return LoadWithProfile("")
}

// LoadWithProfile is Load with an explicit profile name taking precedence
// over TRAC_PROFILE.
func LoadWithProfile(profile string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Tracker: TrackerConfig{
			BaseURL:               getEnv("TRAC_URL", ""),
			Username:              getEnv("TRAC_USERNAME", ""),
			Password:              os.Getenv("TRAC_PASSWORD"),
			RequestTimeoutSeconds: getEnvAsInt("TRAC_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if profile == "" {
		profile = getEnv("TRAC_PROFILE", "")
	}
	path := profilesPath()
	if path != "" {
		if err := cfg.applyProfile(path, profile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Validate checks that enough is configured to reach a tracker.
func (c *Config) Validate() error {
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("tracker URL required: set TRAC_URL, --url, or a profile")
	}
	return nil
}

// RequestTimeout returns the configured request timeout duration.
func (t TrackerConfig) RequestTimeout() time.Duration {
	if t.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.RequestTimeoutSeconds) * time.Second
}

// profilesPath locates the profiles file: TRAC_CONFIG_FILE wins, otherwise
// ~/.config/trac/config.yaml when present.
func profilesPath() string {
	if path := os.Getenv("TRAC_CONFIG_FILE"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "trac", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
