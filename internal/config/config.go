package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads configuration from standard locations with environment overrides.
// Search order: ~/.avctlrc, $XDG_CONFIG_HOME/avctl/config.toml, ~/.config/avctl/config.toml
func Load() (*Config, error) {
	cfg := &Config{}

	// Try loading from file
	path := findConfigFile()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	// Apply defaults, then environment variable overrides
	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultPath is where `config init` writes a new file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".avctlrc"
	}
	return filepath.Join(home, ".avctlrc")
}

// Write encodes cfg as TOML with a header comment.
func Write(w io.Writer, cfg any) error {
	_, _ = fmt.Fprintln(w, "# avctl configuration")
	_, _ = fmt.Fprintln(w, "")

	encoder := toml.NewEncoder(w)
	encoder.Indent = "  "
	return encoder.Encode(cfg)
}

// findConfigFile returns the first existing config file path.
func findConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	paths := []string{
		filepath.Join(home, ".avctlrc"),
	}

	// XDG_CONFIG_HOME or default
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	paths = append(paths, filepath.Join(xdgConfig, "avctl", "config.toml"))

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	// Discovery
	envInt("AVCTL_DISCOVERY_SEARCH_TIMEOUT", &cfg.Discovery.SearchTimeout)
	envInt("AVCTL_DISCOVERY_DEFAULT_EXPIRY", &cfg.Discovery.DefaultExpiry)
	if v := os.Getenv("AVCTL_DISCOVERY_SEARCH_TARGETS"); v != "" {
		cfg.Discovery.SearchTargets = strings.Split(v, ",")
	}

	// Session
	envInt("AVCTL_SESSION_ACTION_TIMEOUT", &cfg.Session.ActionTimeout)
	envInt("AVCTL_SESSION_MAX_UNRESOLVED_TIMEOUTS", &cfg.Session.MaxUnresolvedTimeouts)
	envInt("AVCTL_SESSION_REQUERY_DELAY", &cfg.Session.RequeryDelay)
	envString("AVCTL_SESSION_DEFAULT_RENDERER", &cfg.Session.DefaultRenderer)
	envString("AVCTL_SESSION_DEFAULT_SERVER", &cfg.Session.DefaultServer)

	// Events
	envString("AVCTL_EVENTS_CALLBACK_HOST", &cfg.Events.CallbackHost)
	envInt("AVCTL_EVENTS_CALLBACK_PORT", &cfg.Events.CallbackPort)

	// MQTT
	if v := os.Getenv("AVCTL_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	envString("AVCTL_MQTT_BROKER", &cfg.MQTT.Broker)
	envString("AVCTL_MQTT_USERNAME", &cfg.MQTT.Username)
	envString("AVCTL_MQTT_PASSWORD", &cfg.MQTT.Password)

	// Store
	envString("AVCTL_STORE_PATH", &cfg.Store.Path)

	// Log
	envString("AVCTL_LOG_LEVEL", &cfg.Log.Level)
	envString("AVCTL_LOG_FORMAT", &cfg.Log.Format)
	envString("AVCTL_LOG_FILE", &cfg.Log.File)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
