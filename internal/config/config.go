// Package config loads the crmsync configuration file and watches it
// for edits while a sync session runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Settings mirrors the remote settings document: small scalar
// preferences synced as a flat map outside the four collection loops.
type Settings struct {
	Theme      string
	Currency   string
	Country    string
	Multiplier float64
	ViewMode   string
}

// Config is the application configuration.
type Config struct {
	// DBPath is the SQLite file for the local store.
	DBPath string

	// RemoteURL is the websocket endpoint of the remote store. Empty
	// means offline mode with the in-process store.
	RemoteURL string

	// Tenant scopes all remote data for this user.
	Tenant string

	// LogFile, when set, routes logs to a rotated file instead of
	// stderr.
	LogFile string

	// Offline forces the in-process remote store.
	Offline bool

	Settings Settings

	// File is the config file actually read, whether passed
	// explicitly or found on the search path. Empty when the
	// configuration is pure defaults. It is what Watch should watch.
	File string
}

// Load reads the configuration from path, or from crmsync.yaml in the
// working directory and ~/.config/crmsync when path is empty. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("crmsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "crmsync"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "crm.db")
	v.SetDefault("remote_url", "")
	v.SetDefault("tenant", "")
	v.SetDefault("log_file", "")
	v.SetDefault("offline", false)
	v.SetDefault("settings.theme", "system")
	v.SetDefault("settings.currency", "USD")
	v.SetDefault("settings.country", "")
	v.SetDefault("settings.multiplier", 1.0)
	v.SetDefault("settings.view_mode", "list")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DBPath:    v.GetString("db_path"),
		RemoteURL: v.GetString("remote_url"),
		Tenant:    v.GetString("tenant"),
		LogFile:   v.GetString("log_file"),
		Offline:   v.GetBool("offline"),
		Settings: Settings{
			Theme:      v.GetString("settings.theme"),
			Currency:   v.GetString("settings.currency"),
			Country:    v.GetString("settings.country"),
			Multiplier: v.GetFloat64("settings.multiplier"),
			ViewMode:   v.GetString("settings.view_mode"),
		},
	}
}

// SettingsMap flattens the settings into the string map the remote
// settings document carries.
func (c *Config) SettingsMap() map[string]string {
	return map[string]string{
		"theme":      c.Settings.Theme,
		"currency":   c.Settings.Currency,
		"country":    c.Settings.Country,
		"multiplier": strconv.FormatFloat(c.Settings.Multiplier, 'f', -1, 64),
		"viewMode":   c.Settings.ViewMode,
	}
}
