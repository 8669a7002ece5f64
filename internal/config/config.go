package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/viper"

	"koloda/internal/secret"
)

// Config is the startup configuration of the app.
type Config struct {
	// Service namespaces the secret vault and the secrets file name.
	Service string `mapstructure:"service"`
	// Backend is auto, keyring, file or wincred.
	Backend          string    `mapstructure:"backend"`
	DataDir          string    `mapstructure:"data_dir"`
	DatabaseFile     string    `mapstructure:"database_file"`
	WatchSecretsFile bool      `mapstructure:"watch_secrets_file"`
	Log              LogConfig `mapstructure:"log"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

const envPrefix = "KOLODA"

var backends = []string{secret.BackendAuto, secret.BackendKeyring, secret.BackendFile, secret.BackendWinCred}

// Load reads configuration from, in priority order, KOLODA_* environment
// variables, the config file and built-in defaults. An empty path looks for
// config.yaml in the data directory; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "koloda")
	v.SetDefault("backend", secret.BackendAuto)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("database_file", "koloda.db")
	v.SetDefault("watch_secrets_file", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "koloda")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".koloda")
}

// Validate rejects configurations the app cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("config: service must not be empty")
	}
	if !lo.Contains(backends, c.Backend) {
		return fmt.Errorf("config: unknown backend %q (want one of %s)", c.Backend, strings.Join(backends, ", "))
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.DatabaseFile == "" {
		return errors.New("config: database_file must not be empty")
	}
	return nil
}

// DatabasePath returns the SQLite file path. A relative DatabaseFile is
// resolved against DataDir.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.DatabaseFile) {
		return c.DatabaseFile
	}
	return filepath.Join(c.DataDir, c.DatabaseFile)
}

// SecretOptions maps the config onto vault options.
func (c *Config) SecretOptions() secret.Options {
	return secret.Options{
		Service:   c.Service,
		Backend:   c.Backend,
		DataDir:   c.DataDir,
		WatchFile: c.WatchSecretsFile,
	}
}
