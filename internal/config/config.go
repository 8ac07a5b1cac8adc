package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"

	FormatText = "text"
	FormatJSON = "json"
)

// ErrUnsupportedDriver is returned for a STORE_DRIVER other than memory or sqlite.
var ErrUnsupportedDriver = errors.New("unsupported store driver")

// Config aggregates application configuration values.
type Config struct {
	AppPort         string
	ShutdownTimeout time.Duration
	Loader          LoaderConfig
	Store           StoreConfig
	RabbitMQURL     string // empty disables user events
	Logging         LoggingConfig
}

// LoaderConfig describes the remote source of the initial users.
type LoaderConfig struct {
	Endpoint string
	Timeout  time.Duration // zero means no deadline
}

// StoreConfig selects the user collection backend.
type StoreConfig struct {
	Driver    string
	SQLiteDSN string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string
	Format string // text|json
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("USERS_ENDPOINT", "https://jsonplaceholder.typicode.com/users")
	v.SetDefault("LOADER_TIMEOUT", "0s")
	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("SQLITE_DSN", "file::memory:?cache=shared")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// New returns a viper instance reading environment variables and, when present,
// a userdir.yaml file in the working directory.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	v.SetConfigName("userdir")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		AppPort:         v.GetString("APP_PORT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		Loader: LoaderConfig{
			Endpoint: v.GetString("USERS_ENDPOINT"),
			Timeout:  v.GetDuration("LOADER_TIMEOUT"),
		},
		Store: StoreConfig{
			Driver:    strings.ToLower(v.GetString("STORE_DRIVER")),
			SQLiteDSN: v.GetString("SQLITE_DSN"),
		},
		RabbitMQURL: v.GetString("RABBITMQ_URL"),
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
	}

	if cfg.Loader.Endpoint == "" {
		return Config{}, errors.New("USERS_ENDPOINT must not be empty")
	}
	if cfg.Loader.Timeout < 0 {
		return Config{}, fmt.Errorf("invalid LOADER_TIMEOUT %s", cfg.Loader.Timeout)
	}
	switch cfg.Store.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Store.Driver)
	}
	switch cfg.Logging.Format {
	case FormatText, FormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT %q", cfg.Logging.Format)
	}
	return cfg, nil
}
