// Package config loads fieldsync settings from defaults, an optional config
// file and FIELDSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in the
// key replaced by underscores: FIELDSYNC_SYNC_BATCH_SIZE.
const EnvPrefix = "FIELDSYNC"

type DB struct {
	Path string `mapstructure:"path"`
}

type Remote struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Sync struct {
	BatchSize    int           `mapstructure:"batch_size"`    // max queue items uploaded per cycle
	RejectBudget int           `mapstructure:"reject_budget"` // server rejections before an item parks
	Interval     time.Duration `mapstructure:"interval"`      // periodic cycle while online; 0 disables
}

type Network struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	ProbeAddr     string        `mapstructure:"probe_addr"`     // host:port dialed to test reachability
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	StateFile     string        `mapstructure:"state_file"` // file holding "online"/"offline"
}

type Geofence struct {
	DeliveryToleranceM     float64 `mapstructure:"delivery_tolerance_m"`
	ServiceOrderToleranceM float64 `mapstructure:"service_order_tolerance_m"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"`
}

type Tracing struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type Config struct {
	DB       DB       `mapstructure:"db"`
	Remote   Remote   `mapstructure:"remote"`
	Sync     Sync     `mapstructure:"sync"`
	Network  Network  `mapstructure:"network"`
	Geofence Geofence `mapstructure:"geofence"`
	Log      Log      `mapstructure:"log"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Tracing  Tracing  `mapstructure:"tracing"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for AutomaticEnv to see them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "fieldsync.db")

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 15*time.Second)

	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.reject_budget", 3)
	v.SetDefault("sync.interval", time.Duration(0))

	v.SetDefault("network.debounce", 2*time.Second)
	v.SetDefault("network.probe_addr", "")
	v.SetDefault("network.probe_interval", 10*time.Second)
	v.SetDefault("network.state_file", "")

	v.SetDefault("geofence.delivery_tolerance_m", 150.0)
	v.SetDefault("geofence.service_order_tolerance_m", 100.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "fieldsync")
}

// New returns a viper instance with defaults and env overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) on top of the defaults, applies env
// overrides and validates the result. The file format follows the
// extension: yaml, toml or json.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in settings.
func Default() Config {
	cfg, err := FromViper(New())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Validate rejects settings the rest of the system cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, errors.New("db.path must not be empty"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.RejectBudget <= 0 {
		errs = append(errs, fmt.Errorf("sync.reject_budget must be positive, got %d", c.Sync.RejectBudget))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync.interval must not be negative"))
	}
	if c.Network.Debounce < 0 {
		errs = append(errs, errors.New("network.debounce must not be negative"))
	}
	if c.Network.ProbeAddr != "" && c.Network.ProbeInterval <= 0 {
		errs = append(errs, errors.New("network.probe_interval must be positive when probe_addr is set"))
	}
	if c.Geofence.DeliveryToleranceM <= 0 {
		errs = append(errs, errors.New("geofence.delivery_tolerance_m must be positive"))
	}
	if c.Geofence.ServiceOrderToleranceM <= 0 {
		errs = append(errs, errors.New("geofence.service_order_tolerance_m must be positive"))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
