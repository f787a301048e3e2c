// Package config loads the pipeline configuration from a YAML file and
// FRAUDWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"fraudwatch/warehouse"
)

const EnvPrefix = "FRAUDWATCH"

// ErrMissingConnection is returned when the database section cannot produce
// a connection.
var ErrMissingConnection = errors.New("missing database connection parameters")

type DatabaseConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Path     string `yaml:"path" mapstructure:"path"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	DBName   string `yaml:"dbname" mapstructure:"dbname"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

type DirsConfig struct {
	Data    string `yaml:"data" mapstructure:"data"`
	Archive string `yaml:"archive" mapstructure:"archive"`
	Error   string `yaml:"error" mapstructure:"error"`
}

type Config struct {
	Debug    bool           `yaml:"debug" mapstructure:"debug"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Dirs     DirsConfig     `yaml:"dirs" mapstructure:"dirs"`

	// WindowOverride is the fraud window override file.
	WindowOverride  string `yaml:"window_override" mapstructure:"window_override"`
	MetricsTextfile string `yaml:"metrics_textfile" mapstructure:"metrics_textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("database.driver", warehouse.DriverSQLite)
	v.SetDefault("database.path", "dwh.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("dirs.data", "data")
	v.SetDefault("dirs.archive", "archive")
	// Empty lets the runner use <dirs.archive>/error.
	v.SetDefault("dirs.error", "")
	v.SetDefault("window_override", "date_settings.json")
	v.SetDefault("metrics_textfile", "")
}

// Load reads path when it is non-empty, then applies environment overrides
// such as FRAUDWATCH_DATABASE_HOST. Every key has a default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the database section is usable and the directories
// are set.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case warehouse.DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("%w: database.path", ErrMissingConnection)
		}
	case warehouse.DriverPostgres:
		var missing []string
		if strings.TrimSpace(c.Database.Host) == "" {
			missing = append(missing, "database.host")
		}
		if strings.TrimSpace(c.Database.User) == "" {
			missing = append(missing, "database.user")
		}
		if strings.TrimSpace(c.Database.DBName) == "" {
			missing = append(missing, "database.dbname")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrMissingConnection, strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("%w: %q", warehouse.ErrUnknownDriver, c.Database.Driver)
	}
	if strings.TrimSpace(c.Dirs.Data) == "" || strings.TrimSpace(c.Dirs.Archive) == "" {
		return fmt.Errorf("dirs.data and dirs.archive are required")
	}
	return nil
}

// Warehouse returns the connection settings for warehouse.Open.
func (c *Config) Warehouse() warehouse.Config {
	return warehouse.Config{
		Driver:   c.Database.Driver,
		Path:     c.Database.Path,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		DBName:   c.Database.DBName,
		SSLMode:  c.Database.SSLMode,
		Debug:    c.Debug,
	}
}
