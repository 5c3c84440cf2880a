package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ugchub/internal/db"
	"ugchub/internal/sweep"
)

// Config models ugchub.yml.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`
	Realtime struct {
		Broker       string        `yaml:"broker"`
		RedisAddr    string        `yaml:"redis_addr"`
		RedisDB      int           `yaml:"redis_db"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"realtime"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Sweep struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
	} `yaml:"sweep"`
	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case db.SQLite, "":
	case db.Postgres, "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.Realtime.Broker {
	case "", "memory":
	case "redis":
		if c.Realtime.RedisAddr == "" {
			return fmt.Errorf("config.realtime.redis_addr is required for the redis broker")
		}
	default:
		return fmt.Errorf("config.realtime.broker must be memory or redis, got %q", c.Realtime.Broker)
	}
	if c.Realtime.PollInterval < 0 {
		return fmt.Errorf("config.realtime.poll_interval must not be negative")
	}
	if c.Sweep.Enabled {
		if err := sweep.Validate(c.Sweep.Schedule); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ugchub.yml")
}

// Load reads ugchub.yml from the workspace over the defaults. A missing file
// yields the defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ApplyOverrides copies every key set in v (flags or UGCHUB_* environment
// variables) over the file values, then revalidates.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("server.addr", &c.Server.Addr)
	str("database.driver", &c.Database.Driver)
	str("database.dsn", &c.Database.DSN)
	str("auth.jwt_secret", &c.Auth.JWTSecret)
	str("auth.issuer", &c.Auth.Issuer)
	str("realtime.broker", &c.Realtime.Broker)
	str("realtime.redis_addr", &c.Realtime.RedisAddr)
	str("amqp.url", &c.AMQP.URL)
	str("amqp.exchange", &c.AMQP.Exchange)
	str("sweep.schedule", &c.Sweep.Schedule)
	str("catalog.path", &c.Catalog.Path)
	str("log.level", &c.Log.Level)
	str("log.format", &c.Log.Format)
	if v.IsSet("realtime.redis_db") {
		c.Realtime.RedisDB = v.GetInt("realtime.redis_db")
	}
	if v.IsSet("realtime.poll_interval") {
		c.Realtime.PollInterval = v.GetDuration("realtime.poll_interval")
	}
	if v.IsSet("sweep.enabled") {
		c.Sweep.Enabled = v.GetBool("sweep.enabled")
	}
	return c.Validate()
}

// DB returns the connection settings for a workspace.
func (c *Config) DB(workspace string) db.Config {
	return db.Config{Workspace: workspace, Driver: c.Database.Driver, DSN: c.Database.DSN}
}

const defaultTemplate = `server:
  addr: ":8080"

database:
  driver: sqlite
  dsn: ""

auth:
  jwt_secret: ""
  issuer: ugchub

realtime:
  broker: memory
  redis_addr: ""
  redis_db: 0
  poll_interval: 15s

amqp:
  url: ""
  exchange: ugchub.events

sweep:
  enabled: true
  schedule: "@every 1h"

catalog:
  path: ""

log:
  level: info
  format: json
`
