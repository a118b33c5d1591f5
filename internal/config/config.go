// Package config loads stagesync settings from config.yaml, STAGESYNC_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/simbafs/stagesync/internal/domain"
)

// Config holds the process configuration.
type Config struct {
	Role string `mapstructure:"role"`
	Name string `mapstructure:"name"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Session struct {
		Host             bool          `mapstructure:"host"`
		HubURL           string        `mapstructure:"hub_url"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	} `mapstructure:"session"`

	Discovery struct {
		Enabled  bool          `mapstructure:"enabled"`
		MDNS     bool          `mapstructure:"mdns"`
		UDPPort  int           `mapstructure:"udp_port"`
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"discovery"`

	Registry struct {
		Driver            string        `mapstructure:"driver"`
		DSN               string        `mapstructure:"dsn"`
		URL               string        `mapstructure:"url"`
		ChurchID          string        `mapstructure:"church_id"`
		PairingCode       string        `mapstructure:"pairing_code"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		SweepInterval     time.Duration `mapstructure:"sweep_interval"`
		Staleness         time.Duration `mapstructure:"staleness"`
	} `mapstructure:"registry"`

	Cache struct {
		Dir              string        `mapstructure:"dir"`
		Workers          int           `mapstructure:"workers"`
		ProgressInterval time.Duration `mapstructure:"progress_interval"`
		JanitorInterval  time.Duration `mapstructure:"janitor_interval"`
	} `mapstructure:"cache"`

	S3 struct {
		Endpoint string `mapstructure:"endpoint"`
		Region   string `mapstructure:"region"`
		KeyID    string `mapstructure:"key_id"`
		AppKey   string `mapstructure:"app_key"`
	} `mapstructure:"s3"`

	Display struct {
		DeviceID string `mapstructure:"device_id"`
		Width    int    `mapstructure:"width"`
		Height   int    `mapstructure:"height"`
		Platform string `mapstructure:"platform"`
		Port     int    `mapstructure:"port"`
		MaxLines int    `mapstructure:"max_lines"`
	} `mapstructure:"display"`

	Control struct {
		PrecacheTimeout time.Duration `mapstructure:"precache_timeout"`
	} `mapstructure:"control"`
}

// Capability describes what this process does on the network.
// It is resolved once at startup and handed to the session manager and the
// discovery service.
type Capability struct {
	Role      domain.Role
	Host      bool
	Browse    bool
	Advertise bool
}

var keys = []string{
	"role", "name",
	"server.addr",
	"log.level",
	"session.host", "session.hub_url", "session.handshake_timeout",
	"discovery.enabled", "discovery.mdns", "discovery.udp_port", "discovery.interval", "discovery.timeout",
	"registry.driver", "registry.dsn", "registry.url", "registry.church_id", "registry.pairing_code",
	"registry.heartbeat_interval", "registry.sweep_interval", "registry.staleness",
	"cache.dir", "cache.workers", "cache.progress_interval", "cache.janitor_interval",
	"s3.endpoint", "s3.region", "s3.key_id", "s3.app_key",
	"display.device_id", "display.width", "display.height", "display.platform", "display.port", "display.max_lines",
	"control.precache_timeout",
}

// New returns a viper instance with env bindings and defaults registered.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("STAGESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		v.BindEnv(k)
	}

	hostname, _ := os.Hostname()

	v.SetDefault("role", string(domain.RoleController))
	v.SetDefault("name", hostname)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("session.host", true)
	v.SetDefault("session.handshake_timeout", 5*time.Second)

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.mdns", true)
	v.SetDefault("discovery.udp_port", 48488)
	v.SetDefault("discovery.interval", 10*time.Second)
	v.SetDefault("discovery.timeout", 3*time.Second)

	v.SetDefault("registry.driver", "sqlite")
	v.SetDefault("registry.dsn", "stagesync.db")
	v.SetDefault("registry.heartbeat_interval", 5*time.Second)
	v.SetDefault("registry.sweep_interval", 10*time.Second)
	v.SetDefault("registry.staleness", 30*time.Second)

	v.SetDefault("cache.dir", os.TempDir()+"/stagesync-cache")
	v.SetDefault("cache.workers", 4)
	v.SetDefault("cache.progress_interval", 500*time.Millisecond)
	v.SetDefault("cache.janitor_interval", time.Minute)

	v.SetDefault("s3.region", "us-east-1")

	v.SetDefault("display.width", 1920)
	v.SetDefault("display.height", 1080)
	v.SetDefault("display.platform", "linux")
	v.SetDefault("display.port", 8081)
	v.SetDefault("display.max_lines", 4)

	v.SetDefault("control.precache_timeout", 30*time.Second)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/stagesync")
	return v
}

// Load reads the optional config file and decodes v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("config.yaml not found, using environment and flags only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if !domain.Role(cfg.Role).Valid() {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	return &cfg, nil
}

// Capability resolves the role-dependent behaviour of this process.
// Displays advertise and never browse. Controllers browse, and may host the
// session hub when they were not pointed at another hub and find none.
func (c *Config) Capability() Capability {
	role := domain.Role(c.Role)
	if role == domain.RoleDisplay {
		return Capability{Role: role, Advertise: c.Discovery.Enabled}
	}
	return Capability{
		Role:   role,
		Host:   c.Session.Host && c.Session.HubURL == "",
		Browse: c.Discovery.Enabled,
	}
}

// LogLevel maps log.level to a slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
