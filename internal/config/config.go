// Package config loads the relay configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dylive/barrage-relay/internal/notify"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Filters    FiltersConfig    `mapstructure:"filters"`
	Rooms      RoomsConfig      `mapstructure:"rooms"`
	Console    ConsoleConfig    `mapstructure:"console"`
	BarrageLog BarrageLogConfig `mapstructure:"barrage_log"`
	GiftCache  GiftCacheConfig  `mapstructure:"gift_cache"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Notify     notify.Config    `mapstructure:"notify"`
	Replay     ReplayConfig     `mapstructure:"replay"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// FiltersConfig holds the three allow-lists of event kind codes. An empty
// list allows every kind.
type FiltersConfig struct {
	Print []int `mapstructure:"print"`
	Push  []int `mapstructure:"push"`
	Log   []int `mapstructure:"log"`
}

// RoomsConfig optionally restricts processing to the listed web room ids.
type RoomsConfig struct {
	WebRoomIDs []string `mapstructure:"web_room_ids"`
}

type ConsoleConfig struct {
	PrintEnabled bool `mapstructure:"print_enabled"`
}

type BarrageLogConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

type GiftCacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type HeartbeatConfig struct {
	ReapEnabled   bool          `mapstructure:"reap_enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// SerialConfig configures the secondary sink. An empty port disables it.
type SerialConfig struct {
	Port       string `mapstructure:"port"`
	BaudRate   int    `mapstructure:"baud_rate"`
	ScriptPath string `mapstructure:"script_path"`
}

type ReplayConfig struct {
	Directory string        `mapstructure:"directory"`
	Interval  time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8888")
	v.SetDefault("filters.print", []int{})
	v.SetDefault("filters.push", []int{})
	v.SetDefault("filters.log", []int{})
	v.SetDefault("rooms.web_room_ids", []string{})
	v.SetDefault("console.print_enabled", true)
	v.SetDefault("barrage_log.enabled", false)
	v.SetDefault("barrage_log.directory", "barrages")
	v.SetDefault("gift_cache.ttl", "10s")
	v.SetDefault("gift_cache.sweep_interval", "10s")
	v.SetDefault("heartbeat.reap_enabled", false)
	v.SetDefault("heartbeat.check_interval", "10s")
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.script_path", "")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("replay.directory", "")
	v.SetDefault("replay.interval", "100ms")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("BARRAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GiftCache.TTL < 0 {
		return fmt.Errorf("gift_cache.ttl must not be negative")
	}
	if c.GiftCache.SweepInterval < 0 {
		return fmt.Errorf("gift_cache.sweep_interval must not be negative")
	}
	if c.Heartbeat.CheckInterval < 0 {
		return fmt.Errorf("heartbeat.check_interval must not be negative")
	}
	if c.Serial.Port != "" && c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	if c.Notify.Enabled && c.Notify.Topic == "" {
		return fmt.Errorf("notify.topic is required when notifications are enabled")
	}
	for _, codes := range [][]int{c.Filters.Print, c.Filters.Push, c.Filters.Log} {
		for _, code := range codes {
			if code <= 0 {
				return fmt.Errorf("filter codes must be positive, got %d", code)
			}
		}
	}
	return nil
}
