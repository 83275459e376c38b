package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the settings shared by the tracker CLI and the relay
type Config struct {
	DBPath      string
	APIRoot     string
	LogLevel    string
	HTTPTimeout time.Duration
	Tracker     TrackerConfig
	Relay       RelayConfig
}

// TrackerConfig tunes the presence tracker
type TrackerConfig struct {
	MinUpdateInterval time.Duration
	WakeInterval      time.Duration
	ElevationRecheck  time.Duration
	CircleMargin      float64
	SmallCircleMargin float64
	FanoutWorkers     int
}

// RelayConfig configures the development relay server
type RelayConfig struct {
	Port       string
	JWTSecret  string
	TokenTTL   time.Duration
	RedisAddr  string // empty keeps inboxes in memory
	RedisDB    int
	RateLimit  int
	RateWindow time.Duration
}

type rawConfig struct {
	DBPath      string `yaml:"db_path"`
	APIRoot     string `yaml:"api_root"`
	LogLevel    string `yaml:"log_level"`
	HTTPTimeout string `yaml:"http_timeout"`
	Tracker     struct {
		MinUpdateInterval string  `yaml:"min_update_interval"`
		WakeInterval      string  `yaml:"wake_interval"`
		ElevationRecheck  string  `yaml:"elevation_recheck"`
		CircleMargin      float64 `yaml:"circle_margin"`
		SmallCircleMargin float64 `yaml:"small_circle_margin"`
		FanoutWorkers     int     `yaml:"fanout_workers"`
	} `yaml:"tracker"`
	Relay struct {
		Port       string `yaml:"port"`
		JWTSecret  string `yaml:"jwt_secret"`
		TokenTTL   string `yaml:"token_ttl"`
		RedisAddr  string `yaml:"redis_addr"`
		RedisDB    int    `yaml:"redis_db"`
		RateLimit  int    `yaml:"rate_limit"`
		RateWindow string `yaml:"rate_window"`
	} `yaml:"relay"`
}

// Default returns the built in settings
func Default() *Config {
	return &Config{
		DBPath:      "./data/presence.db",
		APIRoot:     "http://localhost:8080/api",
		LogLevel:    "info",
		HTTPTimeout: 10 * time.Second,
		Tracker: TrackerConfig{
			MinUpdateInterval: 15 * time.Second,
			WakeInterval:      15 * time.Minute,
			ElevationRecheck:  30 * time.Second,
			CircleMargin:      10,
			SmallCircleMargin: 5,
			FanoutWorkers:     8,
		},
		Relay: RelayConfig{
			Port:       ":8080",
			JWTSecret:  "your-secret-key-change-in-production",
			TokenTTL:   30 * 24 * time.Hour,
			RateLimit:  120,
			RateWindow: time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := cfg.apply(data); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) apply(data []byte) error {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	setString(&c.DBPath, raw.DBPath)
	setString(&c.APIRoot, raw.APIRoot)
	setString(&c.LogLevel, raw.LogLevel)
	setString(&c.Relay.Port, raw.Relay.Port)
	setString(&c.Relay.JWTSecret, raw.Relay.JWTSecret)
	setString(&c.Relay.RedisAddr, raw.Relay.RedisAddr)

	if raw.Tracker.CircleMargin > 0 {
		c.Tracker.CircleMargin = raw.Tracker.CircleMargin
	}
	if raw.Tracker.SmallCircleMargin > 0 {
		c.Tracker.SmallCircleMargin = raw.Tracker.SmallCircleMargin
	}
	if raw.Tracker.FanoutWorkers > 0 {
		c.Tracker.FanoutWorkers = raw.Tracker.FanoutWorkers
	}
	if raw.Relay.RedisDB > 0 {
		c.Relay.RedisDB = raw.Relay.RedisDB
	}
	if raw.Relay.RateLimit > 0 {
		c.Relay.RateLimit = raw.Relay.RateLimit
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"http_timeout", raw.HTTPTimeout, &c.HTTPTimeout},
		{"tracker.min_update_interval", raw.Tracker.MinUpdateInterval, &c.Tracker.MinUpdateInterval},
		{"tracker.wake_interval", raw.Tracker.WakeInterval, &c.Tracker.WakeInterval},
		{"tracker.elevation_recheck", raw.Tracker.ElevationRecheck, &c.Tracker.ElevationRecheck},
		{"relay.token_ttl", raw.Relay.TokenTTL, &c.Relay.TokenTTL},
		{"relay.rate_window", raw.Relay.RateWindow, &c.Relay.RateWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.DBPath, os.Getenv("PRESENCE_DB_PATH"))
	setString(&c.APIRoot, os.Getenv("PRESENCE_API_ROOT"))
	setString(&c.LogLevel, os.Getenv("PRESENCE_LOG_LEVEL"))
	setString(&c.Relay.JWTSecret, os.Getenv("JWT_SECRET"))
	setString(&c.Relay.RedisAddr, os.Getenv("REDIS_ADDR"))

	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			port = ":" + port
		}
		c.Relay.Port = port
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
