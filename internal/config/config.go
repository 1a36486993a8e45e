// Package config loads the service configuration: a yaml file plus
// environment overrides for the connection strings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Detection struct {
		URL string `yaml:"url"`
	} `yaml:"detection"`

	GenAI struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"genai"`

	Frames struct {
		StorageRoot string `yaml:"storage_root"`
		FFmpegPath  string `yaml:"ffmpeg_path"`
		HLSRoot     string `yaml:"hls_root"`
	} `yaml:"frames"`

	Monitor struct {
		PollIntervalMs    int `yaml:"poll_interval_ms"`
		MaxStreamFailures int `yaml:"max_stream_failures"`
	} `yaml:"monitor"`

	Notify struct {
		Webhooks        []string `yaml:"webhooks"`
		CooldownMinutes int      `yaml:"cooldown_minutes"`
	} `yaml:"notify"`
}

// Load reads the yaml file, applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Frames.StorageRoot == "" {
		c.Frames.StorageRoot = "./frames"
	}
	if c.Frames.FFmpegPath == "" {
		c.Frames.FFmpegPath = "ffmpeg"
	}
	if c.Monitor.PollIntervalMs <= 0 {
		c.Monitor.PollIntervalMs = 500
	}
	if c.Monitor.MaxStreamFailures <= 0 {
		c.Monitor.MaxStreamFailures = 5
	}
	if c.Notify.CooldownMinutes <= 0 {
		c.Notify.CooldownMinutes = 5
	}
}

// applyEnv overrides connection strings and credentials from the
// environment. Deployment sets these; the yaml carries dev defaults.
func (c *Config) applyEnv() {
	setIfPresent(&c.Database.DSN, "DATABASE_URL")
	setIfPresent(&c.Redis.Addr, "REDIS_ADDR")
	setIfPresent(&c.Redis.Password, "REDIS_PASSWORD")
	setIfPresent(&c.NATS.URL, "NATS_URL")
	setIfPresent(&c.Detection.URL, "DETECTION_URL")
	setIfPresent(&c.GenAI.URL, "GENAI_URL")
	setIfPresent(&c.GenAI.APIKey, "GENAI_API_KEY")
	setIfPresent(&c.Frames.StorageRoot, "FRAME_STORAGE_ROOT")
	setIfPresent(&c.Server.Addr, "SERVER_ADDR")
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}

func (c *Config) NotifyCooldown() time.Duration {
	return time.Duration(c.Notify.CooldownMinutes) * time.Minute
}
