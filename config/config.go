package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// APIURLEnv overrides api.base_url.
	APIURLEnv = "API_URL"
	// PortEnv overrides server.port.
	PortEnv = "PORT"

	DefaultAPIBaseURL = "http://localhost:3000"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Session   SessionConfig   `yaml:"session"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// APIConfig points at the external document API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	Secret      string `yaml:"secret"`
	CookieName  string `yaml:"cookie_name"`
	MaxAgeHours int    `yaml:"max_age_hours"`
	Secure      bool   `yaml:"secure"`
}

// CacheConfig bounds the in-memory "who am I" cache.
type CacheConfig struct {
	MaxUsers int           `yaml:"max_users"`
	TTL      time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	LoginRequests int `yaml:"login_requests"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.setDefaults()
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		cfg.applyEnv()
		cfg.setDefaults()
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if v := os.Getenv(APIURLEnv); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(PortEnv); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "docchain_session"
	}
	if c.Session.MaxAgeHours == 0 {
		c.Session.MaxAgeHours = 24
	}
	if c.Cache.MaxUsers == 0 {
		c.Cache.MaxUsers = 1000
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.LoginRequests == 0 {
		c.RateLimit.LoginRequests = 10
	}
}

// SessionMaxAge is the cookie lifetime in seconds.
func (c *SessionConfig) SessionMaxAge() int {
	return c.MaxAgeHours * int(time.Hour/time.Second)
}
