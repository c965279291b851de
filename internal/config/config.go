package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Auth struct {
		// SuperAdminID is the only identity allowed to grant or revoke admins.
		SuperAdminID string `yaml:"superAdminId"`
		SessionTTL   string `yaml:"sessionTtl"`
		BcryptCost   int    `yaml:"bcryptCost"`
	} `yaml:"auth"`
	Keys struct {
		TTL string `yaml:"ttl"`
	} `yaml:"keys"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads YAML config from path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides deployment-specific values from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("SUPER_ADMIN_ID"); ok {
		c.Auth.SuperAdminID = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		c.Postgres.URL = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup("REDIS_DB"); ok {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
