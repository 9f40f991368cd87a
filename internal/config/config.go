package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	ServerAddr     string   `yaml:"server_addr" env:"SERVER_ADDR" env-default:"localhost:8000"`
	DatabaseDSN    string   `yaml:"database_dsn" env:"DATABASE_DSN"`
	SigningSecret  string   `yaml:"signing_key" env:"SIGNING_KEY"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`
	RedisAddr      string   `yaml:"redis_addr" env:"REDIS_ADDR"`
	AutoMigrate    bool     `yaml:"auto_migrate" env:"AUTO_MIGRATE" env-default:"true"`
	Chat           Chat     `yaml:"chat"`

	SigningKey []byte `yaml:"-" env:"-"`
}

type Chat struct {
	PermissionTTL time.Duration `yaml:"permission_ttl" env:"CHAT_PERMISSION_TTL" env-default:"5m"`
	RateLimit     int           `yaml:"rate_limit" env:"CHAT_RATE_LIMIT" env-default:"10"`
	RateWindow    time.Duration `yaml:"rate_window" env:"CHAT_RATE_WINDOW" env-default:"60s"`
}

// Load reads the config file at path, with environment variables taking
// precedence. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var (
		cfg Config
		err error
	)
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return errors.New("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return errors.New("database DSN cannot be empty")
	}
	if c.SigningSecret == "" {
		return errors.New("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	if c.Chat.PermissionTTL <= 0 {
		return errors.New("permission ttl must be positive")
	}
	if c.Chat.RateLimit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Chat.RateWindow <= 0 {
		return errors.New("rate window must be positive")
	}

	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("empty signing key")
	}

	return key, nil
}
