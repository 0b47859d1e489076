// Package config loads the service configuration from a YAML file with
// environment variable overrides. Secrets (fingerprint salt, AES key, SES
// credentials) are expected to arrive via environment variables; a local
// .env file is honored for development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Mail      MailConfig      `yaml:"mail"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional Redis settings used for broadcast locks.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// CryptoConfig holds the subscriber address protection secrets.
// Salt keys the lookup fingerprint; AESKey (hex, 32 bytes) encrypts the
// reversible representation. Neither has a YAML default on purpose.
type CryptoConfig struct {
	EmailSalt string `yaml:"email_salt"`
	AESKey    string `yaml:"aes_email_key"`
}

// MailConfig holds delivery gateway and addressing settings.
type MailConfig struct {
	Provider       string `yaml:"provider"` // "ses" or "dryrun"
	Domain         string `yaml:"domain"`
	FromName       string `yaml:"from_name"`
	FromAddress    string `yaml:"from_address"`
	AdminAddress   string `yaml:"admin_address"`
	TemplateDir    string `yaml:"template_dir"`
	SESRegion      string `yaml:"ses_region"`
	SESAccessKey   string `yaml:"ses_access_key"`
	SESSecretKey   string `yaml:"ses_secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the gateway timeout as a duration.
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BroadcastConfig controls the bulk-send pagination and retry policy.
type BroadcastConfig struct {
	PageSize       int `yaml:"page_size"`
	PageRetries    int `yaml:"page_retries"`
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the per-template run lock TTL.
func (c BroadcastConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "ses"
	}
	if cfg.Mail.SESRegion == "" {
		cfg.Mail.SESRegion = "us-east-1"
	}
	if cfg.Mail.TimeoutSeconds == 0 {
		cfg.Mail.TimeoutSeconds = 30
	}
	if cfg.Mail.TemplateDir == "" {
		cfg.Mail.TemplateDir = "templates"
	}
	if cfg.Mail.FromName == "" {
		cfg.Mail.FromName = "Newsletter"
	}
	if cfg.Broadcast.PageSize == 0 {
		cfg.Broadcast.PageSize = 50
	}
	if cfg.Broadcast.PageRetries == 0 {
		cfg.Broadcast.PageRetries = 2
	}
	if cfg.Broadcast.LockTTLSeconds == 0 {
		cfg.Broadcast.LockTTLSeconds = 1800
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real environment variables in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("EMAIL_SALT"); v != "" {
		cfg.Crypto.EmailSalt = v
	}
	if v := os.Getenv("AES_EMAIL_KEY"); v != "" {
		cfg.Crypto.AESKey = v
	}
	if v := os.Getenv("DOMAIN"); v != "" {
		cfg.Mail.Domain = v
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.Mail.Provider = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.SESRegion = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.SESAccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SESSecretKey = v
	}
	if v := os.Getenv("BROADCAST_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Broadcast.PageSize = n
		}
	}

	return cfg, nil
}

// Validate checks the settings the core cannot run without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database url is required")
	}
	if c.Crypto.EmailSalt == "" {
		return errors.New("config: email salt is required (EMAIL_SALT)")
	}
	if c.Crypto.AESKey == "" {
		return errors.New("config: aes email key is required (AES_EMAIL_KEY)")
	}
	if c.Mail.Domain == "" {
		return errors.New("config: mail domain is required (DOMAIN)")
	}
	if c.Mail.FromAddress == "" {
		c.Mail.FromAddress = fmt.Sprintf("hi@%s", c.Mail.Domain)
	}
	if c.Mail.AdminAddress == "" {
		c.Mail.AdminAddress = fmt.Sprintf("admin@%s", c.Mail.Domain)
	}
	return nil
}
