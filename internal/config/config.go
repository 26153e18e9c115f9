// Package config loads ObjectMail's process configuration from
// environment variables through a viper singleton, reading bare env vars
// with defaults instead of a config file.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	v *viper.Viper
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide configuration singleton, reading defaults
// and then overlaying environment variables on first call.
func Get() *Config {
	once.Do(func() {
		v := viper.New()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		v.SetDefault("PORT", "9000")
		v.SetDefault("HOST", "0.0.0.0")
		v.SetDefault("CHUNK_SIZE_MB", 18)
		v.SetDefault("EMAIL_PROVIDER", "generic_imap")
		v.SetDefault("EMAIL_DRAFTS_FOLDER", "Drafts")
		v.SetDefault("DATABASE_MAX_CONNS", 10)
		v.SetDefault("IMAP_POOL_SIZE", 4)
		v.SetDefault("LOG_LEVEL", "info")

		instance = &Config{v: v}
	})
	return instance
}

func (c *Config) String(key string) string { return c.v.GetString(key) }
func (c *Config) Int(key string) int       { return c.v.GetInt(key) }

// Addr returns the HOST:PORT listener address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.String("HOST"), c.String("PORT"))
}

// ChunkSizeBytes returns CHUNK_SIZE_MB converted to bytes, mirroring
// original_source/src/config.rs's chunk_size_bytes() helper.
func (c *Config) ChunkSizeBytes() int {
	return c.Int("CHUNK_SIZE_MB") * 1 << 20
}

func (c *Config) DatabaseURL() string       { return c.String("DATABASE_URL") }
func (c *Config) DatabaseMaxConns() int     { return c.Int("DATABASE_MAX_CONNS") }
func (c *Config) IMAPPoolSize() int         { return c.Int("IMAP_POOL_SIZE") }
func (c *Config) LogLevel() string          { return c.String("LOG_LEVEL") }

// EmailConfig bundles the IMAP credential surface read from environment.
type EmailConfig struct {
	Provider     string
	Host         string
	Port         int
	User         string
	Password     string
	DraftsFolder string
}

func (c *Config) Email() EmailConfig {
	return EmailConfig{
		Provider:     c.String("EMAIL_PROVIDER"),
		Host:         c.String("EMAIL_HOST"),
		Port:         c.Int("EMAIL_PORT"),
		User:         c.String("EMAIL_USER"),
		Password:     c.String("EMAIL_PASSWORD"),
		DraftsFolder: c.String("EMAIL_DRAFTS_FOLDER"),
	}
}
