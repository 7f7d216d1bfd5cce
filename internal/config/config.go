package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads KEY=VALUE files into the process environment. Missing
// files are skipped and variables already set are never overridden, so the
// first file naming a key wins.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto a loaded config
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("CHECKPOINT_PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv("CHECKPOINT_BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv("CHECKPOINT_LOG_LEVEL", cfg.Daemon.LogLevel)

	cfg.Gateway.URL = getEnv("CHECKPOINT_GATEWAY_URL", cfg.Gateway.URL)
	cfg.Gateway.APIKey = getEnv("CHECKPOINT_GATEWAY_API_KEY", cfg.Gateway.APIKey)
	cfg.Gateway.TimeoutSeconds = getEnvInt("CHECKPOINT_GATEWAY_TIMEOUT", cfg.Gateway.TimeoutSeconds)

	cfg.Runtime.Mode = getEnv("CHECKPOINT_MODE", cfg.Runtime.Mode)
	cfg.Runtime.AutoCloseSeconds = getEnvInt("CHECKPOINT_AUTO_CLOSE_SECONDS", cfg.Runtime.AutoCloseSeconds)

	cfg.Storage.Driver = getEnv("CHECKPOINT_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = getEnv("CHECKPOINT_DB_PATH", cfg.Storage.Path)
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Storage.DatabaseURL = url
		if os.Getenv("CHECKPOINT_STORAGE_DRIVER") == "" {
			cfg.Storage.Driver = "postgres"
		}
	}

	cfg.Cache.RedisURL = getEnv("REDIS_URL", cfg.Cache.RedisURL)
	cfg.Queue.RabbitMQURL = getEnv("RABBITMQ_URL", cfg.Queue.RabbitMQURL)
	cfg.Queue.ConsumeCompletions = getEnvBool("CHECKPOINT_CONSUME_COMPLETIONS", cfg.Queue.ConsumeCompletions)

	cfg.Lessons.Path = getEnv("CHECKPOINT_LESSONS_PATH", cfg.Lessons.Path)
}

// Validate checks settings the daemon cannot start without
func (c *LocalConfig) Validate() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	if strings.TrimSpace(c.Gateway.URL) == "" {
		return fmt.Errorf("gateway.url is required")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Runtime.AutoCloseSeconds < 0 {
		return fmt.Errorf("runtime.auto_close_seconds must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
