package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for local daemon mode
type LocalConfig struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Gateway GatewayConfig `yaml:"gateway"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Queue   QueueConfig   `yaml:"queue"`
	Lessons LessonsConfig `yaml:"lessons"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`
}

// GatewayConfig holds grading service settings
type GatewayConfig struct {
	URL            string           `yaml:"url"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	APIKey         string           `yaml:"-"` // Loaded from secrets.yaml
	Resilience     ResilienceConfig `yaml:"resilience"`
}

// ResilienceConfig toggles the resilience patterns around the grading service
type ResilienceConfig struct {
	CircuitBreaker bool `yaml:"circuit_breaker"`
	Retry          bool `yaml:"retry"`
	MaxAttempts    int  `yaml:"max_attempts"`
	MaxConcurrent  int  `yaml:"max_concurrent"`
	RatePerSecond  int  `yaml:"rate_per_second"`
}

// RuntimeConfig holds exercise behaviour settings
type RuntimeConfig struct {
	Mode             string `yaml:"mode"`
	AutoCloseSeconds int    `yaml:"auto_close_seconds"`
	CelebrationMS    int    `yaml:"celebration_ms"`
}

// StorageConfig selects the lesson store
type StorageConfig struct {
	Driver      string `yaml:"driver"` // sqlite, postgres
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

// CacheConfig holds the optional redis record cache
type CacheConfig struct {
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// QueueConfig holds the optional completion event queue
type QueueConfig struct {
	RabbitMQURL        string `yaml:"rabbitmq_url"`
	ConsumeCompletions bool   `yaml:"consume_completions"`
}

// LessonsConfig points at YAML lesson bundles imported on start
type LessonsConfig struct {
	Path string `yaml:"path"`
}

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	Gateway struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"gateway"`
}

// CheckpointDir returns the path to ~/.checkpoint
func CheckpointDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".checkpoint"), nil
}

// EnsureCheckpointDir creates ~/.checkpoint and subdirectories if they don't exist
func EnsureCheckpointDir() (string, error) {
	dir, err := CheckpointDir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "lessons", "progress"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:     7440,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Gateway: GatewayConfig{
			URL:            "http://localhost:8080",
			TimeoutSeconds: 15,
			Resilience: ResilienceConfig{
				CircuitBreaker: true,
				Retry:          true,
				MaxAttempts:    3,
				MaxConcurrent:  10,
				RatePerSecond:  20,
			},
		},
		Runtime: RuntimeConfig{
			Mode:             "inline",
			AutoCloseSeconds: 10,
			CelebrationMS:    3000,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
		},
	}
}

// LoadLocalConfig loads configuration from ~/.checkpoint/config.yaml and
// applies environment overrides, including those from ./.env and ~/.checkpoint/.env
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := CheckpointDir()
	if err != nil {
		return nil, err
	}

	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFiles(".env", filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadLocalConfigFrom reads config.yaml and secrets.yaml from dir.
// Missing files yield defaults.
func LoadLocalConfigFrom(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig()
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dir, "checkpoint.db")
	}

	configPath := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	return cfg, nil
}

// loadSecrets loads credentials from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	cfg.Gateway.APIKey = secrets.Gateway.APIKey
	return nil
}

// SaveLocalConfig saves configuration to ~/.checkpoint/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureCheckpointDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveGatewayKey saves the grading service key to ~/.checkpoint/secrets.yaml
func SaveGatewayKey(key string) error {
	dir, err := EnsureCheckpointDir()
	if err != nil {
		return err
	}

	var secrets SecretsConfig
	secrets.Gateway.APIKey = key

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// Owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
