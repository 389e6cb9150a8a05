package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
// Defaults are overlaid by an optional YAML file, then by environment variables
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Manifest ManifestConfig `yaml:"manifest"`
	Upload   UploadConfig   `yaml:"upload"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Host            string `yaml:"host"`
	ReadTimeout     int    `yaml:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"` // Valid API keys for catalog mutations
}

// StoreConfig selects the catalog store backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // bolt, sqlite or memory
	Path   string `yaml:"path"`
}

// ManifestConfig locates the generated front-end module and the image directory it imports from
type ManifestConfig struct {
	Path      string `yaml:"path"`
	ImagesDir string `yaml:"images_dir"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ReadTimeout:     15,
			WriteTimeout:    15,
			ShutdownTimeout: 30,
		},
		Auth: AuthConfig{
			APIKeys: []string{"apitest"},
		},
		Store: StoreConfig{
			Driver: DriverBolt,
			Path:   filepath.Join("data", "catalog.db"),
		},
		Manifest: ManifestConfig{
			Path:      filepath.Join("..", "src", "assets", "assets", "assets.js"),
			ImagesDir: filepath.Join("..", "src", "assets", "assets"),
		},
		Upload: UploadConfig{
			MaxBytes: 10 << 20,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if non-empty)
// and environment variables, in that order of precedence
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.ReadTimeout = getEnvAsInt("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsInt("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvAsInt("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Auth.APIKeys = getEnvAsSlice("API_KEYS", c.Auth.APIKeys)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("STORE_PATH", c.Store.Path)

	c.Manifest.Path = getEnv("MANIFEST_PATH", c.Manifest.Path)
	c.Manifest.ImagesDir = getEnv("IMAGES_DIR", c.Manifest.ImagesDir)

	c.Upload.MaxBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(c.Upload.MaxBytes)))

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("at least one API key must be configured")
	}

	switch c.Store.Driver {
	case DriverBolt, DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required for driver %s", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid store driver: %s (must be bolt, sqlite, or memory)", c.Store.Driver)
	}

	if c.Manifest.Path == "" {
		return fmt.Errorf("MANIFEST_PATH is required")
	}
	if c.Manifest.ImagesDir == "" {
		return fmt.Errorf("IMAGES_DIR is required")
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	return values
}
