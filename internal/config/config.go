package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	ML       MLConfig       `json:"ml" yaml:"ml"`
	Lookup   LookupConfig   `json:"lookup" yaml:"lookup"`
}

type ServerConfig struct {
	Port                   string `json:"port" yaml:"port" validate:"required,numeric"`
	StaticDir              string `json:"static_dir" yaml:"static_dir"`
	Debug                  bool   `json:"debug" yaml:"debug"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" validate:"gte=1"`
}

type DatabaseConfig struct {
	Path string `json:"path" yaml:"path" validate:"required"`
}

// MLConfig selects the AI backend. ConfigPath points at the backend's own
// settings file; the other fields override it.
type MLConfig struct {
	Type              string  `json:"type" yaml:"type" validate:"oneof=gemini vertex"`
	ConfigPath        string  `json:"config_path" yaml:"config_path"`
	APIKey            string  `json:"api_key" yaml:"api_key"`
	Model             string  `json:"model" yaml:"model"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=1,lte=120"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `json:"burst" yaml:"burst" validate:"gte=1"`
}

type LookupConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=1"`
}

var validate = validator.New()

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   "8080",
			StaticDir:              "./static",
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{Path: "foodguard.db"},
		ML: MLConfig{
			Type:              "gemini",
			TimeoutSeconds:    15,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Lookup: LookupConfig{TimeoutSeconds: 10},
	}
}

// LoadConfig loads configuration from a JSON or YAML file (chosen by
// extension) over the defaults, applies environment overrides and validates
// the result. An empty path skips the file.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(configPath, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnv()

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func decode(path string, data []byte, into *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, into)
	default:
		return json.Unmarshal(data, into)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.ML.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("FOODGUARD_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("FOODGUARD_BACKEND"); v != "" {
		c.ML.Type = v
	}
}

// GetConfigPath returns the path to the configuration file, or "" if none
// of the usual locations has one.
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("FOODGUARD_CONFIG"); path != "" {
		return path
	}

	for _, path := range []string{
		filepath.Join("config", "config.yaml"),
		filepath.Join("config", "config.json"),
		"config.yaml",
		"config.json",
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadDotEnv loads variables from .env files without overriding the
// environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
