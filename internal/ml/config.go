package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// BaseConfig provides common configuration functionality
type BaseConfig struct {
	ConfigPath string `json:"-"`
}

// LoadConfig loads configuration from a file, then the default file under
// config/, leaving env fallbacks to the caller. A file that exists but does
// not parse is an error.
func (c *BaseConfig) LoadConfig(configPath string, name string, config any, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	paths := []string{filepath.Join("config", fmt.Sprintf("%s.json", name))}
	if configPath != "" {
		paths = append([]string{configPath}, paths...)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if path == configPath {
				return fmt.Errorf("read %s config: %w", name, err)
			}
			continue
		}
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("parse %s config %s: %w", name, path, err)
		}
		logger.Info("loaded backend configuration", zap.String("backend", name), zap.String("path", path))
		return nil
	}

	logger.Debug("using environment for backend configuration", zap.String("backend", name))
	return nil
}

func envOr(current, key string) string {
	if current != "" {
		return current
	}
	return os.Getenv(key)
}
