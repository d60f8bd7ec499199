package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/vuload/internal/performance/pool"
)

// DefaultTimeout bounds a single request when settings.timeout is unset.
const DefaultTimeout = 30 * time.Second

// LoadConfig loads a definition from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses definition data. The format follows the extension of
// path and defaults to YAML.
func ParseConfig(data []byte, path string) (*FileConfig, error) {
	var cfg FileConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &cfg, nil
}

// ParseDurationString parses "30s", "2m", "1h30m", "500ms" or a bare integer
// number of seconds. An empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills unset optional fields.
func ApplyDefaults(cfg *FileConfig) {
	if cfg.LoadPattern == "" {
		cfg.LoadPattern = "constant"
	}
	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = pool.DefaultSize
	}
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(DefaultTimeout)
	}

	for i := range cfg.Requests {
		req := &cfg.Requests[i]
		if req.Method == "" {
			req.Method = "GET"
		}
		if req.Name == "" {
			req.Name = fmt.Sprintf("request-%d", i+1)
		}
		for j := range req.Extract {
			if req.Extract[j].Source == "" {
				req.Extract[j].Source = "body"
			}
		}
	}
}
