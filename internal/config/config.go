// Package config loads and saves the engine's tunables — debounce
// intervals, overfetch sizing, operation-log TTL — from a JSON or YAML file
// on disk, using the same atomic-write (temp file + rename) discipline the
// teacher's internal/config package uses for its on-disk state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables a deployment may want to override. Zero values
// are replaced by Defaults() at load time.
type Config struct {
	MetricsRefreshDebounceMS  int `json:"metrics_refresh_debounce_ms" yaml:"metrics_refresh_debounce_ms"`
	OverfetchRefreshDebounceMS int `json:"overfetch_refresh_debounce_ms" yaml:"overfetch_refresh_debounce_ms"`
	OperationLogTTLSeconds    int `json:"operation_log_ttl_seconds" yaml:"operation_log_ttl_seconds"`
	DefaultOverfetchSize      int `json:"default_overfetch_size" yaml:"default_overfetch_size"`
	DefaultPageSize           int `json:"default_page_size" yaml:"default_page_size"`
}

// Defaults mirrors the constants spec.md assigns each debounced component.
func Defaults() Config {
	return Config{
		MetricsRefreshDebounceMS:   250,
		OverfetchRefreshDebounceMS: 300,
		OperationLogTTLSeconds:     60,
		DefaultOverfetchSize:       20,
		DefaultPageSize:            20,
	}
}

// MetricsRefreshDebounce returns the tunable as a time.Duration.
func (c Config) MetricsRefreshDebounce() time.Duration {
	return time.Duration(c.MetricsRefreshDebounceMS) * time.Millisecond
}

// OverfetchRefreshDebounce returns the tunable as a time.Duration.
func (c Config) OverfetchRefreshDebounce() time.Duration {
	return time.Duration(c.OverfetchRefreshDebounceMS) * time.Millisecond
}

// OperationLogTTL returns the tunable as a time.Duration.
func (c Config) OperationLogTTL() time.Duration {
	return time.Duration(c.OperationLogTTLSeconds) * time.Second
}

func fillDefaults(c Config) Config {
	d := Defaults()
	if c.MetricsRefreshDebounceMS == 0 {
		c.MetricsRefreshDebounceMS = d.MetricsRefreshDebounceMS
	}
	if c.OverfetchRefreshDebounceMS == 0 {
		c.OverfetchRefreshDebounceMS = d.OverfetchRefreshDebounceMS
	}
	if c.OperationLogTTLSeconds == 0 {
		c.OperationLogTTLSeconds = d.OperationLogTTLSeconds
	}
	if c.DefaultOverfetchSize == 0 {
		c.DefaultOverfetchSize = d.DefaultOverfetchSize
	}
	if c.DefaultPageSize == 0 {
		c.DefaultPageSize = d.DefaultPageSize
	}
	return c
}

// Load reads path, dispatching to YAML or JSON by extension (.yaml/.yml vs
// anything else). A missing file returns Defaults(), not an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Config{}, err
	}

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse json: %w", err)
		}
	}
	return fillDefaults(cfg), nil
}

// Save writes cfg to path atomically (temp file in the same directory, then
// rename), in whichever format path's extension names.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "livecache-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
