package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileLoader reads the config from a JSON file, the shape edited by the
// operations sheet export. Missing fields fall back to defaults.
type FileLoader struct {
	Path string
}

// Load implements Loader.
func (f FileLoader) Load(ctx context.Context) (Config, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", f.Path, err)
	}
	return cfg, nil
}

// StaticLoader serves a fixed config. Used in tests and replay runs.
type StaticLoader struct {
	Cfg Config
	Err error
}

// Load implements Loader.
func (s StaticLoader) Load(ctx context.Context) (Config, error) {
	return s.Cfg, s.Err
}
