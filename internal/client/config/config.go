// Package config holds settings for the GophDrop command-line client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/timex"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "GOPHDROP_CLIENT"

// Config holds runtime settings for the CLI.
//
// ChunkSize must match between an upload and a later resume of the same
// session.
type Config struct {
	ServerURL   string        `envconfig:"SERVER_URL"`
	ChunkSize   int64         `envconfig:"CHUNK_SIZE"`
	Parallelism int           `envconfig:"PARALLELISM"`
	Timeout     time.Duration `envconfig:"TIMEOUT"`
	DownloadDir string        `envconfig:"DOWNLOAD_DIR"`
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:5001"
	c.ChunkSize = 5 << 20
	c.Parallelism = 4
	c.Timeout = 10 * time.Minute
	c.DownloadDir = "downloads"
}

// JsonConfig is the on-disk shape of the client config file.
type JsonConfig struct {
	ServerURL   string         `json:"server_url"`
	ChunkSize   int64          `json:"chunk_size"`
	Parallelism int            `json:"parallelism"`
	Timeout     timex.Duration `json:"timeout"`
	DownloadDir string         `json:"download_dir"`
}

// Load applies defaults, then GOPHDROP_CLIENT_* variables, then the JSON file
// at path when path is not empty. Command-line flags are applied by the caller.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.ChunkSize > 0 {
		cfg.ChunkSize = jc.ChunkSize
	}
	if jc.Parallelism > 0 {
		cfg.Parallelism = jc.Parallelism
	}
	if jc.Timeout.Duration > 0 {
		cfg.Timeout = jc.Timeout.Duration
	}
	if jc.DownloadDir != "" {
		cfg.DownloadDir = jc.DownloadDir
	}
	return cfg, nil
}
