package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/flagx"
	"github.com/dmitrijs2005/gophdrop/internal/timex"
)

// JsonConfig is the on-disk shape of the -c/-config file. Durations accept
// both "10s" strings and integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC string         `json:"endpoint_addr_grpc"`
	FrontendURL      string         `json:"frontend_url"`
	SessionStore     string         `json:"session_store"`
	DatabaseDSN      string         `json:"database_dsn"`
	BadgerDir        string         `json:"badger_dir"`
	BlobBackend      string         `json:"blob_backend"`
	StagingDir       string         `json:"staging_dir"`
	FinalDir         string         `json:"final_dir"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	ActionLogPath    string         `json:"action_log_path"`
	MaxChunkBytes    int64          `json:"max_chunk_bytes"`
	MaxTotalChunks   int            `json:"max_total_chunks"`
	ShutdownTimeout  timex.Duration `json:"shutdown_timeout"`
	LogLevel         string         `json:"log_level"`
}

// parseJson overlays the file given by -c or -config. Fields absent from the
// file keep their current value.
func parseJson(config *Config) error {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", jsonConfigFile, err)
	}

	overlay(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	overlay(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	overlay(&config.FrontendURL, c.FrontendURL)
	overlay(&config.SessionStore, c.SessionStore)
	overlay(&config.DatabaseDSN, c.DatabaseDSN)
	overlay(&config.BadgerDir, c.BadgerDir)
	overlay(&config.BlobBackend, c.BlobBackend)
	overlay(&config.StagingDir, c.StagingDir)
	overlay(&config.FinalDir, c.FinalDir)
	overlay(&config.S3RootUser, c.S3RootUser)
	overlay(&config.S3RootPassword, c.S3RootPassword)
	overlay(&config.S3Bucket, c.S3Bucket)
	overlay(&config.S3Region, c.S3Region)
	overlay(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	overlay(&config.ActionLogPath, c.ActionLogPath)
	overlay(&config.MaxChunkBytes, c.MaxChunkBytes)
	overlay(&config.MaxTotalChunks, c.MaxTotalChunks)
	overlay(&config.ShutdownTimeout, time.Duration(c.ShutdownTimeout.Duration))
	overlay(&config.LogLevel, c.LogLevel)
	return nil
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
