package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	want := &Config{
		ServerURL:   "http://127.0.0.1:5001",
		ChunkSize:   5 << 20,
		Parallelism: 4,
		Timeout:     10 * time.Minute,
		DownloadDir: "downloads",
	}
	assert.Empty(t, cmp.Diff(want, cfg))
}

func TestLoad_EnvThenJSON(t *testing.T) {
	t.Setenv("GOPHDROP_CLIENT_SERVER_URL", "http://env:1")
	t.Setenv("GOPHDROP_CLIENT_PARALLELISM", "9")

	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server_url":"http://json:2","timeout":"30s"}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://json:2", cfg.ServerURL)
	assert.Equal(t, 9, cfg.Parallelism)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.EqualValues(t, 5<<20, cfg.ChunkSize)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("GOPHDROP_CLIENT_CHUNK_SIZE", "big")
	_, err = Load("")
	assert.Error(t, err)
}
