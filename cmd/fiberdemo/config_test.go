package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/fiberworks"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 2
messages: 10
batch_interval: 5ms
panic_policy: abort-batch
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 10, cfg.Messages)
	assert.Equal(t, 5*time.Millisecond, cfg.BatchInterval)
	assert.Equal(t, time.Second, cfg.RequestTimeout, "unset keys keep defaults")

	p, err := cfg.policy()
	require.NoError(t, err)
	assert.Equal(t, fiberworks.AbortBatch, p)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o600))
	_, err := loadConfig(path)
	assert.ErrorContains(t, err, "workers")

	require.NoError(t, os.WriteFile(path, []byte("panic_policy: explode\n"), 0o600))
	_, err = loadConfig(path)
	assert.ErrorContains(t, err, "unknown panic policy")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
