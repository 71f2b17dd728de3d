package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// resetOnce lets each test force a fresh LoadConfig call; the production
// singleton behavior only matters within one process lifetime.
func resetOnce(t *testing.T, path string) {
	t.Helper()
	configPath = path
	once = sync.Once{}
	appConfig = nil
	initErr = nil
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	resetOnce(t, filepath.Join(t.TempDir(), "does-not-exist.yml"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4000", cfg.ADDR)
	require.Equal(t, "kvs", cfg.ENGINE)
}

func TestLoadConfig_ReadsYAMLAndExpandsEnv(t *testing.T) {
	t.Setenv("KVS_TEST_ADDR", "0.0.0.0:9999")

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("ADDR: \"${KVS_TEST_ADDR}\"\nENGINE: \"sled\"\n"), 0644))
	resetOnce(t, path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9999", cfg.ADDR)
	require.Equal(t, "sled", cfg.ENGINE)
}
