package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsWellFormed(t *testing.T) {
	cfg := Default()
	require.Equal(t, uint(5), cfg.Difficulty)
	require.Equal(t, ":8000", cfg.ServerAddr)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	contents := "Difficulty = 3\nServerAddr = \":9000\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint(3), cfg.Difficulty)
	require.Equal(t, ":9000", cfg.ServerAddr)
	// Untouched fields keep their defaults.
	require.Equal(t, "http://localhost:8000", cfg.ServerURL)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	require.NoError(t, os.WriteFile(path, []byte("NotAField = true\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/node.toml")
	require.Error(t, err)
}
