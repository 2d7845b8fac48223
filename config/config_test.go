package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFileOrFlags(t *testing.T) {
	cfg, err := Load("", flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	require.Equal(t, "tcp://127.0.0.1:7899", cfg.RPCServer)
	require.Equal(t, 8, cfg.Workers)
}

func TestLoadYAMLOverlaidByFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tupleworld.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc_server: tcp://0.0.0.0:1234\nworkers: 3\n"), 0o644))

	cfg, err := Load(path, flag.NewFlagSet("test", flag.ContinueOnError), []string{"--workers", "16"})
	require.NoError(t, err)
	require.Equal(t, "tcp://0.0.0.0:1234", cfg.RPCServer, "YAML value kept when no flag overrides it")
	require.Equal(t, 16, cfg.Workers, "explicit flag overrides YAML value")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/no/such/file.yaml", flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	require.Equal(t, defaults().EventsDB, cfg.EventsDB)
}
