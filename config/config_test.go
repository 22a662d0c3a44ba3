package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidFileOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: b\nlisten_addr: :9090\ndata_dir: /var/lib/replog\nquorum: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "b", cfg.NodeID)
	assert.Equal(t, 2, cfg.Quorum)
}

func TestLoad_RejectsMissingRequiredField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: \"\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsZeroQuorum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quorum: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: verbose\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
