package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replogio/replog/storage"
	"github.com/replogio/replog/wire"
)

func TestRun_CreatesFreshEmptyStore(t *testing.T) {
	dir := t.TempDir()

	code := run([]string{"--path=" + dir}, os.Stdout, os.Stderr)
	assert.Equal(t, 0, code)

	store, err := storage.Open(filepath.Join(dir, "replog.db"))
	require.NoError(t, err)
	defer store.Close()

	md := store.State().Metadata
	assert.Equal(t, wire.StatusVoting, md.Status, "replog-init must hand back an immediately electable replica")
}

func TestRun_RefusesToReinitializeExistingStore(t *testing.T) {
	dir := t.TempDir()

	require.Equal(t, 0, run([]string{"--path=" + dir}, os.Stdout, os.Stderr))
	code := run([]string{"--path=" + dir}, os.Stdout, os.Stderr)
	assert.NotEqual(t, 0, code)
}

func TestRun_MissingPathFlagFails(t *testing.T) {
	code := run([]string{}, os.Stdout, os.Stderr)
	assert.Equal(t, 2, code)
}
