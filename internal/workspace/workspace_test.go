package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsurePreservesContents(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), ".forge"))
	require.NoError(t, err)

	dir, err := m.Ensure("pgdata")
	require.NoError(t, err)
	marker := filepath.Join(dir, "PG_VERSION")
	require.NoError(t, os.WriteFile(marker, []byte("13"), 0o644))

	again, err := m.Ensure("pgdata")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.FileExists(t, marker)
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	base := t.TempDir()
	m, err := New(filepath.Join(base, ".forge"))
	require.NoError(t, err)

	assert.Error(t, m.Cleanup(base))
	assert.Error(t, m.Cleanup(m.Root()))
	assert.NoError(t, m.Cleanup(""))

	artifact := m.Path("app.dump")
	require.NoError(t, os.WriteFile(artifact, []byte("PGDMP"), 0o644))
	require.NoError(t, m.Cleanup(artifact))
	assert.NoFileExists(t, artifact)
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
