package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGrantsFile_Missing(t *testing.T) {
	grants, err := LoadGrantsFile(filepath.Join(t.TempDir(), "grants.yaml"))
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestLoadGrantsFile_PlainList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grants: [github:push, fs:read]\n"), 0644))

	grants, err := LoadGrantsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"github:push", "fs:read"}, grants)
}

func TestLoadGrantsFile_WrongType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: 1\nfile_type: goal_state\n"), 0644))

	_, err := LoadGrantsFile(path)
	assert.ErrorContains(t, err, "file_type mismatch")
}

func TestAppendGrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")

	changed, err := AppendGrant(path, "github:push")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = AppendGrant(path, "fs:read")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = AppendGrant(path, "github:push")
	require.NoError(t, err)
	assert.False(t, changed)

	grants, err := LoadGrantsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"fs:read", "github:push"}, grants)

	_, err = AppendGrant(path, "")
	assert.Error(t, err)
}
