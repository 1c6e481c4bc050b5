package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestClearIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "storage_folder")
	a := New(root)

	require.NoError(t, a.Clear(), "clearing a missing root is fine")

	writeFile(t, filepath.Join(a.NodeDir("localhost", 10000), "1", "state.bin"), "x")
	require.NoError(t, a.Clear())
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, a.Clear())
}

func TestClearRefusesDangerousRoots(t *testing.T) {
	for _, root := range []string{".", "/", ".."} {
		assert.Error(t, New(root).Clear(), root)
	}
}

func TestNodeDir(t *testing.T) {
	a := New("/tmp/snap/")
	assert.Equal(t, filepath.Join("/tmp/snap", "localhost_10002"), a.NodeDir("localhost", 10002))
}

func TestFilesAndUsage(t *testing.T) {
	a := New(t.TempDir())

	files, err := a.Files("localhost", 10000)
	require.NoError(t, err)
	assert.Nil(t, files)

	writeFile(t, filepath.Join(a.NodeDir("localhost", 10001), "2", "entity.ser"), "abcd")
	writeFile(t, filepath.Join(a.NodeDir("localhost", 10001), "1", "entity.ser"), "ab")
	writeFile(t, filepath.Join(a.NodeDir("localhost", 10000), "1", "entity.ser"), "a")
	writeFile(t, filepath.Join(a.Root(), "README"), "ignored")
	require.NoError(t, os.MkdirAll(filepath.Join(a.Root(), "scratch"), 0o755))

	files, err = a.Files("localhost", 10001)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join("1", "entity.ser"), files[0].Path)

	usage, err := a.Usage()
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, 10000, usage[0].Port)
	assert.Equal(t, 10001, usage[1].Port)
	assert.Equal(t, int64(6), usage[1].Bytes)
	assert.Equal(t, "localhost", usage[1].Host)
}

func TestUsageMissingRoot(t *testing.T) {
	usage, err := New(filepath.Join(t.TempDir(), "nope")).Usage()
	require.NoError(t, err)
	assert.Nil(t, usage)
}

func TestParseNodeDir(t *testing.T) {
	host, port, ok := parseNodeDir("my_host_10003")
	require.True(t, ok)
	assert.Equal(t, "my_host", host)
	assert.Equal(t, 10003, port)

	for _, bad := range []string{"_10000", "host_", "host_port", "plain"} {
		_, _, ok := parseNodeDir(bad)
		assert.False(t, ok, bad)
	}
}
