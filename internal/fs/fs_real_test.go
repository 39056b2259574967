package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealFSReadDirectory(t *testing.T) {
	tmpdir := t.TempDir()

	dirname := filepath.Join(tmpdir, "testdir")
	require.NoError(t, os.Mkdir(dirname, 0775))

	filename := filepath.Join(tmpdir, "file.js")
	require.NoError(t, os.WriteFile(filename, []byte("export let x = 1"), 0644))

	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink(filename, filepath.Join(tmpdir, "link.js")))
	}

	fsys := RealFS()

	entries, err := fsys.ReadDirectory(tmpdir)
	require.NoError(t, err)
	assert.Equal(t, DirEntry, entries["testdir"].Kind)
	assert.Equal(t, FileEntry, entries["file.js"].Kind)
	if runtime.GOOS != "windows" {
		assert.Equal(t, Entry{Kind: FileEntry, Symlink: filename}, entries["link.js"])
	}

	// The second read is served from the cache
	again, err := fsys.ReadDirectory(tmpdir)
	require.NoError(t, err)
	assert.Equal(t, entries, again)

	_, err = fsys.ReadDirectory(filepath.Join(tmpdir, "no_directory_here"))
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.True(t, IsNotExist(err))

	_, err = fsys.ReadDirectory(filename)
	assert.Error(t, err)
	assert.True(t, IsNotExist(err))

	contents, err := fsys.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "export let x = 1", contents)

	_, err = fsys.ReadFile(filepath.Join(tmpdir, "missing.js"))
	assert.True(t, IsNotExist(err))
}
