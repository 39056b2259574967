package fs

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockFSBasic(t *testing.T) {
	fs := MockFS(map[string]string{
		"/README.md":    "// README.md",
		"/package.json": "// package.json",
		"/src/index.js": "// src/index.js",
		"/src/util.js":  "// src/util.js",
	})

	// Test a missing file
	_, err := fs.ReadFile("/missing.txt")
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.True(t, IsNotExist(err))

	// Test an existing file
	readme, err := fs.ReadFile("/README.md")
	require.NoError(t, err)
	assert.Equal(t, "// README.md", readme)

	// Test an existing nested file
	index, err := fs.ReadFile("/src/index.js")
	require.NoError(t, err)
	assert.Equal(t, "// src/index.js", index)

	// Reading a directory as a file fails without meaning "missing"
	_, err = fs.ReadFile("/src")
	assert.ErrorIs(t, err, syscall.EISDIR)
	assert.False(t, IsNotExist(err))

	// Test a missing directory
	_, err = fs.ReadDirectory("/missing")
	assert.ErrorIs(t, err, syscall.ENOENT)

	// Test a nested directory
	src, err := fs.ReadDirectory("/src/")
	require.NoError(t, err)
	assert.Equal(t, map[string]Entry{
		"index.js": {Kind: FileEntry},
		"util.js":  {Kind: FileEntry},
	}, src)

	// Test the top-level directory
	slash, err := fs.ReadDirectory("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "package.json", "src"}, SortedNames(slash))
	assert.Equal(t, DirEntry, slash["src"].Kind)
}

func TestMockFSPaths(t *testing.T) {
	fs := MockFS(map[string]string{})

	abs, ok := fs.Abs("a/../b/c.js")
	assert.True(t, ok)
	assert.Equal(t, "/b/c.js", abs)
	assert.True(t, fs.IsAbs(abs))
	assert.Equal(t, "/b", fs.Dir(abs))
	assert.Equal(t, "c.js", fs.Base(abs))
	assert.Equal(t, ".js", fs.Ext(abs))
	assert.Equal(t, "/b/d", fs.Join("/b", "./x", "../d"))
}

func TestMockFSRel(t *testing.T) {
	fs := MockFS(map[string]string{})

	expect := func(a string, b string, c string) {
		t.Helper()
		t.Run(fmt.Sprintf("Rel(%q, %q) == %q", a, b, c), func(t *testing.T) {
			t.Helper()
			rel, ok := fs.Rel(a, b)
			require.True(t, ok)
			assert.Equal(t, c, rel)
		})
	}

	expect("/a/b", "/a/b", ".")
	expect("/a/b", "/a/b/c", "c")
	expect("/a/b", "/a/b/c/d", "c/d")
	expect("/a/b/c", "/a/b", "..")
	expect("/a/b/c/d", "/a/b", "../..")
	expect("/a/b/c", "/a/b/x", "../x")
	expect("/a/b/c/d", "/a/b/x", "../../x")
	expect("/a/b/c", "/a/b/x/y", "../x/y")
	expect("/a/b/c/d", "/a/b/x/y", "../../x/y")

	expect("a/b", "a/c", "../c")
	expect("./a/b", "./a/c", "../c")
	expect(".", "./a/b", "a/b")
	expect(".", ".//a/b", "a/b")
	expect(".", "././a/b", "a/b")
	expect(".", "././/a/b", "a/b")

	_, ok := fs.Rel("/a", "b")
	assert.False(t, ok)
}
