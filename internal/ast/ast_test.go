package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateNonUniqueNameFromPath(t *testing.T) {
	assert.Equal(t, "stdin", GenerateNonUniqueNameFromPath("<stdin>"))
	assert.Equal(t, "bar", GenerateNonUniqueNameFromPath("foo/bar"))
	assert.Equal(t, "bar", GenerateNonUniqueNameFromPath("foo/bar.js"))
	assert.Equal(t, "bar_min", GenerateNonUniqueNameFromPath("foo/bar.min.js"))
	assert.Equal(t, "slashes", GenerateNonUniqueNameFromPath("trailing//slashes//"))
	assert.Equal(t, "spaces_in_name", GenerateNonUniqueNameFromPath("path/with/spaces in name.js"))
	assert.Equal(t, "windows", GenerateNonUniqueNameFromPath("path\\on\\windows.js"))
	assert.Equal(t, "demo_pkg", GenerateNonUniqueNameFromPath("node_modules/demo-pkg/index.js"))
	assert.Equal(t, "invalid_identifier", GenerateNonUniqueNameFromPath("123_invalid_identifier.js"))
	assert.Equal(t, "_", GenerateNonUniqueNameFromPath("/"))
}

func TestIndex32(t *testing.T) {
	var zero Index32
	assert.False(t, zero.IsValid())

	index := MakeIndex32(0)
	assert.True(t, index.IsValid())
	assert.Equal(t, uint32(0), index.GetIndex())
	assert.Equal(t, uint32(42), MakeIndex32(42).GetIndex())
}

func TestImportKind(t *testing.T) {
	assert.True(t, ImportStmt.IsStatic())
	assert.True(t, ImportRequire.IsStatic())
	assert.False(t, ImportDynamic.IsStatic())
	assert.Equal(t, "dynamic-import", ImportDynamic.String())
}
