package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/esmerge/esmerge/internal/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"entry.js": "import { x } from './x.js'\nexport const y = x + 1\n",
		"x.js":     "export const x = 1\n",
	}
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
	}
	return dir
}

func runForTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := RunWithIO(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestWritesChunks(t *testing.T) {
	dir := setupProject(t)
	outdir := filepath.Join(dir, "dist")

	code, _, stderr := runForTest(t, "--outdir", outdir, filepath.Join(dir, "entry.js"))
	require.Equal(t, 0, code, stderr)

	contents, err := os.ReadFile(filepath.Join(outdir, "entry.js"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "const x = 1;")
	assert.Contains(t, string(contents), "export { y };")
	assert.Contains(t, stderr, "entry.js")
	assert.NoFileExists(t, filepath.Join(outdir, "entry.js.map"))

	code, _, stderr = runForTest(t, "--outdir", outdir, "--sourcemap", filepath.Join(dir, "entry.js"))
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(outdir, "entry.js.map"))
}

func TestStdout(t *testing.T) {
	dir := setupProject(t)

	code, stdout, stderr := runForTest(t, "--stdout", "--format=cjs", filepath.Join(dir, "entry.js"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "module.exports = __toCommonJS(entry_exports);")
}

func TestEnvironmentVariables(t *testing.T) {
	dir := setupProject(t)
	t.Setenv("ESMERGE_FORMAT", "cjs")

	code, stdout, stderr := runForTest(t, "--stdout", filepath.Join(dir, "entry.js"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "module.exports")
}

func TestConfigFile(t *testing.T) {
	dir := setupProject(t)
	configFile := filepath.Join(dir, "esmerge.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("format: cjs\ntree_shaking: false\n"), 0644))

	code, stdout, stderr := runForTest(t, "--stdout", "--config", configFile, filepath.Join(dir, "entry.js"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "module.exports")

	// Flags win over the config file
	code, stdout, stderr = runForTest(t, "--stdout", "--config", configFile, "--format=esm", filepath.Join(dir, "entry.js"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "export { y };")
}

func TestInvalidOption(t *testing.T) {
	dir := setupProject(t)

	code, _, stderr := runForTest(t, "--format=amd", filepath.Join(dir, "entry.js"))
	assert.Equal(t, exitcode.Usage, code)
	assert.Contains(t, stderr, `invalid format "amd"`)
}

func TestBuildFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entry.js"), []byte("import './missing.js'\n"), 0644))

	code, _, stderr := runForTest(t, "--stdout", filepath.Join(dir, "entry.js"))
	assert.Equal(t, exitcode.BuildFailed, code)
	assert.Contains(t, stderr, `error: Could not resolve "./missing.js"`)
	assert.Contains(t, stderr, "1 error")
}

func TestUsageErrors(t *testing.T) {
	code, _, stderr := runForTest(t)
	assert.Equal(t, exitcode.Usage, code)
	assert.Contains(t, stderr, "requires at least 1 arg")

	code, _, _ = runForTest(t, "--no-such-flag", "entry.js")
	assert.Equal(t, exitcode.Usage, code)

	code, _, stderr = runForTest(t, "--color=rainbow", "entry.js")
	assert.Equal(t, exitcode.Usage, code)
	assert.Contains(t, stderr, `invalid color "rainbow"`)
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runForTest(t, "--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, Version)
}
