package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	options, err := Parse(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), options); diff != "" {
		t.Errorf("unexpected options (-want +got):\n%s", diff)
	}
}

func TestParse(t *testing.T) {
	options, err := Parse([]byte(`
format: commonjs
tree_shaking: false
external: [react, "node:fs"]
code_splitting: single
shared_modules: duplicate
default_interop: node
max_concurrency: 4
output_dir: dist
debug_graph: true
source_map: true
`))
	require.NoError(t, err)

	want := Options{
		Format:         FormatCommonJS,
		TreeShaking:    false,
		External:       []string{"react", "node:fs"},
		CodeSplitting:  SplittingSingle,
		SharedModules:  SharedDuplicate,
		DefaultInterop: InteropNode,
		MaxConcurrency: 4,
		Print:          true,
		OutputDir:      "dist",
		DebugGraph:     true,
		SourceMap:      true,
	}
	if diff := cmp.Diff(want, options); diff != "" {
		t.Errorf("unexpected options (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   string
	}{
		{"bad format", "format: iife", `invalid format "iife"`},
		{"bad splitting", "code_splitting: always", `invalid code splitting mode "always"`},
		{"bad shared", "shared_modules: copy", `invalid shared module mode "copy"`},
		{"bad interop", "default_interop: babel", `invalid default interop "babel"`},
		{"unknown key", "minify: true", "field minify not found"},
		{"negative concurrency", "max_concurrency: -1", "max_concurrency must not be negative"},
		{"empty external", `external: [""]`, "external module names must not be empty"},
		{"source maps need printing", "print: false\nsource_map: true", "source maps require printing"},
		{"dynamic chunks need esm", "format: cjs\ncode_splitting: per-dynamic-import", `code splitting mode "per-dynamic-import" requires format "esm"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	// This is what viper produces: raw strings that never went through
	// "UnmarshalText"
	options := Options{Format: "CommonJS", CodeSplitting: "Single"}
	require.NoError(t, options.Validate())
	assert.Equal(t, FormatCommonJS, options.Format)
	assert.Equal(t, SplittingSingle, options.CodeSplitting)
	assert.Equal(t, SharedHoist, options.SharedModules)
	assert.Equal(t, InteropAuto, options.DefaultInterop)
}

func TestCheckEntryPoints(t *testing.T) {
	options := Default()
	assert.NoError(t, options.CheckEntryPoints(3))
	assert.Error(t, options.CheckEntryPoints(0))

	options.CodeSplitting = SplittingSingle
	assert.NoError(t, options.CheckEntryPoints(1))
	assert.EqualError(t, options.CheckEntryPoints(2), `code splitting mode "single" only allows one entry point, got 2`)
}
