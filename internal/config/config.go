package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	// The ES module format looks like this:
	//
	//   ... bundled code ...
	//   export {...};
	//
	FormatESModule Format = "esm"

	// The CommonJS format looks like this:
	//
	//   ... bundled code ...
	//   module.exports = __toCommonJS(entry_exports);
	//
	FormatCommonJS Format = "cjs"
)

func (f *Format) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "esm", "es", "module":
		*f = FormatESModule
	case "cjs", "commonjs", "commonjs-interop":
		*f = FormatCommonJS
	default:
		return fmt.Errorf("invalid format %q (expected \"esm\" or \"cjs\")", text)
	}
	return nil
}

type CodeSplitting string

const (
	// Everything goes in one chunk. Only one entry point is allowed and
	// dynamic imports are inlined.
	SplittingSingle CodeSplitting = "single"

	// One chunk per entry point. Dynamic imports are inlined.
	SplittingPerEntry CodeSplitting = "per-entry"

	// Entry points and the targets of dynamic imports each start a chunk
	SplittingPerDynamicImport CodeSplitting = "per-dynamic-import"
)

func (s *CodeSplitting) UnmarshalText(text []byte) error {
	switch value := CodeSplitting(strings.ToLower(string(text))); value {
	case SplittingSingle, SplittingPerEntry, SplittingPerDynamicImport:
		*s = value
	default:
		return fmt.Errorf("invalid code splitting mode %q (expected \"single\", \"per-entry\", or \"per-dynamic-import\")", text)
	}
	return nil
}

// What happens to a module that is reachable from more than one chunk
type SharedModules string

const (
	// The module goes in a shared chunk that the other chunks import
	SharedHoist SharedModules = "hoist"

	// Every chunk that needs the module gets its own copy
	SharedDuplicate SharedModules = "duplicate"
)

func (s *SharedModules) UnmarshalText(text []byte) error {
	switch value := SharedModules(strings.ToLower(string(text))); value {
	case SharedHoist, SharedDuplicate:
		*s = value
	default:
		return fmt.Errorf("invalid shared module mode %q (expected \"hoist\" or \"duplicate\")", text)
	}
	return nil
}

// What a default import of a CommonJS module evaluates to
type DefaultInterop string

const (
	// "module.exports.default" if the module sets "__esModule", otherwise
	// "module.exports"
	InteropAuto DefaultInterop = "auto"

	// Always "module.exports", like node does
	InteropNode DefaultInterop = "node"
)

func (d *DefaultInterop) UnmarshalText(text []byte) error {
	switch value := DefaultInterop(strings.ToLower(string(text))); value {
	case InteropAuto, InteropNode:
		*d = value
	default:
		return fmt.Errorf("invalid default interop %q (expected \"auto\" or \"node\")", text)
	}
	return nil
}

type Options struct {
	Format Format `yaml:"format" mapstructure:"format"`

	// false: every statement of every reachable module is kept
	TreeShaking bool `yaml:"tree_shaking" mapstructure:"tree_shaking"`

	// Specifiers that stay run-time imports. A bare package name also matches
	// its subpaths.
	External []string `yaml:"external" mapstructure:"external"`

	CodeSplitting  CodeSplitting  `yaml:"code_splitting" mapstructure:"code_splitting"`
	SharedModules  SharedModules  `yaml:"shared_modules" mapstructure:"shared_modules"`
	DefaultInterop DefaultInterop `yaml:"default_interop" mapstructure:"default_interop"`

	// The maximum number of modules parsed at once. Zero means twice the
	// number of CPUs.
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`

	// If true, chunks are printed to JavaScript in addition to returning
	// their merged syntax trees
	Print bool `yaml:"print" mapstructure:"print"`

	// Where the command-line tool writes chunks. Chunk names are relative to
	// this directory.
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`

	// Attaches a JSON dump of the linked parts of each chunk for debugging
	// tree shaking and chunk assignment
	DebugGraph bool `yaml:"debug_graph" mapstructure:"debug_graph"`

	// Generates a source map for each printed chunk and links it with a
	// "sourceMappingURL" comment
	SourceMap bool `yaml:"source_map" mapstructure:"source_map"`
}

func Default() Options {
	return Options{
		Format:         FormatESModule,
		TreeShaking:    true,
		CodeSplitting:  SplittingPerEntry,
		SharedModules:  SharedHoist,
		DefaultInterop: InteropAuto,
		Print:          true,
		OutputDir:      "out",
	}
}

// Parse decodes YAML on top of the defaults. Unknown keys are an error.
func Parse(data []byte) (Options, error) {
	options := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&options); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := options.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return options, nil
}

// Validate normalizes the enum fields, which may have been set without going
// through "UnmarshalText" (by viper, for example), and checks the result
func (o *Options) Validate() error {
	if err := normalize(&o.Format, FormatESModule); err != nil {
		return err
	}
	if err := normalize(&o.CodeSplitting, SplittingPerEntry); err != nil {
		return err
	}
	if err := normalize(&o.SharedModules, SharedHoist); err != nil {
		return err
	}
	if err := normalize(&o.DefaultInterop, InteropAuto); err != nil {
		return err
	}

	// Chunks for dynamic imports are loaded with "import()", which only makes
	// sense when the chunks are ES modules
	if o.CodeSplitting == SplittingPerDynamicImport && o.Format != FormatESModule {
		return fmt.Errorf("code splitting mode %q requires format %q", SplittingPerDynamicImport, FormatESModule)
	}

	if o.SourceMap && !o.Print {
		return fmt.Errorf("source maps require printing")
	}
	if o.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative")
	}
	for _, external := range o.External {
		if external == "" {
			return fmt.Errorf("external module names must not be empty")
		}
	}
	return nil
}

type textEnum interface {
	~string
}

func normalize[T textEnum, P interface {
	*T
	UnmarshalText([]byte) error
}](value P, fallback T) error {
	if *value == "" {
		*value = fallback
		return nil
	}
	return value.UnmarshalText([]byte(*value))
}

// The "single" mode can only produce one chunk
func (o *Options) CheckEntryPoints(count int) error {
	if count == 0 {
		return fmt.Errorf("no entry points")
	}
	if o.CodeSplitting == SplittingSingle && count > 1 {
		return fmt.Errorf("code splitting mode %q only allows one entry point, got %d", SplittingSingle, count)
	}
	return nil
}
