// Package api is the public interface to the bundler. It takes entry point
// paths on the real file system and returns the generated chunks:
//
//	result := api.Build(context.Background(), api.BuildOptions{
//		EntryPoints: []string{"src/index.js"},
//		Outdir:      "dist",
//		Write:       true,
//	})
//	for _, msg := range result.Errors {
//		fmt.Println(msg.Text)
//	}
package api

import (
	"context"
	"io"
)

type Format uint8

const (
	FormatDefault Format = iota
	FormatESModule
	FormatCommonJS
)

type CodeSplitting uint8

const (
	CodeSplittingDefault CodeSplitting = iota
	CodeSplittingSingle
	CodeSplittingPerEntry
	CodeSplittingPerDynamicImport
)

type SharedModules uint8

const (
	SharedModulesDefault SharedModules = iota
	SharedModulesHoist
	SharedModulesDuplicate
)

type DefaultInterop uint8

const (
	DefaultInteropDefault DefaultInterop = iota
	DefaultInteropAuto
	DefaultInteropNode
)

type LogLevel uint8

const (
	LogLevelSilent LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

type Location struct {
	File     string
	Line     int // 1-based
	Column   int // 0-based, in bytes
	Length   int // in bytes
	LineText string
}

type Message struct {
	ID       string
	Text     string
	Location *Location
}

////////////////////////////////////////////////////////////////////////////////
// Build API

type BuildOptions struct {
	// Relative paths are relative to the current working directory
	EntryPoints []string

	Format         Format
	CodeSplitting  CodeSplitting
	SharedModules  SharedModules
	DefaultInterop DefaultInterop

	// Package names and paths that stay run-time imports
	Externals []string

	DisableTreeShaking bool
	MaxConcurrency     int

	// Output files are placed in this directory. Nothing is written to disk
	// unless "Write" is set.
	Outdir string
	Write  bool

	// Adds a "<chunk>.map" file next to each chunk
	Sourcemap bool

	// Adds a "<chunk>.graph.json" file next to each chunk
	DebugGraph bool

	// Operational logs, such as timing for each phase. Nothing is logged when
	// "LogOutput" is nil.
	LogLevel  LogLevel
	LogOutput io.Writer
}

type BuildResult struct {
	Errors   []Message
	Warnings []Message

	OutputFiles []OutputFile
}

type OutputFile struct {
	Path     string
	Contents []byte
}

func Build(ctx context.Context, options BuildOptions) BuildResult {
	return buildImpl(ctx, options)
}

////////////////////////////////////////////////////////////////////////////////
// Context API

// A Context keeps every parsed module around between builds. Building again
// only parses the files that weren't seen before.
type Context struct {
	impl *contextImpl
}

func NewContext(options BuildOptions) (*Context, []Message) {
	impl, msgs := newContextImpl(options)
	if impl == nil {
		return nil, msgs
	}
	return &Context{impl: impl}, nil
}

// Rebuild bundles the entry points. If no entry points are given, the ones
// from the options passed to "NewContext" are used.
func (c *Context) Rebuild(ctx context.Context, entryPoints ...string) BuildResult {
	return c.impl.rebuild(ctx, entryPoints)
}
