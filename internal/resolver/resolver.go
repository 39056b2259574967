package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/esmerge/esmerge/internal/fs"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
)

// Returned (wrapped) when a specifier doesn't name any module
var ErrNotFound = errors.New("module not found")

type ResolveResult struct {
	Path logger.Path

	// If true, the module stays a run-time import and is never loaded
	IsExternal bool

	// If true, any ES6 imports to this file can be considered to have no side
	// effects. This means they should be removed if unused. This comes from
	// the "sideEffects" field in "package.json".
	IgnoreSideEffects bool
}

type LoadResult struct {
	Contents string

	// A format hint from the file extension
	Format js_ast.ModuleFormat
}

// The bundler only talks to module identities through this interface. The
// default implementation resolves paths the way node does for a subset of
// its algorithm, but callers may provide their own (e.g. a virtual module
// registry).
type Resolver interface {
	Resolve(ctx context.Context, specifier string, importer logger.Path) (ResolveResult, error)
	Load(ctx context.Context, path logger.Path) (LoadResult, error)
	PrettyPath(path logger.Path) string
}

// The extensions probed when a specifier doesn't name a file directly
var DefaultExtensionOrder = []string{".js", ".mjs", ".cjs"}

type resolver struct {
	fs             fs.FS
	extensionOrder []string

	// These caches are shared by all goroutines resolving imports
	mutex        sync.Mutex
	dirCache     map[string]*dirInfo
	resolveCache map[resolveKey]resolveCacheEntry
}

type resolveKey struct {
	sourceDir string
	specifier string
}

type resolveCacheEntry struct {
	result ResolveResult
	err    error
}

func NewResolver(fs fs.FS) Resolver {
	return &resolver{
		fs:             fs,
		extensionOrder: DefaultExtensionOrder,
		dirCache:       make(map[string]*dirInfo),
		resolveCache:   make(map[resolveKey]resolveCacheEntry),
	}
}

func (r *resolver) Resolve(ctx context.Context, specifier string, importer logger.Path) (ResolveResult, error) {
	if err := ctx.Err(); err != nil {
		return ResolveResult{}, err
	}

	sourceDir := r.fs.Cwd()
	if importer.Text != "" {
		sourceDir = r.fs.Dir(importer.Text)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := resolveKey{sourceDir: sourceDir, specifier: specifier}
	if entry, ok := r.resolveCache[key]; ok {
		return entry.result, entry.err
	}

	result, err := r.resolveWithoutCache(sourceDir, specifier)
	r.resolveCache[key] = resolveCacheEntry{result: result, err: err}
	return result, err
}

func (r *resolver) resolveWithoutCache(sourceDir string, specifier string) (ResolveResult, error) {
	var absPath string
	var ok bool
	var err error

	if specifier == "" {
		return ResolveResult{}, fmt.Errorf("%w: empty import path", ErrNotFound)
	}

	if r.fs.IsAbs(specifier) {
		// "/abs/path"
		absPath, ok, err = r.loadAsFileOrDirectory(r.fs.Join(specifier))
	} else if !IsPackagePath(specifier) {
		// "./rel/path", "../rel/path"
		absPath, ok, err = r.loadAsFileOrDirectory(r.fs.Join(sourceDir, specifier))
	} else {
		// "pkg", "pkg/sub/path", "@scope/pkg"
		absPath, ok, err = r.loadNodeModules(specifier, sourceDir)
	}

	if err != nil {
		return ResolveResult{}, err
	}
	if !ok {
		return ResolveResult{}, fmt.Errorf("%w: could not resolve %q", ErrNotFound, specifier)
	}

	result := ResolveResult{Path: logger.Path{Text: absPath, Namespace: "file"}}

	// Check the enclosing "package.json" for a "sideEffects" field
	info, err := r.dirInfoCached(r.fs.Dir(absPath))
	if err != nil {
		return ResolveResult{}, err
	}
	if info != nil && info.enclosingPackageJSON != nil && info.enclosingPackageJSON.ignoresSideEffectsOf(absPath) {
		result.IgnoreSideEffects = true
	}

	return result, nil
}

func (r *resolver) Load(ctx context.Context, path logger.Path) (LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return LoadResult{}, err
	}
	if path.Namespace != "" && path.Namespace != "file" {
		return LoadResult{}, fmt.Errorf("Cannot load %q: unknown namespace %q", path.Text, path.Namespace)
	}

	contents, err := r.fs.ReadFile(path.Text)
	if err != nil {
		return LoadResult{}, fmt.Errorf("Cannot read file %q: %w", r.PrettyPath(path), err)
	}

	return LoadResult{Contents: contents, Format: FormatFromExtension(r.fs.Ext(path.Text))}, nil
}

func FormatFromExtension(ext string) js_ast.ModuleFormat {
	switch ext {
	case ".mjs":
		return js_ast.FormatESM
	case ".cjs":
		return js_ast.FormatCommonJS
	}
	return js_ast.FormatUnknown
}

func (r *resolver) PrettyPath(path logger.Path) string {
	if path.Namespace == "file" || path.Namespace == "" {
		return r.prettyText(path.Text)
	}
	return fmt.Sprintf("%s:%s", path.Namespace, path.Text)
}

func (r *resolver) prettyText(text string) string {
	if rel, ok := r.fs.Rel(r.fs.Cwd(), text); ok {
		text = rel
	}

	// These human-readable paths are used in error messages and in comments in
	// output files. They should be platform-independent so the output doesn't
	// depend on which operating system it was run on.
	return strings.ReplaceAll(text, "\\", "/")
}

////////////////////////////////////////////////////////////////////////////////

type dirInfo struct {
	// These objects are immutable, so we can just point to the parent directory
	// and avoid having to lock the cache again
	parent *dirInfo

	// All relevant information about this directory
	absPath              string
	entries              map[string]fs.Entry
	packageJSON          *packageJSON // Is there a "package.json" file in this directory?
	enclosingPackageJSON *packageJSON // Is there a "package.json" file in this directory or a parent directory?
	hasNodeModules       bool         // Is there a "node_modules" subdirectory?
}

// The caller must hold the mutex
func (r *resolver) dirInfoCached(path string) (*dirInfo, error) {
	// First, check the cache
	if cached, ok := r.dirCache[path]; ok {
		return cached, nil
	}

	// Cache miss: read the info
	info, err := r.dirInfoUncached(path)
	if err != nil {
		return nil, err
	}

	// Update the cache unconditionally. Even if the read failed, we don't want to
	// retry again later. The directory is inaccessible so trying again is wasted.
	r.dirCache[path] = info
	return info, nil
}

func (r *resolver) dirInfoUncached(path string) (*dirInfo, error) {
	// Get the info for the parent directory
	var parentInfo *dirInfo
	if parentDir := r.fs.Dir(path); parentDir != path {
		var err error
		parentInfo, err = r.dirInfoCached(parentDir)
		if err != nil {
			return nil, err
		}
	}

	// List the directories
	entries, err := r.fs.ReadDirectory(path)
	if err != nil {
		if fs.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("Cannot read directory %q: %w", r.prettyText(path), err)
	}

	info := &dirInfo{
		parent:  parentInfo,
		absPath: path,
		entries: entries,
	}

	// A "node_modules" directory isn't allowed to directly contain another "node_modules" directory
	if entry, ok := entries["node_modules"]; ok && r.fs.Base(path) != "node_modules" {
		info.hasNodeModules = entry.Kind == fs.DirEntry
	}

	// Propagate the enclosing package.json from the parent directory
	if parentInfo != nil {
		info.enclosingPackageJSON = parentInfo.enclosingPackageJSON
	}

	// Record if this directory has a package.json file
	if entry, ok := entries["package.json"]; ok && entry.Kind == fs.FileEntry {
		pkg, err := r.parsePackageJSON(path)
		if err != nil {
			return nil, err
		}
		info.packageJSON = pkg
		info.enclosingPackageJSON = pkg
	}

	return info, nil
}

func (r *resolver) loadAsFile(path string) (string, bool) {
	// Read the directory entries once to minimize locking
	dirPath := r.fs.Dir(path)
	entries, err := r.fs.ReadDirectory(dirPath)
	if err != nil {
		return "", false
	}

	base := r.fs.Base(path)

	// Try the plain path without any extensions
	if entry, ok := entries[base]; ok && entry.Kind == fs.FileEntry {
		return path, true
	}

	// Try the path with extensions
	for _, ext := range r.extensionOrder {
		if entry, ok := entries[base+ext]; ok && entry.Kind == fs.FileEntry {
			return path + ext, true
		}
	}

	return "", false
}

func (r *resolver) loadAsIndex(path string, entries map[string]fs.Entry) (string, bool) {
	// Try the "index" file with extensions
	for _, ext := range r.extensionOrder {
		base := "index" + ext
		if entry, ok := entries[base]; ok && entry.Kind == fs.FileEntry {
			return r.fs.Join(path, base), true
		}
	}

	return "", false
}

// The caller must hold the mutex
func (r *resolver) loadAsFileOrDirectory(path string) (string, bool, error) {
	// Is this a file?
	if absolute, ok := r.loadAsFile(path); ok {
		return absolute, true, nil
	}

	// Is this a directory?
	info, err := r.dirInfoCached(path)
	if err != nil || info == nil {
		return "", false, err
	}

	// Try using the main field from "package.json"
	if info.packageJSON != nil && info.packageJSON.absMainPath != "" {
		mainPath := info.packageJSON.absMainPath
		if absolute, ok := r.loadAsFile(mainPath); ok {
			return absolute, true, nil
		}
		mainInfo, err := r.dirInfoCached(mainPath)
		if err != nil {
			return "", false, err
		}
		if mainInfo != nil {
			if absolute, ok := r.loadAsIndex(mainPath, mainInfo.entries); ok {
				return absolute, true, nil
			}
		}
	}

	// Return the "index.js" file
	absolute, ok := r.loadAsIndex(path, info.entries)
	return absolute, ok, nil
}

// The caller must hold the mutex
func (r *resolver) loadNodeModules(path string, sourceDir string) (string, bool, error) {
	info, err := r.dirInfoCached(sourceDir)
	if err != nil {
		return "", false, err
	}

	// Then check for the package in any enclosing "node_modules" directories
	for ; info != nil; info = info.parent {
		// Skip directories that are themselves called "node_modules", since we
		// don't ever want to search for "node_modules/node_modules"
		if info.hasNodeModules {
			absPath := r.fs.Join(info.absPath, "node_modules", path)
			absolute, ok, err := r.loadAsFileOrDirectory(absPath)
			if err != nil || ok {
				return absolute, ok, err
			}
		}
	}

	return "", false, nil
}

func IsPackagePath(path string) bool {
	return !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "./") &&
		!strings.HasPrefix(path, "../") && path != "." && path != ".."
}

// Returns the package name of a bare specifier: "pkg" for "pkg/sub/path" and
// "@scope/pkg" for "@scope/pkg/sub/path"
func PackageName(path string) string {
	slash := strings.IndexByte(path, '/')
	if strings.HasPrefix(path, "@") && slash != -1 {
		if next := strings.IndexByte(path[slash+1:], '/'); next != -1 {
			return path[:slash+1+next]
		}
		return path
	}
	if slash != -1 {
		return path[:slash]
	}
	return path
}
