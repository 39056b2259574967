package fs

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
)

type EntryKind uint8

const (
	DirEntry  EntryKind = 1
	FileEntry EntryKind = 2
)

type Entry struct {
	Kind    EntryKind
	Symlink string
}

type FS interface {
	// The returned map is immutable and is cached across invocations. Do not
	// mutate it.
	ReadDirectory(path string) (map[string]Entry, error)
	ReadFile(path string) (string, error)

	// This is part of the interface because the mock interface used for tests
	// should not depend on file system behavior (i.e. different slashes for
	// Windows) while the real interface should.
	IsAbs(path string) bool
	Abs(path string) (string, bool)
	Dir(path string) string
	Base(path string) string
	Ext(path string) string
	Join(parts ...string) string
	Cwd() string
	Rel(base string, target string) (string, bool)
}

// Returns true for errors that mean the path is missing, as opposed to
// errors that mean the path exists but couldn't be read
func IsNotExist(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENOTDIR) || errors.Is(err, os.ErrNotExist)
}

// Returns the names in a directory in sorted order
func SortedNames(entries map[string]Entry) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

////////////////////////////////////////////////////////////////////////////////

type mockFS struct {
	dirs  map[string]map[string]Entry
	files map[string]string
	cwd   string
}

// The mock file system always uses Unix-style paths. All keys of the input
// map must be absolute.
func MockFS(input map[string]string) FS {
	dirs := make(map[string]map[string]Entry)
	files := make(map[string]string)

	for k, v := range input {
		files[k] = v
		original := k

		// Build the directory map
		for {
			kDir := path.Dir(k)
			dir, ok := dirs[kDir]
			if !ok {
				dir = make(map[string]Entry)
				dirs[kDir] = dir
			}
			if kDir == k {
				break
			}
			if k == original {
				dir[path.Base(k)] = Entry{Kind: FileEntry}
			} else {
				dir[path.Base(k)] = Entry{Kind: DirEntry}
			}
			k = kDir
		}
	}

	return &mockFS{dirs: dirs, files: files, cwd: "/"}
}

func (fs *mockFS) ReadDirectory(p string) (map[string]Entry, error) {
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if dir, ok := fs.dirs[p]; ok {
		return dir, nil
	}
	if _, ok := fs.files[p]; ok {
		return nil, syscall.ENOTDIR
	}
	return nil, syscall.ENOENT
}

func (fs *mockFS) ReadFile(p string) (string, error) {
	if contents, ok := fs.files[p]; ok {
		return contents, nil
	}
	if _, ok := fs.dirs[p]; ok {
		return "", syscall.EISDIR
	}
	return "", syscall.ENOENT
}

func (*mockFS) IsAbs(p string) bool {
	return path.IsAbs(p)
}

func (fs *mockFS) Abs(p string) (string, bool) {
	if !path.IsAbs(p) {
		p = path.Join(fs.cwd, p)
	}
	return path.Clean(p), true
}

func (*mockFS) Dir(p string) string {
	return path.Dir(p)
}

func (*mockFS) Base(p string) string {
	return path.Base(p)
}

func (*mockFS) Ext(p string) string {
	return path.Ext(p)
}

func (*mockFS) Join(parts ...string) string {
	return path.Clean(path.Join(parts...))
}

func (fs *mockFS) Cwd() string {
	return fs.cwd
}

func splitOnSlash(path string) (string, string) {
	if slash := strings.IndexByte(path, '/'); slash != -1 {
		return path[:slash], path[slash+1:]
	}
	return path, ""
}

func (*mockFS) Rel(base string, target string) (string, bool) {
	base = path.Clean(base)
	target = path.Clean(target)

	// Base cases
	if base == target {
		return ".", true
	}
	if base == "." {
		base = ""
	}

	// A relative path can't be computed between an absolute and a relative path
	if (len(base) > 0 && base[0] == '/') != (len(target) > 0 && target[0] == '/') {
		return "", false
	}

	// Find the common parent directory
	for {
		bHead, bTail := splitOnSlash(base)
		tHead, tTail := splitOnSlash(target)
		if bHead != tHead {
			break
		}
		base = bTail
		target = tTail
	}

	// Stop now if base is a subpath of target
	if base == "" {
		return target, true
	}

	// Traverse up to the common parent
	commonParent := strings.Repeat("../", strings.Count(base, "/")+1)

	// Stop now if target is a subpath of base
	if target == "" {
		return commonParent[:len(commonParent)-1], true
	}

	// Otherwise, down to the parent
	return commonParent + target, true
}

////////////////////////////////////////////////////////////////////////////////

type realFS struct {
	// Stores the file entries for directories we've listed before
	entriesMutex sync.RWMutex
	entries      map[string]entriesOrErr

	// For the current working directory
	cwd string
}

type entriesOrErr struct {
	entries map[string]Entry
	err     error
}

func RealFS() FS {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	} else if real, err := filepath.EvalSymlinks(cwd); err == nil {
		// Resolve symlinks in the current working directory. Symlinks are
		// resolved when input file paths are converted to absolute paths because
		// an input file must be recognized as unique even if it has multiple
		// symlinks pointing to it.
		cwd = real
	}
	return &realFS{
		entries: make(map[string]entriesOrErr),
		cwd:     cwd,
	}
}

func (fs *realFS) ReadDirectory(dir string) (map[string]Entry, error) {
	// First, check the cache
	fs.entriesMutex.RLock()
	cached, ok := fs.entries[dir]
	fs.entriesMutex.RUnlock()

	// Cache hit: stop now
	if ok {
		return cached.entries, cached.err
	}

	// Cache miss: read the directory entries
	names, err := readdir(dir)
	entries := make(map[string]Entry)
	if err == nil {
		for _, name := range names {
			entryPath := filepath.Join(dir, name)

			// Use "lstat" since we want information about symbolic links
			stat, err := os.Lstat(entryPath)
			if err != nil {
				continue
			}
			mode := stat.Mode()
			symlink := ""

			// Follow symlinks now so the cache contains the translation
			if (mode & os.ModeSymlink) != 0 {
				link, err := os.Readlink(entryPath)
				if err != nil {
					continue // Skip over this entry
				}
				if !filepath.IsAbs(link) {
					link = filepath.Join(dir, link)
				}
				symlink = filepath.Clean(link)

				// Re-run "lstat" on the symlink target
				stat2, err2 := os.Lstat(symlink)
				if err2 != nil {
					continue // Skip over this entry
				}
				mode = stat2.Mode()
				if (mode & os.ModeSymlink) != 0 {
					continue // Symlink chains are not supported
				}
			}

			// We consider the entry either a directory or a file
			if (mode & os.ModeDir) != 0 {
				entries[name] = Entry{Kind: DirEntry, Symlink: symlink}
			} else {
				entries[name] = Entry{Kind: FileEntry, Symlink: symlink}
			}
		}
	}

	// Update the cache unconditionally. Even if the read failed, we don't want to
	// retry again later. The directory is inaccessible so trying again is wasted.
	if err != nil {
		entries = nil
	}
	fs.entriesMutex.Lock()
	fs.entries[dir] = entriesOrErr{entries: entries, err: err}
	fs.entriesMutex.Unlock()
	return entries, err
}

func (fs *realFS) ReadFile(path string) (string, error) {
	buffer, err := os.ReadFile(path)

	// Unwrap to get the underlying error
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Unwrap()
	}

	return string(buffer), err
}

func (*realFS) IsAbs(p string) bool {
	return filepath.IsAbs(p)
}

func (*realFS) Abs(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	return abs, err == nil
}

func (*realFS) Dir(p string) string {
	return filepath.Dir(p)
}

func (*realFS) Base(p string) string {
	return filepath.Base(p)
}

func (*realFS) Ext(p string) string {
	return filepath.Ext(p)
}

func (*realFS) Join(parts ...string) string {
	return filepath.Clean(filepath.Join(parts...))
}

func (fs *realFS) Cwd() string {
	return fs.cwd
}

func (*realFS) Rel(base string, target string) (string, bool) {
	if rel, err := filepath.Rel(base, target); err == nil {
		return rel, true
	}
	return "", false
}

func readdir(dirname string) ([]string, error) {
	f, err := os.Open(dirname)

	// Unwrap to get the underlying error
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Unwrap()
	}
	if err != nil {
		return nil, err
	}

	defer f.Close()
	names, err := f.Readdirnames(-1)

	// Unwrap to get the underlying error
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		err = syscallErr.Unwrap()
	}
	var pathErr2 *os.PathError
	if errors.As(err, &pathErr2) {
		err = pathErr2.Unwrap()
	}
	return names, err
}
