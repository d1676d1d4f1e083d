// Package pathfs maps FTP-style virtual paths onto a physical
// filesystem root, enforcing the jail that keeps every operation inside
// a user's home directory.
package pathfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Resolver binds one session's virtual current-directory tracking to a
// physical root. It is not safe for concurrent use by multiple
// goroutines — a Session owns exactly one Resolver.
type Resolver struct {
	osFs        afero.Fs
	root        *afero.BasePathFs
	rootPath    string // absolute, physical, canonicalized
	cwdVirtual  string
	resolveReal bool // true when osFs is a real OS filesystem worth EvalSymlinks-ing
}

// New creates a Resolver rooted at rootPath, which is created if
// missing. osFs is the underlying filesystem (afero.NewOsFs() in
// production, afero.NewMemMapFs() in tests).
func New(osFs afero.Fs, rootPath string) (*Resolver, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := osFs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &Resolver{
		osFs:        osFs,
		root:        afero.NewBasePathFs(osFs, abs).(*afero.BasePathFs),
		rootPath:    abs,
		cwdVirtual:  "/",
		resolveReal: isRealOsFs(osFs),
	}, nil
}

func isRealOsFs(fs afero.Fs) bool {
	_, ok := fs.(*afero.OsFs)
	return ok
}

// RootPath returns the physical, absolute root directory.
func (r *Resolver) RootPath() string { return r.rootPath }

// CWD returns the current virtual directory, always "/"-rooted.
func (r *Resolver) CWD() string { return r.cwdVirtual }

// Rebase replaces the physical root (used on login, when the session
// moves from the server root to the user's home) and resets the
// virtual working directory to "/".
func (r *Resolver) Rebase(rootPath string) error {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return fmt.Errorf("resolve root path: %w", err)
	}
	if err := r.osFs.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create home directory: %w", err)
	}
	r.root = afero.NewBasePathFs(r.osFs, abs).(*afero.BasePathFs)
	r.rootPath = abs
	r.cwdVirtual = "/"
	return nil
}

// virtualJoin concatenates a and b as FTP paths, resolving "." and
// ".." segments left to right. The result always starts with "/".
func virtualJoin(a, b string) string {
	combined := strings.TrimSuffix(a, "/") + "/" + strings.TrimPrefix(b, "/")
	parts := strings.Split(combined, "/")

	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			// skip
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// resolveVirtual turns an argument (absolute or relative FTP path) into
// a normalized, "/"-rooted virtual path, per the session's cwd.
func (r *Resolver) resolveVirtual(argument string) string {
	if strings.HasPrefix(argument, "/") {
		return virtualJoin("/", argument)
	}
	return virtualJoin(r.cwdVirtual, argument)
}

// toPhysical maps a normalized virtual path to an absolute physical
// path under rootPath, then canonicalizes it (resolving symlinks on the
// longest existing ancestor so a symlink cannot walk the result outside
// the root).
func (r *Resolver) toPhysical(virtual string) (string, error) {
	relOS := filepath.FromSlash(strings.TrimPrefix(virtual, "/"))
	candidate := filepath.Join(r.rootPath, relOS)
	if !r.resolveReal {
		return filepath.Clean(candidate), nil
	}
	return canonicalize(candidate)
}

// canonicalize resolves symlinks along the longest existing prefix of
// path and rejoins any trailing components that do not yet exist, so a
// STOR/MKD target that doesn't exist yet can still be jail-checked.
func canonicalize(path string) (string, error) {
	cleaned := filepath.Clean(path)

	var trailing []string
	probe := cleaned
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			rejoined := resolved
			for i := len(trailing) - 1; i >= 0; i-- {
				rejoined = filepath.Join(rejoined, trailing[i])
			}
			return rejoined, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			// Reached the filesystem root without finding an existing
			// ancestor; nothing to resolve, trust the lexical form.
			return cleaned, nil
		}
		trailing = append(trailing, filepath.Base(probe))
		probe = parent
	}
}

// withinRoot reports whether physical lies within rootPath, using a
// case-insensitive prefix check with a separator boundary (spec parity;
// safe only on case-insensitive filesystems).
func (r *Resolver) withinRoot(physical string) bool {
	root := strings.ToLower(filepath.Clean(r.rootPath))
	candidate := strings.ToLower(filepath.Clean(physical))

	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// Resolve validates argument against the jail and returns the physical
// path plus the path relative to rootPath (OS-separated, no leading
// separator) suitable for use against r.root (the BasePathFs). ok is
// false for any path that escapes the root — callers must treat that
// identically to "not found".
func (r *Resolver) Resolve(argument string) (physical, relToRoot string, ok bool) {
	virtual := r.resolveVirtual(argument)
	physical, err := r.toPhysical(virtual)
	if err != nil || !r.withinRoot(physical) {
		return "", "", false
	}

	rel, err := filepath.Rel(r.rootPath, physical)
	if err != nil {
		return "", "", false
	}
	return physical, rel, true
}

// TryChangeDir resolves arg and, if it names an existing directory
// within the jail, updates cwdVirtual and returns true.
func (r *Resolver) TryChangeDir(arg string) bool {
	physical, rel, ok := r.Resolve(arg)
	if !ok {
		return false
	}

	info, err := r.root.Stat(filepath.ToSlash(rel))
	if err != nil || !info.IsDir() {
		_ = physical
		return false
	}

	virtual := "/" + filepath.ToSlash(rel)
	if rel == "." {
		virtual = "/"
	}
	r.cwdVirtual = virtual
	return true
}

// Entry is one line of a directory listing, pre-split into the fields
// ToUnixListLines formats.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// ToUnixListLines resolves arg and, if it names an existing directory,
// returns one formatted line per immediate child: directories first,
// then files, each group in filesystem order.
func (r *Resolver) ToUnixListLines(arg string) []string {
	_, rel, ok := r.Resolve(arg)
	if !ok {
		return nil
	}

	slashRel := filepath.ToSlash(rel)
	info, err := r.root.Stat(slashRel)
	if err != nil || !info.IsDir() {
		return nil
	}

	entries, err := afero.ReadDir(r.root, slashRel)
	if err != nil {
		return nil
	}

	var dirs, files []os.FileInfo
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	lines := make([]string, 0, len(dirs)+len(files))
	for _, e := range dirs {
		lines = append(lines, formatListLine(e, true))
	}
	for _, e := range files {
		lines = append(lines, formatListLine(e, false))
	}
	return lines
}

var listMonths = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

func formatListLine(info os.FileInfo, isDir bool) string {
	perms := "-rw-r--r--"
	size := info.Size()
	if isDir {
		perms = "drwxr-xr-x"
		size = 0
	}

	t := info.ModTime()
	date := fmt.Sprintf("%s %2d %02d:%02d", listMonths[t.Month()-1], t.Day(), t.Hour(), t.Minute())

	return fmt.Sprintf("%s %3d %-8s %-8s %10d %s %s", perms, 1, "owner", "group", size, date, info.Name())
}

// Open, Create, Remove and friends below give the control protocol
// handler jailed file access without ever touching r.osFs directly.

// OpenRead opens relToRoot (as returned by Resolve) for reading.
func (r *Resolver) OpenRead(relToRoot string) (afero.File, error) {
	return r.root.Open(filepath.ToSlash(relToRoot))
}

// CreateForWrite opens relToRoot for writing, truncating an existing
// file or creating a new one.
func (r *Resolver) CreateForWrite(relToRoot string) (afero.File, error) {
	return r.root.Create(filepath.ToSlash(relToRoot))
}

// Remove deletes the file at relToRoot.
func (r *Resolver) Remove(relToRoot string) error {
	return r.root.Remove(filepath.ToSlash(relToRoot))
}

// Mkdir creates the directory at relToRoot. It fails if the parent does
// not already exist (no auto-creation of parents, see DESIGN.md).
func (r *Resolver) Mkdir(relToRoot string) error {
	return r.root.Mkdir(filepath.ToSlash(relToRoot), 0o755)
}

// Rmdir removes the empty directory at relToRoot.
func (r *Resolver) Rmdir(relToRoot string) error {
	return r.root.Remove(filepath.ToSlash(relToRoot))
}

// IsEmptyDir reports whether relToRoot names a directory with no
// entries. Checked explicitly rather than relying on the error text
// a particular filesystem implementation returns from Remove.
func (r *Resolver) IsEmptyDir(relToRoot string) (bool, error) {
	entries, err := afero.ReadDir(r.root, filepath.ToSlash(relToRoot))
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Stat stats relToRoot.
func (r *Resolver) Stat(relToRoot string) (os.FileInfo, error) {
	return r.root.Stat(filepath.ToSlash(relToRoot))
}

// Exists reports whether relToRoot names an existing file or directory.
func (r *Resolver) Exists(relToRoot string) bool {
	_, err := r.Stat(relToRoot)
	return err == nil
}
