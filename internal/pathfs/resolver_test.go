package pathfs

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	r, err := New(fs, "/srv/root")
	require.NoError(t, err)
	return r, fs
}

func TestVirtualJoinBasics(t *testing.T) {
	assert.Equal(t, "/a/b", virtualJoin("/a", "b"))
	assert.Equal(t, "/a", virtualJoin("/a/b", ".."))
	assert.Equal(t, "/", virtualJoin("/", ".."))
	assert.Equal(t, "/x", virtualJoin("/", "/x"))
	assert.Equal(t, "/", virtualJoin("/a/b", "../.."))
}

func TestVirtualJoinInvariant(t *testing.T) {
	// property 6 of spec.md §8: an absolute argument resolves the same from
	// every cwd, i.e. resolveVirtual("/"+p) == virtualJoin("/", p)
	r, _ := newTestResolver(t)
	cwds := []string{"/", "/a", "/a/b/c"}
	for _, cwd := range cwds {
		r.cwdVirtual = cwd
		for _, p := range []string{"/x/y", "/../../etc", "/a/./b"} {
			assert.Equal(t, virtualJoin("/", p), r.resolveVirtual("/"+p))
		}
	}
}

func TestResolveAcceptsPathsWithinRoot(t *testing.T) {
	r, fs := newTestResolver(t)
	require.NoError(t, fs.MkdirAll("/srv/root/dir", 0o755))

	physical, rel, ok := r.Resolve("dir")
	require.True(t, ok)
	assert.Equal(t, "/srv/root/dir", physical)
	assert.Equal(t, "dir", rel)
}

func TestResolveRejectsEscapeAttempts(t *testing.T) {
	r, _ := newTestResolver(t)

	_, _, ok := r.Resolve("../../../etc/passwd")
	assert.False(t, ok, "a jail escape must be rejected, not silently clamped")
}

func TestCWDDotDotAtRootIsNoOp(t *testing.T) {
	r, _ := newTestResolver(t)

	ok := r.TryChangeDir("..")
	require.True(t, ok)
	assert.Equal(t, "/", r.CWD())
}

func TestMkdCwdPwdRoundTrip(t *testing.T) {
	r, _ := newTestResolver(t)

	require.NoError(t, r.Mkdir("newdir"))
	ok := r.TryChangeDir("newdir")
	require.True(t, ok)
	assert.Equal(t, "/newdir", r.CWD())
}

func TestToUnixListLinesOrdersDirsBeforeFiles(t *testing.T) {
	r, fs := newTestResolver(t)
	now := time.Date(2024, time.March, 3, 14, 22, 0, 0, time.UTC)

	require.NoError(t, fs.MkdirAll("/srv/root/zzz_dir", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/srv/root/aaa_file.txt", []byte("hi"), 0o644))
	require.NoError(t, fs.Chtimes("/srv/root/zzz_dir", now, now))
	require.NoError(t, fs.Chtimes("/srv/root/aaa_file.txt", now, now))

	lines := r.ToUnixListLines("/")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "drwxr-xr-x")
	assert.Contains(t, lines[0], "zzz_dir")
	assert.Contains(t, lines[1], "-rw-r--r--")
	assert.Contains(t, lines[1], "aaa_file.txt")
	assert.Contains(t, lines[1], "Mar  3 14:22")
}

func TestRebaseResetsCWD(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.Mkdir("sub"))
	require.True(t, r.TryChangeDir("sub"))
	assert.Equal(t, "/sub", r.CWD())

	require.NoError(t, r.Rebase("/srv/home/bob"))
	assert.Equal(t, "/", r.CWD())
	assert.Equal(t, "/srv/home/bob", r.RootPath())
}
