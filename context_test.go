package bypass

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func TestInitResolvesOnce(t *testing.T) {
	c := New(WithLogger(NoopLogger()))
	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			if c.Sys() == nil {
				return errors.New("genuine table not ready")
			}
			return c.Init()
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, c.Resolutions())
	require.NoError(t, c.Init())
	assert.Equal(t, 1, c.Resolutions())
}

func TestResolveReportsEveryBrokenName(t *testing.T) {
	syms := UnixSymbols()
	delete(syms, "openat")
	syms["fsync"] = func() {}
	_, err := Resolve(syms)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSymbol)
	assert.ErrorIs(t, err, ErrSymbolType)
	var se *SymbolError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "openat", se.Name)

	sys, err := Resolve(UnixSymbols())
	require.NoError(t, err)
	assert.NotNil(t, sys.Openat)
	assert.ElementsMatch(t, SymbolNames(), UnixSymbols().Names())
}

func TestInitAbortsOnMissingSymbol(t *testing.T) {
	syms := UnixSymbols()
	delete(syms, "readdir")
	var aborted error
	c := New(WithSymbols(syms), WithLogger(NoopLogger()), WithAbort(func(err error) { aborted = err }))
	err := c.Init()
	require.ErrorIs(t, err, ErrMissingSymbol)
	assert.Equal(t, err, aborted)
	assert.Nil(t, c.Sys())
	assert.Equal(t, 1, c.Resolutions())
}

func TestGenuineOpenatParity(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(name, []byte("host"), 0o644))
	c := New(WithLogger(NoopLogger()))

	fd, err := c.Open(name, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	assert.False(t, c.Namespace().ManagedFD(fd))
	buf := make([]byte, 8)
	n, err := c.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "host", string(buf[:n]))
	require.NoError(t, c.Close(fd))

	_, want := unix.Openat(unix.AT_FDCWD, filepath.Join(dir, "absent"), unix.O_RDONLY, 0)
	_, got := c.Openat(unix.AT_FDCWD, filepath.Join(dir, "absent"), unix.O_RDONLY, 0)
	assert.Equal(t, want, got)
	assert.Equal(t, unix.ENOENT, got)
	assert.Zero(t, c.Guard().Writes())
}

func TestManagedRouting(t *testing.T) {
	m := &fakeModule{version: "v1"}
	c := newTestContext(t, m)
	assert.Equal(t, "v1", c.Version())

	fd, err := c.Open(testMount+"/data", unix.O_CREAT|unix.O_RDWR, 0o644)
	require.NoError(t, err)
	assert.Greater(t, fd, fakeFDBase)
	assert.True(t, c.Namespace().ManagedFD(fd))

	n, err := c.Write(fd, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	buf := make([]byte, 8)
	n, err = c.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(buf[:n]))

	var st unix.Stat_t
	require.NoError(t, c.Stat(testMount+"/data", &st))
	assert.EqualValues(t, 7, st.Size)
	require.NoError(t, c.Fstat(fd, &st))
	assert.EqualValues(t, unix.S_IFREG, st.Mode&unix.S_IFMT)

	require.NoError(t, c.Close(fd))
	assert.False(t, c.Namespace().ManagedFD(fd))
	assert.Zero(t, c.Guard().Readers())

	// a prefix sibling is not under the mount
	_, err = c.Open(testMount+"-other/x", unix.O_RDONLY, 0)
	assert.Equal(t, unix.ENOENT, err)
	assert.NotContains(t, m.state().Calls(), "openat "+testMount+"-other/x")
}

func TestManagedPathWithoutModuleFallsThrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MountPoint = filepath.Join(t.TempDir(), "mnt")
	require.NoError(t, os.MkdirAll(cfg.MountPoint, 0o755))
	c := New(WithConfig(cfg), WithLogger(NoopLogger()))

	fd, err := c.Creat(filepath.Join(cfg.MountPoint, "kernel"), 0o644)
	require.NoError(t, err)
	assert.False(t, c.Namespace().ManagedFD(fd))
	require.NoError(t, c.Close(fd))
	assert.FileExists(t, filepath.Join(cfg.MountPoint, "kernel"))
	assert.Nil(t, c.Active())
}

func TestRenameAcrossMountIsEXDEV(t *testing.T) {
	c := newTestContext(t, &fakeModule{version: "v1"})
	host := filepath.Join(t.TempDir(), "host")
	assert.Equal(t, unix.EXDEV, c.Rename(testMount+"/a", host))
	assert.Equal(t, unix.EXDEV, c.Rename(host, testMount+"/a"))
	assert.Equal(t, unix.EXDEV, c.Linkat(unix.AT_FDCWD, host, unix.AT_FDCWD, testMount+"/a", 0))
}

func TestRenameNoReplaceEmulated(t *testing.T) {
	m := &fakeModule{version: "v1"}
	c := newTestContext(t, m)
	for _, p := range []string{"/a", "/b"} {
		fd, err := c.Creat(testMount+p, 0o644)
		require.NoError(t, err)
		require.NoError(t, c.Close(fd))
	}

	err := c.Renameat2(unix.AT_FDCWD, testMount+"/a", unix.AT_FDCWD, testMount+"/b", unix.RENAME_NOREPLACE)
	assert.Equal(t, unix.EEXIST, err)
	err = c.Renameat2(unix.AT_FDCWD, testMount+"/a", unix.AT_FDCWD, testMount+"/c", unix.RENAME_NOREPLACE)
	require.NoError(t, err)
	assert.Contains(t, m.state().Calls(), "renameat2 "+testMount+"/a "+testMount+"/c")

	var st unix.Stat_t
	assert.Equal(t, unix.ENOENT, c.Stat(testMount+"/a", &st))
	require.NoError(t, c.Stat(testMount+"/c", &st))
}

func TestGenuineRenameNoReplace(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, nil, 0o644))
	require.NoError(t, os.WriteFile(b, nil, 0o644))
	c := New(WithLogger(NoopLogger()))
	assert.Equal(t, unix.EEXIST, c.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_NOREPLACE))
	require.NoError(t, c.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, filepath.Join(dir, "c"), unix.RENAME_NOREPLACE))
	assert.FileExists(t, filepath.Join(dir, "c"))
}

func TestFcntlArgs(t *testing.T) {
	assert.Equal(t, ArgInt, ArgKindFor(unix.F_SETFL))
	assert.Equal(t, ArgFlock, ArgKindFor(unix.F_SETLKW))
	assert.Equal(t, ArgNone, ArgKindFor(unix.F_GETFL))
	assert.Equal(t, ArgOwner, ArgKindFor(unix.F_GETOWN_EX))
	assert.Equal(t, ArgHint, ArgKindFor(unix.F_SET_RW_HINT))
	assert.Equal(t, ArgHint, ArgKindFor(unix.F_GET_FILE_RW_HINT))
	assert.Equal(t, "flock", ArgFlock.String())

	_, err := NewFcntlArg(unix.F_SETFL, "nope")
	assert.Equal(t, unix.EINVAL, err)
	_, err = NewFcntlArg(unix.F_GETLK, (*unix.Flock_t)(nil))
	assert.Equal(t, unix.EFAULT, err)
	_, err = NewFcntlArg(unix.F_SETOWN_EX, 7)
	assert.Equal(t, unix.EFAULT, err)
	_, err = NewFcntlArg(unix.F_GET_RW_HINT, new(uint32))
	assert.Equal(t, unix.EFAULT, err)
	arg, err := NewFcntlArg(unix.F_GETOWN_EX, &FOwnerEx{})
	require.NoError(t, err)
	assert.Equal(t, ArgOwner, arg.Kind)
	arg, err = NewFcntlArg(unix.F_GETFD, "ignored")
	require.NoError(t, err)
	assert.Equal(t, NoArg, arg)

	m := &fakeModule{version: "v1"}
	c := newTestContext(t, m)
	fd, err := c.Creat(testMount+"/f", 0o644)
	require.NoError(t, err)
	_, err = c.Fcntl(fd, unix.F_SETFL, NoArg)
	assert.Equal(t, unix.EINVAL, err)
	_, err = c.Fcntl(fd, unix.F_SETLK, FcntlArg{Kind: ArgFlock})
	assert.Equal(t, unix.EFAULT, err)

	nfd, err := c.FcntlAny(fd, unix.F_DUPFD_CLOEXEC, 0)
	require.NoError(t, err)
	assert.True(t, c.Namespace().ManagedFD(nfd))
	require.NoError(t, c.Close(nfd))
	require.NoError(t, c.Close(fd))

	// genuine descriptors reach the kernel with the same typed argument
	hfd, err := c.Open(os.DevNull, unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer c.Close(hfd)
	flags, err := c.FcntlAny(hfd, unix.F_GETFD, nil)
	require.NoError(t, err)
	assert.Zero(t, flags&unix.FD_CLOEXEC)
	_, err = c.FcntlAny(hfd, unix.F_SETFD, unix.FD_CLOEXEC)
	require.NoError(t, err)
	flags, err = c.Fcntl(hfd, unix.F_GETFD, NoArg)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.FD_CLOEXEC)
}

func TestGenuineFcntlPointerArgs(t *testing.T) {
	c := New(WithLogger(NoopLogger()))
	fd, err := c.Open(filepath.Join(t.TempDir(), "hinted"), unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	require.NoError(t, err)
	defer c.Close(fd)

	var want, got FOwnerEx
	_, _, e := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_GETOWN_EX, uintptr(unsafe.Pointer(&want)))
	require.Zero(t, e)
	_, err = c.FcntlAny(fd, unix.F_GETOWN_EX, &got)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	pid := int32(unix.Getpid())
	_, err = c.Fcntl(fd, unix.F_SETOWN_EX, OwnerArg(&FOwnerEx{Type: FOwnerPid, Pid: pid}))
	require.NoError(t, err)
	_, err = c.Fcntl(fd, unix.F_GETOWN_EX, OwnerArg(&got))
	require.NoError(t, err)
	assert.Equal(t, FOwnerEx{Type: FOwnerPid, Pid: pid}, got)

	hint := uint64(2) // RWH_WRITE_LIFE_SHORT
	_, err = c.FcntlAny(fd, unix.F_SET_RW_HINT, &hint)
	require.NoError(t, err)
	var read uint64
	_, err = c.Fcntl(fd, unix.F_GET_RW_HINT, HintArg(&read))
	require.NoError(t, err)
	assert.EqualValues(t, 2, read)
}

func TestDupReservesKernelNumber(t *testing.T) {
	m := &fakeModule{version: "v1"}
	c := newTestContext(t, m)
	fd, err := c.Creat(testMount+"/dup", 0o644)
	require.NoError(t, err)

	const target = 900
	var st unix.Stat_t
	require.Equal(t, unix.EBADF, unix.Fstat(target, &st), "descriptor %d in use", target)

	require.NoError(t, c.Dup2(fd, target))
	assert.True(t, c.Namespace().ManagedFD(target))
	// the kernel holds the number for the client
	require.NoError(t, unix.Fstat(target, &st))
	assert.EqualValues(t, unix.S_IFCHR, st.Mode&unix.S_IFMT)

	buf := make([]byte, 4)
	n, err := c.Read(target, buf)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(buf[:n]))

	require.NoError(t, c.Close(target))
	assert.False(t, c.Namespace().ManagedFD(target))
	assert.Equal(t, unix.EBADF, unix.Fstat(target, &st))

	assert.Equal(t, unix.EINVAL, c.Dup3(fd, fd, 0))
	require.NoError(t, c.Dup2(fd, fd))
	require.NoError(t, c.Close(fd))
}

func TestGenuineDupOntoManagedNumber(t *testing.T) {
	m := &fakeModule{version: "v1"}
	c := newTestContext(t, m)
	fd, err := c.Creat(testMount+"/dup", 0o644)
	require.NoError(t, err)
	const target = 901
	require.NoError(t, c.Dup2(fd, target))

	hfd, err := c.Open(os.DevNull, unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer c.Close(hfd)
	require.NoError(t, c.Dup2(hfd, target))
	assert.False(t, c.Namespace().ManagedFD(target))
	require.NoError(t, c.Close(target))

	// a client number the kernel cannot hold survives the failed dup
	assert.Greater(t, fd, fakeFDBase)
	before := len(m.state().Calls())
	assert.Equal(t, unix.EBADF, c.Dup2(hfd, fd))
	assert.Equal(t, unix.EBADF, c.Dup3(hfd, fd, unix.O_CLOEXEC))
	assert.True(t, c.Namespace().ManagedFD(fd))
	assert.Equal(t, "v1", readVersion(t, c, fd))
	assert.NotContains(t, m.state().Calls()[before:], "close")
	require.NoError(t, c.Close(fd))
}

func TestManagedWorkingDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	m := &fakeModule{version: "v1"}
	c := newTestContext(t, m)

	require.NoError(t, c.Chdir(testMount))
	t.Cleanup(func() { _ = c.Chdir(wd) })
	assert.Equal(t, testMount, c.Namespace().Cwd())

	_, err = c.Getcwd(make([]byte, len(testMount)))
	assert.Equal(t, unix.ERANGE, err)
	buf := make([]byte, len(testMount)+1)
	n, err := c.Getcwd(buf)
	require.NoError(t, err)
	assert.Equal(t, len(testMount)+1, n)
	assert.Equal(t, byte(0), buf[n-1])
	got, err := c.Getwd()
	require.NoError(t, err)
	assert.Equal(t, testMount, got)

	fd, err := c.Creat("relative", 0o644)
	require.NoError(t, err)
	assert.Contains(t, m.state().Calls(), "openat "+testMount+"/relative")
	require.NoError(t, c.Close(fd))

	fd, err = c.Creat(testMount+"/plain", 0o644)
	require.NoError(t, err)
	assert.Equal(t, unix.ENOTDIR, c.Fchdir(fd))
	require.NoError(t, c.Close(fd))

	require.NoError(t, c.Chdir(wd))
	assert.Empty(t, c.Namespace().Cwd())
	got, err = c.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, got)
}

func TestUnsupportedClientAnswersENOSYS(t *testing.T) {
	c := newTestContext(t, &fakeModule{version: "v1"})
	assert.Equal(t, unix.ENOSYS, c.Unlink(testMount+"/x"))
	assert.Equal(t, unix.ENOSYS, c.Symlinkat("target", unix.AT_FDCWD, testMount+"/link"))
	_, err := c.Realpath(testMount + "/x")
	assert.Equal(t, unix.ENOSYS, err)
}
