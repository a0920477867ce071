package memclient

import (
	"os"
	"strings"
	"testing"

	"github.com/ZenLiuCN/bypass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const mount = "/mnt/mem"

func newContext(t *testing.T, versions ...string) (*bypass.Context, map[string]*Module) {
	t.Helper()
	l := bypass.NewStaticLoader()
	mods := make(map[string]*Module)
	for _, v := range versions {
		m := New(v)
		mods[v] = m
		l.Register(v, m.Entries)
	}
	cfg := bypass.DefaultConfig()
	cfg.MountPoint = mount
	cfg.Module = versions[0]
	cfg.ModuleVersion = versions[0]
	cfg.Client = []byte(`{
		// the mount point itself
		"root": "/mnt/mem",
		"log_level": "debug",
	}`)
	c := bypass.New(
		bypass.WithConfig(cfg),
		bypass.WithLoader(l),
		bypass.WithLogger(bypass.NoopLogger()),
		bypass.WithAbort(func(err error) { t.Fatalf("abort: %v", err) }),
	)
	require.NoError(t, c.Init())
	return c, mods
}

func writeFile(t *testing.T, c *bypass.Context, p, data string) {
	t.Helper()
	fd, err := c.Open(p, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, 0o644)
	require.NoError(t, err)
	n, err := c.Write(fd, []byte(data))
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, c.Close(fd))
}

func readFile(t *testing.T, c *bypass.Context, p string) string {
	t.Helper()
	fd, err := c.Open(p, unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close(fd)) }()
	var sb strings.Builder
	buf := make([]byte, 7)
	for {
		n, err := c.Read(fd, buf)
		require.NoError(t, err)
		if n == 0 {
			return sb.String()
		}
		sb.Write(buf[:n])
	}
}

func TestOpenWriteRead(t *testing.T) {
	c, mods := newContext(t, "v1")
	writeFile(t, c, mount+"/hello.txt", "hello underwater world")
	assert.Equal(t, "hello underwater world", readFile(t, c, mount+"/hello.txt"))

	st := mods["v1"].state
	fi, err := st.Fs().Stat(mount + "/hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 22, fi.Size())
	assert.Zero(t, st.Open())
	assert.Empty(t, c.Namespace().Descriptors())

	var sb unix.Stat_t
	require.NoError(t, c.Stat(mount+"/hello.txt", &sb))
	assert.EqualValues(t, 22, sb.Size)
	assert.EqualValues(t, unix.S_IFREG|0o644, sb.Mode)

	_, err = c.Open(mount+"/missing", unix.O_RDONLY, 0)
	assert.Equal(t, unix.ENOENT, err)
	_, err = c.Open(mount+"/hello.txt", unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, 0o644)
	assert.Equal(t, unix.EEXIST, err)
}

func TestDescriptorAccessMode(t *testing.T) {
	c, _ := newContext(t, "v1")
	writeFile(t, c, mount+"/ro", "x")
	fd, err := c.Open(mount+"/ro", unix.O_RDONLY, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, FDBase)
	_, err = c.Write(fd, []byte("y"))
	assert.Equal(t, unix.EBADF, err)
	require.NoError(t, c.Close(fd))
	assert.Equal(t, unix.EBADF, c.Close(fd))
}

func TestAppendAndSeek(t *testing.T) {
	c, _ := newContext(t, "v1")
	writeFile(t, c, mount+"/log", "one")
	fd, err := c.Open(mount+"/log", unix.O_WRONLY|unix.O_APPEND, 0)
	require.NoError(t, err)
	_, err = c.Lseek(fd, 0, 0)
	require.NoError(t, err)
	_, err = c.Write(fd, []byte("two"))
	require.NoError(t, err)
	require.NoError(t, c.Close(fd))
	assert.Equal(t, "onetwo", readFile(t, c, mount+"/log"))

	fd, err = c.Open(mount+"/log", unix.O_RDWR, 0)
	require.NoError(t, err)
	off, err := c.Lseek(fd, -3, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, off)
	n, err := c.Pwrite(fd, []byte("TWO"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	buf := make([]byte, 6)
	n, err = c.Pread(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "oneTWO", string(buf[:n]))
	require.NoError(t, c.Ftruncate(fd, 2))
	require.NoError(t, c.Close(fd))
	assert.Equal(t, "on", readFile(t, c, mount+"/log"))
}

func TestSwapCarriesDescriptors(t *testing.T) {
	c, mods := newContext(t, "v1", "v2")
	fd, err := c.Open(mount+"/carry", unix.O_CREAT|unix.O_RDWR, 0o600)
	require.NoError(t, err)
	_, err = c.Write(fd, []byte("before"))
	require.NoError(t, err)
	st := mods["v1"].state

	require.NoError(t, c.Swap(bypass.Update{Path: "v2", Version: "v2"}))
	assert.Equal(t, "v2", c.Version())
	assert.Nil(t, mods["v1"].state)
	assert.Same(t, st, mods["v2"].state)
	assert.Equal(t, []string{"v1", "v2"}, st.Versions)

	_, err = c.Write(fd, []byte("+after"))
	require.NoError(t, err)
	require.NoError(t, c.Close(fd))
	assert.Equal(t, "before+after", readFile(t, c, mount+"/carry"))
	assert.Contains(t, mods["v2"].Logs(), "generation=2")
}

func TestStartRejectsForeignToken(t *testing.T) {
	m := New("v1")
	_, err := m.Start(nil, nil, "not a state")
	assert.ErrorContains(t, err, "cannot adopt")
	_, err = m.Start([]byte(`{"root": "relative"}`), nil, nil)
	assert.ErrorContains(t, err, "absolute")
	_, err = m.Start([]byte(`{"root": `), nil, nil)
	assert.ErrorContains(t, err, "memclient config")
}

func TestDirectories(t *testing.T) {
	c, _ := newContext(t, "v1")
	require.NoError(t, c.Mkdir(mount+"/d", 0o755))
	assert.Equal(t, unix.EEXIST, c.Mkdir(mount+"/d", 0o755))
	writeFile(t, c, mount+"/d/a", "a")
	writeFile(t, c, mount+"/d/b", "b")
	assert.Equal(t, unix.ENOTEMPTY, c.Rmdir(mount+"/d"))

	require.NoError(t, c.Chdir(mount+"/d"))
	wd, err := c.Getwd()
	require.NoError(t, err)
	assert.Equal(t, mount+"/d", wd)
	assert.Equal(t, "a", readFile(t, c, "a"))

	dir, err := c.Opendir(".")
	require.NoError(t, err)
	assert.True(t, dir.Managed())
	var names []string
	for {
		e, err := c.Readdir(dir)
		require.NoError(t, err)
		if e == nil {
			break
		}
		names = append(names, e.Name)
	}
	require.NoError(t, c.Closedir(dir))
	assert.Equal(t, []string{".", "..", "a", "b"}, names)
	assert.Equal(t, unix.EBADF, c.Closedir(dir))

	require.NoError(t, c.Unlink("a"))
	require.NoError(t, c.Unlink("b"))
	wd, err = os.Getwd()
	require.NoError(t, err)
	require.NoError(t, c.Chdir(wd))
	assert.Empty(t, c.Namespace().Cwd())
	require.NoError(t, c.Rmdir(mount+"/d"))
}

func TestReaddirSnapshotSurvivesSwap(t *testing.T) {
	c, _ := newContext(t, "v1", "v2")
	writeFile(t, c, mount+"/x", "x")
	dir, err := c.Opendir(mount)
	require.NoError(t, err)
	require.NoError(t, c.Swap(bypass.Update{Path: "v2", Version: "v2"}))
	writeFile(t, c, mount+"/y", "y")

	var names []string
	for {
		e, err := c.Readdir(dir)
		require.NoError(t, err)
		if e == nil {
			break
		}
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{".", "..", "x"}, names)
	require.NoError(t, c.Closedir(dir))
}

func TestRenameNoReplace(t *testing.T) {
	c, _ := newContext(t, "v1")
	writeFile(t, c, mount+"/a", "a")
	writeFile(t, c, mount+"/b", "b")
	err := c.Renameat2(unix.AT_FDCWD, mount+"/a", unix.AT_FDCWD, mount+"/b", unix.RENAME_NOREPLACE)
	assert.Equal(t, unix.EEXIST, err)
	assert.Equal(t, "b", readFile(t, c, mount+"/b"))

	require.NoError(t, c.Rename(mount+"/a", mount+"/b"))
	assert.Equal(t, "a", readFile(t, c, mount+"/b"))
	assert.Equal(t, unix.ENOENT, c.Access(mount+"/a", unix.F_OK))

	assert.Equal(t, unix.EXDEV, c.Rename(mount+"/b", "/tmp/escaped"))
}

func TestSymlinks(t *testing.T) {
	c, _ := newContext(t, "v1")
	writeFile(t, c, mount+"/target", "pointed")
	require.NoError(t, c.Symlinkat("target", unix.AT_FDCWD, mount+"/link"))
	assert.Equal(t, "pointed", readFile(t, c, mount+"/link"))

	buf := make([]byte, 64)
	n, err := c.Readlinkat(unix.AT_FDCWD, mount+"/link", buf)
	require.NoError(t, err)
	assert.Equal(t, "target", string(buf[:n]))

	var st unix.Stat_t
	require.NoError(t, c.Lstat(mount+"/link", &st))
	assert.EqualValues(t, unix.S_IFLNK, st.Mode&unix.S_IFMT)
	real, err := c.Realpath(mount + "/link")
	require.NoError(t, err)
	assert.Equal(t, mount+"/target", real)

	assert.Equal(t, unix.EPERM, c.Linkat(unix.AT_FDCWD, mount+"/target", unix.AT_FDCWD, mount+"/hard", 0))
}

func TestXattrs(t *testing.T) {
	c, _ := newContext(t, "v1")
	p := mount + "/attrs"
	writeFile(t, c, p, "")
	require.NoError(t, c.Setxattr(p, "user.color", []byte("blue"), unix.XATTR_CREATE))
	assert.Equal(t, unix.EEXIST, c.Setxattr(p, "user.color", []byte("red"), unix.XATTR_CREATE))
	assert.Equal(t, unix.ENODATA, c.Setxattr(p, "user.size", []byte("1"), unix.XATTR_REPLACE))
	require.NoError(t, c.Setxattr(p, "user.size", []byte("1"), 0))

	n, err := c.Getxattr(p, "user.color", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = c.Getxattr(p, "user.color", make([]byte, 2))
	assert.Equal(t, unix.ERANGE, err)
	buf := make([]byte, 64)
	n, err = c.Getxattr(p, "user.color", buf)
	require.NoError(t, err)
	assert.Equal(t, "blue", string(buf[:n]))

	n, err = c.Listxattr(p, buf)
	require.NoError(t, err)
	assert.Equal(t, "user.color\x00user.size\x00", string(buf[:n]))

	require.NoError(t, c.Removexattr(p, "user.color"))
	_, err = c.Getxattr(p, "user.color", buf)
	assert.Equal(t, unix.ENODATA, err)
	assert.Equal(t, unix.EOPNOTSUPP, c.Setxattr(p, "nodot", nil, 0))
}

func TestMetadata(t *testing.T) {
	c, _ := newContext(t, "v1")
	p := mount + "/meta"
	writeFile(t, c, p, "m")
	require.NoError(t, c.Chmod(p, 0o600))
	var st unix.Stat_t
	require.NoError(t, c.Stat(p, &st))
	assert.EqualValues(t, 0o600, st.Mode&0o7777)

	ts := []unix.Timespec{unix.NsecToTimespec(1e9), unix.NsecToTimespec(2e9)}
	require.NoError(t, c.Utimensat(unix.AT_FDCWD, p, ts, 0))
	require.NoError(t, c.Stat(p, &st))
	assert.EqualValues(t, 1, st.Atim.Sec)
	assert.EqualValues(t, 2, st.Mtim.Sec)

	require.NoError(t, c.Access(p, unix.R_OK|unix.W_OK))
	require.NoError(t, c.Truncate(p, 10))
	require.NoError(t, c.Stat(p, &st))
	assert.EqualValues(t, 10, st.Size)
}

func TestFcntlAndDup(t *testing.T) {
	c, mods := newContext(t, "v1")
	fd, err := c.Open(mount+"/dup", unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	require.NoError(t, err)
	flags, err := c.Fcntl(fd, unix.F_GETFD, bypass.NoArg)
	require.NoError(t, err)
	assert.Equal(t, unix.FD_CLOEXEC, flags)

	nfd, err := c.Fcntl(fd, unix.F_DUPFD, bypass.IntArg(0))
	require.NoError(t, err)
	assert.True(t, c.Namespace().ManagedFD(nfd))
	_, err = c.Write(nfd, []byte("shared"))
	require.NoError(t, err)
	off, err := c.Lseek(fd, 0, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 6, off)

	lk := unix.Flock_t{Type: unix.F_WRLCK}
	_, err = c.Fcntl(fd, unix.F_GETLK, bypass.FlockArg(&lk))
	require.NoError(t, err)
	assert.EqualValues(t, unix.F_UNLCK, lk.Type)

	// owner and write hint belong to the open file, so the dup sees them
	_, err = c.FcntlAny(fd, unix.F_SETOWN_EX, &bypass.FOwnerEx{Type: bypass.FOwnerPid, Pid: 42})
	require.NoError(t, err)
	var own bypass.FOwnerEx
	_, err = c.FcntlAny(nfd, unix.F_GETOWN_EX, &own)
	require.NoError(t, err)
	assert.Equal(t, bypass.FOwnerEx{Type: bypass.FOwnerPid, Pid: 42}, own)
	_, err = c.Fcntl(fd, unix.F_SETOWN_EX, bypass.OwnerArg(&bypass.FOwnerEx{Type: 9}))
	assert.Equal(t, unix.EINVAL, err)

	hint := uint64(2)
	_, err = c.Fcntl(fd, unix.F_SET_RW_HINT, bypass.HintArg(&hint))
	require.NoError(t, err)
	var got uint64
	_, err = c.FcntlAny(nfd, unix.F_GET_RW_HINT, &got)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)
	_, err = c.FcntlAny(fd, unix.F_GET_RW_HINT, nil)
	assert.Equal(t, unix.EFAULT, err)

	require.NoError(t, c.Close(nfd))
	require.NoError(t, c.Close(fd))
	assert.Zero(t, mods["v1"].state.Open())
}

func TestFlushLogsWritesBuffer(t *testing.T) {
	m := New("v9")
	_, err := m.Start([]byte(`{"log_level": "debug"}`), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, m.Logs(), "client started")
	m.FlushLogs()
	assert.Empty(t, m.Logs())
	st, ok := m.Stop().(*State)
	require.True(t, ok)
	assert.Equal(t, []string{"v9"}, st.Versions)
}
