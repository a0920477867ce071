package bypass

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	testMount  = "/managed"
	fakeFDBase = 1 << 28
)

// fakeState is the storage every version of the fake module shares through the stop token.
type fakeState struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	fds   map[int]string
	next  int
	calls []string
}

func newFakeState() *fakeState {
	return &fakeState{
		files: make(map[string][]byte),
		dirs:  map[string]bool{testMount: true},
		fds:   make(map[int]string),
	}
}

func (s *fakeState) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeState) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// fakeClient serves a handful of calls; the rest are ENOSYS. It does not implement NoReplaceRenamer.
type fakeClient struct {
	UnsupportedClient
	version string
	st      *fakeState
}

func (c *fakeClient) path(dirfd int, p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	dir, ok := c.st.fds[dirfd]
	if !ok {
		return "", unix.EBADF
	}
	return filepath.Join(dir, p), nil
}

func (c *fakeClient) Openat(dirfd int, p string, flags int, _ uint32) (int, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	c.st.record("openat " + p)
	full, err := c.path(dirfd, p)
	if err != nil {
		return -1, err
	}
	_, isFile := c.st.files[full]
	switch {
	case !isFile && c.st.dirs[full]:
	case !isFile && flags&unix.O_CREAT == 0:
		return -1, unix.ENOENT
	case !isFile:
		c.st.files[full] = nil
	}
	c.st.next++
	fd := fakeFDBase + c.st.next
	c.st.fds[fd] = full
	return fd, nil
}

func (c *fakeClient) Close(fd int) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	c.st.record("close")
	if _, ok := c.st.fds[fd]; !ok {
		return unix.EBADF
	}
	delete(c.st.fds, fd)
	return nil
}

// Read answers with the serving version, so callers can tell which client ran.
func (c *fakeClient) Read(fd int, p []byte) (int, error) {
	c.st.mu.Lock()
	_, ok := c.st.fds[fd]
	c.st.mu.Unlock()
	if !ok {
		return -1, unix.EBADF
	}
	return copy(p, c.version), nil
}

func (c *fakeClient) Write(fd int, p []byte) (int, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	path, ok := c.st.fds[fd]
	if !ok {
		return -1, unix.EBADF
	}
	c.st.files[path] = append(c.st.files[path], p...)
	return len(p), nil
}

func (c *fakeClient) Fstatat(dirfd int, p string, st *unix.Stat_t, _ int) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	c.st.record("fstatat " + p)
	full, err := c.path(dirfd, p)
	if err != nil {
		return err
	}
	*st = unix.Stat_t{}
	if data, ok := c.st.files[full]; ok {
		st.Mode = unix.S_IFREG | 0o644
		st.Size = int64(len(data))
		return nil
	}
	if c.st.dirs[full] {
		st.Mode = unix.S_IFDIR | 0o755
		return nil
	}
	return unix.ENOENT
}

func (c *fakeClient) Fstat(fd int, st *unix.Stat_t) error {
	c.st.mu.Lock()
	p, ok := c.st.fds[fd]
	c.st.mu.Unlock()
	if !ok {
		return unix.EBADF
	}
	return c.Fstatat(unix.AT_FDCWD, p, st, 0)
}

func (c *fakeClient) Renameat2(_ int, oldpath string, _ int, newpath string, flags uint) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	c.st.record("renameat2 " + oldpath + " " + newpath)
	if flags != 0 {
		return unix.EINVAL
	}
	data, ok := c.st.files[oldpath]
	if !ok {
		return unix.ENOENT
	}
	delete(c.st.files, oldpath)
	c.st.files[newpath] = data
	return nil
}

func (c *fakeClient) Mkdirat(_ int, p string, _ uint32) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if c.st.dirs[p] {
		return unix.EEXIST
	}
	c.st.dirs[p] = true
	return nil
}

func (c *fakeClient) Fchdir(fd int) (string, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	p, ok := c.st.fds[fd]
	if !ok {
		return "", unix.EBADF
	}
	if !c.st.dirs[p] {
		return "", unix.ENOTDIR
	}
	return p, nil
}

func (c *fakeClient) ReadDir(fd int) ([]Dirent, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	dir, ok := c.st.fds[fd]
	if !ok {
		return nil, unix.EBADF
	}
	var out []Dirent
	for p := range c.st.files {
		if filepath.Dir(p) == dir {
			out = append(out, Dirent{Name: filepath.Base(p), Type: unix.DT_REG})
		}
	}
	return out, nil
}

func (c *fakeClient) Fcntl(fd int, cmd int, arg FcntlArg) (int, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	p, ok := c.st.fds[fd]
	if !ok {
		return -1, unix.EBADF
	}
	switch cmd {
	case unix.F_GETFD:
		return 0, nil
	case unix.F_DUPFD, unix.F_DUPFD_CLOEXEC:
		c.st.next++
		nfd := fakeFDBase + c.st.next
		c.st.fds[nfd] = p
		return nfd, nil
	}
	return -1, unix.EINVAL
}

func (c *fakeClient) Dup3(oldfd int, newfd int, _ int) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	c.st.record("dup3")
	p, ok := c.st.fds[oldfd]
	if !ok {
		return unix.EBADF
	}
	c.st.fds[newfd] = p
	return nil
}

// fakeModule is one version of the fake client module.
type fakeModule struct {
	version   string
	failStart error
	panicStop bool

	starts, stops, flushes atomic.Int32
	mu                     sync.Mutex
	st                     *fakeState
	tokens                 []Token
}

func (m *fakeModule) Entries() Entries {
	return Entries{
		Start: func(_ []byte, sys *Sys, prev Token) (Client, error) {
			m.starts.Add(1)
			m.mu.Lock()
			defer m.mu.Unlock()
			m.tokens = append(m.tokens, prev)
			if sys == nil {
				return nil, errors.New("no genuine table")
			}
			if m.failStart != nil {
				return nil, m.failStart
			}
			st, ok := prev.(*fakeState)
			if !ok {
				st = newFakeState()
			}
			m.st = st
			return &fakeClient{version: m.version, st: st}, nil
		},
		Stop: func() Token {
			m.stops.Add(1)
			if m.panicStop {
				panic("stop exploded")
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.st
		},
		FlushLogs: func() { m.flushes.Add(1) },
	}
}

func (m *fakeModule) state() *fakeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// newTestContext starts the first module and registers the rest for swaps.
func newTestContext(t *testing.T, mods ...*fakeModule) *Context {
	t.Helper()
	l := NewStaticLoader()
	for _, m := range mods {
		l.Register(m.version, m.Entries)
	}
	cfg := DefaultConfig()
	cfg.MountPoint = testMount
	if len(mods) > 0 {
		cfg.Module = mods[0].version
		cfg.ModuleVersion = mods[0].version
	}
	c := New(
		WithConfig(cfg),
		WithLoader(l),
		WithLogger(NoopLogger()),
		WithAbort(func(err error) { t.Errorf("abort: %v", err) }),
	)
	require.NoError(t, c.Init())
	return c
}
