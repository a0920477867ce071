package bypass

import (
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const direntBufSize = 8192

// Dir is an open directory stream.
//
// A managed stream holds the entries the serving module listed at open time and is bound to
// that module instance: reading it never calls into a module, so a swap during iteration
// cannot tear it. A genuine stream reads the kernel descriptor in batches.
type Dir struct {
	mu      sync.Mutex
	fd      int
	owner   *Module
	entries []Dirent
	pos     int
	buf     []byte
	closed  bool
}

// Fd returns the directory descriptor.
func (d *Dir) Fd() int { return d.fd }

// Managed reports whether the stream was served by a client module.
func (d *Dir) Managed() bool { return d.owner != nil }

// Owner returns the module that listed the stream, nil for a genuine stream.
func (d *Dir) Owner() *Module { return d.owner }

func (c *Context) Chdir(path string) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		if err := c.sys.Chdir(p); err != nil {
			return err
		}
		c.ns.SetCwd("")
		return nil
	}
	defer c.release()
	var st unix.Stat_t
	if err := cl.Fstatat(unix.AT_FDCWD, p, &st, 0); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return unix.ENOTDIR
	}
	c.ns.SetCwd(filepath.Clean(p))
	return nil
}

func (c *Context) Fchdir(fd int) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		p, err := cl.Fchdir(fd)
		if err != nil {
			return err
		}
		c.ns.SetCwd(filepath.Clean(p))
		return nil
	}
	if err := c.sys.Fchdir(fd); err != nil {
		return err
	}
	c.ns.SetCwd("")
	return nil
}

// Getcwd writes the working directory and a terminating NUL into buf and returns the bytes written.
func (c *Context) Getcwd(buf []byte) (int, error) {
	c.ensure()
	cwd := c.ns.Cwd()
	if cwd == "" {
		return c.sys.Getcwd(buf)
	}
	if len(buf) < len(cwd)+1 {
		return -1, unix.ERANGE
	}
	n := copy(buf, cwd)
	buf[n] = 0
	return n + 1, nil
}

// Getwd returns the working directory as a string.
func (c *Context) Getwd() (string, error) {
	buf := make([]byte, unix.PathMax)
	n, err := c.Getcwd(buf)
	if err != nil {
		return "", err
	}
	if n > 0 && buf[n-1] == 0 {
		n--
	}
	return string(buf[:n]), nil
}

func (c *Context) Mkdirat(dirfd int, path string, mode uint32) error {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Mkdirat(d, p, mode)
	}
	defer c.release()
	return cl.Mkdirat(d, p, mode)
}

// Mkdir is mkdirat relative to the working directory.
func (c *Context) Mkdir(path string, mode uint32) error {
	return c.Mkdirat(unix.AT_FDCWD, path, mode)
}

func (c *Context) Rmdir(path string) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return c.sys.Rmdir(p)
	}
	defer c.release()
	return cl.Rmdir(p)
}

// Opendir opens a directory stream on path.
func (c *Context) Opendir(path string) (*Dir, error) {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		fd, err := c.sys.Opendir(p)
		if err != nil {
			return nil, err
		}
		return &Dir{fd: fd}, nil
	}
	defer c.release()
	fd, err := cl.Openat(unix.AT_FDCWD, p, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	c.ns.Track(fd)
	ents, err := cl.ReadDir(fd)
	if err != nil {
		_ = cl.Close(fd)
		c.ns.Release(fd)
		return nil, err
	}
	return &Dir{fd: fd, owner: c.active, entries: ents}, nil
}

// Fdopendir opens a directory stream on an open descriptor, which the stream then owns.
func (c *Context) Fdopendir(fd int) (*Dir, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		ents, err := cl.ReadDir(fd)
		if err != nil {
			return nil, err
		}
		return &Dir{fd: fd, owner: c.active, entries: ents}, nil
	}
	dfd, err := c.sys.Fdopendir(fd)
	if err != nil {
		return nil, err
	}
	return &Dir{fd: dfd}, nil
}

// Readdir returns the next entry of d, or nil at the end of the stream.
func (c *Context) Readdir(d *Dir) (*Dirent, error) {
	c.ensure()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, unix.EBADF
	}
	if d.owner == nil && d.pos >= len(d.entries) {
		if d.buf == nil {
			d.buf = make([]byte, direntBufSize)
		}
		n, err := c.sys.Readdir(d.fd, d.buf)
		if err != nil {
			return nil, err
		}
		d.entries = parseDirents(d.buf[:n], d.entries[:0])
		d.pos = 0
	}
	if d.pos >= len(d.entries) {
		return nil, nil
	}
	e := d.entries[d.pos]
	d.pos++
	return &e, nil
}

// Closedir closes d and its descriptor. A managed descriptor is closed by the active module,
// which inherits the owner's descriptors through the stop token.
func (c *Context) Closedir(d *Dir) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return unix.EBADF
	}
	d.closed = true
	d.entries = nil
	d.mu.Unlock()
	if d.owner == nil {
		c.ensure()
		return c.sys.Closedir(d.fd)
	}
	return c.Close(d.fd)
}

// Realpath canonicalizes path.
func (c *Context) Realpath(path string) (string, error) {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return c.sys.Realpath(p)
	}
	defer c.release()
	return cl.Realpath(p)
}
