package bypass

import "golang.org/x/sys/unix"

// Openat opens path relative to dirfd. A descriptor returned by the client is tracked as managed.
func (c *Context) Openat(dirfd int, path string, flags int, mode uint32) (int, error) {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Openat(d, p, flags, mode)
	}
	defer c.release()
	fd, err := cl.Openat(d, p, flags, mode)
	if err == nil {
		c.ns.Track(fd)
	}
	return fd, err
}

// Open is openat relative to the working directory. It serves open and open64.
func (c *Context) Open(path string, flags int, mode uint32) (int, error) {
	return c.Openat(unix.AT_FDCWD, path, flags, mode)
}

// Creat is open with O_CREAT|O_WRONLY|O_TRUNC.
func (c *Context) Creat(path string, mode uint32) (int, error) {
	return c.Openat(unix.AT_FDCWD, path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode)
}

// Close releases fd. A managed descriptor that was dup'ed onto a kernel number also frees
// the kernel reservation held under it.
func (c *Context) Close(fd int) error {
	c.ensure()
	if !c.ns.ManagedFD(fd) {
		return c.sys.Close(fd)
	}
	cl := c.held()
	var err error
	if cl != nil {
		err = cl.Close(fd)
		c.release()
	} else {
		err = unix.EBADF
	}
	if err == nil || cl == nil {
		if c.ns.Release(fd) {
			_ = c.sys.Close(fd)
		}
	}
	return err
}

// Renameat2 renames between two paths on the same side of the namespace; a rename across it is EXDEV.
//
// RENAME_NOREPLACE is honoured even when the target cannot do it atomically: the client or
// kernel is asked for the target first, EEXIST is returned if it exists, and a plain rename follows.
func (c *Context) Renameat2(olddirfd int, oldpath string, newdirfd int, newpath string, flags uint) error {
	cl, od, op, nd, np, cross := c.pathPair(olddirfd, oldpath, newdirfd, newpath)
	if cross {
		return unix.EXDEV
	}
	if cl == nil {
		err := c.sys.Renameat2(od, op, nd, np, flags)
		if flags&unix.RENAME_NOREPLACE != 0 && (err == unix.ENOSYS || err == unix.EINVAL) {
			return noReplaceRename(c.sys.Fstatat, c.sys.Renameat2, od, op, nd, np, flags)
		}
		return err
	}
	defer c.release()
	if flags&unix.RENAME_NOREPLACE != 0 && !supportsNoReplace(cl) {
		return noReplaceRename(cl.Fstatat, cl.Renameat2, od, op, nd, np, flags)
	}
	return cl.Renameat2(od, op, nd, np, flags)
}

// Rename is renameat2 relative to the working directory without flags.
func (c *Context) Rename(oldpath, newpath string) error {
	return c.Renameat2(unix.AT_FDCWD, oldpath, unix.AT_FDCWD, newpath, 0)
}

// Renameat is renameat2 without flags.
func (c *Context) Renameat(olddirfd int, oldpath string, newdirfd int, newpath string) error {
	return c.Renameat2(olddirfd, oldpath, newdirfd, newpath, 0)
}

func noReplaceRename(
	stat func(int, string, *unix.Stat_t, int) error,
	rename func(int, string, int, string, uint) error,
	od int, op string, nd int, np string, flags uint,
) error {
	var st unix.Stat_t
	switch err := stat(nd, np, &st, unix.AT_SYMLINK_NOFOLLOW); err {
	case nil:
		return unix.EEXIST
	case unix.ENOENT:
	default:
		return err
	}
	return rename(od, op, nd, np, flags&^unix.RENAME_NOREPLACE)
}

func (c *Context) Truncate(path string, length int64) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return c.sys.Truncate(p, length)
	}
	defer c.release()
	return cl.Truncate(p, length)
}

func (c *Context) Ftruncate(fd int, length int64) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Ftruncate(fd, length)
	}
	return c.sys.Ftruncate(fd, length)
}

func (c *Context) Fallocate(fd int, mode uint32, off int64, length int64) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fallocate(fd, mode, off, length)
	}
	return c.sys.Fallocate(fd, mode, off, length)
}

// PosixFallocate is fallocate with mode 0.
func (c *Context) PosixFallocate(fd int, off int64, length int64) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fallocate(fd, 0, off, length)
	}
	return c.sys.PosixFallocate(fd, off, length)
}
