package bypass

import "golang.org/x/sys/unix"

// Linkat creates a hard link. A link across the namespace boundary is EXDEV.
func (c *Context) Linkat(olddirfd int, oldpath string, newdirfd int, newpath string, flags int) error {
	cl, od, op, nd, np, cross := c.pathPair(olddirfd, oldpath, newdirfd, newpath)
	if cross {
		return unix.EXDEV
	}
	if cl == nil {
		return c.sys.Linkat(od, op, nd, np, flags)
	}
	defer c.release()
	return cl.Linkat(od, op, nd, np, flags)
}

// Symlinkat creates linkpath pointing at target. Only linkpath decides the route; target is stored verbatim.
func (c *Context) Symlinkat(target string, newdirfd int, linkpath string) error {
	cl, d, p := c.pathClient(newdirfd, linkpath)
	if cl == nil {
		return c.sys.Symlinkat(target, d, p)
	}
	defer c.release()
	return cl.Symlinkat(target, d, p)
}

func (c *Context) Unlinkat(dirfd int, path string, flags int) error {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Unlinkat(d, p, flags)
	}
	defer c.release()
	return cl.Unlinkat(d, p, flags)
}

// Unlink is unlinkat relative to the working directory.
func (c *Context) Unlink(path string) error {
	return c.Unlinkat(unix.AT_FDCWD, path, 0)
}

func (c *Context) Readlinkat(dirfd int, path string, buf []byte) (int, error) {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Readlinkat(d, p, buf)
	}
	defer c.release()
	return cl.Readlinkat(d, p, buf)
}
