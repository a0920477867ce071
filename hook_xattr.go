package bypass

import "golang.org/x/sys/unix"

// Path based xattr calls and their l- variants share one client method; nofollow tells them apart.

func (c *Context) setxattr(path, attr string, data []byte, flags int, nofollow bool, genuine func(string, string, []byte, int) error) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return genuine(p, attr, data, flags)
	}
	defer c.release()
	return cl.Setxattr(p, attr, data, flags, nofollow)
}

func (c *Context) getxattr(path, attr string, dest []byte, nofollow bool, genuine func(string, string, []byte) (int, error)) (int, error) {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return genuine(p, attr, dest)
	}
	defer c.release()
	return cl.Getxattr(p, attr, dest, nofollow)
}

func (c *Context) listxattr(path string, dest []byte, nofollow bool, genuine func(string, []byte) (int, error)) (int, error) {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return genuine(p, dest)
	}
	defer c.release()
	return cl.Listxattr(p, dest, nofollow)
}

func (c *Context) removexattr(path, attr string, nofollow bool, genuine func(string, string) error) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return genuine(p, attr)
	}
	defer c.release()
	return cl.Removexattr(p, attr, nofollow)
}

func (c *Context) Setxattr(path string, attr string, data []byte, flags int) error {
	c.ensure()
	return c.setxattr(path, attr, data, flags, false, c.sys.Setxattr)
}

func (c *Context) Lsetxattr(path string, attr string, data []byte, flags int) error {
	c.ensure()
	return c.setxattr(path, attr, data, flags, true, c.sys.Lsetxattr)
}

func (c *Context) Fsetxattr(fd int, attr string, data []byte, flags int) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fsetxattr(fd, attr, data, flags)
	}
	return c.sys.Fsetxattr(fd, attr, data, flags)
}

func (c *Context) Getxattr(path string, attr string, dest []byte) (int, error) {
	c.ensure()
	return c.getxattr(path, attr, dest, false, c.sys.Getxattr)
}

func (c *Context) Lgetxattr(path string, attr string, dest []byte) (int, error) {
	c.ensure()
	return c.getxattr(path, attr, dest, true, c.sys.Lgetxattr)
}

func (c *Context) Fgetxattr(fd int, attr string, dest []byte) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fgetxattr(fd, attr, dest)
	}
	return c.sys.Fgetxattr(fd, attr, dest)
}

func (c *Context) Listxattr(path string, dest []byte) (int, error) {
	c.ensure()
	return c.listxattr(path, dest, false, c.sys.Listxattr)
}

func (c *Context) Llistxattr(path string, dest []byte) (int, error) {
	c.ensure()
	return c.listxattr(path, dest, true, c.sys.Llistxattr)
}

func (c *Context) Flistxattr(fd int, dest []byte) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Flistxattr(fd, dest)
	}
	return c.sys.Flistxattr(fd, dest)
}

func (c *Context) Removexattr(path string, attr string) error {
	c.ensure()
	return c.removexattr(path, attr, false, c.sys.Removexattr)
}

func (c *Context) Lremovexattr(path string, attr string) error {
	c.ensure()
	return c.removexattr(path, attr, true, c.sys.Lremovexattr)
}

func (c *Context) Fremovexattr(fd int, attr string) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fremovexattr(fd, attr)
	}
	return c.sys.Fremovexattr(fd, attr)
}
