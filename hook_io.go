package bypass

// I/O on a genuine descriptor never touches the guard; a managed one holds it only for the client call.

func (c *Context) Read(fd int, p []byte) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Read(fd, p)
	}
	return c.sys.Read(fd, p)
}

func (c *Context) Readv(fd int, iovs [][]byte) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Readv(fd, iovs)
	}
	return c.sys.Readv(fd, iovs)
}

func (c *Context) Pread(fd int, p []byte, offset int64) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Pread(fd, p, offset)
	}
	return c.sys.Pread(fd, p, offset)
}

func (c *Context) Preadv(fd int, iovs [][]byte, offset int64) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Preadv(fd, iovs, offset)
	}
	return c.sys.Preadv(fd, iovs, offset)
}

func (c *Context) Write(fd int, p []byte) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Write(fd, p)
	}
	return c.sys.Write(fd, p)
}

func (c *Context) Writev(fd int, iovs [][]byte) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Writev(fd, iovs)
	}
	return c.sys.Writev(fd, iovs)
}

func (c *Context) Pwrite(fd int, p []byte, offset int64) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Pwrite(fd, p, offset)
	}
	return c.sys.Pwrite(fd, p, offset)
}

func (c *Context) Pwritev(fd int, iovs [][]byte, offset int64) (int, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Pwritev(fd, iovs, offset)
	}
	return c.sys.Pwritev(fd, iovs, offset)
}

func (c *Context) Lseek(fd int, offset int64, whence int) (int64, error) {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Lseek(fd, offset, whence)
	}
	return c.sys.Lseek(fd, offset, whence)
}

func (c *Context) Fsync(fd int) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fsync(fd)
	}
	return c.sys.Fsync(fd)
}

func (c *Context) Fdatasync(fd int) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fdatasync(fd)
	}
	return c.sys.Fdatasync(fd)
}
