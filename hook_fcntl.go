package bypass

import "golang.org/x/sys/unix"

// Fcntl forwards cmd with its argument typed for the command. A descriptor the client
// duplicates through F_DUPFD or F_DUPFD_CLOEXEC becomes managed.
func (c *Context) Fcntl(fd int, cmd int, arg FcntlArg) (int, error) {
	if err := arg.check(cmd); err != nil {
		return -1, err
	}
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		r, err := cl.Fcntl(fd, cmd, arg)
		if err == nil && isDupCmd(cmd) {
			c.ns.Track(r)
		}
		return r, err
	}
	return c.sys.Fcntl(fd, cmd, arg)
}

// FcntlAny reads v as the argument cmd expects and forwards it, the way a variadic caller would.
func (c *Context) FcntlAny(fd int, cmd int, v any) (int, error) {
	arg, err := NewFcntlArg(cmd, v)
	if err != nil {
		return -1, err
	}
	return c.Fcntl(fd, cmd, arg)
}

// Dup2 duplicates oldfd onto newfd, closing what newfd held. oldfd == newfd only validates oldfd.
func (c *Context) Dup2(oldfd int, newfd int) error {
	if oldfd == newfd {
		if cl := c.fdClient(oldfd); cl != nil {
			defer c.release()
			_, err := cl.Fcntl(oldfd, unix.F_GETFD, NoArg)
			return err
		}
		return c.sys.Dup2(oldfd, newfd)
	}
	return c.dup(oldfd, newfd, 0, c.sys.Dup2)
}

// Dup3 is dup2 with flags; oldfd == newfd is EINVAL.
func (c *Context) Dup3(oldfd int, newfd int, flags int) error {
	if oldfd == newfd {
		return unix.EINVAL
	}
	return c.dup(oldfd, newfd, flags, func(o, n int) error { return c.sys.Dup3(o, n, flags) })
}

// dup routes a duplication by where oldfd lives.
//
// A managed oldfd is duplicated by the client; when newfd is not yet managed, a kernel
// descriptor is parked on its number so the kernel cannot hand it out while the client owns it.
// A genuine oldfd landing on a managed newfd closes newfd in the client once the kernel dup succeeded.
func (c *Context) dup(oldfd, newfd, flags int, genuine func(int, int) error) error {
	c.ensure()
	if newfd < 0 {
		return unix.EBADF
	}
	if !c.ns.ManagedFD(oldfd) {
		// the kernel call goes first so a failure leaves a managed newfd open
		if err := genuine(oldfd, newfd); err != nil {
			return err
		}
		if c.ns.ManagedFD(newfd) {
			if cl := c.held(); cl != nil {
				_ = cl.Close(newfd)
				c.release()
			}
			// the genuine dup replaced the reservation, so none is closed here
			c.ns.Release(newfd)
		}
		return nil
	}
	cl := c.held()
	if cl == nil {
		return unix.EBADF
	}
	defer c.release()
	replacing := c.ns.ManagedFD(newfd)
	if err := cl.Dup3(oldfd, newfd, flags); err != nil {
		return err
	}
	if !replacing {
		if err := c.reserve(newfd); err != nil {
			_ = cl.Close(newfd)
			return err
		}
		c.ns.Shadow(newfd)
	}
	c.ns.Track(newfd)
	return nil
}

// reserve parks /dev/null on kernel descriptor fd.
func (c *Context) reserve(fd int) error {
	null, err := c.sys.Openat(unix.AT_FDCWD, "/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	if null == fd {
		return nil
	}
	err = c.sys.Dup3(null, fd, unix.O_CLOEXEC)
	_ = c.sys.Close(null)
	return err
}
