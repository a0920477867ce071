package bypass

import "golang.org/x/sys/unix"

// The stat family keeps one method per variant. Managed calls of every variant land on the
// client's Fstatat or Fstat; genuine calls go to the variant's own table entry.

func (c *Context) statPath(path string, st *unix.Stat_t, flags int, genuine func(string, *unix.Stat_t) error) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return genuine(p, st)
	}
	defer c.release()
	return cl.Fstatat(unix.AT_FDCWD, p, st, flags)
}

func (c *Context) statFd(fd int, st *unix.Stat_t, genuine func(int, *unix.Stat_t) error) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fstat(fd, st)
	}
	return genuine(fd, st)
}

func (c *Context) statAt(dirfd int, path string, st *unix.Stat_t, flags int, genuine func(int, string, *unix.Stat_t, int) error) error {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return genuine(d, p, st, flags)
	}
	defer c.release()
	return cl.Fstatat(d, p, st, flags)
}

// Stat serves stat and __xstat.
func (c *Context) Stat(path string, st *unix.Stat_t) error {
	c.ensure()
	return c.statPath(path, st, 0, c.sys.Stat)
}

// Stat64 serves stat64 and __xstat64.
func (c *Context) Stat64(path string, st *unix.Stat_t) error {
	c.ensure()
	return c.statPath(path, st, 0, c.sys.Stat64)
}

// Lstat serves lstat and __lxstat.
func (c *Context) Lstat(path string, st *unix.Stat_t) error {
	c.ensure()
	return c.statPath(path, st, unix.AT_SYMLINK_NOFOLLOW, c.sys.Lstat)
}

// Lstat64 serves lstat64 and __lxstat64.
func (c *Context) Lstat64(path string, st *unix.Stat_t) error {
	c.ensure()
	return c.statPath(path, st, unix.AT_SYMLINK_NOFOLLOW, c.sys.Lstat64)
}

// Fstat serves fstat and __fxstat.
func (c *Context) Fstat(fd int, st *unix.Stat_t) error {
	c.ensure()
	return c.statFd(fd, st, c.sys.Fstat)
}

// Fstat64 serves fstat64 and __fxstat64.
func (c *Context) Fstat64(fd int, st *unix.Stat_t) error {
	c.ensure()
	return c.statFd(fd, st, c.sys.Fstat64)
}

// Fstatat serves fstatat and __fxstatat.
func (c *Context) Fstatat(dirfd int, path string, st *unix.Stat_t, flags int) error {
	c.ensure()
	return c.statAt(dirfd, path, st, flags, c.sys.Fstatat)
}

// Fstatat64 serves fstatat64 and __fxstatat64.
func (c *Context) Fstatat64(dirfd int, path string, st *unix.Stat_t, flags int) error {
	c.ensure()
	return c.statAt(dirfd, path, st, flags, c.sys.Fstatat64)
}

func (c *Context) Fchmod(fd int, mode uint32) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fchmod(fd, mode)
	}
	return c.sys.Fchmod(fd, mode)
}

func (c *Context) Fchmodat(dirfd int, path string, mode uint32, flags int) error {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Fchmodat(d, p, mode, flags)
	}
	defer c.release()
	return cl.Fchmodat(d, p, mode, flags)
}

// Chmod is fchmodat relative to the working directory.
func (c *Context) Chmod(path string, mode uint32) error {
	return c.Fchmodat(unix.AT_FDCWD, path, mode, 0)
}

func (c *Context) Lchown(path string, uid int, gid int) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return c.sys.Lchown(p, uid, gid)
	}
	defer c.release()
	return cl.Fchownat(unix.AT_FDCWD, p, uid, gid, unix.AT_SYMLINK_NOFOLLOW)
}

func (c *Context) Fchown(fd int, uid int, gid int) error {
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Fchown(fd, uid, gid)
	}
	return c.sys.Fchown(fd, uid, gid)
}

func (c *Context) Fchownat(dirfd int, path string, uid int, gid int, flags int) error {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Fchownat(d, p, uid, gid, flags)
	}
	defer c.release()
	return cl.Fchownat(d, p, uid, gid, flags)
}

// Utime sets access and modification times in seconds. A nil buf means now.
func (c *Context) Utime(path string, buf *unix.Utimbuf) error {
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return c.sys.Utime(p, buf)
	}
	defer c.release()
	return cl.UtimesNanoAt(unix.AT_FDCWD, p, utimbufTimes(buf), 0)
}

// Utimes sets times in microseconds. A nil tv means now.
func (c *Context) Utimes(path string, tv []unix.Timeval) error {
	if tv != nil && len(tv) != 2 {
		return unix.EINVAL
	}
	cl, _, p := c.pathClient(unix.AT_FDCWD, path)
	if cl == nil {
		return c.sys.Utimes(p, tv)
	}
	defer c.release()
	return cl.UtimesNanoAt(unix.AT_FDCWD, p, timevalTimes(tv), 0)
}

func (c *Context) Futimesat(dirfd int, path string, tv []unix.Timeval) error {
	if tv != nil && len(tv) != 2 {
		return unix.EINVAL
	}
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Futimesat(d, p, tv)
	}
	defer c.release()
	return cl.UtimesNanoAt(d, p, timevalTimes(tv), 0)
}

// Utimensat serves utimensat. A nil ts means now.
func (c *Context) Utimensat(dirfd int, path string, ts []unix.Timespec, flags int) error {
	if ts != nil && len(ts) != 2 {
		return unix.EINVAL
	}
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Utimensat(d, p, ts, flags)
	}
	defer c.release()
	return cl.UtimesNanoAt(d, p, nowTimes(ts), flags)
}

func (c *Context) Futimens(fd int, ts []unix.Timespec) error {
	if ts != nil && len(ts) != 2 {
		return unix.EINVAL
	}
	if cl := c.fdClient(fd); cl != nil {
		defer c.release()
		return cl.Futimens(fd, nowTimes(ts))
	}
	return c.sys.Futimens(fd, ts)
}

func (c *Context) Faccessat(dirfd int, path string, mode uint32, flags int) error {
	cl, d, p := c.pathClient(dirfd, path)
	if cl == nil {
		return c.sys.Faccessat(d, p, mode, flags)
	}
	defer c.release()
	return cl.Faccessat(d, p, mode, flags)
}

// Access is faccessat relative to the working directory.
func (c *Context) Access(path string, mode uint32) error {
	return c.Faccessat(unix.AT_FDCWD, path, mode, 0)
}

func nowTimes(ts []unix.Timespec) []unix.Timespec {
	if ts != nil {
		return ts
	}
	return []unix.Timespec{{Nsec: unix.UTIME_NOW}, {Nsec: unix.UTIME_NOW}}
}

func utimbufTimes(buf *unix.Utimbuf) []unix.Timespec {
	if buf == nil {
		return nowTimes(nil)
	}
	return []unix.Timespec{
		unix.NsecToTimespec(int64(buf.Actime) * 1e9),
		unix.NsecToTimespec(int64(buf.Modtime) * 1e9),
	}
}

func timevalTimes(tv []unix.Timeval) []unix.Timespec {
	if tv == nil {
		return nowTimes(nil)
	}
	return []unix.Timespec{
		unix.NsecToTimespec(tv[0].Nano()),
		unix.NsecToTimespec(tv[1].Nano()),
	}
}
