package memclient

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ZenLiuCN/bypass"
	"golang.org/x/sys/unix"
)

// Client serves calls from a State. Every method locks the state for its whole duration.
type Client struct {
	state *State
	log   *slog.Logger
}

var (
	_ bypass.Client           = (*Client)(nil)
	_ bypass.NoReplaceRenamer = (*Client)(nil)
)

// State returns the state the client serves.
func (c *Client) State() *State { return c.state }

func (c *Client) lock() *State {
	c.state.mu.Lock()
	return c.state
}

func (c *Client) unlock() { c.state.mu.Unlock() }

// alloc returns the lowest free descriptor not below from.
func (s *State) alloc(from int) int {
	if from < FDBase {
		from = FDBase
	}
	for fd := from; ; fd++ {
		if _, ok := s.fds[fd]; !ok {
			return fd
		}
	}
}

func (s *State) desc(fd int) (*desc, error) {
	d, ok := s.fds[fd]
	if !ok {
		return nil, unix.EBADF
	}
	return d, nil
}

func (s *State) file(fd int, write bool) (*openFile, error) {
	d, err := s.desc(fd)
	if err != nil {
		return nil, err
	}
	if d.of.dir {
		return nil, unix.EISDIR
	}
	acc := d.of.flags & unix.O_ACCMODE
	if write && acc == unix.O_RDONLY || !write && acc == unix.O_WRONLY {
		return nil, unix.EBADF
	}
	return d.of, nil
}

func (s *State) release(fd int) error {
	d, err := s.desc(fd)
	if err != nil {
		return err
	}
	delete(s.fds, fd)
	if d.of.refs--; d.of.refs == 0 && d.of.file != nil {
		return errno(d.of.file.Close())
	}
	return nil
}

func (c *Client) Openat(dirfd int, p string, flags int, mode uint32) (int, error) {
	s := c.lock()
	defer c.unlock()
	full, err := s.lookup(dirfd, p, flags&unix.O_NOFOLLOW == 0)
	if err != nil {
		return -1, err
	}
	if n, ok := s.nodes[full]; ok && n.link != "" {
		return -1, unix.ELOOP
	}
	fi, statErr := s.fs.Stat(full)
	exists := statErr == nil
	switch {
	case exists && flags&unix.O_CREAT != 0 && flags&unix.O_EXCL != 0:
		return -1, unix.EEXIST
	case !exists && flags&unix.O_CREAT == 0:
		return -1, unix.ENOENT
	case !exists && flags&unix.O_DIRECTORY != 0:
		return -1, unix.ENOENT
	case exists && fi.IsDir() && flags&unix.O_ACCMODE != unix.O_RDONLY:
		return -1, unix.EISDIR
	case exists && !fi.IsDir() && flags&unix.O_DIRECTORY != 0:
		return -1, unix.ENOTDIR
	}
	of := &openFile{path: full, flags: flags &^ (unix.O_CREAT | unix.O_EXCL | unix.O_TRUNC | unix.O_CLOEXEC), refs: 1}
	if exists && fi.IsDir() {
		of.dir = true
	} else {
		if !exists {
			if err = s.parentDir(full); err != nil {
				return -1, err
			}
		}
		// afero opens every file read-write; access mode is enforced per descriptor.
		of.file, err = s.fs.OpenFile(full, os.O_RDWR|flags&(unix.O_CREAT|unix.O_TRUNC), os.FileMode(mode&0o7777))
		if err != nil {
			return -1, errno(err)
		}
		n := s.node(full)
		if !exists {
			n.ctime = time.Now()
		}
	}
	fd := s.alloc(FDBase)
	s.fds[fd] = &desc{of: of, cloexec: flags&unix.O_CLOEXEC != 0}
	c.log.Debug("open", "path", full, "fd", fd, "flags", flags)
	return fd, nil
}

func (c *Client) Close(fd int) error {
	s := c.lock()
	defer c.unlock()
	c.log.Debug("close", "fd", fd)
	return s.release(fd)
}

func (c *Client) Ftruncate(fd int, length int64) error {
	s := c.lock()
	defer c.unlock()
	if length < 0 {
		return unix.EINVAL
	}
	of, err := s.file(fd, true)
	if err != nil {
		if err == unix.EBADF || err == unix.EISDIR {
			return unix.EINVAL
		}
		return err
	}
	return errno(of.file.Truncate(length))
}

func (c *Client) Fallocate(fd int, mode uint32, off int64, length int64) error {
	s := c.lock()
	defer c.unlock()
	if off < 0 || length <= 0 {
		return unix.EINVAL
	}
	of, err := s.file(fd, true)
	if err != nil {
		return err
	}
	switch mode {
	case 0:
	case unix.FALLOC_FL_KEEP_SIZE:
		return nil
	default:
		return unix.EOPNOTSUPP
	}
	fi, err := of.file.Stat()
	if err != nil {
		return errno(err)
	}
	if end := off + length; end > fi.Size() {
		return errno(of.file.Truncate(end))
	}
	return nil
}

func (c *Client) Read(fd int, p []byte) (int, error) {
	s := c.lock()
	defer c.unlock()
	of, err := s.file(fd, false)
	if err != nil {
		return -1, err
	}
	n, err := of.file.Read(p)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, errno(err)
}

func (c *Client) Readv(fd int, iovs [][]byte) (int, error) {
	total := 0
	for _, b := range iovs {
		n, err := c.Read(fd, b)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return -1, err
		}
		total += n
		if n < len(b) {
			break
		}
	}
	return total, nil
}

func (c *Client) Pread(fd int, p []byte, offset int64) (int, error) {
	s := c.lock()
	defer c.unlock()
	if offset < 0 {
		return -1, unix.EINVAL
	}
	of, err := s.file(fd, false)
	if err != nil {
		return -1, err
	}
	n, err := of.file.ReadAt(p, offset)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, errno(err)
}

func (c *Client) Preadv(fd int, iovs [][]byte, offset int64) (int, error) {
	total := 0
	for _, b := range iovs {
		n, err := c.Pread(fd, b, offset+int64(total))
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return -1, err
		}
		total += n
		if n < len(b) {
			break
		}
	}
	return total, nil
}

func (c *Client) Write(fd int, p []byte) (int, error) {
	s := c.lock()
	defer c.unlock()
	of, err := s.file(fd, true)
	if err != nil {
		return -1, err
	}
	if of.flags&unix.O_APPEND != 0 {
		if _, err = of.file.Seek(0, io.SeekEnd); err != nil {
			return -1, errno(err)
		}
	}
	n, err := of.file.Write(p)
	return n, errno(err)
}

func (c *Client) Writev(fd int, iovs [][]byte) (int, error) {
	total := 0
	for _, b := range iovs {
		n, err := c.Write(fd, b)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return -1, err
		}
		total += n
	}
	return total, nil
}

func (c *Client) Pwrite(fd int, p []byte, offset int64) (int, error) {
	s := c.lock()
	defer c.unlock()
	if offset < 0 {
		return -1, unix.EINVAL
	}
	of, err := s.file(fd, true)
	if err != nil {
		return -1, err
	}
	n, err := of.file.WriteAt(p, offset)
	return n, errno(err)
}

func (c *Client) Pwritev(fd int, iovs [][]byte, offset int64) (int, error) {
	total := 0
	for _, b := range iovs {
		n, err := c.Pwrite(fd, b, offset+int64(total))
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return -1, err
		}
		total += n
	}
	return total, nil
}

func (c *Client) Lseek(fd int, offset int64, whence int) (int64, error) {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return -1, err
	}
	if d.of.dir {
		if whence == io.SeekStart && offset == 0 {
			return 0, nil
		}
		return -1, unix.EINVAL
	}
	switch whence {
	case io.SeekStart, io.SeekCurrent, io.SeekEnd:
	case unix.SEEK_DATA, unix.SEEK_HOLE:
		fi, err := d.of.file.Stat()
		if err != nil {
			return -1, errno(err)
		}
		if offset < 0 || offset >= fi.Size() {
			return -1, unix.ENXIO
		}
		if whence == unix.SEEK_HOLE {
			offset = fi.Size()
		}
		whence = io.SeekStart
	default:
		return -1, unix.EINVAL
	}
	pos, err := d.of.file.Seek(offset, whence)
	if err != nil {
		return -1, unix.EINVAL
	}
	return pos, nil
}

func (c *Client) Fsync(fd int) error {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil || d.of.dir {
		return err
	}
	return errno(d.of.file.Sync())
}

func (c *Client) Fdatasync(fd int) error {
	return c.Fsync(fd)
}

// rwhWriteLifeExtreme is the largest RWH_WRITE_LIFE hint.
const rwhWriteLifeExtreme = 5

func (c *Client) Fcntl(fd int, cmd int, arg bypass.FcntlArg) (int, error) {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return -1, err
	}
	switch cmd {
	case unix.F_GETFD:
		if d.cloexec {
			return unix.FD_CLOEXEC, nil
		}
		return 0, nil
	case unix.F_SETFD:
		d.cloexec = arg.Int&unix.FD_CLOEXEC != 0
		return 0, nil
	case unix.F_GETFL:
		return d.of.flags, nil
	case unix.F_SETFL:
		const settable = unix.O_APPEND | unix.O_NONBLOCK | unix.O_NOATIME
		d.of.flags = d.of.flags&^settable | arg.Int&settable
		return 0, nil
	case unix.F_DUPFD, unix.F_DUPFD_CLOEXEC:
		if arg.Int < 0 {
			return -1, unix.EINVAL
		}
		nfd := s.alloc(arg.Int)
		d.of.refs++
		s.fds[nfd] = &desc{of: d.of, cloexec: cmd == unix.F_DUPFD_CLOEXEC}
		return nfd, nil
	case unix.F_GETLK, unix.F_OFD_GETLK:
		if arg.Flock == nil {
			return -1, unix.EFAULT
		}
		arg.Flock.Type = unix.F_UNLCK
		return 0, nil
	case unix.F_SETLK, unix.F_SETLKW, unix.F_OFD_SETLK, unix.F_OFD_SETLKW:
		// one process owns the whole namespace, every lock is granted
		return 0, nil
	case unix.F_GETOWN_EX:
		*arg.Owner = d.of.owner
		return 0, nil
	case unix.F_SETOWN_EX:
		switch arg.Owner.Type {
		case bypass.FOwnerTid, bypass.FOwnerPid, bypass.FOwnerPgrp:
		default:
			return -1, unix.EINVAL
		}
		d.of.owner = *arg.Owner
		return 0, nil
	case unix.F_GET_RW_HINT:
		*arg.Hint = d.of.hint
		return 0, nil
	case unix.F_SET_RW_HINT:
		if *arg.Hint > rwhWriteLifeExtreme {
			return -1, unix.EINVAL
		}
		d.of.hint = *arg.Hint
		return 0, nil
	default:
		return -1, unix.EINVAL
	}
}

func (c *Client) Dup3(oldfd int, newfd int, flags int) error {
	s := c.lock()
	defer c.unlock()
	if flags&^unix.O_CLOEXEC != 0 {
		return unix.EINVAL
	}
	d, err := s.desc(oldfd)
	if err != nil {
		return err
	}
	if _, ok := s.fds[newfd]; ok {
		if err = s.release(newfd); err != nil {
			return err
		}
	}
	d.of.refs++
	s.fds[newfd] = &desc{of: d.of, cloexec: flags&unix.O_CLOEXEC != 0}
	return nil
}
