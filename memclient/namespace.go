package memclient

import (
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/ZenLiuCN/bypass"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// SupportsNoReplace reports that Renameat2 honours RENAME_NOREPLACE itself.
func (c *Client) SupportsNoReplace() bool { return true }

func (c *Client) Renameat2(olddirfd int, oldpath string, newdirfd int, newpath string, flags uint) error {
	s := c.lock()
	defer c.unlock()
	if flags&^uint(unix.RENAME_NOREPLACE) != 0 {
		return unix.EINVAL
	}
	from, err := s.lookup(olddirfd, oldpath, false)
	if err != nil {
		return err
	}
	to, err := s.lookup(newdirfd, newpath, false)
	if err != nil {
		return err
	}
	src, err := s.fs.Stat(from)
	if err != nil {
		return errno(err)
	}
	if from == to {
		return nil
	}
	if from == "/" || to == "/" {
		return unix.EBUSY
	}
	if src.IsDir() && under(to, from) {
		return unix.EINVAL
	}
	if err = s.parentDir(to); err != nil {
		return err
	}
	if dst, err := s.fs.Stat(to); err == nil {
		if flags&unix.RENAME_NOREPLACE != 0 {
			return unix.EEXIST
		}
		switch {
		case src.IsDir() && !dst.IsDir():
			return unix.ENOTDIR
		case !src.IsDir() && dst.IsDir():
			return unix.EISDIR
		case dst.IsDir():
			if empty, _ := afero.IsEmpty(s.fs, to); !empty {
				return unix.ENOTEMPTY
			}
		}
		if err = s.fs.RemoveAll(to); err != nil {
			return errno(err)
		}
		s.forget(to)
	}
	if src.IsDir() {
		err = s.renameTree(from, to)
	} else {
		err = errno(s.fs.Rename(from, to))
	}
	if err != nil {
		return err
	}
	s.move(from, to)
	s.node(to).ctime = time.Now()
	c.log.Debug("rename", "from", from, "to", to)
	return nil
}

// renameTree moves a directory and its content entry by entry.
func (s *State) renameTree(from, to string) error {
	var dirs, files []string
	err := afero.Walk(s.fs, from, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return errno(err)
	}
	for _, d := range dirs {
		fi, err := s.fs.Stat(d)
		if err != nil {
			return errno(err)
		}
		if err = s.fs.MkdirAll(to+strings.TrimPrefix(d, from), fi.Mode().Perm()); err != nil {
			return errno(err)
		}
	}
	for _, f := range files {
		if err = s.fs.Rename(f, to+strings.TrimPrefix(f, from)); err != nil {
			return errno(err)
		}
	}
	return errno(s.fs.RemoveAll(from))
}

func (c *Client) Truncate(p string, length int64) error {
	s := c.lock()
	defer c.unlock()
	if length < 0 {
		return unix.EINVAL
	}
	full, err := s.lookup(unix.AT_FDCWD, p, true)
	if err != nil {
		return err
	}
	fi, err := s.fs.Stat(full)
	if err != nil {
		return errno(err)
	}
	if fi.IsDir() {
		return unix.EISDIR
	}
	f, err := s.fs.OpenFile(full, os.O_RDWR, 0)
	if err != nil {
		return errno(err)
	}
	defer f.Close()
	return errno(f.Truncate(length))
}

func (c *Client) Fchdir(fd int) (string, error) {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return "", err
	}
	if !d.of.dir {
		return "", unix.ENOTDIR
	}
	return d.of.path, nil
}

func (c *Client) Mkdirat(dirfd int, p string, mode uint32) error {
	s := c.lock()
	defer c.unlock()
	full, err := s.lookup(dirfd, p, false)
	if err != nil {
		return err
	}
	if _, err = s.fs.Stat(full); err == nil {
		return unix.EEXIST
	}
	if err = s.parentDir(full); err != nil {
		return err
	}
	if err = s.fs.Mkdir(full, os.FileMode(mode&0o7777)); err != nil {
		return errno(err)
	}
	s.node(full)
	return nil
}

func (c *Client) Rmdir(p string) error {
	s := c.lock()
	defer c.unlock()
	full, err := s.lookup(unix.AT_FDCWD, p, false)
	if err != nil {
		return err
	}
	return s.rmdir(full)
}

func (s *State) rmdir(full string) error {
	if full == "/" {
		return unix.EBUSY
	}
	fi, err := s.fs.Stat(full)
	if err != nil {
		return errno(err)
	}
	if !fi.IsDir() {
		return unix.ENOTDIR
	}
	if empty, err := afero.IsEmpty(s.fs, full); err != nil {
		return errno(err)
	} else if !empty {
		return unix.ENOTEMPTY
	}
	if err = s.fs.Remove(full); err != nil {
		return errno(err)
	}
	s.forget(full)
	return nil
}

func (c *Client) ReadDir(fd int) ([]bypass.Dirent, error) {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return nil, err
	}
	if !d.of.dir {
		return nil, unix.ENOTDIR
	}
	infos, err := afero.ReadDir(s.fs, d.of.path)
	if err != nil {
		return nil, errno(err)
	}
	out := make([]bypass.Dirent, 0, len(infos)+2)
	out = append(out,
		bypass.Dirent{Ino: s.node(d.of.path).ino, Type: unix.DT_DIR, Name: "."},
		bypass.Dirent{Ino: s.node(parent(d.of.path)).ino, Type: unix.DT_DIR, Name: ".."},
	)
	for _, fi := range infos {
		p := path.Join(d.of.path, fi.Name())
		n := s.node(p)
		out = append(out, bypass.Dirent{Ino: n.ino, Type: direntType(fi, n), Name: fi.Name()})
	}
	for i := range out {
		out[i].Off = int64(i + 1)
	}
	return out, nil
}

func direntType(fi os.FileInfo, n *node) uint8 {
	switch {
	case n.link != "":
		return unix.DT_LNK
	case fi.IsDir():
		return unix.DT_DIR
	default:
		return unix.DT_REG
	}
}

func (c *Client) Realpath(p string) (string, error) {
	s := c.lock()
	defer c.unlock()
	full, err := s.lookup(unix.AT_FDCWD, p, true)
	if err != nil {
		return "", err
	}
	if _, err = s.fs.Stat(full); err != nil {
		return "", errno(err)
	}
	return full, nil
}

// Linkat is EPERM: the store has no hard links.
func (c *Client) Linkat(int, string, int, string, int) error {
	return unix.EPERM
}

func (c *Client) Symlinkat(target string, newdirfd int, linkpath string) error {
	s := c.lock()
	defer c.unlock()
	if target == "" {
		return unix.ENOENT
	}
	full, err := s.lookup(newdirfd, linkpath, false)
	if err != nil {
		return err
	}
	if _, err = s.fs.Stat(full); err == nil {
		return unix.EEXIST
	}
	if err = s.parentDir(full); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o777)
	if err != nil {
		return errno(err)
	}
	_, _ = f.WriteString(target)
	_ = f.Close()
	s.node(full).link = target
	return nil
}

func (c *Client) Unlinkat(dirfd int, p string, flags int) error {
	s := c.lock()
	defer c.unlock()
	if flags&^unix.AT_REMOVEDIR != 0 {
		return unix.EINVAL
	}
	full, err := s.lookup(dirfd, p, false)
	if err != nil {
		return err
	}
	if flags&unix.AT_REMOVEDIR != 0 {
		return s.rmdir(full)
	}
	fi, err := s.fs.Stat(full)
	if err != nil {
		return errno(err)
	}
	if fi.IsDir() {
		return unix.EISDIR
	}
	if err = s.fs.Remove(full); err != nil {
		return errno(err)
	}
	s.forget(full)
	return nil
}

func (c *Client) Readlinkat(dirfd int, p string, buf []byte) (int, error) {
	s := c.lock()
	defer c.unlock()
	full, err := s.lookup(dirfd, p, false)
	if err != nil {
		return -1, err
	}
	if _, err = s.fs.Stat(full); err != nil {
		return -1, errno(err)
	}
	n := s.nodes[full]
	if n == nil || n.link == "" {
		return -1, unix.EINVAL
	}
	return copy(buf, n.link), nil
}

func fillStat(st *unix.Stat_t, fi os.FileInfo, n *node) {
	*st = unix.Stat_t{}
	mode := uint32(fi.Mode().Perm())
	switch {
	case n.link != "":
		mode |= unix.S_IFLNK
	case fi.IsDir():
		mode |= unix.S_IFDIR
	default:
		mode |= unix.S_IFREG
	}
	if fi.Mode()&os.ModeSetuid != 0 {
		mode |= unix.S_ISUID
	}
	if fi.Mode()&os.ModeSetgid != 0 {
		mode |= unix.S_ISGID
	}
	if fi.Mode()&os.ModeSticky != 0 {
		mode |= unix.S_ISVTX
	}
	st.Ino = n.ino
	st.Mode = mode
	st.Nlink = 1
	if fi.IsDir() {
		st.Nlink = 2
	}
	st.Uid = uint32(n.uid)
	st.Gid = uint32(n.gid)
	st.Size = fi.Size()
	if n.link != "" {
		st.Size = int64(len(n.link))
	}
	st.Blksize = 4096
	st.Blocks = (st.Size + 511) / 512
	st.Mtim = unix.NsecToTimespec(fi.ModTime().UnixNano())
	st.Atim = unix.NsecToTimespec(n.atime.UnixNano())
	st.Ctim = unix.NsecToTimespec(n.ctime.UnixNano())
}

func (c *Client) Fstatat(dirfd int, p string, st *unix.Stat_t, flags int) error {
	if p == "" && flags&unix.AT_EMPTY_PATH != 0 {
		return c.Fstat(dirfd, st)
	}
	s := c.lock()
	defer c.unlock()
	full, err := s.lookup(dirfd, p, flags&unix.AT_SYMLINK_NOFOLLOW == 0)
	if err != nil {
		return err
	}
	fi, n, err := s.stat(full)
	if err != nil {
		return err
	}
	fillStat(st, fi, n)
	return nil
}

func (c *Client) Fstat(fd int, st *unix.Stat_t) error {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return err
	}
	fi, n, err := s.stat(d.of.path)
	if err != nil {
		return err
	}
	fillStat(st, fi, n)
	return nil
}

func (s *State) chmod(full string, mode uint32) error {
	if err := s.fs.Chmod(full, os.FileMode(mode&0o777)|modeExtra(mode)); err != nil {
		return errno(err)
	}
	s.node(full).ctime = time.Now()
	return nil
}

func modeExtra(mode uint32) (m os.FileMode) {
	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return
}

func (c *Client) Fchmod(fd int, mode uint32) error {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return err
	}
	return s.chmod(d.of.path, mode)
}

func (c *Client) Fchmodat(dirfd int, p string, mode uint32, flags int) error {
	s := c.lock()
	defer c.unlock()
	nofollow := flags&unix.AT_SYMLINK_NOFOLLOW != 0
	full, err := s.lookup(dirfd, p, !nofollow)
	if err != nil {
		return err
	}
	if n := s.nodes[full]; nofollow && n != nil && n.link != "" {
		return unix.EOPNOTSUPP
	}
	return s.chmod(full, mode)
}

func (s *State) chown(full string, uid, gid int) error {
	if _, err := s.fs.Stat(full); err != nil {
		return errno(err)
	}
	n := s.node(full)
	if uid != -1 {
		n.uid = uid
	}
	if gid != -1 {
		n.gid = gid
	}
	n.ctime = time.Now()
	return nil
}

func (c *Client) Fchown(fd int, uid int, gid int) error {
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return err
	}
	return s.chown(d.of.path, uid, gid)
}

func (c *Client) Fchownat(dirfd int, p string, uid int, gid int, flags int) error {
	s := c.lock()
	defer c.unlock()
	if p == "" && flags&unix.AT_EMPTY_PATH != 0 {
		d, err := s.desc(dirfd)
		if err != nil {
			return err
		}
		return s.chown(d.of.path, uid, gid)
	}
	full, err := s.lookup(dirfd, p, flags&unix.AT_SYMLINK_NOFOLLOW == 0)
	if err != nil {
		return err
	}
	return s.chown(full, uid, gid)
}

func (s *State) utimes(full string, ts []unix.Timespec) error {
	fi, n, err := s.stat(full)
	if err != nil {
		return err
	}
	now := time.Now()
	pick := func(t unix.Timespec, cur time.Time) time.Time {
		switch t.Nsec {
		case unix.UTIME_NOW:
			return now
		case unix.UTIME_OMIT:
			return cur
		}
		return time.Unix(t.Unix())
	}
	atime := pick(ts[0], n.atime)
	mtime := pick(ts[1], fi.ModTime())
	if err = s.fs.Chtimes(full, atime, mtime); err != nil {
		return errno(err)
	}
	n.atime = atime
	n.ctime = now
	return nil
}

func (c *Client) UtimesNanoAt(dirfd int, p string, ts []unix.Timespec, flags int) error {
	if len(ts) != 2 {
		return unix.EINVAL
	}
	s := c.lock()
	defer c.unlock()
	full, err := s.lookup(dirfd, p, flags&unix.AT_SYMLINK_NOFOLLOW == 0)
	if err != nil {
		return err
	}
	return s.utimes(full, ts)
}

func (c *Client) Futimens(fd int, ts []unix.Timespec) error {
	if len(ts) != 2 {
		return unix.EINVAL
	}
	s := c.lock()
	defer c.unlock()
	d, err := s.desc(fd)
	if err != nil {
		return err
	}
	return s.utimes(d.of.path, ts)
}

func (c *Client) Faccessat(dirfd int, p string, mode uint32, flags int) error {
	s := c.lock()
	defer c.unlock()
	if mode&^uint32(unix.R_OK|unix.W_OK|unix.X_OK) != 0 {
		return unix.EINVAL
	}
	full, err := s.lookup(dirfd, p, flags&unix.AT_SYMLINK_NOFOLLOW == 0)
	if err != nil {
		return err
	}
	fi, n, err := s.stat(full)
	if err != nil {
		return err
	}
	if mode == unix.F_OK {
		return nil
	}
	uid := os.Getuid()
	if flags&unix.AT_EACCESS != 0 {
		uid = os.Geteuid()
	}
	perm := uint32(fi.Mode().Perm())
	switch {
	case uid == 0:
		// root passes everything but execute on files without any execute bit
		if mode&unix.X_OK != 0 && !fi.IsDir() && perm&0o111 == 0 {
			return unix.EACCES
		}
		return nil
	case uid == n.uid:
		perm >>= 6
	case slices.Contains(groups(), n.gid):
		perm >>= 3
	}
	if perm&mode != mode {
		return unix.EACCES
	}
	return nil
}

func groups() []int {
	g, _ := os.Getgroups()
	return append(g, os.Getgid())
}
