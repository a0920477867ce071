package bypass

import "golang.org/x/sys/unix"

type (
	// Client is the storage side of a client module: every call the dispatch table routes into
	// the managed namespace lands on one of these methods.
	//
	// Paths are absolute, or relative to a descriptor the client returned. Descriptors are the
	// client's own. Errors should be unix.Errno values; they reach the caller unchanged.
	Client interface {
		Openat(dirfd int, path string, flags int, mode uint32) (int, error)
		Close(fd int) error
		Renameat2(olddirfd int, oldpath string, newdirfd int, newpath string, flags uint) error
		Truncate(path string, length int64) error
		Ftruncate(fd int, length int64) error
		Fallocate(fd int, mode uint32, off int64, length int64) error

		Fchdir(fd int) (string, error)
		Mkdirat(dirfd int, path string, mode uint32) error
		Rmdir(path string) error
		ReadDir(fd int) ([]Dirent, error)
		Realpath(path string) (string, error)

		Linkat(olddirfd int, oldpath string, newdirfd int, newpath string, flags int) error
		Symlinkat(target string, newdirfd int, linkpath string) error
		Unlinkat(dirfd int, path string, flags int) error
		Readlinkat(dirfd int, path string, buf []byte) (int, error)

		Fstatat(dirfd int, path string, st *unix.Stat_t, flags int) error
		Fstat(fd int, st *unix.Stat_t) error
		Fchmod(fd int, mode uint32) error
		Fchmodat(dirfd int, path string, mode uint32, flags int) error
		Fchown(fd int, uid int, gid int) error
		Fchownat(dirfd int, path string, uid int, gid int, flags int) error
		UtimesNanoAt(dirfd int, path string, ts []unix.Timespec, flags int) error
		Futimens(fd int, ts []unix.Timespec) error
		Faccessat(dirfd int, path string, mode uint32, flags int) error

		Setxattr(path string, attr string, data []byte, flags int, nofollow bool) error
		Fsetxattr(fd int, attr string, data []byte, flags int) error
		Getxattr(path string, attr string, dest []byte, nofollow bool) (int, error)
		Fgetxattr(fd int, attr string, dest []byte) (int, error)
		Listxattr(path string, dest []byte, nofollow bool) (int, error)
		Flistxattr(fd int, dest []byte) (int, error)
		Removexattr(path string, attr string, nofollow bool) error
		Fremovexattr(fd int, attr string) error

		Fcntl(fd int, cmd int, arg FcntlArg) (int, error)
		Dup3(oldfd int, newfd int, flags int) error

		Read(fd int, p []byte) (int, error)
		Readv(fd int, iovs [][]byte) (int, error)
		Pread(fd int, p []byte, offset int64) (int, error)
		Preadv(fd int, iovs [][]byte, offset int64) (int, error)
		Write(fd int, p []byte) (int, error)
		Writev(fd int, iovs [][]byte) (int, error)
		Pwrite(fd int, p []byte, offset int64) (int, error)
		Pwritev(fd int, iovs [][]byte, offset int64) (int, error)
		Lseek(fd int, offset int64, whence int) (int64, error)

		Fsync(fd int) error
		Fdatasync(fd int) error
	}
	// NoReplaceRenamer is implemented by clients that honour RENAME_NOREPLACE atomically.
	NoReplaceRenamer interface {
		SupportsNoReplace() bool
	}
	// Dirent is one directory entry as readdir reports it.
	Dirent struct {
		Ino  uint64
		Off  int64
		Type uint8
		Name string
	}
)

func supportsNoReplace(c Client) bool {
	r, ok := c.(NoReplaceRenamer)
	return ok && r.SupportsNoReplace()
}

// UnsupportedClient answers ENOSYS to every operation. Embed it to implement part of Client.
type UnsupportedClient struct{}

var _ Client = UnsupportedClient{}

func (UnsupportedClient) Openat(int, string, int, uint32) (int, error)    { return -1, unix.ENOSYS }
func (UnsupportedClient) Close(int) error                                  { return unix.ENOSYS }
func (UnsupportedClient) Renameat2(int, string, int, string, uint) error   { return unix.ENOSYS }
func (UnsupportedClient) Truncate(string, int64) error                     { return unix.ENOSYS }
func (UnsupportedClient) Ftruncate(int, int64) error                       { return unix.ENOSYS }
func (UnsupportedClient) Fallocate(int, uint32, int64, int64) error        { return unix.ENOSYS }
func (UnsupportedClient) Fchdir(int) (string, error)                       { return "", unix.ENOSYS }
func (UnsupportedClient) Mkdirat(int, string, uint32) error                { return unix.ENOSYS }
func (UnsupportedClient) Rmdir(string) error                               { return unix.ENOSYS }
func (UnsupportedClient) ReadDir(int) ([]Dirent, error)                    { return nil, unix.ENOSYS }
func (UnsupportedClient) Realpath(string) (string, error)                  { return "", unix.ENOSYS }
func (UnsupportedClient) Linkat(int, string, int, string, int) error       { return unix.ENOSYS }
func (UnsupportedClient) Symlinkat(string, int, string) error              { return unix.ENOSYS }
func (UnsupportedClient) Unlinkat(int, string, int) error                  { return unix.ENOSYS }
func (UnsupportedClient) Readlinkat(int, string, []byte) (int, error)      { return -1, unix.ENOSYS }
func (UnsupportedClient) Fstatat(int, string, *unix.Stat_t, int) error     { return unix.ENOSYS }
func (UnsupportedClient) Fstat(int, *unix.Stat_t) error                    { return unix.ENOSYS }
func (UnsupportedClient) Fchmod(int, uint32) error                         { return unix.ENOSYS }
func (UnsupportedClient) Fchmodat(int, string, uint32, int) error          { return unix.ENOSYS }
func (UnsupportedClient) Fchown(int, int, int) error                       { return unix.ENOSYS }
func (UnsupportedClient) Fchownat(int, string, int, int, int) error        { return unix.ENOSYS }
func (UnsupportedClient) UtimesNanoAt(int, string, []unix.Timespec, int) error {
	return unix.ENOSYS
}
func (UnsupportedClient) Futimens(int, []unix.Timespec) error                { return unix.ENOSYS }
func (UnsupportedClient) Faccessat(int, string, uint32, int) error           { return unix.ENOSYS }
func (UnsupportedClient) Setxattr(string, string, []byte, int, bool) error   { return unix.ENOSYS }
func (UnsupportedClient) Fsetxattr(int, string, []byte, int) error           { return unix.ENOSYS }
func (UnsupportedClient) Getxattr(string, string, []byte, bool) (int, error) { return -1, unix.ENOSYS }
func (UnsupportedClient) Fgetxattr(int, string, []byte) (int, error)         { return -1, unix.ENOSYS }
func (UnsupportedClient) Listxattr(string, []byte, bool) (int, error)        { return -1, unix.ENOSYS }
func (UnsupportedClient) Flistxattr(int, []byte) (int, error)                { return -1, unix.ENOSYS }
func (UnsupportedClient) Removexattr(string, string, bool) error             { return unix.ENOSYS }
func (UnsupportedClient) Fremovexattr(int, string) error                     { return unix.ENOSYS }
func (UnsupportedClient) Fcntl(int, int, FcntlArg) (int, error)              { return -1, unix.ENOSYS }
func (UnsupportedClient) Dup3(int, int, int) error                           { return unix.ENOSYS }
func (UnsupportedClient) Read(int, []byte) (int, error)                      { return -1, unix.ENOSYS }
func (UnsupportedClient) Readv(int, [][]byte) (int, error)                   { return -1, unix.ENOSYS }
func (UnsupportedClient) Pread(int, []byte, int64) (int, error)              { return -1, unix.ENOSYS }
func (UnsupportedClient) Preadv(int, [][]byte, int64) (int, error)           { return -1, unix.ENOSYS }
func (UnsupportedClient) Write(int, []byte) (int, error)                     { return -1, unix.ENOSYS }
func (UnsupportedClient) Writev(int, [][]byte) (int, error)                  { return -1, unix.ENOSYS }
func (UnsupportedClient) Pwrite(int, []byte, int64) (int, error)             { return -1, unix.ENOSYS }
func (UnsupportedClient) Pwritev(int, [][]byte, int64) (int, error)          { return -1, unix.ENOSYS }
func (UnsupportedClient) Lseek(int, int64, int) (int64, error)               { return -1, unix.ENOSYS }
func (UnsupportedClient) Fsync(int) error                                    { return unix.ENOSYS }
func (UnsupportedClient) Fdatasync(int) error                                { return unix.ENOSYS }
