package bypass

import (
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// UnixSymbols binds every canonical call name to the kernel backed implementation from x/sys/unix.
//
// The 32 and 64 bit stat variants are distinct names; on 64 bit Linux they share one syscall.
func UnixSymbols() Symbols {
	return Symbols{
		"openat":          unix.Openat,
		"close":           unix.Close,
		"renameat2":       unix.Renameat2,
		"truncate":        unix.Truncate,
		"ftruncate":       unix.Ftruncate,
		"fallocate":       unix.Fallocate,
		"posix_fallocate": posixFallocate,

		"chdir":     unix.Chdir,
		"fchdir":    unix.Fchdir,
		"getcwd":    unix.Getcwd,
		"mkdirat":   unix.Mkdirat,
		"rmdir":     unix.Rmdir,
		"opendir":   opendir,
		"fdopendir": fdopendir,
		"readdir":   unix.ReadDirent,
		"closedir":  unix.Close,
		"realpath":  realpath,

		"linkat":     unix.Linkat,
		"symlinkat":  unix.Symlinkat,
		"unlinkat":   unix.Unlinkat,
		"readlinkat": unix.Readlinkat,

		"stat":      unix.Stat,
		"stat64":    unix.Stat,
		"lstat":     unix.Lstat,
		"lstat64":   unix.Lstat,
		"fstat":     unix.Fstat,
		"fstat64":   unix.Fstat,
		"fstatat":   unix.Fstatat,
		"fstatat64": unix.Fstatat,
		"fchmod":    unix.Fchmod,
		"fchmodat":  unix.Fchmodat,
		"lchown":    unix.Lchown,
		"fchown":    unix.Fchown,
		"fchownat":  unix.Fchownat,
		"utime":     unix.Utime,
		"utimes":    unix.Utimes,
		"futimesat": unix.Futimesat,
		"utimensat": unix.UtimesNanoAt,
		"futimens":  futimens,
		"faccessat": unix.Faccessat,

		"setxattr":     unix.Setxattr,
		"lsetxattr":    unix.Lsetxattr,
		"fsetxattr":    unix.Fsetxattr,
		"getxattr":     unix.Getxattr,
		"lgetxattr":    unix.Lgetxattr,
		"fgetxattr":    unix.Fgetxattr,
		"listxattr":    unix.Listxattr,
		"llistxattr":   unix.Llistxattr,
		"flistxattr":   unix.Flistxattr,
		"removexattr":  unix.Removexattr,
		"lremovexattr": unix.Lremovexattr,
		"fremovexattr": unix.Fremovexattr,

		"fcntl": fcntl,
		"dup2":  dup2,
		"dup3":  unix.Dup3,

		"read":    unix.Read,
		"readv":   unix.Readv,
		"pread":   unix.Pread,
		"preadv":  unix.Preadv,
		"write":   unix.Write,
		"writev":  unix.Writev,
		"pwrite":  unix.Pwrite,
		"pwritev": unix.Pwritev,
		"lseek":   unix.Seek,

		"fdatasync": unix.Fdatasync,
		"fsync":     unix.Fsync,
	}
}

func posixFallocate(fd int, off int64, length int64) error {
	return unix.Fallocate(fd, 0, off, length)
}

func opendir(path string) (int, error) {
	return unix.Openat(unix.AT_FDCWD, path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
}

func fdopendir(fd int) (int, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return -1, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return -1, unix.ENOTDIR
	}
	return fd, nil
}

func realpath(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if p, err = filepath.EvalSymlinks(p); err != nil {
		return "", errnoOf(err)
	}
	return p, nil
}

// futimens is utimensat with a NULL path, which x/sys/unix does not expose.
func futimens(fd int, ts []unix.Timespec) error {
	if len(ts) != 2 {
		return unix.EINVAL
	}
	_, _, e := unix.Syscall6(unix.SYS_UTIMENSAT, uintptr(fd), 0, uintptr(unsafe.Pointer(&ts[0])), 0, 0, 0)
	if e != 0 {
		return e
	}
	return nil
}

func dup2(oldfd int, newfd int) error {
	if oldfd == newfd {
		_, err := unix.FcntlInt(uintptr(oldfd), unix.F_GETFD, 0)
		return err
	}
	return unix.Dup3(oldfd, newfd, 0)
}

func fcntl(fd int, cmd int, arg FcntlArg) (int, error) {
	switch arg.Kind {
	case ArgFlock:
		return 0, unix.FcntlFlock(uintptr(fd), cmd, arg.Flock)
	case ArgOwner:
		return fcntlPtr(fd, cmd, unsafe.Pointer(arg.Owner))
	case ArgHint:
		return fcntlPtr(fd, cmd, unsafe.Pointer(arg.Hint))
	}
	return unix.FcntlInt(uintptr(fd), cmd, arg.Int)
}

// fcntlPtr passes a pointer argument, which x/sys/unix only offers for record locks.
func fcntlPtr(fd int, cmd int, p unsafe.Pointer) (int, error) {
	r, _, e := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), uintptr(cmd), uintptr(p))
	if e != 0 {
		return -1, e
	}
	return int(r), nil
}
