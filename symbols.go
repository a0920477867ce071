package bypass

import (
	"errors"
	"slices"

	"github.com/ZenLiuCN/fn"
	"golang.org/x/sys/unix"
)

type (
	// Sys is the resolved table of genuine implementations, one field per intercepted call.
	//
	// It is filled once by Resolve and never mutated afterwards, so it is read without locking.
	// Client modules receive it on start and use it for their own low level calls, which
	// therefore never pass through the hooks again.
	Sys struct {
		Openat         func(dirfd int, path string, flags int, mode uint32) (int, error)
		Close          func(fd int) error
		Renameat2      func(olddirfd int, oldpath string, newdirfd int, newpath string, flags uint) error
		Truncate       func(path string, length int64) error
		Ftruncate      func(fd int, length int64) error
		Fallocate      func(fd int, mode uint32, off int64, length int64) error
		PosixFallocate func(fd int, off int64, length int64) error

		Chdir     func(path string) error
		Fchdir    func(fd int) error
		Getcwd    func(buf []byte) (int, error)
		Mkdirat   func(dirfd int, path string, mode uint32) error
		Rmdir     func(path string) error
		Opendir   func(path string) (int, error)
		Fdopendir func(fd int) (int, error)
		Readdir   func(fd int, buf []byte) (int, error)
		Closedir  func(fd int) error
		Realpath  func(path string) (string, error)

		Linkat     func(olddirfd int, oldpath string, newdirfd int, newpath string, flags int) error
		Symlinkat  func(target string, newdirfd int, linkpath string) error
		Unlinkat   func(dirfd int, path string, flags int) error
		Readlinkat func(dirfd int, path string, buf []byte) (int, error)

		Stat      func(path string, st *unix.Stat_t) error
		Stat64    func(path string, st *unix.Stat_t) error
		Lstat     func(path string, st *unix.Stat_t) error
		Lstat64   func(path string, st *unix.Stat_t) error
		Fstat     func(fd int, st *unix.Stat_t) error
		Fstat64   func(fd int, st *unix.Stat_t) error
		Fstatat   func(dirfd int, path string, st *unix.Stat_t, flags int) error
		Fstatat64 func(dirfd int, path string, st *unix.Stat_t, flags int) error
		Fchmod    func(fd int, mode uint32) error
		Fchmodat  func(dirfd int, path string, mode uint32, flags int) error
		Lchown    func(path string, uid int, gid int) error
		Fchown    func(fd int, uid int, gid int) error
		Fchownat  func(dirfd int, path string, uid int, gid int, flags int) error
		Utime     func(path string, buf *unix.Utimbuf) error
		Utimes    func(path string, tv []unix.Timeval) error
		Futimesat func(dirfd int, path string, tv []unix.Timeval) error
		Utimensat func(dirfd int, path string, ts []unix.Timespec, flags int) error
		Futimens  func(fd int, ts []unix.Timespec) error
		Faccessat func(dirfd int, path string, mode uint32, flags int) error

		Setxattr     func(path string, attr string, data []byte, flags int) error
		Lsetxattr    func(path string, attr string, data []byte, flags int) error
		Fsetxattr    func(fd int, attr string, data []byte, flags int) error
		Getxattr     func(path string, attr string, dest []byte) (int, error)
		Lgetxattr    func(path string, attr string, dest []byte) (int, error)
		Fgetxattr    func(fd int, attr string, dest []byte) (int, error)
		Listxattr    func(path string, dest []byte) (int, error)
		Llistxattr   func(path string, dest []byte) (int, error)
		Flistxattr   func(fd int, dest []byte) (int, error)
		Removexattr  func(path string, attr string) error
		Lremovexattr func(path string, attr string) error
		Fremovexattr func(fd int, attr string) error

		Fcntl func(fd int, cmd int, arg FcntlArg) (int, error)
		Dup2  func(oldfd int, newfd int) error
		Dup3  func(oldfd int, newfd int, flags int) error

		Read    func(fd int, p []byte) (int, error)
		Readv   func(fd int, iovs [][]byte) (int, error)
		Pread   func(fd int, p []byte, offset int64) (int, error)
		Preadv  func(fd int, iovs [][]byte, offset int64) (int, error)
		Write   func(fd int, p []byte) (int, error)
		Writev  func(fd int, iovs [][]byte) (int, error)
		Pwrite  func(fd int, p []byte, offset int64) (int, error)
		Pwritev func(fd int, iovs [][]byte, offset int64) (int, error)
		Lseek   func(fd int, offset int64, whence int) (int64, error)

		Fdatasync func(fd int) error
		Fsync     func(fd int) error
	}
	// SymbolSource supplies genuine implementations by canonical call name.
	SymbolSource interface {
		Lookup(name string) (any, bool)
	}
	// Symbols is a map based SymbolSource.
	Symbols map[string]any
)

// Lookup a genuine implementation by canonical name.
func (s Symbols) Lookup(name string) (v any, ok bool) {
	v, ok = s[name]
	return
}

// Names dump the canonical names bound inside Symbols, sorted.
func (s Symbols) Names() []string {
	n := fn.MapKeys(s)
	slices.Sort(n)
	return n
}

type resolver struct {
	src  SymbolSource
	errs []error
}

func bind[T any](r *resolver, name string, dst *T) {
	v, ok := r.src.Lookup(name)
	if !ok || v == nil {
		r.errs = append(r.errs, &SymbolError{Name: name, Err: ErrMissingSymbol})
		return
	}
	f, ok := v.(T)
	if !ok {
		r.errs = append(r.errs, &SymbolError{Name: name, Err: ErrSymbolType})
		return
	}
	*dst = f
}

// Resolve binds every intercepted call to its genuine implementation from src.
//
// All missing or mistyped names are reported together as SymbolError values joined by [errors.Join].
// A partially filled table is never returned.
func Resolve(src SymbolSource) (*Sys, error) {
	r := &resolver{src: src}
	s := new(Sys)
	bind(r, "openat", &s.Openat)
	bind(r, "close", &s.Close)
	bind(r, "renameat2", &s.Renameat2)
	bind(r, "truncate", &s.Truncate)
	bind(r, "ftruncate", &s.Ftruncate)
	bind(r, "fallocate", &s.Fallocate)
	bind(r, "posix_fallocate", &s.PosixFallocate)

	bind(r, "chdir", &s.Chdir)
	bind(r, "fchdir", &s.Fchdir)
	bind(r, "getcwd", &s.Getcwd)
	bind(r, "mkdirat", &s.Mkdirat)
	bind(r, "rmdir", &s.Rmdir)
	bind(r, "opendir", &s.Opendir)
	bind(r, "fdopendir", &s.Fdopendir)
	bind(r, "readdir", &s.Readdir)
	bind(r, "closedir", &s.Closedir)
	bind(r, "realpath", &s.Realpath)

	bind(r, "linkat", &s.Linkat)
	bind(r, "symlinkat", &s.Symlinkat)
	bind(r, "unlinkat", &s.Unlinkat)
	bind(r, "readlinkat", &s.Readlinkat)

	bind(r, "stat", &s.Stat)
	bind(r, "stat64", &s.Stat64)
	bind(r, "lstat", &s.Lstat)
	bind(r, "lstat64", &s.Lstat64)
	bind(r, "fstat", &s.Fstat)
	bind(r, "fstat64", &s.Fstat64)
	bind(r, "fstatat", &s.Fstatat)
	bind(r, "fstatat64", &s.Fstatat64)
	bind(r, "fchmod", &s.Fchmod)
	bind(r, "fchmodat", &s.Fchmodat)
	bind(r, "lchown", &s.Lchown)
	bind(r, "fchown", &s.Fchown)
	bind(r, "fchownat", &s.Fchownat)
	bind(r, "utime", &s.Utime)
	bind(r, "utimes", &s.Utimes)
	bind(r, "futimesat", &s.Futimesat)
	bind(r, "utimensat", &s.Utimensat)
	bind(r, "futimens", &s.Futimens)
	bind(r, "faccessat", &s.Faccessat)

	bind(r, "setxattr", &s.Setxattr)
	bind(r, "lsetxattr", &s.Lsetxattr)
	bind(r, "fsetxattr", &s.Fsetxattr)
	bind(r, "getxattr", &s.Getxattr)
	bind(r, "lgetxattr", &s.Lgetxattr)
	bind(r, "fgetxattr", &s.Fgetxattr)
	bind(r, "listxattr", &s.Listxattr)
	bind(r, "llistxattr", &s.Llistxattr)
	bind(r, "flistxattr", &s.Flistxattr)
	bind(r, "removexattr", &s.Removexattr)
	bind(r, "lremovexattr", &s.Lremovexattr)
	bind(r, "fremovexattr", &s.Fremovexattr)

	bind(r, "fcntl", &s.Fcntl)
	bind(r, "dup2", &s.Dup2)
	bind(r, "dup3", &s.Dup3)

	bind(r, "read", &s.Read)
	bind(r, "readv", &s.Readv)
	bind(r, "pread", &s.Pread)
	bind(r, "preadv", &s.Preadv)
	bind(r, "write", &s.Write)
	bind(r, "writev", &s.Writev)
	bind(r, "pwrite", &s.Pwrite)
	bind(r, "pwritev", &s.Pwritev)
	bind(r, "lseek", &s.Lseek)

	bind(r, "fdatasync", &s.Fdatasync)
	bind(r, "fsync", &s.Fsync)
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	return s, nil
}
