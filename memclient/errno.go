package memclient

import (
	"errors"
	"io/fs"

	"github.com/spf13/afero"
	"github.com/spf13/afero/mem"
	"golang.org/x/sys/unix"
)

// errno maps afero errors onto the errno a kernel filesystem would report.
func errno(err error) error {
	if err == nil {
		return nil
	}
	var e unix.Errno
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, fs.ErrNotExist):
		return unix.ENOENT
	case errors.Is(err, fs.ErrExist):
		return unix.EEXIST
	case errors.Is(err, fs.ErrPermission):
		return unix.EACCES
	case errors.Is(err, fs.ErrClosed), errors.Is(err, afero.ErrFileClosed), errors.Is(err, mem.ErrFileClosed):
		return unix.EBADF
	case errors.Is(err, afero.ErrOutOfRange):
		return unix.EINVAL
	case errors.Is(err, afero.ErrTooLarge):
		return unix.EFBIG
	default:
		return unix.EIO
	}
}
