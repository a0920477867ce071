package memclient

import (
	"slices"
	"strings"

	"github.com/ZenLiuCN/fn"
	"golang.org/x/sys/unix"
)

const xattrMax = 64 << 10

func validAttr(attr string) error {
	switch {
	case attr == "" || len(attr) > 255:
		return unix.ERANGE
	case !strings.Contains(attr, "."):
		return unix.EOPNOTSUPP
	}
	return nil
}

func (s *State) xattrNode(dirfd int, p string, nofollow bool) (*node, error) {
	full, err := s.lookup(dirfd, p, !nofollow)
	if err != nil {
		return nil, err
	}
	_, n, err := s.stat(full)
	return n, err
}

func (s *State) fdNode(fd int) (*node, error) {
	d, err := s.desc(fd)
	if err != nil {
		return nil, err
	}
	_, n, err := s.stat(d.of.path)
	return n, err
}

func setxattr(n *node, attr string, data []byte, flags int) error {
	if err := validAttr(attr); err != nil {
		return err
	}
	if len(data) > xattrMax {
		return unix.E2BIG
	}
	_, exists := n.xattr[attr]
	switch {
	case flags&^(unix.XATTR_CREATE|unix.XATTR_REPLACE) != 0:
		return unix.EINVAL
	case flags&unix.XATTR_CREATE != 0 && exists:
		return unix.EEXIST
	case flags&unix.XATTR_REPLACE != 0 && !exists:
		return unix.ENODATA
	}
	if n.xattr == nil {
		n.xattr = make(map[string][]byte)
	}
	n.xattr[attr] = slices.Clone(data)
	return nil
}

// sized copies v into dest, or reports its size when dest is empty.
func sized(dest []byte, v []byte) (int, error) {
	if len(dest) == 0 {
		return len(v), nil
	}
	if len(dest) < len(v) {
		return -1, unix.ERANGE
	}
	return copy(dest, v), nil
}

func getxattr(n *node, attr string, dest []byte) (int, error) {
	if err := validAttr(attr); err != nil {
		return -1, err
	}
	v, ok := n.xattr[attr]
	if !ok {
		return -1, unix.ENODATA
	}
	return sized(dest, v)
}

func listxattr(n *node, dest []byte) (int, error) {
	names := fn.MapKeys(n.xattr)
	slices.Sort(names)
	var b []byte
	for _, k := range names {
		b = append(append(b, k...), 0)
	}
	return sized(dest, b)
}

func removexattr(n *node, attr string) error {
	if err := validAttr(attr); err != nil {
		return err
	}
	if _, ok := n.xattr[attr]; !ok {
		return unix.ENODATA
	}
	delete(n.xattr, attr)
	return nil
}

func (c *Client) Setxattr(p string, attr string, data []byte, flags int, nofollow bool) error {
	s := c.lock()
	defer c.unlock()
	n, err := s.xattrNode(unix.AT_FDCWD, p, nofollow)
	if err != nil {
		return err
	}
	return setxattr(n, attr, data, flags)
}

func (c *Client) Fsetxattr(fd int, attr string, data []byte, flags int) error {
	s := c.lock()
	defer c.unlock()
	n, err := s.fdNode(fd)
	if err != nil {
		return err
	}
	return setxattr(n, attr, data, flags)
}

func (c *Client) Getxattr(p string, attr string, dest []byte, nofollow bool) (int, error) {
	s := c.lock()
	defer c.unlock()
	n, err := s.xattrNode(unix.AT_FDCWD, p, nofollow)
	if err != nil {
		return -1, err
	}
	return getxattr(n, attr, dest)
}

func (c *Client) Fgetxattr(fd int, attr string, dest []byte) (int, error) {
	s := c.lock()
	defer c.unlock()
	n, err := s.fdNode(fd)
	if err != nil {
		return -1, err
	}
	return getxattr(n, attr, dest)
}

func (c *Client) Listxattr(p string, dest []byte, nofollow bool) (int, error) {
	s := c.lock()
	defer c.unlock()
	n, err := s.xattrNode(unix.AT_FDCWD, p, nofollow)
	if err != nil {
		return -1, err
	}
	return listxattr(n, dest)
}

func (c *Client) Flistxattr(fd int, dest []byte) (int, error) {
	s := c.lock()
	defer c.unlock()
	n, err := s.fdNode(fd)
	if err != nil {
		return -1, err
	}
	return listxattr(n, dest)
}

func (c *Client) Removexattr(p string, attr string, nofollow bool) error {
	s := c.lock()
	defer c.unlock()
	n, err := s.xattrNode(unix.AT_FDCWD, p, nofollow)
	if err != nil {
		return err
	}
	return removexattr(n, attr)
}

func (c *Client) Fremovexattr(fd int, attr string) error {
	s := c.lock()
	defer c.unlock()
	n, err := s.fdNode(fd)
	if err != nil {
		return err
	}
	return removexattr(n, attr)
}
