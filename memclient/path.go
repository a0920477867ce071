package memclient

import (
	"os"
	"path"
	"strings"

	"golang.org/x/sys/unix"
)

const maxSymlinks = 40

func parent(p string) string {
	return path.Dir(p)
}

// abs joins a dirfd relative path onto the directory the descriptor names.
func (s *State) abs(dirfd int, p string) (string, error) {
	if path.IsAbs(p) {
		return path.Clean(p), nil
	}
	if dirfd == unix.AT_FDCWD {
		return path.Join("/", p), nil
	}
	d, ok := s.fds[dirfd]
	if !ok {
		return "", unix.EBADF
	}
	if !d.of.dir {
		return "", unix.ENOTDIR
	}
	return path.Join(d.of.path, p), nil
}

// resolve expands symlinks along p. The last component is expanded only when follow is set.
func (s *State) resolve(p string, follow bool) (string, error) {
	for hops := 0; ; {
		parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
		cur := "/"
		restart := false
		for i, part := range parts {
			if part == "" {
				continue
			}
			next := path.Join(cur, part)
			last := i == len(parts)-1
			if n, ok := s.nodes[next]; ok && n.link != "" && (follow || !last) {
				if hops++; hops > maxSymlinks {
					return "", unix.ELOOP
				}
				target := n.link
				if !path.IsAbs(target) {
					target = path.Join(cur, target)
				}
				p = path.Join(append([]string{target}, parts[i+1:]...)...)
				restart = true
				break
			}
			if !last {
				fi, err := s.fs.Stat(next)
				if err != nil {
					return "", errno(err)
				}
				if !fi.IsDir() {
					return "", unix.ENOTDIR
				}
			}
			cur = next
		}
		if !restart {
			return cur, nil
		}
	}
}

// lookup resolves dirfd and p to an absolute path without checking existence.
func (s *State) lookup(dirfd int, p string, follow bool) (string, error) {
	if p == "" {
		return "", unix.ENOENT
	}
	a, err := s.abs(dirfd, p)
	if err != nil {
		return "", err
	}
	return s.resolve(a, follow)
}

func (s *State) stat(p string) (os.FileInfo, *node, error) {
	fi, err := s.fs.Stat(p)
	if err != nil {
		return nil, nil, errno(err)
	}
	return fi, s.node(p), nil
}

// parentDir checks that the parent of p exists and is a directory.
func (s *State) parentDir(p string) error {
	if p == "/" {
		return nil
	}
	fi, err := s.fs.Stat(parent(p))
	if err != nil {
		return errno(err)
	}
	if !fi.IsDir() {
		return unix.ENOTDIR
	}
	return nil
}

// under reports whether p is q or inside q.
func under(p, q string) bool {
	return p == q || q == "/" || strings.HasPrefix(p, q+"/")
}

// move rebases every path keyed state from old to new.
func (s *State) move(old, new string) {
	for p, n := range s.nodes {
		if under(p, old) {
			delete(s.nodes, p)
			s.nodes[new+strings.TrimPrefix(p, old)] = n
		}
	}
	for _, d := range s.fds {
		if under(d.of.path, old) {
			d.of.path = new + strings.TrimPrefix(d.of.path, old)
		}
	}
}

// forget drops the metadata of p and everything below it.
func (s *State) forget(p string) {
	for q := range s.nodes {
		if under(q, p) {
			delete(s.nodes, q)
		}
	}
}
