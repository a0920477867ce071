package bypass

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sys/unix"
)

// Namespace decides which paths and descriptors belong to the client module.
//
// A path is managed when it resolves under the mount point. A descriptor is managed
// while it is tracked, from the client call that produced it to the close that released it.
type Namespace struct {
	mount string

	mu  sync.RWMutex
	cwd string // managed working directory, empty while cwd is outside the mount

	fdMu    sync.RWMutex
	fds     *roaring.Bitmap
	shadows *roaring.Bitmap // kernel descriptors reserved under a managed number
}

// NewNamespace creates a Namespace rooted at mount. An empty mount manages nothing.
func NewNamespace(mount string) *Namespace {
	if mount != "" {
		mount = filepath.Clean(mount)
	}
	return &Namespace{
		mount:   mount,
		fds:     roaring.New(),
		shadows: roaring.New(),
	}
}

// Mount returns the mount point.
func (n *Namespace) Mount() string {
	return n.mount
}

// Contains reports whether the clean absolute path p lies under the mount point.
func (n *Namespace) Contains(p string) bool {
	switch {
	case n.mount == "":
		return false
	case n.mount == "/":
		return true
	}
	return p == n.mount || strings.HasPrefix(p, n.mount+"/")
}

// Resolve maps a dirfd relative path to the form a target should receive and reports whether it is managed.
//
// Relative paths under a managed working directory are made absolute, since the kernel's
// working directory is not the managed one. Everything else passes through untouched.
func (n *Namespace) Resolve(dirfd int, path string) (int, string, bool) {
	switch {
	case filepath.IsAbs(path):
		return dirfd, path, n.Contains(filepath.Clean(path))
	case dirfd == unix.AT_FDCWD:
		cwd := n.Cwd()
		if cwd == "" {
			return dirfd, path, false
		}
		p := filepath.Join(cwd, path)
		return unix.AT_FDCWD, p, n.Contains(p)
	default:
		return dirfd, path, n.ManagedFD(dirfd)
	}
}

// Cwd returns the managed working directory or "".
func (n *Namespace) Cwd() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cwd
}

// SetCwd records the managed working directory; "" means the kernel one applies.
func (n *Namespace) SetCwd(p string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cwd = p
}

// ManagedFD reports whether fd was produced by the client and is still open.
func (n *Namespace) ManagedFD(fd int) bool {
	if fd < 0 {
		return false
	}
	n.fdMu.RLock()
	defer n.fdMu.RUnlock()
	return n.fds.Contains(uint32(fd))
}

// Track marks fd as managed.
func (n *Namespace) Track(fd int) {
	if fd < 0 {
		return
	}
	n.fdMu.Lock()
	defer n.fdMu.Unlock()
	n.fds.Add(uint32(fd))
}

// Release forgets fd and reports whether a kernel reservation sat under it.
func (n *Namespace) Release(fd int) (shadowed bool) {
	if fd < 0 {
		return false
	}
	n.fdMu.Lock()
	defer n.fdMu.Unlock()
	n.fds.Remove(uint32(fd))
	shadowed = n.shadows.Contains(uint32(fd))
	n.shadows.Remove(uint32(fd))
	return
}

// Shadow records that a kernel descriptor holds the number fd for a managed descriptor.
func (n *Namespace) Shadow(fd int) {
	n.fdMu.Lock()
	defer n.fdMu.Unlock()
	n.shadows.Add(uint32(fd))
}

// Descriptors lists the managed descriptors.
func (n *Namespace) Descriptors() []int {
	n.fdMu.RLock()
	defer n.fdMu.RUnlock()
	a := n.fds.ToArray()
	out := make([]int, len(a))
	for i, v := range a {
		out[i] = int(v)
	}
	return out
}
