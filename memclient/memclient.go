// Package memclient is a client module serving the managed namespace from an in-memory filesystem.
//
// Files, descriptors and metadata live in a State that survives swaps: Stop hands it over as
// the token and the next version's Start adopts it, so descriptors opened under one version
// stay valid under the next.
package memclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/ZenLiuCN/bypass"
	"github.com/spf13/afero"
	"github.com/tailscale/hujson"
	"golang.org/x/sys/unix"
)

// FDBase is the first descriptor number the client hands out, far above what the kernel allocates.
const FDBase = 1 << 29

// Config is the client payload of the bypass configuration.
type Config struct {
	Root     string `json:"root"`      // directory created at start, usually the mount point
	LogLevel string `json:"log_level"` // level of the buffered client log
}

// State is everything one client version hands to the next.
type State struct {
	mu       sync.Mutex
	fs       afero.Fs
	fds      map[int]*desc
	nodes    map[string]*node
	nextIno  uint64
	Versions []string // every version that started on this state, oldest first
}

type (
	// node is the metadata afero does not keep.
	node struct {
		ino   uint64
		uid   int
		gid   int
		atime time.Time
		ctime time.Time
		link  string // symlink target, empty for other files
		xattr map[string][]byte
	}
	// openFile is one open file description, shared by dup'ed descriptors.
	openFile struct {
		path  string
		file  afero.File // nil for directories
		dir   bool
		flags int
		refs  int
		owner bypass.FOwnerEx
		hint  uint64
	}
	desc struct {
		of      *openFile
		cloexec bool
	}
)

// NewState creates an empty state holding only the root directory.
func NewState() *State {
	s := &State{
		fs:    afero.NewMemMapFs(),
		fds:   make(map[int]*desc),
		nodes: make(map[string]*node),
	}
	s.node("/")
	return s
}

// Fs exposes the backing filesystem.
func (s *State) Fs() afero.Fs { return s.fs }

// Open reports how many descriptors are open.
func (s *State) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fds)
}

func (s *State) node(p string) *node {
	n, ok := s.nodes[p]
	if !ok {
		s.nextIno++
		now := time.Now()
		n = &node{ino: s.nextIno, uid: os.Getuid(), gid: os.Getgid(), atime: now, ctime: now}
		s.nodes[p] = n
	}
	return n
}

// Module is one version of the client module and its entry points.
type Module struct {
	Version string

	mu     sync.Mutex
	state  *State
	logBuf bytes.Buffer
	log    *slog.Logger
	sys    *bypass.Sys
}

// New creates a module instance of version.
func New(version string) *Module {
	return &Module{Version: version}
}

// Entries returns the module's entry points.
func (m *Module) Entries() bypass.Entries {
	return bypass.Entries{Start: m.Start, Stop: m.Stop, FlushLogs: m.FlushLogs}
}

// Start adopts the state of the previous version, or a new one, and returns the client.
func (m *Module) Start(config []byte, sys *bypass.Sys, prev bypass.Token) (bypass.Client, error) {
	cfg := Config{Root: "/", LogLevel: "info"}
	if len(bytes.TrimSpace(config)) > 0 {
		std, err := hujson.Standardize(config)
		if err == nil {
			err = json.Unmarshal(std, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("memclient config: %w", err)
		}
	}
	if !path.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("memclient root must be absolute, got %q", cfg.Root)
	}
	cfg.Root = path.Clean(cfg.Root)
	st, ok := prev.(*State)
	switch {
	case ok && st != nil:
	case prev == nil:
		st = NewState()
	default:
		return nil, fmt.Errorf("memclient: cannot adopt token of type %T", prev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sys = sys
	m.logBuf.Reset()
	m.log = slog.New(slog.NewTextHandler(&m.logBuf, &slog.HandlerOptions{Level: bypass.ParseLevel(cfg.LogLevel)})).
		With("client", "memclient", "version", m.Version)
	st.mu.Lock()
	defer st.mu.Unlock()
	if cfg.Root != "/" {
		if err := st.fs.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("memclient root %s: %w", cfg.Root, err)
		}
		for p := cfg.Root; p != "/"; p = parent(p) {
			st.node(p)
		}
	}
	st.Versions = append(st.Versions, m.Version)
	m.state = st
	m.log.Info("client started", "root", cfg.Root, "generation", len(st.Versions), "open", len(st.fds))
	return &Client{state: st, log: m.log}, nil
}

// Stop returns the state for the next version.
func (m *Module) Stop() bypass.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	m.state = nil
	if m.log != nil {
		m.log.Info("client stopped")
	}
	return st
}

// FlushLogs writes the buffered client log to standard error through the genuine write.
func (m *Module) FlushLogs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logBuf.Len() == 0 {
		return
	}
	b := m.logBuf.Bytes()
	if m.sys != nil {
		for len(b) > 0 {
			n, err := m.sys.Write(unix.Stderr, b)
			if err != nil {
				break
			}
			b = b[n:]
		}
	} else {
		_, _ = os.Stderr.Write(b)
	}
	m.logBuf.Reset()
}

// Logs returns the buffered log not yet flushed.
func (m *Module) Logs() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logBuf.String()
}

// Version of the package level module, set at build time with -ldflags -X.
var Version = "v0.0.0"

var std = New(Version)

// Start is the exported start entry of the package level module.
func Start(config []byte, sys *bypass.Sys, prev bypass.Token) (bypass.Client, error) {
	std.Version = Version
	return std.Start(config, sys, prev)
}

// Stop is the exported stop entry of the package level module.
func Stop() bypass.Token { return std.Stop() }

// FlushLogs is the exported flush-logs entry of the package level module.
func FlushLogs() { std.FlushLogs() }
