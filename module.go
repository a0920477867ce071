package bypass

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type (
	// Token is the opaque state a stopping module hands to its successor.
	Token any
	// StartFunc is a module's start entry. It receives the client configuration payload, the genuine
	// call table and the token of the module it replaces (nil on first start).
	StartFunc func(config []byte, sys *Sys, prev Token) (Client, error)
	// StopFunc is a module's stop entry. It returns the state to carry into the next module.
	StopFunc func() Token
	// FlushLogsFunc is a module's flush-logs entry.
	FlushLogsFunc func()
	// Entries are the three entry points every client module exposes.
	Entries struct {
		Start     StartFunc
		Stop      StopFunc
		FlushLogs FlushLogsFunc
	}
	// Library is one opened module image.
	Library interface {
		Entries() (Entries, error) // fetch the entry points
		Close() error              // release the image, entry points must not be used afterward
	}
	// Loader opens module images by path.
	Loader interface {
		Open(path string) (Library, error)
	}
)

func (e Entries) validate() error {
	switch {
	case e.Start == nil:
		return fmt.Errorf("%w: start", ErrMissingEntry)
	case e.Stop == nil:
		return fmt.Errorf("%w: stop", ErrMissingEntry)
	case e.FlushLogs == nil:
		return fmt.Errorf("%w: flush_logs", ErrMissingEntry)
	}
	return nil
}

// Module is one loaded instance of a client module and the client it runs once started.
type Module struct {
	ID      uuid.UUID
	Path    string
	Version string
	lib     Library
	entries Entries
	client  Client
	log     *Logger
}

// LoadModule opens path through l and validates its entry points.
// Any failure is a *LoadError and leaves nothing loaded.
func LoadModule(l Loader, path, version string, log *Logger) (m *Module, err error) {
	if l == nil {
		return nil, &LoadError{Path: path, Err: ErrNoLoader}
	}
	if log == nil {
		log = NoopLogger()
	}
	var lib Library
	if lib, err = l.Open(path); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var e Entries
	if e, err = lib.Entries(); err == nil {
		err = e.validate()
	}
	if err != nil {
		_ = lib.Close()
		return nil, &LoadError{Path: path, Err: err}
	}
	m = &Module{ID: uuid.New(), Path: path, Version: version, lib: lib, entries: e}
	m.log = log.WithModule(m)
	return m, nil
}

// Start runs the start entry with the previous module's token.
func (m *Module) Start(config []byte, sys *Sys, prev Token) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StartError{Version: m.Version, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	c, err := m.entries.Start(config, sys, prev)
	switch {
	case err != nil:
		return &StartError{Version: m.Version, Err: err}
	case c == nil:
		return &StartError{Version: m.Version, Err: ErrNilClient}
	}
	m.client = c
	return nil
}

// Stop runs the stop entry and returns its token. A panicking stop is logged and yields a nil token.
func (m *Module) Stop() (tok Token) {
	if m.client == nil {
		return nil
	}
	m.client = nil
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("module stop failed", "panic", r)
			tok = nil
		}
	}()
	return m.entries.Stop()
}

// FlushLogs runs the flush-logs entry, best effort.
func (m *Module) FlushLogs() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("module flush logs failed", "panic", r)
		}
	}()
	m.entries.FlushLogs()
}

// Unload releases the module image.
func (m *Module) Unload() error {
	m.client = nil
	return m.lib.Close()
}

// Client returns the running client, nil before Start or after Stop.
func (m *Module) Client() Client {
	return m.client
}

// Running reports whether the module has a started client.
func (m *Module) Running() bool {
	return m.client != nil
}

func (m *Module) String() string {
	return fmt.Sprintf("%s@%s", m.Path, m.Version)
}

// StaticLoader serves modules compiled into the host, keyed by path.
type StaticLoader struct {
	mu   sync.RWMutex
	libs map[string]func() Entries
}

// NewStaticLoader creates an empty StaticLoader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{libs: make(map[string]func() Entries)}
}

// Register a factory at path. Each Open calls the factory for a fresh instance.
func (s *StaticLoader) Register(path string, factory func() Entries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libs[path] = factory
}

// Unregister drops the factory at path.
func (s *StaticLoader) Unregister(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.libs, path)
}

func (s *StaticLoader) Open(path string) (Library, error) {
	s.mu.RLock()
	f, ok := s.libs[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}
	return &staticLibrary{entries: f()}, nil
}

type staticLibrary struct {
	entries Entries
	closed  atomic.Bool
}

func (l *staticLibrary) Entries() (Entries, error) {
	if l.closed.Load() {
		return Entries{}, ErrModuleNotFound
	}
	return l.entries, nil
}

func (l *staticLibrary) Close() error {
	l.closed.Store(true)
	return nil
}
