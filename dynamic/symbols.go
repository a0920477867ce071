package dynamic

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
)

type (
	// Symbols is a resolved symbol table a Dynamic links against.
	//
	// If two Dynamic share the same Symbols instance, the later one may depend on the earlier one after Link.
	Symbols interface {
		Symbols() []string                  // resolved symbol names, sorted
		Lookup(name string) (uintptr, bool) // address of a resolved symbol
		RegisterTypes(types ...any)         // make host types visible to modules
		RegisterSo(path string) error       // add the symbols of a shared object
		RegisterExecutable(path string) error
		Export(name string, addr uintptr) bool // add name unless already resolved
		Drop(name string, addr uintptr)        // remove name if it still points at addr
		table() map[string]uintptr
	}
	symbols map[string]uintptr
)

var (
	hostOnce sync.Once
	host     map[string]uintptr
	hostErr  error
)

// hostSymbols registers the running executable's symbols once per process.
func hostSymbols() (map[string]uintptr, error) {
	hostOnce.Do(func() {
		host = make(map[string]uintptr)
		hostErr = goloader.RegSymbol(host)
	})
	return host, hostErr
}

// NewSymbols create a Symbols seeded with the host executable's symbols.
func NewSymbols() (Symbols, error) {
	h, err := hostSymbols()
	if err != nil {
		return nil, err
	}
	return symbols(maps.Clone(h)), nil
}

// Symbols dump symbol names inside Symbols
func (s symbols) Symbols() []string {
	n := fn.MapKeys(s)
	slices.Sort(n)
	return n
}

func (s symbols) Lookup(name string) (p uintptr, ok bool) {
	p, ok = s[name]
	return
}

func (s symbols) RegisterTypes(types ...any) {
	goloader.RegTypes(s, types...)
}

func (s symbols) RegisterSo(path string) error {
	return goloader.RegSymbolWithSo(s, path)
}

func (s symbols) RegisterExecutable(path string) error {
	return goloader.RegSymbolWithPath(s, path)
}

func (s symbols) Export(name string, addr uintptr) bool {
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = addr
	return true
}

func (s symbols) Drop(name string, addr uintptr) {
	if x, ok := s[name]; ok && x == addr {
		delete(s, name)
	}
}

func (s symbols) table() map[string]uintptr { return s }

var (
	// ErrMissingSymbol occurs when can't found a symbol.
	ErrMissingSymbol = errors.New("missing symbol")
	// ErrAlreadyInitialized occurs when a Dynamic reinitializing.
	ErrAlreadyInitialized = errors.New("already initialized dynamic")
	// ErrLinked occurs when a Dynamic relinking.
	ErrLinked = errors.New("already linked")
	// ErrUninitialized occurs use or link a Dynamic before initialized.
	ErrUninitialized = errors.New("module not initialized")
)
