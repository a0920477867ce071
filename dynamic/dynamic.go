package dynamic

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"unsafe"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
)

type (
	//Sym is the address holder of one fetched symbol, cast it with As.
	Sym uintptr
	//Dynamic is a client module image read from object files or a serialized linker.
	//
	//Use Steps:
	//
	//	1. Initialize, InitializeMany or InitializeSerialized to read the image.
	//	2. [Dynamic.Link] to link the code against the runtime and the shared Symbols.
	//	3. Fetch entry points and use them.
	//	4. Call [Dynamic.Free] to release the code once no caller can reach it.
	//
	//Note:
	//
	//	1. Must fetch and cast a symbol right before using it, never keep the Sym itself.
	//	2. Initialization, Link and Free are serialized; Fetch may run from many goroutines.
	Dynamic interface {
		InitializeMany(file, pkg []string, types ...any) (err error) //Initialize from many object files
		Initialize(file, pkg string, types ...any) (err error)       //Initialize from one object file
		InitializeSerialized(in io.Reader, types ...any) (err error) //Initialize from serialized linker
		Link() (err error)                                           //link and create code module
		Linked() bool                                                //whether Link succeeded and Free has not run
		MissingSymbols() []string                                    //dump the missing symbols
		Packages() []string                                          //package paths inside the image
		Exports() []string                                           //symbols the linked module exports, sorted
		Serialize(out io.Writer) error                               //write linker data which may be loaded by InitializeSerialized
		Fetch(sym string) (u Sym, ok bool)                           //fetch a symbol, ok is false before Link or when missing
		MustFetch(sym string) (u Sym)                                //fetch a symbol, panics with ErrUninitialized or ErrMissingSymbol
		Free(sync bool)                                              //release the module, sync parameter to sync stdout first
		GetLinker() *goloader.Linker                                 //the internal [goloader.Linker], nil before initialization
		GetModule() *goloader.CodeModule                             //the internal [goloader.CodeModule], nil before Link
		internal()
	}
	dynamic struct {
		mu     sync.RWMutex
		files  []string
		pkg    []string
		sym    Symbols
		linker *goloader.Linker
		module *goloader.CodeModule
		log    *slog.Logger
	}
)

// NewDynamic create a Dynamic linking against sym. A nil log disables debug logging.
func NewDynamic(sym Symbols, log *slog.Logger) Dynamic {
	return &dynamic{sym: sym, log: log}
}

func (s *dynamic) internal() {}

func (s *dynamic) debug(msg string, args ...any) {
	if s.log != nil {
		s.log.Debug(msg, args...)
	}
}

func (s *dynamic) GetLinker() *goloader.Linker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linker
}

func (s *dynamic) GetModule() *goloader.CodeModule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.module
}

func (s *dynamic) register(types []any) {
	if len(types) > 0 {
		s.debug("register types", "count", len(types))
		s.sym.RegisterTypes(types...)
	}
}

func (s *dynamic) InitializeMany(file, pkg []string, types ...any) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linker != nil {
		return ErrAlreadyInitialized
	}
	s.register(types)
	if s.linker, err = goloader.ReadObjs(file, pkg); err != nil {
		return
	}
	s.files = append(s.files, file...)
	s.pkg = append(s.pkg, pkg...)
	s.debug("linker created", "files", file, "packages", pkg)
	return
}

func (s *dynamic) Initialize(file, pkg string, types ...any) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linker != nil {
		return ErrAlreadyInitialized
	}
	s.register(types)
	if s.linker, err = goloader.ReadObj(file, pkg); err != nil {
		return
	}
	s.files = append(s.files, file)
	s.pkg = append(s.pkg, pkg)
	s.debug("linker created", "file", file, "package", pkg)
	return
}

func (s *dynamic) InitializeSerialized(in io.Reader, types ...any) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linker != nil {
		return ErrAlreadyInitialized
	}
	s.register(types)
	if s.linker, err = goloader.UnSerialize(in); err != nil {
		return
	}
	for _, p := range s.linker.Packages {
		s.files = append(s.files, p.File)
		s.pkg = append(s.pkg, p.PkgPath)
	}
	s.debug("linker loaded", "packages", s.pkg)
	return
}

func (s *dynamic) Link() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linker == nil {
		return ErrUninitialized
	}
	if s.module != nil {
		return ErrLinked
	}
	if s.module, err = goloader.Load(s.linker, s.sym.table()); err != nil {
		return
	}
	s.debug("module linked", "symbols", len(s.module.Syms))
	return
}

func (s *dynamic) Linked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.module != nil
}

func (s *dynamic) Packages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pkg)
}

func (s *dynamic) Exports() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.module == nil {
		return nil
	}
	n := fn.MapKeys(s.module.Syms)
	slices.Sort(n)
	return n
}

func (s *dynamic) Fetch(sym string) (u Sym, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.module == nil {
		return
	}
	var p uintptr
	if p, ok = s.module.Syms[qualify(sym)]; !ok {
		return
	}
	return (Sym)(unsafe.Pointer(&p)), true
}

func (s *dynamic) MustFetch(sym string) (u Sym) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.module == nil {
		panic(ErrUninitialized)
	}
	p, ok := s.module.Syms[qualify(sym)]
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrMissingSymbol, sym))
	}
	return (Sym)(unsafe.Pointer(&p))
}

// qualify prefixes unqualified names with main.
func qualify(sym string) string {
	if strings.IndexByte(sym, '.') < 0 {
		return "main." + sym
	}
	return sym
}

func (s *dynamic) MissingSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.linker == nil {
		panic(ErrUninitialized)
	}
	return goloader.UnresolvedSymbols(s.linker, s.sym.table())
}

func (s *dynamic) Serialize(out io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.linker == nil {
		return ErrUninitialized
	}
	return goloader.Serialize(s.linker, out)
}

func (s *dynamic) Free(sync bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linker == nil {
		return
	}
	s.debug("free module", "packages", s.pkg)
	if s.module != nil {
		if sync {
			_ = os.Stdout.Sync()
		}
		s.module.Unload()
		s.module = nil
	}
	s.linker = nil
	s.pkg = nil
	s.files = nil
}

// Use create a function to fetch and use symbol on the fly, a panic while fetching is handed over as an error.
func Use[T any](dyn Dynamic, sym string) func(func(t T, err error)) {
	return func(f func(t T, err error)) {
		var x T
		defer func() {
			switch y := recover().(type) {
			case nil:
				f(x, nil)
			case error:
				f(x, y)
			default:
				f(x, fmt.Errorf("%v", y))
			}
		}()
		x = As[T](dyn.MustFetch(sym))
	}
}

// As convert fetched Sym to contract type
func As[T any](ptr Sym) (x T) {
	px := (*T)(unsafe.Pointer(&ptr))
	x = *px
	return
}
