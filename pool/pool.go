package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ZenLiuCN/bypass"
	. "github.com/ZenLiuCN/bypass/dynamic"
	"github.com/ZenLiuCN/fn"
)

// Pool is a [bypass.Loader] linking client module images with goloader.
//
// All images link against one Symbols table seeded with the host executable. Shared packages
// preloaded with Preload add their exports to that table; client modules never do, so two
// versions of one client can be linked side by side during a swap.
type Pool struct {
	Symbols
	pkg     string
	log     *slog.Logger
	modules map[string]Dynamic // client images by path
	shared  map[string]Dynamic // preloaded packages by package path
	order   []string           // preload order of shared
	sync.RWMutex
}

var (
	ErrAlreadyLoad    = errors.New("module already loaded")
	ErrNotLoad        = errors.New("module not loaded")
	ErrUnknownFormat  = errors.New("unknown module format")
	ErrMissingPackage = errors.New("package not loaded")
)

func init() {
	bypass.RegisterLoader(func(cfg bypass.Config, log *bypass.Logger) (bypass.Loader, error) {
		p, err := NewPool(cfg.Package, log.Logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// NewPool create a pool whose client modules define their entry points in package pkg, main when empty.
func NewPool(pkg string, log *slog.Logger) (p *Pool, err error) {
	if pkg == "" {
		pkg = "main"
	}
	p = &Pool{
		pkg:     pkg,
		log:     log,
		modules: make(map[string]Dynamic),
		shared:  make(map[string]Dynamic),
	}
	if p.Symbols, err = NewSymbols(); err != nil {
		return nil, err
	}
	p.RegisterTypes(hostTypes()...)
	return
}

// hostTypes are the types a client module exchanges with the host.
func hostTypes() []any {
	var (
		c   bypass.Client
		tok bypass.Token
	)
	return []any{
		&c, &tok,
		&bypass.Sys{},
		&bypass.Dirent{},
		&bypass.FcntlArg{},
		&bypass.UnsupportedClient{},
	}
}

// Package is the package path entry points are fetched from.
func (p *Pool) Package() string { return p.pkg }

// Preload links a shared package from a go archive or object file and exports its symbols to later modules.
func (p *Pool) Preload(file, pkgPath string) (err error) {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.shared[pkgPath]; ok {
		return ErrAlreadyLoad
	}
	d := NewDynamic(p.Symbols, p.log)
	if err = d.Initialize(file, pkgPath); err != nil {
		return
	}
	if err = d.Link(); err != nil {
		d.Free(false)
		return
	}
	p.register(d)
	p.shared[pkgPath] = d
	p.order = append(p.order, pkgPath)
	return
}

// Release frees a preloaded package and every package preloaded after it, which may depend on it.
func (p *Pool) Release(pkgPath string) error {
	p.Lock()
	defer p.Unlock()
	i := slices.Index(p.order, pkgPath)
	if i < 0 {
		return ErrNotLoad
	}
	for j := len(p.order) - 1; j >= i; j-- {
		d := p.shared[p.order[j]]
		delete(p.shared, p.order[j])
		p.unregister(d)
		d.Free(false)
	}
	p.order = p.order[:i]
	return nil
}

func (p *Pool) register(d Dynamic) {
	for s, u := range d.GetModule().Syms {
		p.Export(s, u)
	}
}

func (p *Pool) unregister(d Dynamic) {
	for s, u := range d.GetModule().Syms {
		p.Drop(s, u)
	}
}

// Open links the client module image at path. Object files (.o) and go archives (.a) are read
// as package Package; .linkable files are serialized linkers produced by Pack.
func (p *Pool) Open(path string) (bypass.Library, error) {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.modules[path]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoad, path)
	}
	d := NewDynamic(p.Symbols, p.log)
	var err error
	switch filepath.Ext(path) {
	case ".o", ".a":
		err = d.Initialize(path, p.pkg)
	case ".linkable":
		var f *os.File
		if f, err = os.Open(path); err == nil {
			err = d.InitializeSerialized(f)
			fn.IgnoreClose(f)
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err == nil {
		err = d.Link()
	}
	if err != nil {
		d.Free(false)
		return nil, err
	}
	p.modules[path] = d
	return &library{pool: p, path: path, dyn: d}, nil
}

// Require fetch symbol from a linked client module or preloaded package
func (p *Pool) Require(path, symbolName string) Sym {
	p.RLock()
	defer p.RUnlock()
	if m, ok := p.modules[path]; ok {
		return m.MustFetch(p.pkg + "." + symbolName)
	}
	if m, ok := p.shared[path]; ok {
		return m.MustFetch(path + "." + symbolName)
	}
	panic(ErrMissingPackage)
}

// Loaded lists the paths of linked client modules, sorted.
func (p *Pool) Loaded() []string {
	p.RLock()
	defer p.RUnlock()
	n := fn.MapKeys(p.modules)
	slices.Sort(n)
	return n
}

func (p *Pool) close(path string) error {
	p.Lock()
	defer p.Unlock()
	d, ok := p.modules[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoad, path)
	}
	delete(p.modules, path)
	d.Free(true)
	return nil
}

type library struct {
	pool *Pool
	path string
	dyn  Dynamic
}

func (l *library) Entries() (e bypass.Entries, err error) {
	pkg := l.pool.pkg
	start, ok := l.dyn.Fetch(pkg + ".Start")
	if !ok {
		return e, fmt.Errorf("%w: %s.Start", bypass.ErrMissingEntry, pkg)
	}
	stop, ok := l.dyn.Fetch(pkg + ".Stop")
	if !ok {
		return e, fmt.Errorf("%w: %s.Stop", bypass.ErrMissingEntry, pkg)
	}
	flush, ok := l.dyn.Fetch(pkg + ".FlushLogs")
	if !ok {
		return e, fmt.Errorf("%w: %s.FlushLogs", bypass.ErrMissingEntry, pkg)
	}
	e.Start = As[bypass.StartFunc](start)
	e.Stop = As[bypass.StopFunc](stop)
	e.FlushLogs = As[bypass.FlushLogsFunc](flush)
	return e, nil
}

func (l *library) Close() error {
	return l.pool.close(l.path)
}
