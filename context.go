package bypass

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type (
	// Options configure a Context.
	Options struct {
		Config  Config
		Loader  Loader
		Symbols SymbolSource
		Checker Checker
		Logger  *Logger
		Abort   func(error) // called when genuine symbols cannot be resolved
	}
	// Option mutates Options.
	Option func(*Options)
)

// WithConfig sets the configuration.
func WithConfig(cfg Config) Option { return func(o *Options) { o.Config = cfg } }

// WithLoader sets the module loader.
func WithLoader(l Loader) Option { return func(o *Options) { o.Loader = l } }

// WithSymbols replaces the genuine symbol source, UnixSymbols by default.
func WithSymbols(s SymbolSource) Option { return func(o *Options) { o.Symbols = s } }

// WithChecker enables the update watcher with c as the version source.
func WithChecker(c Checker) Option { return func(o *Options) { o.Checker = c } }

// WithLogger sets the logger.
func WithLogger(l *Logger) Option { return func(o *Options) { o.Logger = l } }

// WithAbort replaces the fatal handler for symbol resolution failures.
func WithAbort(f func(error)) Option { return func(o *Options) { o.Abort = f } }

// Context is the process-wide interception state: the genuine call table, the active module,
// the managed namespace and the update watcher.
//
// Every intercepted call is a method on Context. The first call of any kind runs the one-time
// setup; later calls only pay for the guard.
type Context struct {
	opts Options
	log  *Logger

	once        sync.Once
	ready       atomic.Bool
	resolutions atomic.Int32
	initErr     error

	sys     *Sys
	ns      *Namespace
	guard   Guard
	active  *Module // guarded by guard
	watcher *Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Context. Nothing is resolved or loaded until the first call.
func New(opts ...Option) *Context {
	o := Options{Config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Symbols == nil {
		o.Symbols = UnixSymbols()
	}
	if o.Logger == nil {
		o.Logger = LoggerFromConfig(o.Config)
	}
	if o.Abort == nil {
		o.Abort = abortProcess(o.Logger)
	}
	return &Context{opts: o, log: o.Logger}
}

func abortProcess(log *Logger) func(error) {
	return func(err error) {
		log.Error("genuine symbol resolution failed, aborting", "error", err)
		_ = unix.Kill(unix.Getpid(), unix.SIGABRT)
		os.Exit(134)
	}
}

// Init runs the one-time setup if it has not run yet and returns its outcome.
// Concurrent callers block until the first one finishes; later calls do nothing.
func (c *Context) Init() error {
	c.ensure()
	return c.initErr
}

func (c *Context) ensure() {
	if c.ready.Load() {
		return
	}
	c.once.Do(c.setup)
}

func (c *Context) setup() {
	defer c.ready.Store(true)
	c.resolutions.Add(1)
	c.ns = NewNamespace(c.opts.Config.MountPoint)
	sys, err := Resolve(c.opts.Symbols)
	if err != nil {
		// Abort does not return in production. Hooks must not be called after it does.
		c.initErr = err
		c.opts.Abort(err)
		return
	}
	c.sys = sys
	if p := c.opts.Config.Module; p != "" {
		c.guard.Lock()
		c.initErr = c.swap(Update{Path: p, Version: c.opts.Config.ModuleVersion})
		c.guard.Unlock()
	}
	if c.opts.Checker != nil {
		var ctx context.Context
		ctx, c.cancel = context.WithCancel(context.Background())
		c.done = make(chan struct{})
		c.watcher = NewWatcher(c, c.opts.Checker, c.opts.Config.Interval())
		go func() {
			defer close(c.done)
			_ = c.watcher.Run(ctx)
		}()
	}
}

// Resolutions counts how many times the genuine symbol table was resolved.
func (c *Context) Resolutions() int {
	return int(c.resolutions.Load())
}

// Sys returns the genuine call table.
func (c *Context) Sys() *Sys {
	c.ensure()
	return c.sys
}

// Namespace returns the managed namespace policy.
func (c *Context) Namespace() *Namespace {
	c.ensure()
	return c.ns
}

// Guard exposes the concurrency guard.
func (c *Context) Guard() *Guard {
	return &c.guard
}

// Watcher returns the update watcher, nil when no Checker was configured.
func (c *Context) Watcher() *Watcher {
	c.ensure()
	return c.watcher
}

// Logger returns the context logger.
func (c *Context) Logger() *Logger {
	return c.log
}

// Active returns the active module or nil.
func (c *Context) Active() *Module {
	c.ensure()
	c.guard.RLock()
	defer c.guard.RUnlock()
	return c.active
}

// Version returns the active module's version, "" without one.
func (c *Context) Version() string {
	if m := c.Active(); m != nil {
		return m.Version
	}
	return ""
}

// Swap replaces the active module with the one described by u.
//
// The guard is held in write mode for the whole exchange. If the new module cannot be loaded
// the old one is not touched; if it cannot be started the old one is restarted with the token
// it just produced. Either way the previous module stays active and the error is returned.
func (c *Context) Swap(u Update) error {
	c.ensure()
	c.guard.Lock()
	defer c.guard.Unlock()
	return c.swap(u)
}

func (c *Context) swap(u Update) (err error) {
	prev := c.active
	from := ""
	if prev != nil {
		from = prev.Version
	}
	defer func() { c.log.LogSwap(from, u.Version, err) }()
	next, err := LoadModule(c.opts.Loader, u.Path, u.Version, c.log)
	c.log.LogLoad(u.Path, u.Version, err)
	if err != nil {
		return err
	}
	var tok Token
	if prev != nil {
		prev.FlushLogs()
		tok = prev.Stop()
	}
	if err = next.Start(c.opts.Config.Client, c.sys, tok); err != nil {
		if uerr := next.Unload(); uerr != nil {
			c.log.Warn("unload of failed module", "path", u.Path, "error", uerr)
		}
		if prev != nil {
			if rerr := prev.Start(c.opts.Config.Client, c.sys, tok); rerr != nil {
				c.log.Error("previous module did not restart", "version", prev.Version, "error", rerr)
			}
		}
		return err
	}
	c.active = next
	if prev != nil {
		if uerr := prev.Unload(); uerr != nil {
			c.log.Warn("unload of retired module", "version", prev.Version, "error", uerr)
		}
	}
	return nil
}

// Shutdown stops the watcher, then stops and unloads the active module after flushing its logs.
func (c *Context) Shutdown(ctx context.Context) error {
	c.ensure()
	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.guard.Lock()
	defer c.guard.Unlock()
	m := c.active
	if m == nil {
		return nil
	}
	c.active = nil
	m.FlushLogs()
	m.Stop()
	return errors.Join(m.Unload())
}

// FlushLogs forwards to the active module's flush-logs entry.
func (c *Context) FlushLogs() {
	c.ensure()
	c.guard.RLock()
	defer c.guard.RUnlock()
	if c.active != nil {
		c.active.FlushLogs()
	}
}
