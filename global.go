package bypass

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type (
	// LoaderFactory builds the Loader a config-driven Context opens cfg.Module with.
	LoaderFactory func(cfg Config, log *Logger) (Loader, error)
	// CheckerFactory builds the Checker a config-driven Context polls cfg.Repo with.
	CheckerFactory func(ctx context.Context, cfg Config, log *Logger) (Checker, error)
)

var (
	globalMu   sync.Mutex
	globalOpts []Option
	global     atomic.Pointer[Context]

	factoryMu      sync.Mutex
	loaderFactory  LoaderFactory
	checkerFactory CheckerFactory
)

// RegisterLoader installs the factory DefaultOptions uses when the config names a module.
// Packages providing a Loader call it from init; the last registration wins.
func RegisterLoader(f LoaderFactory) {
	factoryMu.Lock()
	loaderFactory = f
	factoryMu.Unlock()
}

// RegisterChecker installs the factory DefaultOptions uses when the config names a repository.
func RegisterChecker(f CheckerFactory) {
	factoryMu.Lock()
	checkerFactory = f
	factoryMu.Unlock()
}

// DefaultOptions turns cfg into Options through the registered factories.
//
// A module without a registered loader, or a repository without a registered checker, is
// reported as an error; the options built so far are still returned.
func DefaultOptions(ctx context.Context, cfg Config, log *Logger) ([]Option, error) {
	if log == nil {
		log = LoggerFromConfig(cfg)
	}
	factoryMu.Lock()
	lf, cf := loaderFactory, checkerFactory
	factoryMu.Unlock()

	opts := []Option{WithConfig(cfg), WithLogger(log)}
	var errs []error
	if cfg.Module != "" {
		if lf == nil {
			errs = append(errs, ErrNoLoader)
		} else if l, err := lf(cfg, log); err != nil {
			errs = append(errs, err)
		} else if l != nil {
			opts = append(opts, WithLoader(l))
		}
	}
	if cfg.Repo.Kind != "" {
		if cf == nil {
			errs = append(errs, ErrNoChecker)
		} else if ch, err := cf(ctx, cfg, log); err != nil {
			errs = append(errs, err)
		} else if ch != nil {
			opts = append(opts, WithChecker(ch))
		}
	}
	return opts, errors.Join(errs...)
}

// Configure sets the options the process-wide Context is built with.
// It must run before the first call to Default, usually from the host's injection hook.
func Configure(opts ...Option) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global.Load() != nil {
		return ErrConfigured
	}
	globalOpts = append(globalOpts, opts...)
	return nil
}

// Default is the single access point to the process-wide Context.
//
// Without Configure the config comes from the BYPASS_CONFIG file and DefaultOptions wires
// the registered loader and checker. The Context lives until process exit; call Shutdown
// from an exit hook to retire the active module cleanly.
func Default() *Context {
	if c := global.Load(); c != nil {
		return c
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if c := global.Load(); c != nil {
		return c
	}
	opts := globalOpts
	if len(opts) == 0 {
		cfg, err := LoadConfigFromEnv()
		if err != nil {
			NewLogger(nil).Error("config rejected, using defaults", "error", err)
			cfg = DefaultConfig()
		}
		log := LoggerFromConfig(cfg)
		if opts, err = DefaultOptions(context.Background(), cfg, log); err != nil {
			log.Error("default wiring incomplete", "error", err)
		}
	}
	c := New(opts...)
	global.Store(c)
	return c
}
