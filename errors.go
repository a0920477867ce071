package bypass

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrMissingSymbol occurs when a symbol source has no genuine implementation for a name.
	ErrMissingSymbol = errors.New("missing symbol")
	// ErrSymbolType occurs when a symbol source binds a name to a function of the wrong signature.
	ErrSymbolType = errors.New("symbol type mismatch")
	// ErrMissingEntry occurs when a client module lacks one of its entry points.
	ErrMissingEntry = errors.New("missing module entry point")
	// ErrNilClient occurs when a module start entry returns neither a client nor an error.
	ErrNilClient = errors.New("module started without client")
	// ErrModuleNotFound occurs when a loader has nothing registered at a path.
	ErrModuleNotFound = errors.New("module not found")
	// ErrNoLoader occurs when a module must be loaded but no Loader was configured.
	ErrNoLoader = errors.New("no module loader configured")
	// ErrNoChecker occurs when the config names a repository but no checker factory is registered.
	ErrNoChecker = errors.New("no repository checker registered")
	// ErrConfigured occurs when Configure is called after the process context was built.
	ErrConfigured = errors.New("process context already built")
)

// SymbolError reports a genuine implementation that could not be bound.
type SymbolError struct {
	Name string
	Err  error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Name, e.Err)
}

func (e *SymbolError) Unwrap() error { return e.Err }

// LoadError reports a client module that could not be loaded or validated.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load module %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// StartError reports a client module whose start entry failed.
type StartError struct {
	Version string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start module %q: %v", e.Version, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// errnoOf unwraps the errno carried by os level errors so callers observe the POSIX code.
func errnoOf(err error) error {
	var e unix.Errno
	if errors.As(err, &e) {
		return e
	}
	return err
}
