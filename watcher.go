package bypass

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type (
	// Update names a module image newer than the active one.
	Update struct {
		Version string
		Path    string
	}
	// Checker answers whether a module newer than current is available.
	Checker interface {
		Check(ctx context.Context, current string) (u Update, found bool, err error)
	}
	// CheckerFunc adapts a function to Checker.
	CheckerFunc func(ctx context.Context, current string) (Update, bool, error)
	// WatchState is the watcher's position in its cycle.
	WatchState int32
)

func (f CheckerFunc) Check(ctx context.Context, current string) (Update, bool, error) {
	return f(ctx, current)
}

const (
	Idle WatchState = iota
	Checking
	Swapping
)

func (s WatchState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Swapping:
		return "swapping"
	default:
		return "unknown"
	}
}

// Watcher polls a Checker and swaps the Context's module when a newer one appears.
//
// Checks run without the guard; only the swap takes it. Every tick polls, so the period stays
// fixed. CheckNow requests pass a rate limiter the ticks also draw from, so an early check runs
// at most once per interval.
type Watcher struct {
	ctx      *Context
	checker  Checker
	interval time.Duration
	limiter  *rate.Limiter
	wake     chan struct{}
	state    atomic.Int32
	checks   atomic.Uint64
	swaps    atomic.Uint64
	failures atomic.Uint64
}

// NewWatcher creates a watcher for c. A non-positive interval uses DefaultCheckInterval seconds.
func NewWatcher(c *Context, checker Checker, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultCheckInterval * time.Second
	}
	return &Watcher{
		ctx:      c,
		checker:  checker,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		wake:     make(chan struct{}, 1),
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			// ticks drain the token early requests compete for
			w.limiter.Allow()
			w.Poll(ctx)
		case <-w.wake:
			if w.limiter.Allow() {
				w.Poll(ctx)
			}
		}
	}
}

// CheckNow asks a running watcher for an early check. It is dropped if one is already pending
// or the interval has not elapsed since the last check.
func (w *Watcher) CheckNow() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Poll runs one check and, when it finds an update, one swap. It reports whether a swap happened.
func (w *Watcher) Poll(ctx context.Context) bool {
	w.state.Store(int32(Checking))
	defer w.state.Store(int32(Idle))
	w.checks.Add(1)
	current := w.ctx.Version()
	u, found, err := w.checker.Check(ctx, current)
	w.ctx.log.LogCheck(current, u, found, err)
	if err != nil || !found {
		return false
	}
	w.state.Store(int32(Swapping))
	if err = w.ctx.Swap(u); err != nil {
		w.failures.Add(1)
		return false
	}
	w.swaps.Add(1)
	return true
}

// State reports the current position in the cycle.
func (w *Watcher) State() WatchState {
	return WatchState(w.state.Load())
}

// Interval is the polling period.
func (w *Watcher) Interval() time.Duration {
	return w.interval
}

// Checks counts completed or running checks.
func (w *Watcher) Checks() uint64 { return w.checks.Load() }

// Swaps counts successful swaps.
func (w *Watcher) Swaps() uint64 { return w.swaps.Load() }

// Failures counts aborted swaps.
func (w *Watcher) Failures() uint64 { return w.failures.Load() }
