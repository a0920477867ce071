package bypass

import (
	"sync"
	"sync/atomic"
)

// Guard is held in read mode by every intercepted call and in write mode by a module swap.
//
// A waiting writer blocks newly arriving readers (sync.RWMutex semantics), so a swap is
// never starved by call load. A reader must not take the guard again while holding it.
type Guard struct {
	mu      sync.RWMutex
	readers atomic.Int64
	writes  atomic.Uint64
}

func (g *Guard) RLock() {
	g.mu.RLock()
	g.readers.Add(1)
}

func (g *Guard) RUnlock() {
	g.readers.Add(-1)
	g.mu.RUnlock()
}

func (g *Guard) Lock() {
	g.mu.Lock()
}

func (g *Guard) Unlock() {
	g.writes.Add(1)
	g.mu.Unlock()
}

// Readers is the number of calls currently holding the guard.
func (g *Guard) Readers() int64 {
	return g.readers.Load()
}

// Writes is the number of completed write sections.
func (g *Guard) Writes() uint64 {
	return g.writes.Load()
}
