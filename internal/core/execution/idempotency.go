package execution

import "sync"

// clientIDGuard remembers client order ids already submitted by this
// process so a repeated confirm cannot send the same order twice.
type clientIDGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newClientIDGuard() *clientIDGuard {
	return &clientIDGuard{seen: make(map[string]bool)}
}

// Claim records id and reports whether it was new. Empty ids are always
// new.
func (g *clientIDGuard) Claim(id string) bool {
	if id == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[id] {
		return false
	}
	g.seen[id] = true
	return true
}

// Release forgets id, used when a submission provably never left the
// process.
func (g *clientIDGuard) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
}
