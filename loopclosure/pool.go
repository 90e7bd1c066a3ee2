package loopclosure

import (
	"sync"
)

// Pool accumulates loop edges received from the swarm. Edges seen before, for example echoes of
// our own broadcasts, are dropped.
type Pool struct {
	mu    sync.Mutex
	seen  map[int64]struct{}
	edges []*Edge
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{seen: map[int64]struct{}{}}
}

// Add inserts an edge and reports whether it was new.
func (p *Pool) Add(e *Edge) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[e.ID()]; ok {
		return false
	}
	p.seen[e.ID()] = struct{}{}
	p.edges = append(p.edges, e)
	return true
}

// Len returns the number of edges in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.edges)
}

// Edges returns the pooled edges in arrival order.
func (p *Pool) Edges() []*Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Edge(nil), p.edges...)
}
