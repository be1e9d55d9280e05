// Package testutil provides deterministic helpers for tests.
package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs issues ids "<prefix>001", "<prefix>002", ... in order.
//
// Identical runs with a fresh SequentialIDs issue identical ids, which keeps
// saved states and golden output byte-stable.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%03d", g.prefix, g.n)
}

// Issued returns how many ids have been generated.
func (g *SequentialIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// RepeatingIDs returns the listed ids in order and then keeps cycling. It
// exercises collision handling in id consumers.
type RepeatingIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewRepeatingIDs creates a generator over ids. Panics if ids is empty.
func NewRepeatingIDs(ids ...string) *RepeatingIDs {
	if len(ids) == 0 {
		panic("RepeatingIDs: no ids")
	}
	return &RepeatingIDs{ids: ids}
}

// Generate returns the next id in the cycle.
func (g *RepeatingIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[g.idx%len(g.ids)]
	g.idx++
	return id
}
