package testutil

import (
	"fmt"
	"sync"
)

// SequentialOpIDs generates "<prefix>-0001", "<prefix>-0002", ...
//
// Unlike engine.FixedGenerator it never runs out, which suits scenarios
// whose operation count is not known up front. Output is identical across
// runs, so golden traces stay byte-stable.
//
// Thread-safety: SequentialOpIDs is safe for concurrent use.
type SequentialOpIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialOpIDs creates a generator. An empty prefix becomes "op".
func NewSequentialOpIDs(prefix string) *SequentialOpIDs {
	if prefix == "" {
		prefix = "op"
	}
	return &SequentialOpIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialOpIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
