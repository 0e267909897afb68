// Package recursion bounds recursive job spawning. Two independent ceilings
// are enforced: an absolute maximum depth, and a maximum number of concurrent
// jobs at any single depth. The two rejections are distinguishable so callers
// can queue on saturation but abort on depth overflow.
package recursion

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDepthExceeded is returned when a spawn would pass the configured max
// recursion depth.
var ErrDepthExceeded = errors.New("max recursion depth exceeded")

// ErrDepthSaturated is returned when the target depth already runs the
// configured maximum number of concurrent jobs.
var ErrDepthSaturated = errors.New("depth saturated")

// Guard tracks concurrent jobs per recursion depth. One instance exists per
// orchestrator process. Enter and Exit are single short critical sections;
// the lock is never held across a spawn.
type Guard struct {
	mu          sync.Mutex
	maxDepth    int
	maxPerDepth int
	active      map[int]int
}

// New creates a guard allowing depths 0..maxDepth inclusive with at most
// maxPerDepth concurrent jobs at each depth. maxPerDepth <= 0 means
// unlimited concurrency per depth.
func New(maxDepth, maxPerDepth int) *Guard {
	return &Guard{
		maxDepth:    maxDepth,
		maxPerDepth: maxPerDepth,
		active:      make(map[int]int),
	}
}

// Enter admits one job at the given depth, or rejects with ErrDepthExceeded
// or ErrDepthSaturated. A successful Enter must be paired with exactly one
// Exit at the same depth.
func (g *Guard) Enter(depth int) error {
	if depth < 0 {
		return fmt.Errorf("enter depth %d: negative depth", depth)
	}
	if depth > g.maxDepth {
		return fmt.Errorf("enter depth %d (max %d): %w", depth, g.maxDepth, ErrDepthExceeded)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.maxPerDepth > 0 && g.active[depth] >= g.maxPerDepth {
		return fmt.Errorf("enter depth %d (%d running, max %d): %w",
			depth, g.active[depth], g.maxPerDepth, ErrDepthSaturated)
	}
	g.active[depth]++
	return nil
}

// Exit releases one slot at the given depth.
func (g *Guard) Exit(depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[depth] > 0 {
		g.active[depth]--
	}
}

// ActiveAt returns the number of jobs currently admitted at a depth.
func (g *Guard) ActiveAt(depth int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[depth]
}

// MaxDepth returns the configured depth ceiling.
func (g *Guard) MaxDepth() int {
	return g.maxDepth
}
