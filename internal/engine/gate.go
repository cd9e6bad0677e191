package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Gate is the echo suppressor shared by the pull and push sides of a
// session. The pull side enters it around every batch of remote-origin
// local writes; the push side polls Held and skips its cycle while the
// gate is up.
//
// Release extends the hold by a settle delay, absorbing the latency
// between a local write completing and the change stream observer
// firing for that same write.
type Gate struct {
	settle time.Duration

	holders     atomic.Int64
	settleUntil atomic.Int64 // unix nanos
}

// NewGate creates a gate with the given settle delay.
func NewGate(settle time.Duration) *Gate {
	return &Gate{settle: settle}
}

// Enter holds the gate and returns its release func. Release is
// idempotent, so a deferred call is safe even when released early.
func (g *Gate) Enter() (release func()) {
	g.holders.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			// Stamp the settle deadline before dropping the hold so
			// Held never reads a gap between the two.
			deadline := time.Now().Add(g.settle).UnixNano()
			for {
				prev := g.settleUntil.Load()
				if prev >= deadline || g.settleUntil.CompareAndSwap(prev, deadline) {
					break
				}
			}
			g.holders.Add(-1)
		})
	}
}

// Held reports whether pushes must be skipped right now: either a
// holder is active or the settle delay of the last release has not
// elapsed yet.
func (g *Gate) Held() bool {
	return g.holders.Load() > 0 || time.Now().UnixNano() < g.settleUntil.Load()
}
