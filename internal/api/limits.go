package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a workspace limiter may sit unused before the
// sweep drops it. An evicted limiter comes back with a full bucket, which
// is harmless after this much idle time.
const limiterIdleTTL = 15 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// workspaceLimiters hands out one token-bucket limiter per workspace so a
// single noisy workspace cannot starve the inference path for everyone.
// Idle entries are swept so the map stays bounded by the set of recently
// active workspaces.
type workspaceLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	perSec    rate.Limit
	burst     int
	lastSweep time.Time
}

func newWorkspaceLimiters(perSec float64, burst int) *workspaceLimiters {
	if perSec <= 0 {
		perSec = 2
	}
	if burst <= 0 {
		burst = 4
	}
	return &workspaceLimiters{
		limiters:  make(map[string]*limiterEntry),
		perSec:    rate.Limit(perSec),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// Wait blocks until the workspace may make an inference call or the
// request context ends.
func (wl *workspaceLimiters) Wait(ctx context.Context, workspaceID string) error {
	now := time.Now()

	wl.mu.Lock()
	e, ok := wl.limiters[workspaceID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(wl.perSec, wl.burst)}
		wl.limiters[workspaceID] = e
	}
	e.lastSeen = now
	wl.sweepLocked(now)
	wl.mu.Unlock()

	return e.limiter.Wait(ctx)
}

// sweepLocked drops limiters idle past the TTL. Runs at most once per TTL
// window so the common path stays a map lookup.
func (wl *workspaceLimiters) sweepLocked(now time.Time) {
	if now.Sub(wl.lastSweep) < limiterIdleTTL {
		return
	}
	wl.lastSweep = now
	for id, e := range wl.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(wl.limiters, id)
		}
	}
}
