package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Purger periodically drops audit partitions older than the retention
// window. One purger runs per deployment.
type Purger struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
}

// NewPurger creates a purger. Retention is expressed in days by the
// configuration surface; the caller converts.
func NewPurger(store *Store, retention, interval time.Duration) *Purger {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Purger{store: store, retention: retention, interval: interval}
}

// Run purges on startup and then on every tick, until ctx is cancelled.
// Purge failures are logged and retried on the next tick; they never
// propagate.
func (p *Purger) Run(ctx context.Context) {
	p.purge(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.purge(ctx)
		}
	}
}

func (p *Purger) purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	dropped, err := p.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("audit retention purge failed")
		return
	}
	if len(dropped) > 0 {
		log.Info().Strs("partitions", dropped).Msg("audit retention purge completed")
	}
}
