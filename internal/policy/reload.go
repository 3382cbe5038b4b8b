package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Reloader refreshes the scanner's rule snapshot from the rule file, both
// on file-change events and on a periodic timer. A failed reload keeps the
// last-known-good snapshot in service.
type Reloader struct {
	scanner  *Scanner
	path     string
	interval time.Duration
}

// NewReloader creates a reloader for the given rule file.
func NewReloader(scanner *Scanner, path string, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reloader{scanner: scanner, path: path, interval: interval}
}

// Run watches the rule file and refreshes the snapshot. Blocks until ctx is
// cancelled. The fsnotify watcher is best-effort: when it cannot be set up,
// the periodic timer alone keeps the rules fresh.
func (r *Reloader) Run(ctx context.Context) error {
	if r.path == "" {
		return nil
	}

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if werr := watcher.Add(r.path); werr == nil {
			events = make(chan fsnotify.Event, 1)
			go forwardEvents(ctx, watcher, events)
		} else {
			log.Warn().Err(werr).Str("path", r.path).Msg("rule file watch failed, relying on timer refresh")
		}
	} else {
		log.Warn().Err(err).Msg("fsnotify unavailable, relying on timer refresh")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Debounce: wait 500ms after the last write before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case <-ticker.C:
			r.reload()

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, r.reload)
			}
		}
	}
}

// reload swaps in a fresh snapshot, or keeps the current one on failure.
func (r *Reloader) reload() {
	rules, err := LoadRuleFile(r.path)
	if err != nil {
		log.Error().Err(err).Str("path", r.path).Msg("rule reload failed, keeping last-known-good snapshot")
		return
	}
	if rules.Version == r.scanner.Current().Version {
		return
	}
	r.scanner.Swap(rules)
}

func forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, out chan<- fsnotify.Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			select {
			case out <- event:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(fmt.Errorf("watch error: %w", err)).Msg("rule file watcher error")
		}
	}
}
