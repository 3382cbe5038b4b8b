package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/promptgate/internal/config"
)

// keySet is one immutable snapshot of verification keys. Readers get the
// whole snapshot through an atomic pointer; refresh swaps it wholesale.
type keySet struct {
	keys      map[string][]byte // key id -> HS256 secret
	fetchedAt time.Time
}

// KeyCache holds token verification keys with TTL refresh from an optional
// remote endpoint. Refresh failures serve the last-known-good set; in
// fail-closed mode a set older than twice the TTL stops verifying.
type KeyCache struct {
	snapshot   atomic.Pointer[keySet]
	endpoint   string
	ttl        time.Duration
	failClosed bool
	httpClient *http.Client
}

func NewKeyCache(cfg *config.Config) *KeyCache {
	ttl := cfg.Auth.KeyCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	kc := &KeyCache{
		endpoint:   cfg.Auth.KeyEndpoint,
		ttl:        ttl,
		failClosed: cfg.Auth.FailClosed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	seed := make(map[string][]byte, len(cfg.Auth.SigningKeys))
	for kid, secret := range cfg.Auth.SigningKeys {
		seed[kid] = []byte(secret)
	}
	kc.snapshot.Store(&keySet{keys: seed, fetchedAt: time.Now()})
	return kc
}

// Lookup returns the secret for a key id.
func (kc *KeyCache) Lookup(kid string) ([]byte, error) {
	set := kc.snapshot.Load()
	if set == nil || len(set.keys) == 0 {
		return nil, fmt.Errorf("no verification keys available")
	}
	if kc.failClosed && kc.endpoint != "" && time.Since(set.fetchedAt) > 2*kc.ttl {
		return nil, fmt.Errorf("verification keys are stale")
	}
	secret, ok := set.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return secret, nil
}

// Run refreshes the key set from the configured endpoint every TTL until
// the context is cancelled. Without an endpoint the bootstrap set is final
// and Run returns immediately.
func (kc *KeyCache) Run(ctx context.Context) {
	if kc.endpoint == "" {
		return
	}

	kc.refresh(ctx)

	ticker := time.NewTicker(kc.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kc.refresh(ctx)
		}
	}
}

type keyEndpointResponse struct {
	Keys map[string]string `json:"keys"`
}

func (kc *KeyCache) refresh(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, kc.endpoint, nil)
	if err != nil {
		log.Warn().Err(err).Msg("key refresh request build failed, keeping current keys")
		return
	}

	resp, err := kc.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("key refresh failed, keeping current keys")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("key refresh returned non-200, keeping current keys")
		return
	}

	var payload keyEndpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("key refresh decode failed, keeping current keys")
		return
	}
	if len(payload.Keys) == 0 {
		log.Warn().Msg("key refresh returned empty set, keeping current keys")
		return
	}

	keys := make(map[string][]byte, len(payload.Keys))
	for kid, secret := range payload.Keys {
		keys[kid] = []byte(secret)
	}
	kc.snapshot.Store(&keySet{keys: keys, fetchedAt: time.Now()})
	log.Debug().Int("key_count", len(keys)).Msg("verification keys refreshed")
}
