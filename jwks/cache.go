package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Cache fetches a remote JWKS document and caches the decoded keys for a
// bounded interval. The key map is replaced wholesale under the lock, so
// concurrent verifications observe either the previous or the new set,
// never a partially updated one.
type Cache struct {
	url        string
	httpClient *http.Client
	refresh    time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewCache creates a cache for the JWKS document at url. refresh bounds how
// long a fetched key set is reused before the next lookup re-fetches it.
func NewCache(url string, refresh time.Duration, httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Cache{
		url:        url,
		httpClient: httpClient,
		refresh:    refresh,
	}
}

// Key returns the public key with the given id, refreshing the cached set
// when it is stale or does not contain the id. An unknown kid after a fresh
// fetch is an error: verification must fail closed rather than guess.
func (c *Cache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.fetchedAt) < c.refresh
	c.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := c.Refresh(ctx); err != nil {
		// Serve the previously fetched key if we have one: rotation keeps
		// old keys advertised, so a stale hit is still a valid key.
		if ok {
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("signing key %q not present in published key set", kid)
	}
	return key, nil
}

// Refresh fetches the JWKS document and swaps in the decoded keys.
func (c *Cache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("building jwks request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching jwks from %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decoding jwks document: %w", err)
	}

	keys := set.KeysByID()
	if len(keys) == 0 {
		return fmt.Errorf("jwks document contains no usable keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}
