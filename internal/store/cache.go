// ABOUTME: Read-through/write-through cache in front of the durable credential store.
// ABOUTME: Protocol keys are touched on nearly every message; durable reads happen once per key.

package store

import (
	"context"
	"sync"
)

// CachedStore wraps a CredentialStore with an in-memory layer. Reads are
// served from memory after the first durable hit; writes go to the durable
// store first and update the cache only on success. Negative results are not
// cached: a key that was absent is re-checked against the durable layer on
// the next read, which keeps a multi-process restore simple.
type CachedStore struct {
	durable CredentialStore

	mu    sync.Mutex
	creds *Credentials
	keys  map[string]map[string][]byte // keyType -> keyID -> value
}

// NewCachedStore wraps durable with a fresh empty cache.
func NewCachedStore(durable CredentialStore) *CachedStore {
	return &CachedStore{
		durable: durable,
		keys:    make(map[string]map[string][]byte),
	}
}

// Load returns the cached credentials, falling through to the durable store
// on first use.
func (c *CachedStore) Load(ctx context.Context) (*Credentials, error) {
	c.mu.Lock()
	if c.creds != nil {
		creds := c.creds
		c.mu.Unlock()
		return creds, nil
	}
	c.mu.Unlock()

	creds, err := c.durable.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return creds, nil
}

// SaveCredentials writes through to the durable store and then refreshes the
// cached record.
func (c *CachedStore) SaveCredentials(ctx context.Context, creds *Credentials) error {
	if err := c.durable.SaveCredentials(ctx, creds); err != nil {
		return err
	}

	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return nil
}

// GetKeys serves cached values and reads only the missing IDs from the
// durable store.
func (c *CachedStore) GetKeys(ctx context.Context, keyType string, ids []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(ids))
	var missing []string

	c.mu.Lock()
	byID := c.keys[keyType]
	for _, id := range ids {
		if value, ok := byID[id]; ok {
			result[id] = value
		} else {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.durable.GetKeys(ctx, keyType, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.keys[keyType] == nil {
		c.keys[keyType] = make(map[string][]byte)
	}
	for id, value := range fetched {
		c.keys[keyType][id] = value
		result[id] = value
	}
	c.mu.Unlock()

	return result, nil
}

// SetKeys writes through to the durable store; on success, deletions are
// evicted from the cache and upserts replace the cached values.
func (c *CachedStore) SetKeys(ctx context.Context, updates KeyUpdates) error {
	if err := c.durable.SetKeys(ctx, updates); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for keyType, byID := range updates {
		for id, value := range byID {
			if value == nil {
				delete(c.keys[keyType], id)
				continue
			}
			if c.keys[keyType] == nil {
				c.keys[keyType] = make(map[string][]byte)
			}
			c.keys[keyType][id] = value
		}
	}
	return nil
}

// ClearAll wipes the durable store and then the cache.
func (c *CachedStore) ClearAll(ctx context.Context) error {
	if err := c.durable.ClearAll(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.creds = nil
	c.keys = make(map[string]map[string][]byte)
	c.mu.Unlock()
	return nil
}

// Close closes the durable store.
func (c *CachedStore) Close() error {
	return c.durable.Close()
}

var _ CredentialStore = (*CachedStore)(nil)
