package secret

// CachedStore is a read-through / write-through cache in front of another
// SecretStore. The cache is never authoritative: a miss always falls through
// to the backend and absent keys are never cached.
type CachedStore struct {
	backend SecretStore
	lock    poisonLock
	entries map[string]string
	// gen changes on every mutation so a Get that raced with a Set or
	// Delete does not put a stale backend read into the cache.
	gen uint64
}

var _ SecretStore = (*CachedStore)(nil)

// NewCachedStore wraps backend with an in-memory cache.
func NewCachedStore(backend SecretStore) *CachedStore {
	return &CachedStore{
		backend: backend,
		lock:    poisonLock{owner: "cache"},
		entries: make(map[string]string),
	}
}

// Backend returns the wrapped store.
func (c *CachedStore) Backend() SecretStore {
	return c.backend
}

func (c *CachedStore) Get(key string) (string, bool, error) {
	var (
		value string
		hit   bool
		gen   uint64
	)
	err := c.lock.read("get", key, func() error {
		value, hit = c.entries[key]
		gen = c.gen
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if hit {
		return value, true, nil
	}

	value, ok, err := c.backend.Get(key)
	if err != nil || !ok {
		return "", false, err
	}

	err = c.lock.write("get", key, func() error {
		if c.gen == gen {
			c.entries[key] = value
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set writes to the backend first; the cache only changes once the backend
// write succeeded.
func (c *CachedStore) Set(key, value string) error {
	if err := c.backend.Set(key, value); err != nil {
		return err
	}
	return c.lock.write("set", key, func() error {
		c.entries[key] = value
		c.gen++
		return nil
	})
}

// Delete removes from the backend first, then from the cache.
func (c *CachedStore) Delete(key string) error {
	if err := c.backend.Delete(key); err != nil {
		return err
	}
	return c.lock.write("delete", key, func() error {
		delete(c.entries, key)
		c.gen++
		return nil
	})
}

// Purge drops every cached entry. Later reads go to the backend.
func (c *CachedStore) Purge() error {
	return c.lock.write("purge", "", func() error {
		clear(c.entries)
		c.gen++
		return nil
	})
}
