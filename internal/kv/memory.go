package kv

import (
	"sort"
	"strings"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps entries in process memory. Entries never expire.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b := v.([]byte)
	return append([]byte(nil), b...), true, nil
}

func (m *MemoryStore) Set(key string, value []byte) error {
	m.c.Set(key, append([]byte(nil), value...), cache.NoExpiration)
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.c.Delete(key)
	return nil
}

func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	var keys []string
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
