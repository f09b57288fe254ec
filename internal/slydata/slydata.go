// Package slydata caches the per-network SlyData editor contents.
package slydata

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ineilsen/agent-builder-sub002/internal/kv"
)

const (
	KeyPrefix = "nsflow-slydata-"
	Version   = "2.0"
)

// Entry is what a network's cache slot holds.
type Entry struct {
	Data   json.RawMessage `json:"data"`
	NextID int             `json:"nextId"`
}

type blob struct {
	Version     string          `json:"version"`
	Timestamp   int64           `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
	NextID      int             `json:"nextId"`
	NetworkName string          `json:"networkName"`
}

// Cache stores one SlyData blob per network.
type Cache struct {
	store kv.Store
	now   func() time.Time
}

func New(store kv.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// Key is the storage key of network.
func Key(network string) string {
	return KeyPrefix + network
}

// Save writes data for network. A zero nextID is stored as 1.
func (c *Cache) Save(network string, data json.RawMessage, nextID int) error {
	if network == "" {
		return nil
	}
	if nextID <= 0 {
		nextID = 1
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	raw, err := json.Marshal(blob{
		Version:     Version,
		Timestamp:   c.now().UnixMilli(),
		Data:        data,
		NextID:      nextID,
		NetworkName: network,
	})
	if err != nil {
		return fmt.Errorf("slydata encode: %w", err)
	}
	return c.store.Set(Key(network), raw)
}

// Load returns the cached entry of network. An entry written by another
// version or for another network is deleted and reported as a miss.
func (c *Cache) Load(network string) (Entry, bool, error) {
	if network == "" {
		return Entry{}, false, nil
	}
	key := Key(network)
	raw, ok, err := c.store.Get(key)
	if err != nil || !ok {
		return Entry{}, false, err
	}

	var b blob
	if err = json.Unmarshal(raw, &b); err != nil {
		slog.Warn("slydata cache corrupt, discarding", "network", network, "error", err)
		return Entry{}, false, c.store.Delete(key)
	}
	if b.Version != Version || (b.NetworkName != "" && b.NetworkName != network) {
		return Entry{}, false, c.store.Delete(key)
	}

	e := Entry{Data: b.Data, NextID: b.NextID}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		e.Data = json.RawMessage("{}")
	}
	if e.NextID <= 0 {
		e.NextID = 1
	}
	return e, true, nil
}

// Clear removes network's entry, or every SlyData entry when network is empty.
func (c *Cache) Clear(network string) error {
	if network != "" {
		return c.store.Delete(Key(network))
	}
	keys, err := c.store.Keys(KeyPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err = c.store.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Networks lists the networks that have a cached entry.
func (c *Cache) Networks() ([]string, error) {
	keys, err := c.store.Keys(KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(KeyPrefix):])
	}
	return out, nil
}
