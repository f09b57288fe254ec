// Package poscache remembers node positions per agent network between runs.
package poscache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ineilsen/agent-builder-sub002/internal/kv"
	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
)

const (
	Key       = "nsflow_agent_positions"
	Version   = "1.0"
	Retention = 30 * 24 * time.Hour
)

// Position is a node's canvas coordinate.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (p Position) valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Positions maps node id to position.
type Positions map[string]Position

// Viewport is the saved pan and zoom of a network's canvas.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Networks    int `json:"networks" yaml:"networks"`
	TotalAgents int `json:"total_agents" yaml:"total_agents"`
}

type networkEntry struct {
	Positions Positions `json:"positions"`
	Viewport  *Viewport `json:"viewport,omitempty"`
}

type blob struct {
	Version   string                   `json:"version"`
	Timestamp int64                    `json:"timestamp"`
	Positions map[string]*networkEntry `json:"positions"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock used for expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is the position cache. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	store    kv.Store
	now      func() time.Time
	networks map[string]*networkEntry
}

// New loads the cache from store. A stale, foreign-version or corrupt blob is
// deleted and the cache starts empty.
func New(store kv.Store, opts ...Option) (*Cache, error) {
	c := &Cache{store: store, now: time.Now, networks: map[string]*networkEntry{}}
	for _, o := range opts {
		o(c)
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load() error {
	raw, ok, err := c.store.Get(Key)
	if err != nil {
		return fmt.Errorf("position cache load: %w", err)
	}
	if !ok {
		return nil
	}

	var b blob
	if err = json.Unmarshal(raw, &b); err != nil {
		slog.Warn("position cache corrupt, discarding", "error", err)
		return c.store.Delete(Key)
	}
	expires := time.UnixMilli(b.Timestamp).Add(Retention)
	if b.Version != Version || !c.now().Before(expires) {
		slog.Info("position cache discarded", "version", b.Version, "expired", !c.now().Before(expires))
		return c.store.Delete(Key)
	}
	for name, entry := range b.Positions {
		if entry != nil {
			c.networks[name] = entry
		}
	}
	return nil
}

func (c *Cache) persistLocked() error {
	b := blob{Version: Version, Timestamp: c.now().UnixMilli(), Positions: c.networks}
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("position cache encode: %w", err)
	}
	return c.store.Set(Key, raw)
}

// Get returns the saved positions of network.
func (c *Cache) Get(network string) (Positions, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.networks[network]
	if !ok || len(entry.Positions) == 0 {
		return nil, false
	}
	return copyPositions(entry.Positions), true
}

// Lookup returns the positions for ids only when every id has a finite
// saved position. Anything less is a miss.
func (c *Cache) Lookup(network string, ids []string) (Positions, bool) {
	saved, ok := c.Get(network)
	if !ok || len(ids) == 0 {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	out := make(Positions, len(ids))
	for _, id := range ids {
		p, found := saved[id]
		if !found || !p.valid() {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
			return nil, false
		}
		out[id] = p
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return out, true
}

// Save replaces the saved positions of network. Non-finite positions are
// dropped; an empty result is ignored.
func (c *Cache) Save(network string, positions Positions) error {
	keep := make(Positions, len(positions))
	for id, p := range positions {
		if p.valid() {
			keep[id] = p
		}
	}
	if network == "" || len(keep) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networks[network] = &networkEntry{Positions: keep}
	return c.persistLocked()
}

// Viewport returns the saved viewport of network.
func (c *Cache) Viewport(network string) (Viewport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.networks[network]
	if !ok || entry.Viewport == nil {
		return Viewport{}, false
	}
	return *entry.Viewport, true
}

// SaveViewport records the viewport of network, keeping its positions.
func (c *Cache) SaveViewport(network string, vp Viewport) error {
	if network == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.networks[network]
	if !ok {
		entry = &networkEntry{Positions: Positions{}}
		c.networks[network] = entry
	}
	entry.Viewport = &vp
	return c.persistLocked()
}

// Clear forgets one network.
func (c *Cache) Clear(network string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.networks, network)
	return c.persistLocked()
}

// ClearAll forgets every network and removes the stored blob.
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networks = map[string]*networkEntry{}
	return c.store.Delete(Key)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Networks: len(c.networks)}
	for _, entry := range c.networks {
		s.TotalAgents += len(entry.Positions)
	}
	return s
}

func copyPositions(p Positions) Positions {
	out := make(Positions, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
