package layout

import (
	"log/slog"
	"time"

	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
	"github.com/ineilsen/agent-builder-sub002/internal/poscache"
)

// Manager lays out one network, reusing cached positions when every node has one.
type Manager struct {
	network string
	opts    Options
	cache   *poscache.Cache
}

// NewManager returns a manager for network. A nil cache disables caching.
func NewManager(network string, cache *poscache.Cache, opts Options) *Manager {
	return &Manager{network: network, opts: opts, cache: cache}
}

// Apply returns positioned nodes. Unless force is set, cached positions are
// used when they cover every node; otherwise a fresh layout is computed and cached.
func (m *Manager) Apply(nodes []Node, edges []Edge, force bool) []Node {
	if len(nodes) == 0 {
		return nil
	}

	if !force && m.cache != nil {
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		if cached, ok := m.cache.Lookup(m.network, ids); ok {
			out := make([]Node, len(nodes))
			for i, n := range nodes {
				p := cached[n.ID]
				n.Position = Point{X: p.X, Y: p.Y}
				out[i] = n
			}
			return out
		}
	}

	start := time.Now()
	out := Compute(nodes, edges, m.opts)
	metrics.LayoutDuration.Observe(time.Since(start).Seconds())

	if err := m.SavePositions(out); err != nil {
		slog.Warn("layout cache save failed", "network", m.network, "error", err)
	}
	return out
}

// Force recomputes the layout, ignoring cached positions.
func (m *Manager) Force(nodes []Node, edges []Edge) []Node {
	return m.Apply(nodes, edges, true)
}

// SavePositions stores the current positions of nodes.
func (m *Manager) SavePositions(nodes []Node) error {
	if m.cache == nil {
		return nil
	}
	positions := make(poscache.Positions, len(nodes))
	for _, n := range nodes {
		positions[n.ID] = poscache.Position{X: n.Position.X, Y: n.Position.Y}
	}
	return m.cache.Save(m.network, positions)
}

// ClearCache forgets the network's cached positions.
func (m *Manager) ClearCache() error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Clear(m.network)
}

func (m *Manager) HasCachedPositions() bool {
	if m.cache == nil {
		return false
	}
	_, ok := m.cache.Get(m.network)
	return ok
}
