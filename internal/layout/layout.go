// Package layout places agent network nodes on a canvas: a radial tree for
// the connected part of the graph and a ring for agents with no edges.
package layout

import (
	"errors"
	"log/slog"
	"math"
)

var (
	ErrNoRoot        = errors.New("layout: no node without incoming edges")
	ErrMultipleRoots = errors.New("layout: several nodes without incoming edges")
)

const (
	defaultWidth  = 100.0
	defaultHeight = 50.0
	paddingFactor = 0.4
	minFreeSlots  = 8
	freeMargin    = 100.0
)

type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is an agent on the canvas. Zero Width or Height means the default size.
type Node struct {
	ID       string  `json:"id" yaml:"id"`
	Label    string  `json:"label,omitempty" yaml:"label,omitempty"`
	Width    float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height   float64 `json:"height,omitempty" yaml:"height,omitempty"`
	Position Point   `json:"position" yaml:"position"`
}

// Edge is a directed link from Source to Target.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

type Options struct {
	BaseRadius     float64
	LevelSpacing   float64
	FreeSpacing    float64
	FreeStartAngle float64 // radians
	Center         Point
}

// DefaultOptions centres the layout on a canvas of the given size.
func DefaultOptions(width, height float64) Options {
	return Options{
		BaseRadius:   150,
		LevelSpacing: 200,
		FreeSpacing:  100,
		Center:       Point{X: width / 2, Y: height / 2},
	}
}

// Compute returns nodes with fresh positions, in input order.
func Compute(nodes []Node, edges []Edge, opts Options) []Node {
	if len(nodes) == 0 {
		return nil
	}

	inEdge := make(map[string]bool)
	for _, e := range edges {
		inEdge[e.Source] = true
		inEdge[e.Target] = true
	}

	present := make(map[string]bool, len(nodes))
	var connected, free []Node
	for _, n := range nodes {
		present[n.ID] = true
		if inEdge[n.ID] {
			connected = append(connected, n)
		} else {
			free = append(free, n)
		}
	}

	var internal []Edge
	for _, e := range edges {
		if present[e.Source] && present[e.Target] {
			internal = append(internal, e)
		}
	}

	var placed []Node
	switch {
	case len(connected) > 0 && len(internal) > 0:
		placed = Radial(connected, internal, opts)
	case len(connected) > 0:
		placed = ArrangeCircle(connected, opts.BaseRadius, opts.Center)
	}
	placed = append(placed, ArrangeFree(free, placed, opts)...)

	byID := make(map[string]Point, len(placed))
	for _, n := range placed {
		byID[n.ID] = n.Position
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		n.Position = byID[n.ID]
		out[i] = n
	}
	return out
}

// FindRoot picks the node with no incoming edge. With none, the first node
// is returned with ErrNoRoot; with several, the first of them with
// ErrMultipleRoots.
func FindRoot(nodes []Node, edges []Edge) (string, error) {
	if len(nodes) == 0 {
		return "", ErrNoRoot
	}
	targeted := make(map[string]bool, len(edges))
	for _, e := range edges {
		targeted[e.Target] = true
	}
	var roots []string
	for _, n := range nodes {
		if !targeted[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	switch len(roots) {
	case 0:
		return nodes[0].ID, ErrNoRoot
	case 1:
		return roots[0], nil
	}
	return roots[0], ErrMultipleRoots
}

// Radial lays nodes out as a tree around opts.Center. Each child gets an
// equal slice of its parent's angular range and sits at the slice midpoint;
// ring radius grows with depth.
func Radial(nodes []Node, edges []Edge, opts Options) []Node {
	if len(nodes) == 0 {
		return nil
	}
	root, err := FindRoot(nodes, edges)
	if err != nil {
		slog.Warn("radial layout root ambiguous", "root", root, "error", err)
	}

	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.ID] = true
	}
	adj := make(map[string][]string)
	for _, e := range edges {
		if present[e.Source] && present[e.Target] {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}

	// Depth-first tree in edge order. The first parent to reach a node keeps it.
	children := make(map[string][]string)
	visited := map[string]bool{root: true}
	var walk func(id string)
	walk = func(id string) {
		for _, c := range adj[id] {
			if visited[c] {
				continue
			}
			visited[c] = true
			children[id] = append(children[id], c)
			walk(c)
		}
	}
	walk(root)
	for _, n := range nodes {
		if visited[n.ID] {
			continue
		}
		visited[n.ID] = true
		children[root] = append(children[root], n.ID)
		walk(n.ID)
	}

	size := maxNodeSize(nodes)
	ring := opts.LevelSpacing + size + paddingFactor*size
	pos := map[string]Point{root: opts.Center}

	var place func(id string, level int, start, end float64)
	place = func(id string, level int, start, end float64) {
		kids := children[id]
		if len(kids) == 0 {
			return
		}
		step := (end - start) / float64(len(kids))
		radius := 4*opts.BaseRadius + float64(level)*ring
		for i, c := range kids {
			from := start + float64(i)*step
			rad := (from + step/2) * math.Pi / 180
			pos[c] = Point{
				X: opts.Center.X + radius*math.Cos(rad),
				Y: opts.Center.Y + radius*math.Sin(rad),
			}
			place(c, level+1, from, from+step)
		}
	}
	place(root, 1, 0, 360)

	out := make([]Node, len(nodes))
	for i, n := range nodes {
		n.Position = pos[n.ID]
		out[i] = n
	}
	return out
}

// ArrangeCircle spaces nodes evenly on a circle. A single node sits at center.
func ArrangeCircle(nodes []Node, radius float64, center Point) []Node {
	out := make([]Node, len(nodes))
	if len(nodes) == 1 {
		out[0] = nodes[0]
		out[0].Position = center
		return out
	}
	step := 2 * math.Pi / float64(len(nodes))
	for i, n := range nodes {
		a := float64(i) * step
		n.Position = Point{X: center.X + radius*math.Cos(a), Y: center.Y + radius*math.Sin(a)}
		out[i] = n
	}
	return out
}

// ArrangeFree rings free nodes outside the bounding box of placed.
// At least eight slots are used so small sets do not spread around the whole circle.
func ArrangeFree(free, placed []Node, opts Options) []Node {
	if len(free) == 0 {
		return nil
	}
	c := opts.Center
	minX, maxX, minY, maxY := c.X, c.X, c.Y, c.Y
	for _, n := range placed {
		minX = math.Min(minX, n.Position.X)
		maxX = math.Max(maxX, n.Position.X)
		minY = math.Min(minY, n.Position.Y)
		maxY = math.Max(maxY, n.Position.Y)
	}
	cluster := math.Max(
		math.Max(math.Abs(maxX-c.X), math.Abs(minX-c.X)),
		math.Max(math.Abs(maxY-c.Y), math.Abs(minY-c.Y)),
	)
	radius := cluster + opts.FreeSpacing + freeMargin
	step := 2 * math.Pi / float64(max(len(free), minFreeSlots))

	out := make([]Node, len(free))
	for i, n := range free {
		a := opts.FreeStartAngle + float64(i)*step
		n.Position = Point{X: c.X + radius*math.Cos(a), Y: c.Y + radius*math.Sin(a)}
		out[i] = n
	}
	return out
}

func maxNodeSize(nodes []Node) float64 {
	size := 0.0
	for _, n := range nodes {
		w, h := n.Width, n.Height
		if w <= 0 {
			w = defaultWidth
		}
		if h <= 0 {
			h = defaultHeight
		}
		size = math.Max(size, math.Max(w, h))
	}
	return size
}
