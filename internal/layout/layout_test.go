package layout

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ineilsen/agent-builder-sub002/internal/kv"
	"github.com/ineilsen/agent-builder-sub002/internal/poscache"
)

const eps = 1e-6

func near(a, b Point) bool {
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps
}

func finite(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

func ids(names ...string) []Node {
	out := make([]Node, len(names))
	for i, n := range names {
		out[i] = Node{ID: n}
	}
	return out
}

func positions(nodes []Node) map[string]Point {
	out := make(map[string]Point, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n.Position
	}
	return out
}

func TestComputeTreeWithFreeAgent(t *testing.T) {
	opts := DefaultOptions(1000, 800)
	c := opts.Center
	got := positions(Compute(ids("A", "B", "C", "D"), []Edge{{"A", "B"}, {"A", "C"}}, opts))

	if !near(got["A"], c) {
		t.Fatalf("root should be at centre, got %v", got["A"])
	}
	// 4*150 + 1*(200 + 100 + 40)
	r := 940.0
	if want := (Point{c.X, c.Y + r}); !near(got["B"], want) {
		t.Fatalf("B: want %v got %v", want, got["B"])
	}
	if want := (Point{c.X, c.Y - r}); !near(got["C"], want) {
		t.Fatalf("C: want %v got %v", want, got["C"])
	}
	if want := (Point{c.X + r + 100 + 100, c.Y}); !near(got["D"], want) {
		t.Fatalf("D: want %v got %v", want, got["D"])
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	nodes := ids("r", "a", "b", "c", "d", "e", "lonely")
	edges := []Edge{{"r", "a"}, {"r", "b"}, {"a", "c"}, {"a", "d"}, {"b", "e"}}
	opts := DefaultOptions(1200, 900)
	first := Compute(nodes, edges, opts)
	for i := 0; i < 10; i++ {
		if again := Compute(nodes, edges, opts); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
	for i, n := range first {
		if n.ID != nodes[i].ID {
			t.Fatalf("output order changed at %d: %s", i, n.ID)
		}
	}
}

func TestNestedSlices(t *testing.T) {
	opts := DefaultOptions(0, 0)
	got := positions(Radial(ids("r", "a", "b", "c"), []Edge{{"r", "a"}, {"r", "b"}, {"a", "c"}}, opts))

	// a owns 0..180, c is its only child at 90 degrees on the second ring.
	r2 := 4*150 + 2*(200+100+40.0)
	if want := (Point{0, r2}); !near(got["c"], want) {
		t.Fatalf("c: want %v got %v", want, got["c"])
	}
}

func TestCycleStillPlacesEveryNode(t *testing.T) {
	nodes := ids("A", "B", "C")
	edges := []Edge{{"A", "B"}, {"B", "C"}, {"C", "A"}}

	root, err := FindRoot(nodes, edges)
	if !errors.Is(err, ErrNoRoot) || root != "A" {
		t.Fatalf("expected ErrNoRoot with A, got %q %v", root, err)
	}

	out := Compute(nodes, edges, DefaultOptions(800, 600))
	for _, n := range out {
		if !finite(n.Position) {
			t.Fatalf("%s has non-finite position %v", n.ID, n.Position)
		}
	}
	if near(out[1].Position, out[2].Position) {
		t.Fatal("B and C should not overlap")
	}
}

func TestMultipleRoots(t *testing.T) {
	nodes := ids("A", "X", "B", "Y")
	edges := []Edge{{"A", "B"}, {"X", "Y"}}
	root, err := FindRoot(nodes, edges)
	if !errors.Is(err, ErrMultipleRoots) || root != "A" {
		t.Fatalf("expected ErrMultipleRoots with A, got %q %v", root, err)
	}

	got := positions(Radial(nodes, edges, DefaultOptions(0, 0)))
	for id, p := range got {
		if !finite(p) {
			t.Fatalf("%s not placed: %v", id, p)
		}
	}
	if near(got["X"], Point{}) {
		t.Fatal("unreached subtree root should hang below the chosen root")
	}
	if near(got["Y"], got["X"]) {
		t.Fatal("Y should sit on the ring outside X")
	}
}

func TestConnectedWithoutInternalEdges(t *testing.T) {
	opts := DefaultOptions(400, 400)
	// The edge target is not part of the node list.
	out := Compute(ids("A"), []Edge{{"A", "ghost"}}, opts)
	if !near(out[0].Position, opts.Center) {
		t.Fatalf("single connected node should sit at centre, got %v", out[0].Position)
	}

	two := positions(Compute(ids("A", "B"), []Edge{{"A", "ghost"}, {"B", "ghost"}}, opts))
	if want := (Point{opts.Center.X + 150, opts.Center.Y}); !near(two["A"], want) {
		t.Fatalf("A: want %v got %v", want, two["A"])
	}
	if want := (Point{opts.Center.X - 150, opts.Center.Y}); !near(two["B"], want) {
		t.Fatalf("B: want %v got %v", want, two["B"])
	}
}

func TestFreeAgentsUseEightSlotMinimum(t *testing.T) {
	opts := DefaultOptions(0, 0)
	got := ArrangeFree(ids("a", "b", "c"), nil, opts)
	r := 200.0
	step := math.Pi / 4
	for i, n := range got {
		want := Point{r * math.Cos(float64(i)*step), r * math.Sin(float64(i)*step)}
		if !near(n.Position, want) {
			t.Fatalf("%s: want %v got %v", n.ID, want, n.Position)
		}
	}

	many := ArrangeFree(ids("1", "2", "3", "4", "5", "6", "7", "8", "9", "10"), nil, opts)
	second := Point{r * math.Cos(2*math.Pi/10), r * math.Sin(2*math.Pi/10)}
	if !near(many[1].Position, second) {
		t.Fatalf("ten free agents should use ten slots, got %v", many[1].Position)
	}
}

func TestNodeSizeAffectsRingSpacing(t *testing.T) {
	nodes := []Node{{ID: "r"}, {ID: "a", Width: 300}}
	got := positions(Radial(nodes, []Edge{{"r", "a"}}, DefaultOptions(0, 0)))
	// 4*150 + (200 + 300 + 120), at 180 degrees
	if want := (Point{-1220, 0}); !near(got["a"], want) {
		t.Fatalf("want %v got %v", want, got["a"])
	}
}

func TestManagerUsesCache(t *testing.T) {
	cache, err := poscache.New(kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	m := NewManager("net1", cache, DefaultOptions(800, 600))
	nodes := ids("A", "B")
	edges := []Edge{{"A", "B"}}

	if m.HasCachedPositions() {
		t.Fatal("fresh cache should be empty")
	}
	first := m.Apply(nodes, edges, false)
	if !m.HasCachedPositions() {
		t.Fatal("apply should cache positions")
	}

	moved := []Node{{ID: "A", Position: Point{1, 2}}, {ID: "B", Position: Point{3, 4}}}
	if err = m.SavePositions(moved); err != nil {
		t.Fatalf("save: %v", err)
	}
	hit := positions(m.Apply(nodes, edges, false))
	if hit["A"] != (Point{1, 2}) || hit["B"] != (Point{3, 4}) {
		t.Fatalf("expected cached positions, got %v", hit)
	}

	forced := m.Force(nodes, edges)
	if !reflect.DeepEqual(forced, first) {
		t.Fatalf("forced layout should match a fresh computation")
	}

	grown := m.Apply(ids("A", "B", "C"), edges, false)
	if near(grown[2].Position, Point{}) || !finite(grown[2].Position) {
		t.Fatalf("new node should trigger a fresh layout, got %v", grown[2].Position)
	}

	if err = m.ClearCache(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if m.HasCachedPositions() {
		t.Fatal("clear should forget positions")
	}
}

func TestManagerWithoutCache(t *testing.T) {
	m := NewManager("net1", nil, DefaultOptions(100, 100))
	if out := m.Apply(ids("solo"), nil, false); !near(out[0].Position, Point{250, 50}) {
		t.Fatalf("solo free node: got %v", out[0].Position)
	}
	if m.Apply(nil, nil, false) != nil {
		t.Fatal("empty input yields nothing")
	}
}
