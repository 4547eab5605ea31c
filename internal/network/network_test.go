package network

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func newTestNetwork(t *testing.T, directed bool, size int) *Network {
	t.Helper()
	n := New(Schema{{Name: "f01", Kind: Categorical, Traits: 2}}, directed)
	for i := 0; i < size; i++ {
		if _, err := n.AddAgent(int64(i)); err != nil {
			t.Fatalf("AddAgent(%d) failed: %v", i, err)
		}
	}
	return n
}

func TestNetwork_TiesAndNeighbors(t *testing.T) {
	n := newTestNetwork(t, false, 4)
	for _, pair := range [][2]int64{{0, 1}, {2, 1}, {3, 0}} {
		if err := n.AddTie(pair[0], pair[1], 1); err != nil {
			t.Fatalf("AddTie(%v) failed: %v", pair, err)
		}
	}

	if got := n.Neighbors(1); !equalIDs(got, []int64{0, 2}) {
		t.Errorf("Neighbors(1) = %v, want [0 2]", got)
	}
	if !n.HasTie(1, 2) || !n.HasTie(2, 1) {
		t.Error("undirected tie should be visible from both ends")
	}
	if n.TieCount() != 3 {
		t.Errorf("TieCount() = %d, want 3", n.TieCount())
	}

	ties := n.Ties()
	want := []Tie{{0, 1, 1}, {0, 3, 1}, {1, 2, 1}}
	if len(ties) != len(want) {
		t.Fatalf("Ties() = %v, want %v", ties, want)
	}
	for i := range want {
		if ties[i] != want[i] {
			t.Errorf("Ties()[%d] = %v, want %v", i, ties[i], want[i])
		}
	}

	n.RemoveTie(1, 0)
	if n.HasTie(0, 1) {
		t.Error("RemoveTie(1, 0) should remove the undirected tie 0-1")
	}
	if n.Degree(1) != 1 {
		t.Errorf("Degree(1) = %d, want 1", n.Degree(1))
	}
}

func TestNetwork_SelfTieRejected(t *testing.T) {
	n := newTestNetwork(t, false, 2)
	if err := n.AddTie(1, 1, 1); !errors.Is(err, ErrSelfTie) {
		t.Errorf("AddTie(1, 1) error = %v, want ErrSelfTie", err)
	}
	if err := n.AddTie(0, 9, 1); err == nil {
		t.Error("AddTie with unknown agent should fail")
	}
}

func TestNetwork_Directed(t *testing.T) {
	n := newTestNetwork(t, true, 3)
	if err := n.AddTie(0, 1, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := n.AddTie(2, 1, 1); err != nil {
		t.Fatal(err)
	}

	if !n.HasTie(0, 1) || n.HasTie(1, 0) {
		t.Error("directed tie should only exist from 0 to 1")
	}
	if got := n.Neighbors(1); len(got) != 0 {
		t.Errorf("Neighbors(1) = %v, want none", got)
	}
	if got := n.Predecessors(1); !equalIDs(got, []int64{0, 2}) {
		t.Errorf("Predecessors(1) = %v, want [0 2]", got)
	}
	if w, ok := n.Weight(0, 1); !ok || w != 0.5 {
		t.Errorf("Weight(0, 1) = %v, %v; want 0.5, true", w, ok)
	}
	if !n.Connected() {
		t.Error("weakly connected directed network should report Connected")
	}
}

func TestNetwork_Components(t *testing.T) {
	n := newTestNetwork(t, false, 5)
	_ = n.AddTie(0, 1, 1)
	_ = n.AddTie(3, 4, 1)

	cc := n.Components()
	if len(cc) != 3 {
		t.Fatalf("Components() = %v, want 3 components", cc)
	}
	if !equalIDs(cc[0], []int64{0, 1}) || !equalIDs(cc[1], []int64{2}) || !equalIDs(cc[2], []int64{3, 4}) {
		t.Errorf("Components() = %v", cc)
	}
	if n.Connected() {
		t.Error("Connected() = true for a split network")
	}
}

func TestSnapshot(t *testing.T) {
	n := newTestNetwork(t, false, 2)
	before := n.Snapshot()
	n.Agent(1).Features[0] = 1
	after := n.Snapshot()

	if before.Equal(after) {
		t.Error("snapshots should differ after a mutation")
	}
	if got := after.Change(before); got != 1 {
		t.Errorf("Change() = %v, want 1", got)
	}
	if before[1][0] != 0 {
		t.Error("snapshot was mutated through the agent")
	}
}

func TestSchema(t *testing.T) {
	s := Schema{
		{Name: "f01", Kind: Categorical, Traits: 3},
		{Name: "f02", Kind: Continuous, Min: 0, Max: 1},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	idx, err := s.Subset([]string{"f02"})
	if err != nil || len(idx) != 1 || idx[0] != 1 {
		t.Errorf("Subset([f02]) = %v, %v", idx, err)
	}
	if _, err := s.Subset([]string{"nope"}); err == nil {
		t.Error("Subset with unknown name should fail")
	} else if !strings.Contains(err.Error(), "f01, f02") {
		t.Errorf("Subset error %q does not list the known features", err)
	}

	bad := []Schema{
		{{Name: "f01", Kind: Categorical}},
		{{Name: "f01", Kind: Continuous, Min: 1, Max: 1}},
		{{Name: "f01", Kind: Categorical, Traits: 2}, {Name: "f01", Kind: Categorical, Traits: 2}},
		{{Name: "", Kind: Categorical, Traits: 2}},
	}
	for i, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("bad schema %d validated", i)
		}
	}

	if got := s[1].Clip(1.5); got != 1 {
		t.Errorf("Clip(1.5) = %v, want 1", got)
	}
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name      string
		topology  string
		params    map[string]any
		agents    int
		ties      int
		wantError bool
	}{
		{name: "ring", topology: "ring", params: map[string]any{"num_agents": 10}, agents: 10, ties: 10},
		{name: "ring k=4", topology: "ring", params: map[string]any{"num_agents": 10, "num_neighbors": 4}, agents: 10, ties: 20},
		{name: "grid von neumann", topology: "grid", params: map[string]any{"num_agents": 16}, agents: 16, ties: 32},
		{name: "grid moore", topology: "grid", params: map[string]any{"num_agents": 16, "neighborhood": "moore"}, agents: 16, ties: 64},
		{name: "default grid", topology: "grid", agents: 49, ties: 98},
		{name: "complete", topology: "complete", params: map[string]any{"num_agents": 5}, agents: 5, ties: 10},
		{name: "edge list", topology: "edge_list", params: map[string]any{"num_agents": 3, "ties": []any{[]any{0, 1}, []any{1, 2}}}, agents: 3, ties: 2},
		{name: "random empty", topology: "random", params: map[string]any{"num_agents": 6, "tie_probability": 0}, agents: 6, ties: 0},
		{name: "random full", topology: "random", params: map[string]any{"num_agents": 6, "tie_probability": 1}, agents: 6, ties: 15},
		{name: "non-square grid", topology: "grid", params: map[string]any{"num_agents": 10}, wantError: true},
		{name: "odd ring degree", topology: "ring", params: map[string]any{"num_agents": 10, "num_neighbors": 3}, wantError: true},
		{name: "unknown", topology: "hypercube", wantError: true},
		{name: "unknown param", topology: "ring", params: map[string]any{"size": 3}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Generate(tt.topology, tt.params, rand.New(rand.NewSource(1)))
			if tt.wantError {
				if err == nil {
					t.Fatal("Generate() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Generate() error: %v", err)
			}
			if n.Len() != tt.agents {
				t.Errorf("Len() = %d, want %d", n.Len(), tt.agents)
			}
			if n.TieCount() != tt.ties {
				t.Errorf("TieCount() = %d, want %d", n.TieCount(), tt.ties)
			}
		})
	}
}

func TestGenerate_SmallWorldKeepsTieCount(t *testing.T) {
	n, err := Generate("small_world", map[string]any{"num_agents": 30, "num_neighbors": 4, "rewire_probability": 0.3}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if n.TieCount() > 60 {
		t.Errorf("TieCount() = %d, rewiring must never add ties", n.TieCount())
	}
}

func TestGenerate_DirectedRingIsSymmetric(t *testing.T) {
	n, err := Generate("ring", map[string]any{"num_agents": 5, "directed": true}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if !n.Directed() {
		t.Fatal("expected a directed network")
	}
	for _, tie := range n.Ties() {
		if !n.HasTie(tie.To, tie.From) {
			t.Errorf("tie %d->%d has no reverse", tie.From, tie.To)
		}
	}
}

func TestInitialize(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	t.Run("random categorical", func(t *testing.T) {
		n, _ := Generate("ring", map[string]any{"num_agents": 12}, rng)
		if err := Initialize("random_categorical", map[string]any{"num_features": 3, "num_traits": 4}, n, rng); err != nil {
			t.Fatal(err)
		}
		if got := n.Schema().Names(); !equalStrings(got, []string{"f01", "f02", "f03"}) {
			t.Errorf("schema names = %v", got)
		}
		for _, a := range n.Agents() {
			for _, v := range a.Features {
				if v < 0 || v > 3 || v != float64(int(v)) {
					t.Errorf("agent %d has invalid trait %v", a.ID, v)
				}
			}
		}
	})

	t.Run("random continuous", func(t *testing.T) {
		n, _ := Generate("complete", map[string]any{"num_agents": 8}, rng)
		if err := Initialize("random_continuous", map[string]any{"min": -1, "max": 1, "stubbornness": 0.2}, n, rng); err != nil {
			t.Fatal(err)
		}
		for _, a := range n.Agents() {
			if a.Features[0] < -1 || a.Features[0] > 1 {
				t.Errorf("agent %d value %v out of range", a.ID, a.Features[0])
			}
			if a.Stubbornness != 0.2 {
				t.Errorf("agent %d stubbornness = %v, want 0.2", a.ID, a.Stubbornness)
			}
		}
	})

	t.Run("correlated continuous", func(t *testing.T) {
		n, _ := Generate("complete", map[string]any{"num_agents": 8}, rng)
		if err := Initialize("correlated_continuous", map[string]any{"correlation": 1}, n, rng); err != nil {
			t.Fatal(err)
		}
		for _, a := range n.Agents() {
			if a.Features[0] != a.Features[1] {
				t.Errorf("agent %d: perfect correlation should copy f01, got %v", a.ID, a.Features)
			}
		}
	})

	t.Run("explicit", func(t *testing.T) {
		n, _ := Generate("complete", map[string]any{"num_agents": 3}, rng)
		p := map[string]any{
			"kind":     "categorical",
			"features": map[string]any{"a": []any{0, 1, 2}, "b": []any{1, 1, 1}},
		}
		if err := Initialize("explicit", p, n, rng); err != nil {
			t.Fatal(err)
		}
		if n.Schema()[0].Traits != 3 {
			t.Errorf("traits = %d, want 3", n.Schema()[0].Traits)
		}
		if v, _ := n.Agent(2).Feature(n.Schema(), "a"); v != 2 {
			t.Errorf("agent 2 feature a = %v, want 2", v)
		}
	})

	t.Run("errors", func(t *testing.T) {
		n, _ := Generate("complete", map[string]any{"num_agents": 3}, rng)
		if err := Initialize("nope", nil, n, rng); !errors.Is(err, ErrUnknownInitializer) {
			t.Errorf("unknown initializer error = %v", err)
		}
		if err := Initialize("explicit", map[string]any{"features": map[string]any{"a": []any{1}}}, n, rng); err == nil {
			t.Error("explicit with short value list should fail")
		}
		if err := Initialize("random_continuous", map[string]any{"stubbornness": 2}, n, rng); err == nil {
			t.Error("stubbornness above 1 should fail")
		}
	})
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
