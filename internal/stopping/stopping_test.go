package stopping

import (
	"errors"
	"testing"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
)

func line(t *testing.T, values ...float64) *network.Network {
	t.Helper()
	n := network.New(network.Schema{{Name: "f01", Kind: network.Categorical, Traits: 3}}, false)
	for i, v := range values {
		a, err := n.AddAgent(int64(i))
		if err != nil {
			t.Fatal(err)
		}
		a.Features[0] = v
		if i > 0 {
			_ = n.AddTie(int64(i-1), int64(i), 1)
		}
	}
	return n
}

func TestStrict(t *testing.T) {
	c, err := New("strict_convergence", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	calc := dissimilarity.Hamming{}

	n := line(t, 1, 1, 2)
	if got := c.Check(1, n, calc); got != Running {
		t.Errorf("Check() = %v with a differing tie, want running", got)
	}
	n.Agent(2).Features[0] = 1
	if got := c.Check(2, n, calc); got != Converged {
		t.Errorf("Check() = %v, want converged", got)
	}
	for _, tie := range dissimilarity.Ties(n, calc, []int{0}) {
		if tie.Dissimilarity != 0 {
			t.Errorf("converged with tie %v at %v", tie.Tie, tie.Dissimilarity)
		}
	}

	// Agents without ties between them may differ.
	isolated := network.New(network.Schema{{Name: "f01", Kind: network.Categorical, Traits: 2}}, false)
	a, _ := isolated.AddAgent(0)
	_, _ = isolated.AddAgent(1)
	a.Features[0] = 1
	if got := c.Check(1, isolated, calc); got != Converged {
		t.Errorf("Check() = %v for an untied network, want converged", got)
	}
}

func TestStrict_StepSize(t *testing.T) {
	c, err := New("strict", map[string]any{"step_size": 10}, nil)
	if err != nil {
		t.Fatal(err)
	}
	n := line(t, 0, 0)
	if got := c.Check(5, n, dissimilarity.Hamming{}); got != Running {
		t.Errorf("off-step Check() = %v, want running", got)
	}
	if got := c.Check(10, n, dissimilarity.Hamming{}); got != Converged {
		t.Errorf("on-step Check() = %v, want converged", got)
	}
}

func TestDistance(t *testing.T) {
	calc := dissimilarity.Hamming{}
	c, err := New("distance_convergence", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	strict, _ := New("strict", nil, nil)

	// Ties at 0 and 1 only: no pair can still interact.
	frozen := line(t, 1, 1, 2)
	if got := c.Check(1, frozen, calc); got != Converged {
		t.Errorf("frozen Check() = %v, want converged", got)
	}
	if got := strict.Check(1, frozen, calc); got != Running {
		t.Errorf("strict Check() on frozen = %v, want running", got)
	}

	schema := network.Schema{
		{Name: "f01", Kind: network.Categorical, Traits: 2},
		{Name: "f02", Kind: network.Categorical, Traits: 2},
	}
	n := network.New(schema, false)
	a, _ := n.AddAgent(0)
	b, _ := n.AddAgent(1)
	_ = n.AddTie(0, 1, 1)
	b.Features[1] = 1
	if got := c.Check(1, n, calc); got != Running {
		t.Errorf("Check() at d=0.5 = %v, want running", got)
	}

	narrow, err := New("distance", map[string]any{"minimum": 0.5, "maximum": 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := narrow.Check(1, n, calc); got != Converged {
		t.Errorf("Check() at d=minimum = %v, want converged", got)
	}
	a.Features[1] = 1
	if got := c.Check(2, n, calc); got != Converged {
		t.Errorf("Check() after consensus = %v, want converged", got)
	}
}

func TestPragmatic(t *testing.T) {
	c, err := New("pragmatic_convergence", map[string]any{"window": 2, "epsilon": 0, "patience": 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	n := line(t, 0, 1)
	b := &Budget{Condition: c, MaxIterations: 100}
	if got := b.Start(n); got != Running {
		t.Fatalf("Start() = %v", got)
	}

	n.Agent(0).Features[0] = 1
	if got := b.Check(1, n, nil); got != Running {
		t.Errorf("tick 1 = %v, want running", got)
	}
	if got := b.Check(2, n, nil); got != Running {
		t.Errorf("tick 2 = %v, want running after a change", got)
	}
	if got := b.Check(4, n, nil); got != Running {
		t.Errorf("tick 4 = %v, want running with patience 2", got)
	}
	if got := b.Check(6, n, nil); got != Converged {
		t.Errorf("tick 6 = %v, want converged", got)
	}
}

func TestBudget(t *testing.T) {
	n := line(t, 0, 1)

	zero := &Budget{Condition: Never{}, MaxIterations: 0}
	if got := zero.Start(n); got != Exhausted {
		t.Errorf("zero budget Start() = %v, want exhausted", got)
	}

	b := &Budget{Condition: Never{}, MaxIterations: 3}
	for tick := 1; tick < 3; tick++ {
		if got := b.Check(tick, n, nil); got != Running {
			t.Errorf("tick %d = %v, want running", tick, got)
		}
	}
	if got := b.Check(3, n, nil); got != Exhausted {
		t.Errorf("tick 3 = %v, want exhausted", got)
	}

	strict, _ := New("strict", nil, nil)
	converged := &Budget{Condition: strict, MaxIterations: 1}
	if got := converged.Check(1, line(t, 2, 2), dissimilarity.Hamming{}); got != Converged {
		t.Errorf("convergence on the last tick = %v, want converged", got)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New("eventually", nil, nil); !errors.Is(err, ErrUnknownCondition) {
		t.Errorf("unknown condition error = %v", err)
	}
	for _, tc := range []struct {
		name string
		p    map[string]any
	}{
		{"strict", map[string]any{"step_size": 0}},
		{"distance", map[string]any{"minimum": 0.6, "maximum": 0.4}},
		{"distance", map[string]any{"maximum": 1.5}},
		{"distance", map[string]any{"step_size": 0}},
		{"pragmatic", map[string]any{"window": 0}},
		{"pragmatic", map[string]any{"epsilon": -1}},
		{"max_iterations", map[string]any{"window": 5}},
	} {
		if _, err := New(tc.name, tc.p, nil); err == nil {
			t.Errorf("New(%s, %v) should fail", tc.name, tc.p)
		}
	}
}

func TestStateString(t *testing.T) {
	if Converged.String() != "converged" || Exhausted.String() != "exhausted" || Running.String() != "running" {
		t.Error("unexpected State strings")
	}
}
