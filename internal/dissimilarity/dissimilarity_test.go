package dissimilarity

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/nvandessel/defsim/internal/network"
)

func agent(values ...float64) *network.Agent {
	return &network.Agent{Features: values}
}

func categorical(n, traits int) network.Schema {
	s := make(network.Schema, n)
	for i := range s {
		s[i] = network.Feature{Name: network.FeatureName(i), Kind: network.Categorical, Traits: traits}
	}
	return s
}

func continuous(n int, min, max float64) network.Schema {
	s := make(network.Schema, n)
	for i := range s {
		s[i] = network.Feature{Name: network.FeatureName(i), Kind: network.Continuous, Min: min, Max: max}
	}
	return s
}

func all(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func TestHamming(t *testing.T) {
	schema := categorical(4, 3)
	tests := []struct {
		name string
		a, b *network.Agent
		want float64
	}{
		{"identical", agent(0, 1, 2, 0), agent(0, 1, 2, 0), 0},
		{"all differ", agent(0, 0, 0, 0), agent(1, 2, 1, 2), 1},
		{"half differ", agent(0, 1, 2, 0), agent(0, 1, 0, 1), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Hamming{}).Measure(tt.a, tt.b, schema, all(4)); got != tt.want {
				t.Errorf("Measure() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := (Hamming{}).Measure(agent(0, 1), agent(1, 1), categorical(2, 2), []int{1}); got != 0 {
		t.Errorf("subset measure = %v, want 0", got)
	}
	if got := (Hamming{}).Measure(agent(0), agent(1), categorical(1, 2), nil); got != 0 {
		t.Errorf("empty subset = %v, want 0", got)
	}
}

func TestEuclideanAndManhattan(t *testing.T) {
	schema := continuous(2, 0, 10)
	a, b := agent(0, 0), agent(10, 10)
	c := agent(5, 0)

	if got := (Euclidean{}).Measure(a, b, schema, all(2)); math.Abs(got-1) > 1e-12 {
		t.Errorf("Euclidean extreme = %v, want 1", got)
	}
	want := math.Sqrt(0.25 / 2)
	if got := (Euclidean{}).Measure(a, c, schema, all(2)); math.Abs(got-want) > 1e-12 {
		t.Errorf("Euclidean = %v, want %v", got, want)
	}
	if got := (Manhattan{}).Measure(a, c, schema, all(2)); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("Manhattan = %v, want 0.25", got)
	}
	if got := (Euclidean{}).Measure(a, a, schema, all(2)); got != 0 {
		t.Errorf("Euclidean identical = %v, want 0", got)
	}
}

func TestMeasureProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	calcs := []Calculator{Hamming{}, Euclidean{}, Manhattan{}}
	schema := continuous(3, -1, 1)

	for i := 0; i < 200; i++ {
		a := agent(rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*2-1)
		b := agent(rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*2-1)
		before := append([]float64(nil), a.Features...)
		for _, c := range calcs {
			ab := c.Measure(a, b, schema, all(3))
			ba := c.Measure(b, a, schema, all(3))
			if ab < 0 || ab > 1 {
				t.Fatalf("%s out of range: %v", c.Name(), ab)
			}
			if ab != ba {
				t.Fatalf("%s not symmetric: %v vs %v", c.Name(), ab, ba)
			}
		}
		for j := range before {
			if before[j] != a.Features[j] {
				t.Fatal("Measure mutated an agent")
			}
		}
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"hamming", "euclidean", "manhattan", ""} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q) error: %v", name, err)
		}
	}
	if _, err := New("cosine"); !errors.Is(err, ErrUnknownMeasure) {
		t.Errorf("New(cosine) error = %v, want ErrUnknownMeasure", err)
	}
}

func TestTies(t *testing.T) {
	n := network.New(categorical(2, 2), false)
	for i := int64(0); i < 3; i++ {
		_, _ = n.AddAgent(i)
	}
	n.Agent(1).Features[0] = 1
	_ = n.AddTie(0, 1, 1)
	_ = n.AddTie(1, 2, 1)

	got := Ties(n, Hamming{}, all(2))
	if len(got) != 2 {
		t.Fatalf("Ties() returned %d values, want 2", len(got))
	}
	if got[0].Dissimilarity != 0.5 || got[1].Dissimilarity != 0.5 {
		t.Errorf("Ties() = %+v", got)
	}

	n.Agent(1).Features[0] = 0
	if got := Ties(n, Hamming{}, all(2)); got[0].Dissimilarity != 0 {
		t.Errorf("Ties() should reflect the changed feature, got %+v", got)
	}
}
