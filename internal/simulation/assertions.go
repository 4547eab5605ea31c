package simulation

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/defsim/internal/dissimilarity"
)

// AssertConverged asserts that the run ended by convergence and that every
// tie then joins agents with zero dissimilarity under calc.
func AssertConverged(t *testing.T, res *Result, calc dissimilarity.Calculator) {
	t.Helper()
	if !res.Converged {
		t.Fatalf("AssertConverged: run did not converge (ticks=%d, exhausted=%v)", res.Ticks, res.Exhausted)
	}
	if res.Exhausted {
		t.Errorf("AssertConverged: run is flagged both converged and exhausted")
	}
	net := res.Network
	for _, tie := range dissimilarity.Ties(net, calc, nil) {
		if tie.Dissimilarity != 0 {
			t.Errorf("AssertConverged: tie %d-%d has dissimilarity %.4f", tie.From, tie.To, tie.Dissimilarity)
		}
	}
}

// AssertSameHistory asserts that two runs sampled identical states at
// identical ticks.
func AssertSameHistory(t *testing.T, a, b *Result) {
	t.Helper()
	if a.Ticks != b.Ticks {
		t.Fatalf("AssertSameHistory: ticks %d != %d", a.Ticks, b.Ticks)
	}
	if len(a.History) != len(b.History) {
		t.Fatalf("AssertSameHistory: %d samples != %d samples", len(a.History), len(b.History))
	}
	for i := range a.History {
		if a.History[i].Tick != b.History[i].Tick {
			t.Errorf("AssertSameHistory: sample %d at tick %d vs %d", i, a.History[i].Tick, b.History[i].Tick)
			continue
		}
		if !a.History[i].State.Equal(b.History[i].State) {
			t.Errorf("AssertSameHistory: states differ at tick %d", a.History[i].Tick)
		}
	}
	if a.SuccessfulInfluence != b.SuccessfulInfluence {
		t.Errorf("AssertSameHistory: successful influence %d != %d", a.SuccessfulInfluence, b.SuccessfulInfluence)
	}
}

// AssertFeatureMeanWithin asserts that the mean of feature column f stays
// in [min, max] in every sample.
func AssertFeatureMeanWithin(t *testing.T, res *Result, f int, min, max float64) {
	t.Helper()
	for _, s := range res.History {
		m := stat.Mean(column(s, f), nil)
		if math.IsNaN(m) || m < min || m > max {
			t.Errorf("AssertFeatureMeanWithin: tick %d: mean %.6f not in [%.4f, %.4f]", s.Tick, m, min, max)
		}
	}
}

// AssertVarianceDecreases asserts that the population variance of feature
// column f at the last sample is strictly below the first.
func AssertVarianceDecreases(t *testing.T, res *Result, f int) {
	t.Helper()
	if len(res.History) < 2 {
		t.Fatalf("AssertVarianceDecreases: need at least two samples, got %d", len(res.History))
	}
	first := res.History[0]
	last := res.History[len(res.History)-1]
	_, before := stat.PopMeanVariance(column(first, f), nil)
	_, after := stat.PopMeanVariance(column(last, f), nil)
	if !(after < before) {
		t.Errorf("AssertVarianceDecreases: variance %.6f at tick %d, %.6f at tick %d", before, first.Tick, after, last.Tick)
	}
}

func column(s Sample, f int) []float64 {
	out := make([]float64, len(s.State))
	for i, row := range s.State {
		out[i] = row[f]
	}
	return out
}
