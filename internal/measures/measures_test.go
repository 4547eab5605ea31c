package measures

import (
	"math"
	"testing"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
)

func build(t *testing.T, schema network.Schema, values [][]float64, ties [][2]int64) *network.Network {
	t.Helper()
	n := network.New(schema, false)
	for i, v := range values {
		a, err := n.AddAgent(int64(i))
		if err != nil {
			t.Fatal(err)
		}
		copy(a.Features, v)
	}
	for _, p := range ties {
		if err := n.AddTie(p[0], p[1], 1); err != nil {
			t.Fatal(err)
		}
	}
	return n
}

func TestCompute_Categorical(t *testing.T) {
	schema := network.Schema{
		{Name: "f01", Kind: network.Categorical, Traits: 2},
		{Name: "f02", Kind: network.Categorical, Traits: 2},
	}
	// Path 0-1-2-3-4: {0,1,2} share a culture, 3 differs by one feature, 4 by all.
	values := [][]float64{{0, 0}, {0, 0}, {0, 0}, {0, 1}, {1, 0}}
	n := build(t, schema, values, [][2]int64{{0, 1}, {1, 2}, {2, 3}, {3, 4}})

	m := Compute(n, dissimilarity.Hamming{}, []int{0, 1}, DefaultThresholds())
	if m.Regions != 3 {
		t.Errorf("Regions = %d, want 3", m.Regions)
	}
	if math.Abs(m.Homogeneity-0.6) > 1e-12 {
		t.Errorf("Homogeneity = %v, want 0.6", m.Homogeneity)
	}
	if m.Isolates != 2 {
		t.Errorf("Isolates = %d, want 2", m.Isolates)
	}
	if m.Zones != 2 {
		t.Errorf("Zones = %d, want 2", m.Zones)
	}
	if len(m.ClusterSizes) != 2 || m.ClusterSizes[0] != 4 || m.ClusterSizes[1] != 1 {
		t.Errorf("ClusterSizes = %v, want [4 1]", m.ClusterSizes)
	}
	if math.Abs(m.AverageDissimilarity-0.375) > 1e-12 {
		t.Errorf("AverageDissimilarity = %v, want 0.375", m.AverageDissimilarity)
	}
	if m.TieCount != 4 {
		t.Errorf("TieCount = %d, want 4", m.TieCount)
	}
	if m.FeatureMean != nil {
		t.Error("categorical features should not produce means")
	}
}

func TestCompute_Continuous(t *testing.T) {
	schema := network.Schema{{Name: "f01", Kind: network.Continuous, Min: 0, Max: 1}}
	n := build(t, schema, [][]float64{{0}, {0.5}, {1}, {1}}, [][2]int64{{0, 1}, {1, 2}, {2, 3}})

	m := Compute(n, dissimilarity.Euclidean{}, []int{0}, DefaultThresholds())
	if got := m.FeatureMean["f01"]; math.Abs(got-0.625) > 1e-12 {
		t.Errorf("mean = %v, want 0.625", got)
	}
	wantVar := (0.625*0.625 + 0.125*0.125 + 2*0.375*0.375) / 4
	if got := m.FeatureVariance["f01"]; math.Abs(got-wantVar) > 1e-12 {
		t.Errorf("variance = %v, want %v", got, wantVar)
	}
	flat := m.Flatten()
	if _, ok := flat["variance_f01"]; !ok {
		t.Errorf("Flatten() = %v, missing variance_f01", flat)
	}
	if flat["regions"] != 3 {
		t.Errorf("regions = %v, want 3", flat["regions"])
	}
}

func TestCompute_Thresholds(t *testing.T) {
	schema := network.Schema{
		{Name: "f01", Kind: network.Categorical, Traits: 2},
		{Name: "f02", Kind: network.Categorical, Traits: 2},
	}
	// Ring 0-1-2-3-0: dissimilarities 0, 0.5, 0.5, 1.
	values := [][]float64{{0, 0}, {0, 0}, {0, 1}, {1, 1}}
	n := build(t, schema, values, [][2]int64{{0, 1}, {1, 2}, {2, 3}, {3, 0}})

	tests := []struct {
		name         string
		th           Thresholds
		zones        int
		clusterSizes []int
	}{
		{name: "defaults", th: DefaultThresholds(), zones: 1, clusterSizes: []int{4}},
		{name: "half", th: Thresholds{Zones: 0.5, Clusters: 0.5}, zones: 3, clusterSizes: []int{2, 1, 1}},
		{name: "zero", th: Thresholds{Zones: 0, Clusters: 0}, zones: 4, clusterSizes: []int{1, 1, 1, 1}},
		{name: "split", th: Thresholds{Zones: 1, Clusters: 0.5}, zones: 1, clusterSizes: []int{2, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compute(n, dissimilarity.Hamming{}, []int{0, 1}, tt.th)
			if m.Zones != tt.zones {
				t.Errorf("Zones = %d, want %d", m.Zones, tt.zones)
			}
			if len(m.ClusterSizes) != len(tt.clusterSizes) {
				t.Fatalf("ClusterSizes = %v, want %v", m.ClusterSizes, tt.clusterSizes)
			}
			for i := range tt.clusterSizes {
				if m.ClusterSizes[i] != tt.clusterSizes[i] {
					t.Errorf("ClusterSizes = %v, want %v", m.ClusterSizes, tt.clusterSizes)
				}
			}
			// Regions and isolates ignore the thresholds.
			if m.Regions != 3 || m.Isolates != 2 {
				t.Errorf("Regions, Isolates = %d, %d, want 3, 2", m.Regions, m.Isolates)
			}
			flat := m.Flatten()
			if flat["zones"] != float64(tt.zones) || flat["clusters"] != float64(len(tt.clusterSizes)) {
				t.Errorf("Flatten() = %v", flat)
			}
			if flat["largest_cluster"] != float64(tt.clusterSizes[0]) {
				t.Errorf("largest_cluster = %v, want %d", flat["largest_cluster"], tt.clusterSizes[0])
			}
		})
	}
}

func TestIsolatesIgnoreOverlap(t *testing.T) {
	schema := network.Schema{
		{Name: "f01", Kind: network.Categorical, Traits: 2},
		{Name: "f02", Kind: network.Categorical, Traits: 2},
	}
	// Every tie sits at 0.5: agents still overlap but none shares a culture.
	values := [][]float64{{0, 0}, {0, 1}, {1, 1}}
	n := build(t, schema, values, [][2]int64{{0, 1}, {1, 2}})

	m := Compute(n, dissimilarity.Hamming{}, []int{0, 1}, DefaultThresholds())
	if m.Isolates != 3 {
		t.Errorf("Isolates = %d, want 3", m.Isolates)
	}
	if m.Zones != 1 {
		t.Errorf("Zones = %d, want 1", m.Zones)
	}
}

func TestNewThresholds(t *testing.T) {
	th, err := NewThresholds(map[string]any{"zones_threshold": 0.25})
	if err != nil {
		t.Fatal(err)
	}
	if th.Zones != 0.25 || th.Clusters != 1 {
		t.Errorf("NewThresholds() = %+v", th)
	}
	for _, p := range []map[string]any{
		{"zones_threshold": 1.5},
		{"cluster_threshold": -0.1},
		{"zone_threshold": 0.5},
	} {
		if _, err := NewThresholds(p); err == nil {
			t.Errorf("NewThresholds(%v) = nil error", p)
		}
	}
}

func TestCompute_Empty(t *testing.T) {
	m := Compute(network.New(nil, false), dissimilarity.Hamming{}, nil, DefaultThresholds())
	if m.Regions != 0 || m.Homogeneity != 0 {
		t.Errorf("Compute(empty) = %+v", m)
	}
}

func TestRegions(t *testing.T) {
	schema := network.Schema{
		{Name: "f01", Kind: network.Categorical, Traits: 2},
		{Name: "f02", Kind: network.Categorical, Traits: 2},
	}
	values := [][]float64{{0, 0}, {0, 0}, {0, 0}, {0, 1}, {1, 0}}
	n := build(t, schema, values, [][2]int64{{0, 1}, {1, 2}, {2, 3}, {3, 4}})

	got := Regions(n, dissimilarity.Hamming{}, []int{0, 1})
	want := [][]int64{{0, 1, 2}, {3}, {4}}
	if len(got) != len(want) {
		t.Fatalf("Regions() = %v, want %v", got, want)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("Regions()[%d] = %v, want %v", i, got[i], want[i])
		}
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("Regions()[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	}
}
