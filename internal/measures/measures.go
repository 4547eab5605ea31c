// Package measures summarizes the state of a network for result rows.
package measures

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
)

// Thresholds bound the dissimilarity at which a tie still joins two agents
// into one zone or cluster. A tie counts when d < threshold.
type Thresholds struct {
	Zones    float64 `param:"zones_threshold"`
	Clusters float64 `param:"cluster_threshold"`
}

// DefaultThresholds groups agents that still overlap on some feature.
func DefaultThresholds() Thresholds {
	return Thresholds{Zones: 1, Clusters: 1}
}

// NewThresholds decodes zones_threshold and cluster_threshold from p over
// the defaults.
func NewThresholds(p map[string]any) (Thresholds, error) {
	th := DefaultThresholds()
	if err := params.Decode(p, &th); err != nil {
		return Thresholds{}, fmt.Errorf("output parameters: %w", err)
	}
	for name, v := range map[string]float64{"zones_threshold": th.Zones, "cluster_threshold": th.Clusters} {
		if v < 0 || v > 1 {
			return Thresholds{}, fmt.Errorf("%w: %s must be in [0,1], got %v", params.ErrInvalidParameter, name, v)
		}
	}
	return th, nil
}

// Measures are the per-sample outcome columns.
type Measures struct {
	// Regions counts groups of agents linked by ties of zero dissimilarity.
	Regions int `json:"regions"`

	// Homogeneity is the share of agents in the largest region.
	Homogeneity float64 `json:"homogeneity"`

	// Isolates counts agents that form a region on their own.
	Isolates int `json:"isolates"`

	// Zones counts groups of agents linked by ties below the zones
	// threshold, where interaction is still possible.
	Zones int `json:"zones"`

	// ClusterSizes lists the size of each group linked by ties below the
	// cluster threshold, largest first.
	ClusterSizes []int `json:"cluster_sizes,omitempty"`

	AverageDissimilarity float64 `json:"average_dissimilarity"`
	TieCount             int     `json:"tie_count"`

	// FeatureMean and FeatureVariance cover continuous features only, keyed
	// by feature name.
	FeatureMean     map[string]float64 `json:"feature_mean,omitempty"`
	FeatureVariance map[string]float64 `json:"feature_variance,omitempty"`
}

// Compute measures net over the features in subset.
func Compute(net *network.Network, calc dissimilarity.Calculator, subset []int, th Thresholds) Measures {
	m := Measures{TieCount: net.TieCount()}
	if net.Len() == 0 {
		return m
	}

	ties := dissimilarity.Ties(net, calc, subset)
	total := 0.0
	for _, t := range ties {
		total += t.Dissimilarity
	}
	if len(ties) > 0 {
		m.AverageDissimilarity = total / float64(len(ties))
	}

	regions := components(net.IDs(), ties, func(d float64) bool { return d == 0 })
	m.Regions = len(regions)
	for _, size := range regions {
		if size == 1 {
			m.Isolates++
		}
	}
	m.Homogeneity = float64(regions[0]) / float64(net.Len())
	m.Zones = len(components(net.IDs(), ties, func(d float64) bool { return d < th.Zones }))
	m.ClusterSizes = components(net.IDs(), ties, func(d float64) bool { return d < th.Clusters })

	schema := net.Schema()
	agents := net.Agents()
	for _, f := range subset {
		if schema[f].Kind != network.Continuous {
			continue
		}
		if m.FeatureMean == nil {
			m.FeatureMean = make(map[string]float64)
			m.FeatureVariance = make(map[string]float64)
		}
		values := make([]float64, len(agents))
		for i, a := range agents {
			values[i] = a.Features[f]
		}
		mean, variance := stat.PopMeanVariance(values, nil)
		m.FeatureMean[schema[f].Name] = mean
		m.FeatureVariance[schema[f].Name] = variance
	}
	return m
}

// Regions returns the groups of agents linked by ties of zero
// dissimilarity, each sorted by id, ordered by their smallest member.
func Regions(net *network.Network, calc dissimilarity.Calculator, subset []int) [][]int64 {
	zero := func(d float64) bool { return d == 0 }
	cc := topo.ConnectedComponents(tieGraph(net.IDs(), dissimilarity.Ties(net, calc, subset), zero))
	out := make([][]int64, len(cc))
	for i, c := range cc {
		ids := make([]int64, len(c))
		for j, n := range c {
			ids[j] = n.ID()
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		out[i] = ids
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}

// components returns the component sizes, largest first, of the graph
// holding every agent and the ties whose dissimilarity passes keep.
func components(ids []int64, ties []dissimilarity.TieValue, keep func(float64) bool) []int {
	cc := topo.ConnectedComponents(tieGraph(ids, ties, keep))
	sizes := make([]int, len(cc))
	for i, c := range cc {
		sizes[i] = len(c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	return sizes
}

func tieGraph(ids []int64, ties []dissimilarity.TieValue, keep func(float64) bool) *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for _, id := range ids {
		g.AddNode(simple.Node(id))
	}
	for _, t := range ties {
		if keep(t.Dissimilarity) && t.From != t.To && !g.HasEdgeBetween(t.From, t.To) {
			g.SetEdge(g.NewEdge(simple.Node(t.From), simple.Node(t.To)))
		}
	}
	return g
}

// Flatten returns the measures as a flat column map, feature statistics
// prefixed with mean_ and variance_. Cluster sizes flatten to their count
// and the largest size.
func (m Measures) Flatten() map[string]float64 {
	out := map[string]float64{
		"regions":               float64(m.Regions),
		"homogeneity":           m.Homogeneity,
		"isolates":              float64(m.Isolates),
		"zones":                 float64(m.Zones),
		"clusters":              float64(len(m.ClusterSizes)),
		"average_dissimilarity": m.AverageDissimilarity,
		"tie_count":             float64(m.TieCount),
	}
	if len(m.ClusterSizes) > 0 {
		out["largest_cluster"] = float64(m.ClusterSizes[0])
	}
	for name, mean := range m.FeatureMean {
		out["mean_"+name] = mean
		out["variance_"+name] = m.FeatureVariance[name]
	}
	return out
}
