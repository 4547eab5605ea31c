// Package visualization renders simulation networks in various output formats.
package visualization

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/measures"
	"github.com/nvandessel/defsim/internal/network"
)

// Format specifies the output format for network rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// regionColors are cycled over regions with more than one agent.
var regionColors = []string{
	"steelblue", "tomato", "mediumseagreen", "goldenrod",
	"orchid", "lightseagreen", "sandybrown", "slateblue",
}

// singletonColor fills agents that share their culture with no neighbor.
const singletonColor = "lightgray"

// tieStyle maps a tie's dissimilarity to a DOT style.
func tieStyle(d float64) string {
	switch {
	case d == 0:
		return "bold"
	case d >= 1:
		return "dotted"
	default:
		return "dashed"
	}
}

// RenderDOT produces a Graphviz representation of net. Agents are colored
// by region, ties styled and labeled by their dissimilarity over subset.
// A nil subset uses every feature.
func RenderDOT(net *network.Network, calc dissimilarity.Calculator, subset []int) string {
	subset = resolve(net, subset)
	region := regionIndex(measures.Regions(net, calc, subset))

	kind, arrow := "graph", "--"
	if net.Directed() {
		kind, arrow = "digraph", "->"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s defsim {\n", kind)
	b.WriteString("  layout=neato;\n")
	b.WriteString("  node [shape=circle, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=9];\n\n")

	schema := net.Schema()
	for _, a := range net.Agents() {
		color := singletonColor
		if r, ok := region[a.ID]; ok {
			color = regionColors[r%len(regionColors)]
		}
		fmt.Fprintf(&b, "  %d [fillcolor=%q, tooltip=%q];\n", a.ID, color, featureTooltip(schema, a))
	}
	b.WriteString("\n")

	for _, t := range dissimilarity.Ties(net, calc, subset) {
		fmt.Fprintf(&b, "  %d %s %d [style=%s, label=\"%.2f\"];\n",
			t.From, arrow, t.To, tieStyle(t.Dissimilarity), t.Dissimilarity)
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON-ready graph with nodes and edges arrays.
func RenderJSON(net *network.Network, calc dissimilarity.Calculator, subset []int) map[string]interface{} {
	subset = resolve(net, subset)
	regions := measures.Regions(net, calc, subset)
	region := make(map[int64]int, net.Len())
	for i, r := range regions {
		for _, id := range r {
			region[id] = i
		}
	}

	schema := net.Schema()
	jsonNodes := make([]map[string]interface{}, 0, net.Len())
	for _, a := range net.Agents() {
		features := make(map[string]float64, len(schema))
		for i, f := range schema {
			features[f.Name] = a.Features[i]
		}
		jsonNodes = append(jsonNodes, map[string]interface{}{
			"id":           a.ID,
			"features":     features,
			"stubbornness": a.Stubbornness,
			"degree":       net.Degree(a.ID),
			"region":       region[a.ID],
		})
	}

	ties := dissimilarity.Ties(net, calc, subset)
	jsonEdges := make([]map[string]interface{}, 0, len(ties))
	for _, t := range ties {
		jsonEdges = append(jsonEdges, map[string]interface{}{
			"source":        t.From,
			"target":        t.To,
			"weight":        t.Weight,
			"dissimilarity": t.Dissimilarity,
		})
	}

	return map[string]interface{}{
		"directed":     net.Directed(),
		"features":     schema,
		"nodes":        jsonNodes,
		"edges":        jsonEdges,
		"node_count":   len(jsonNodes),
		"edge_count":   len(jsonEdges),
		"region_count": len(regions),
	}
}

// regionIndex numbers the regions with more than one member.
func regionIndex(regions [][]int64) map[int64]int {
	index := make(map[int64]int)
	next := 0
	for _, r := range regions {
		if len(r) < 2 {
			continue
		}
		for _, id := range r {
			index[id] = next
		}
		next++
	}
	return index
}

func resolve(net *network.Network, subset []int) []int {
	if subset != nil {
		return subset
	}
	all := make([]int, len(net.Schema()))
	for i := range all {
		all[i] = i
	}
	return all
}

func featureTooltip(schema network.Schema, a *network.Agent) string {
	parts := make([]string, len(schema))
	for i, f := range schema {
		parts[i] = f.Name + "=" + strconv.FormatFloat(a.Features[i], 'g', 4, 64)
	}
	return strings.Join(parts, " ")
}
