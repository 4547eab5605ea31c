// Package dissimilarity measures how far apart two agents' feature vectors are.
package dissimilarity

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/defsim/internal/network"
)

// ErrUnknownMeasure is returned for an unrecognized measure name.
var ErrUnknownMeasure = errors.New("unknown dissimilarity measure")

// Calculator computes a value in [0,1] between two agents over the features
// listed in subset (schema indices). Implementations never mutate agents.
type Calculator interface {
	Measure(a, b *network.Agent, schema network.Schema, subset []int) float64
	Name() string
}

// New returns the named calculator: hamming, euclidean or manhattan.
func New(name string) (Calculator, error) {
	switch name {
	case "hamming", "":
		return Hamming{}, nil
	case "euclidean":
		return Euclidean{}, nil
	case "manhattan":
		return Manhattan{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMeasure, name)
	}
}

// Hamming is the fraction of features on which the agents differ.
type Hamming struct{}

func (Hamming) Name() string { return "hamming" }

func (Hamming) Measure(a, b *network.Agent, _ network.Schema, subset []int) float64 {
	if len(subset) == 0 {
		return 0
	}
	diff := 0
	for _, i := range subset {
		if a.Features[i] != b.Features[i] {
			diff++
		}
	}
	return float64(diff) / float64(len(subset))
}

// Euclidean is the range-normalized Euclidean distance divided by the
// largest distance the subset admits.
type Euclidean struct{}

func (Euclidean) Name() string { return "euclidean" }

func (Euclidean) Measure(a, b *network.Agent, schema network.Schema, subset []int) float64 {
	if len(subset) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range subset {
		d := scaled(a.Features[i], b.Features[i], schema[i])
		sum += d * d
	}
	return clamp(math.Sqrt(sum / float64(len(subset))))
}

// Manhattan is the mean range-normalized absolute difference.
type Manhattan struct{}

func (Manhattan) Name() string { return "manhattan" }

func (Manhattan) Measure(a, b *network.Agent, schema network.Schema, subset []int) float64 {
	if len(subset) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range subset {
		sum += scaled(a.Features[i], b.Features[i], schema[i])
	}
	return clamp(sum / float64(len(subset)))
}

// scaled returns |x-y| relative to the feature range; categorical features
// contribute 0 or 1.
func scaled(x, y float64, f network.Feature) float64 {
	if f.Kind == network.Categorical {
		if x == y {
			return 0
		}
		return 1
	}
	r := f.Range()
	if r <= 0 {
		return 0
	}
	return math.Abs(x-y) / r
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Between measures two agents of net by id.
func Between(net *network.Network, calc Calculator, u, v int64, subset []int) float64 {
	return calc.Measure(net.Agent(u), net.Agent(v), net.Schema(), subset)
}

// TieValue pairs a tie with its current dissimilarity.
type TieValue struct {
	network.Tie
	Dissimilarity float64
}

// Ties measures every tie of net. Values are recomputed on each call.
func Ties(net *network.Network, calc Calculator, subset []int) []TieValue {
	ties := net.Ties()
	out := make([]TieValue, len(ties))
	for i, t := range ties {
		out[i] = TieValue{Tie: t, Dissimilarity: Between(net, calc, t.From, t.To, subset)}
	}
	return out
}
