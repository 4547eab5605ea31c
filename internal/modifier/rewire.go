package modifier

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
)

// MaslovSneppen shuffles ties while preserving every agent's degree: two
// ties A-B and C-D become A-C and B-D when the four agents are distinct
// and neither new tie exists yet. Directed ties A->B, C->D become A->D,
// C->B so in- and out-degrees are kept.
type MaslovSneppen struct {
	Schedule `param:",squash"`

	// RewiringProp is the share of ties to swap per call.
	RewiringProp float64 `param:"rewiring_prop"`

	// RewiringExact, when positive, overrides RewiringProp.
	RewiringExact int `param:"rewiring_exact"`

	// MaxAttempts bounds the number of draws per requested swap.
	MaxAttempts int `param:"max_attempts"`
}

func (m *MaslovSneppen) validate() error {
	if m.RewiringProp < 0 || m.RewiringProp > 1 {
		return fmt.Errorf("rewiring_prop must be in [0,1], got %v", m.RewiringProp)
	}
	if m.RewiringExact < 0 {
		return fmt.Errorf("rewiring_exact must be non-negative, got %d", m.RewiringExact)
	}
	if m.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive, got %d", m.MaxAttempts)
	}
	return nil
}

func (*MaslovSneppen) Name() string { return "maslov_sneppen" }

// Swaps returns how many swaps a network with the given tie count gets.
func (m *MaslovSneppen) Swaps(ties int) int {
	if m.RewiringExact > 0 {
		return m.RewiringExact
	}
	return int(math.Round(m.RewiringProp * float64(ties)))
}

func (m *MaslovSneppen) Modify(net *network.Network, _ int64, _ []int64, _ dissimilarity.Calculator, rng *rand.Rand) (int, error) {
	ties := net.Ties()
	if len(ties) < 2 {
		return 0, nil
	}
	want := m.Swaps(len(ties))
	done := 0
	for attempts := 0; done < want && attempts < want*m.MaxAttempts; attempts++ {
		i := rng.Intn(len(ties))
		j := rng.Intn(len(ties))
		if i == j {
			continue
		}
		ab, cd := ties[i], ties[j]
		if !net.Directed() && rng.Intn(2) == 1 {
			cd.From, cd.To = cd.To, cd.From
		}
		if !m.swap(net, ab, cd) {
			continue
		}
		done++
		ties = net.Ties()
	}
	return done * 2, nil
}

func (m *MaslovSneppen) swap(net *network.Network, ab, cd network.Tie) bool {
	a, b, c, d := ab.From, ab.To, cd.From, cd.To
	if a == c || a == d || b == c || b == d {
		return false
	}
	// Undirected: A-B, C-D -> A-C, B-D. Directed: A->B, C->D -> A->D, C->B.
	x1, y1, x2, y2 := a, c, b, d
	if net.Directed() {
		x1, y1, x2, y2 = a, d, c, b
	}
	if net.HasTie(x1, y1) || net.HasTie(x2, y2) {
		return false
	}
	net.RemoveTie(a, b)
	net.RemoveTie(c, d)
	_ = net.AddTie(x1, y1, ab.Weight)
	_ = net.AddTie(x2, y2, cd.Weight)
	if m.AllowDisconnect || net.Connected() {
		return true
	}
	net.RemoveTie(x1, y1)
	net.RemoveTie(x2, y2)
	_ = net.AddTie(a, b, ab.Weight)
	_ = net.AddTie(c, d, cd.Weight)
	return false
}
