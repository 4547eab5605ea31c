package experiment

import (
	"sort"

	"github.com/nvandessel/defsim/internal/simulation"
)

// Row is one sampled tick of one run. Rows are self-describing: they carry
// the parameter set they came from, so their order carries no meaning.
type Row struct {
	ParameterSetID string `json:"parameter_set_id"`
	Repetition     int    `json:"repetition"`
	Seed           int64  `json:"seed"`

	// Tick is the sampled tick; Ticks is the length of the whole run.
	Tick                int  `json:"tick"`
	Ticks               int  `json:"ticks"`
	Converged           bool `json:"converged"`
	Exhausted           bool `json:"exhausted"`
	SuccessfulInfluence int  `json:"successful_influence"`

	// Params holds the flattened dimension values, e.g.
	// "influence_parameters.base_influence".
	Params   map[string]any     `json:"params"`
	Measures map[string]float64 `json:"measures"`
}

// Result aggregates the rows and failures of an experiment.
type Result struct {
	Rows     []Row     `json:"rows"`
	Failures []Failure `json:"failures,omitempty"`
}

// Merge appends other to r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Rows = append(r.Rows, other.Rows...)
	r.Failures = append(r.Failures, other.Failures...)
}

// Sort orders rows by parameter set, repetition and tick, and failures by
// parameter set and repetition, so output is stable whatever order the
// runs finished in.
func (r *Result) Sort() {
	sort.SliceStable(r.Rows, func(i, j int) bool {
		a, b := r.Rows[i], r.Rows[j]
		if a.ParameterSetID != b.ParameterSetID {
			return a.ParameterSetID < b.ParameterSetID
		}
		if a.Repetition != b.Repetition {
			return a.Repetition < b.Repetition
		}
		return a.Tick < b.Tick
	})
	sort.SliceStable(r.Failures, func(i, j int) bool {
		a, b := r.Failures[i], r.Failures[j]
		if a.ParameterSetID != b.ParameterSetID {
			return a.ParameterSetID < b.ParameterSetID
		}
		return a.Repetition < b.Repetition
	})
}

// Rows converts a finished run into one row per sample.
func Rows(set ParameterSet, res *simulation.Result) []Row {
	flat := Flatten(set.Values)
	rows := make([]Row, 0, len(res.History))
	for _, s := range res.History {
		rows = append(rows, Row{
			ParameterSetID:      set.ID,
			Repetition:          set.Repetition,
			Seed:                set.Seed,
			Tick:                s.Tick,
			Ticks:               res.Ticks,
			Converged:           res.Converged,
			Exhausted:           res.Exhausted,
			SuccessfulInfluence: res.SuccessfulInfluence,
			Params:              flat,
			Measures:            s.Measures.Flatten(),
		})
	}
	return rows
}

// Flatten turns nested parameter maps into dotted keys.
func Flatten(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if m, ok := asMap(v); ok {
			for pk, pv := range Flatten(m) {
				out[k+"."+pk] = pv
			}
			continue
		}
		out[k] = v
	}
	return out
}
