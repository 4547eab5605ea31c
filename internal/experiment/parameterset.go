package experiment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/nvandessel/defsim/internal/simulation"
)

// Failure stages.
const (
	StageConfig = "config"
	StageSetup  = "setup"
	StageRun    = "run"
)

// ParameterSet is one combination of dimension values plus a repetition
// index. It is treated as immutable once built: Values must not be
// modified.
type ParameterSet struct {
	// ID identifies the combination; all repetitions share it.
	ID         string         `json:"id"`
	Repetition int            `json:"repetition"`
	Seed       int64          `json:"seed"`
	Values     map[string]any `json:"values"`
}

// Key identifies the unit of work.
func (p ParameterSet) Key() string {
	return fmt.Sprintf("%s/%d", p.ID, p.Repetition)
}

// Config decodes Values into a simulation configuration.
func (p ParameterSet) Config() (simulation.Config, error) {
	return simulation.ConfigFromValues(p.Values)
}

// Failure describes a unit of work that produced no rows.
type Failure struct {
	ParameterSetID string         `json:"parameter_set_id"`
	Repetition     int            `json:"repetition"`
	Seed           int64          `json:"seed"`
	Stage          string         `json:"stage"`
	Error          string         `json:"error"`
	Values         map[string]any `json:"values,omitempty"`
}

func failure(set ParameterSet, stage string, err error) Failure {
	return Failure{
		ParameterSetID: set.ID,
		Repetition:     set.Repetition,
		Seed:           set.Seed,
		Stage:          stage,
		Error:          err.Error(),
		Values:         set.Values,
	}
}

// Canonical returns the canonical encoding of a combination: JSON with
// map keys sorted.
func Canonical(values map[string]any) ([]byte, error) {
	return json.Marshal(values)
}

// CombinationID hashes a canonical encoding with 64-bit FNV-1a.
func CombinationID(canonical []byte) string {
	h := fnv.New64a()
	h.Write(canonical)
	return fmt.Sprintf("%016x", h.Sum64())
}

// DeriveSeed is the run seed for one repetition of a combination. It
// depends only on its arguments, so any worker reproduces the same run.
func DeriveSeed(experimentSeed int64, canonical []byte, repetition int) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(experimentSeed))
	h.Write(buf[:])
	h.Write(canonical)
	binary.LittleEndian.PutUint64(buf[:], uint64(repetition))
	h.Write(buf[:])
	return int64(h.Sum64() & math.MaxInt64)
}

// Expand crosses every combination of space with repetitions. Each
// combination is checked once; one that fails yields a Failure per
// repetition and no ParameterSets, leaving its siblings untouched.
// len(sets)+len(failures) == space.Size()*repetitions.
func Expand(space Space, repetitions int, experimentSeed int64) ([]ParameterSet, []Failure) {
	if repetitions < 1 {
		repetitions = 1
	}
	combos, err := space.Combinations()
	if err != nil {
		return nil, []Failure{{Repetition: -1, Stage: StageConfig, Error: err.Error()}}
	}

	var (
		sets     []ParameterSet
		failures []Failure
	)
	for _, values := range combos {
		canonical, err := Canonical(values)
		if err != nil {
			for r := 0; r < repetitions; r++ {
				failures = append(failures, Failure{Repetition: r, Stage: StageConfig, Error: err.Error(), Values: values})
			}
			continue
		}
		id := CombinationID(canonical)
		checkErr := check(values)
		for r := 0; r < repetitions; r++ {
			set := ParameterSet{
				ID:         id,
				Repetition: r,
				Seed:       DeriveSeed(experimentSeed, canonical, r),
				Values:     values,
			}
			if checkErr != nil {
				failures = append(failures, failure(set, StageConfig, checkErr))
				continue
			}
			sets = append(sets, set)
		}
	}
	return sets, failures
}

func check(values map[string]any) error {
	cfg, err := simulation.ConfigFromValues(values)
	if err != nil {
		return err
	}
	return simulation.Check(cfg)
}
