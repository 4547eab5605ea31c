// Package experiment expands a parameter space into independent runs,
// executes them serially or on a worker pool and collects flat result rows.
package experiment

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/nvandessel/defsim/internal/params"
)

// ErrUnknownDimension is returned for a space key that names no dimension.
var ErrUnknownDimension = errors.New("unknown dimension")

// Dimensions lists every key a Space accepts, in canonical order.
var Dimensions = []string{
	"attributes_initializer",
	"attributes_parameters",
	"communication_regime",
	"dissimilarity_measure",
	"focal_agent_selector",
	"focal_parameters",
	"history",
	"influence_function",
	"influence_parameters",
	"max_iterations",
	"modifier_parameters",
	"neighbor_parameters",
	"neighbor_selector",
	"network",
	"network_modifier",
	"network_parameters",
	"output_parameters",
	"sample_interval",
	"stop_condition",
	"stop_parameters",
}

// atomicDepth gives the list nesting depth at which a parameter is a
// single setting: a list of feature names, or a list of [from, to] pairs.
// One level deeper is a list of candidates.
var atomicDepth = map[string]int{
	"features":            1,
	"order":               1,
	"ties":                2,
	"stubbornness_values": 1,
}

// ConfigError reports a configuration problem tied to one dimension.
type ConfigError struct {
	Dimension string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dimension %s: %v", e.Dimension, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Space maps dimension names to candidate values. A scalar counts as a
// single candidate; a list holds several. Parameter dimensions (the
// *_parameters keys) take a map whose values expand the same way, or a
// list of such maps.
type Space map[string]any

// Validate rejects unknown dimensions and empty candidate lists.
func (s Space) Validate() error {
	known := make(map[string]bool, len(Dimensions))
	for _, d := range Dimensions {
		known[d] = true
	}
	for _, k := range s.keys() {
		if !known[k] {
			return &ConfigError{Dimension: k, Err: ErrUnknownDimension}
		}
		c, err := candidates(k, s[k])
		if err != nil {
			return &ConfigError{Dimension: k, Err: err}
		}
		if len(c) == 0 {
			return &ConfigError{Dimension: k, Err: errors.New("no candidate values")}
		}
	}
	return nil
}

// Size returns the number of combinations the space expands to, before
// repetitions.
func (s Space) Size() int {
	n := 1
	for _, k := range s.keys() {
		c, err := candidates(k, s[k])
		if err != nil {
			return 0
		}
		n *= len(c)
	}
	return n
}

func (s Space) keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Combinations returns the cartesian product of the space in canonical
// order: dimensions sorted by name, the last dimension varying fastest.
func (s Space) Combinations() ([]map[string]any, error) {
	keys := s.keys()
	lists := make([][]any, len(keys))
	for i, k := range keys {
		c, err := candidates(k, s[k])
		if err != nil {
			return nil, &ConfigError{Dimension: k, Err: err}
		}
		lists[i] = c
	}
	var out []map[string]any
	for _, combo := range product(lists) {
		m := make(map[string]any, len(keys))
		for i, k := range keys {
			m[k] = combo[i]
		}
		out = append(out, m)
	}
	return out, nil
}

// candidates lists the values one dimension can take.
func candidates(key string, v any) ([]any, error) {
	if strings.HasSuffix(key, "_parameters") {
		return parameterCandidates(v)
	}
	if list, ok := asList(v); ok {
		return list, nil
	}
	return []any{v}, nil
}

// parameterCandidates expands a parameter map, or a list of them, into
// every combination of its values.
func parameterCandidates(v any) ([]any, error) {
	if v == nil {
		return []any{map[string]any(nil)}, nil
	}
	if list, ok := asList(v); ok {
		var out []any
		for _, item := range list {
			c, err := parameterCandidates(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c...)
		}
		return out, nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("parameters must be a mapping, got %T", v)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lists := make([][]any, len(keys))
	for i, k := range keys {
		lists[i] = valueCandidates(k, m[k])
	}

	var out []any
	for _, combo := range product(lists) {
		p := make(map[string]any, len(keys))
		for i, k := range keys {
			p[k] = combo[i]
		}
		out = append(out, p)
	}
	return out, nil
}

func valueCandidates(key string, v any) []any {
	list, ok := asList(v)
	if !ok {
		return []any{v}
	}
	if depth, atomic := atomicDepth[key]; atomic && listDepth(v) <= depth {
		return []any{v}
	}
	return list
}

// listDepth is the deepest list nesting in v; a scalar has depth 0.
func listDepth(v any) int {
	list, ok := asList(v)
	if !ok {
		return 0
	}
	deepest := 0
	for _, item := range list {
		if d := listDepth(item); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// product returns the cartesian product of lists with the last list
// varying fastest. An empty input yields one empty combination.
func product(lists [][]any) [][]any {
	out := [][]any{{}}
	for _, list := range lists {
		next := make([][]any, 0, len(out)*len(list))
		for _, prefix := range out {
			for _, v := range list {
				combo := make([]any, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, v))
			}
		}
		out = next
	}
	return out
}

// asList converts any slice type to []any.
func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case params.Map:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
