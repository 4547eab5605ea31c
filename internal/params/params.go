// Package params decodes loosely typed operator parameter maps, as they
// arrive from YAML or an expanded experiment space, into typed structs.
package params

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ErrInvalidParameter is returned when a parameter map names an unknown
// key or carries a value that cannot be converted to the target field.
var ErrInvalidParameter = errors.New("invalid parameter")

// Map is a loosely typed parameter mapping.
type Map map[string]any

// Decode copies values from m into out, a pointer to a struct whose fields
// are tagged with `param:"name"`. Fields absent from m keep their current
// value, so callers pre-populate out with defaults.
func Decode(m map[string]any, out any) error {
	if len(m) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "param",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("params: build decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return nil
}

// Merge returns a new map holding base overlaid with override. Neither
// input is modified.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
