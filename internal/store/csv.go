package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/nvandessel/defsim/internal/experiment"
)

var csvFixedColumns = []string{
	"parameter_set_id", "repetition", "seed", "tick", "ticks",
	"converged", "exhausted", "successful_influence",
}

// WriteCSV writes rows as one table. Parameter and measure columns are the
// union over all rows, sorted by name; a row lacking a column leaves it
// empty.
func WriteCSV(w io.Writer, rows []experiment.Row) error {
	paramKeys := map[string]bool{}
	measureKeys := map[string]bool{}
	for _, row := range rows {
		for k := range row.Params {
			paramKeys[k] = true
		}
		for k := range row.Measures {
			measureKeys[k] = true
		}
	}
	params := sortedKeys(paramKeys)
	measures := sortedKeys(measureKeys)

	cw := csv.NewWriter(w)
	header := append([]string{}, csvFixedColumns...)
	header = append(header, params...)
	header = append(header, measures...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.ParameterSetID,
			strconv.Itoa(row.Repetition),
			strconv.FormatInt(row.Seed, 10),
			strconv.Itoa(row.Tick),
			strconv.Itoa(row.Ticks),
			strconv.FormatBool(row.Converged),
			strconv.FormatBool(row.Exhausted),
			strconv.Itoa(row.SuccessfulInfluence),
		}
		for _, k := range params {
			v, ok := row.Params[k]
			if !ok {
				record = append(record, "")
				continue
			}
			cell, err := csvValue(v)
			if err != nil {
				return fmt.Errorf("formatting %s: %w", k, err)
			}
			record = append(record, cell)
		}
		for _, k := range measures {
			v, ok := row.Measures[k]
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func csvValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	}
	// Lists and anything else nested keep their JSON form.
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
