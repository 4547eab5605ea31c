package experiment

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/defsim/internal/metrics"
)

// linearSpace expands to 2 networks x 3 base influences x 2 budgets.
func linearSpace() Space {
	return Space{
		"network":                []any{"ring", "complete"},
		"network_parameters":     map[string]any{"num_agents": 8},
		"attributes_initializer": "random_continuous",
		"influence_function":     "weighted_linear",
		"influence_parameters":   map[string]any{"base_influence": []any{0.1, 0.2, 0.3}},
		"stop_condition":         "max_iterations",
		"max_iterations":         []any{10, 20},
	}
}

func TestExpand_Size(t *testing.T) {
	tests := []struct {
		name        string
		space       Space
		repetitions int
		want        int
	}{
		{"scalars only", Space{"network": "ring"}, 1, 1},
		{"linear space", linearSpace(), 3, 2 * 3 * 2 * 3},
		{"two parameter keys", Space{
			"attributes_initializer": "random_continuous",
			"influence_function":     "weighted_linear",
			"influence_parameters": map[string]any{
				"base_influence": []any{0.1, 0.5},
				"threshold":      []any{0, 0.3, 0.6},
			},
		}, 2, 2 * 3 * 2},
		{"list of parameter maps", Space{
			"stop_condition":  "pragmatic_convergence",
			"stop_parameters": []any{map[string]any{"window": []any{10, 20}}, map[string]any{"window": 50}},
		}, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets, failures := Expand(tt.space, tt.repetitions, 1)
			require.Empty(t, failures)
			assert.Len(t, sets, tt.want)
			assert.Equal(t, tt.want, tt.space.Size()*tt.repetitions)
		})
	}
}

func TestExpand_IDsAndSeeds(t *testing.T) {
	sets, failures := Expand(linearSpace(), 3, 42)
	require.Empty(t, failures)

	ids := map[string]int{}
	seeds := map[int64]bool{}
	for _, s := range sets {
		ids[s.ID]++
		assert.False(t, seeds[s.Seed], "seed %d reused", s.Seed)
		seeds[s.Seed] = true
	}
	assert.Len(t, ids, 12)
	for id, n := range ids {
		assert.Equal(t, 3, n, "combination %s", id)
	}

	again, _ := Expand(linearSpace(), 3, 42)
	require.Len(t, again, len(sets))
	for i := range sets {
		assert.Equal(t, sets[i].ID, again[i].ID)
		assert.Equal(t, sets[i].Seed, again[i].Seed)
	}

	other, _ := Expand(linearSpace(), 3, 43)
	assert.Equal(t, sets[0].ID, other[0].ID)
	assert.NotEqual(t, sets[0].Seed, other[0].Seed)
}

func TestExpand_AtomicLists(t *testing.T) {
	space := Space{
		"attributes_parameters": map[string]any{"num_features": 3},
		"influence_parameters":  map[string]any{"features": []any{"f01", "f02"}},
	}
	sets, failures := Expand(space, 1, 1)
	require.Empty(t, failures)
	require.Len(t, sets, 1)
	p := sets[0].Values["influence_parameters"].(map[string]any)
	assert.Equal(t, []any{"f01", "f02"}, p["features"])

	space["influence_parameters"] = map[string]any{"features": []any{[]any{"f01"}, []any{"f02", "f03"}}}
	sets, _ = Expand(space, 1, 1)
	assert.Len(t, sets, 2)
}

func TestExpand_EdgeListTies(t *testing.T) {
	space := Space{
		"network": "edge_list",
		"network_parameters": map[string]any{
			"num_agents": 3,
			"ties":       []any{[]any{0, 1}, []any{1, 2}},
		},
		"stop_condition": "max_iterations",
		"max_iterations": 5,
	}
	assert.Equal(t, 1, space.Size())
	sets, failures := Expand(space, 2, 1)
	require.Empty(t, failures)
	require.Len(t, sets, 2)

	res, err := (&Runner{Mode: Serial}).Run(context.Background(), sets)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 2.0, res.Rows[0].Measures["tie_count"])

	// A list of edge lists is two candidates.
	space["network_parameters"] = map[string]any{
		"num_agents": 3,
		"ties": []any{
			[]any{[]any{0, 1}},
			[]any{[]any{0, 1}, []any{1, 2}},
		},
	}
	assert.Equal(t, 2, space.Size())
	sets, failures = Expand(space, 1, 1)
	require.Empty(t, failures)
	assert.Len(t, sets, 2)
}

func TestExpand_FailuresStayLocal(t *testing.T) {
	space := Space{
		"influence_function": []any{"similarity_adoption", "telepathy"},
		"max_iterations":     10,
	}
	sets, failures := Expand(space, 2, 1)
	assert.Len(t, sets, 2)
	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.Equal(t, StageConfig, f.Stage)
		assert.Contains(t, f.Error, "telepathy")
		assert.NotEmpty(t, f.ParameterSetID)
	}
}

func TestSpace_Validate(t *testing.T) {
	require.NoError(t, linearSpace().Validate())

	err := Space{"colour": "red"}.Validate()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "colour", cfgErr.Dimension)
	assert.ErrorIs(t, err, ErrUnknownDimension)

	assert.Error(t, Space{"network": []any{}}.Validate())
	assert.Error(t, Space{"influence_parameters": 3}.Validate())
}

func TestFlatten(t *testing.T) {
	flat := Flatten(map[string]any{
		"network":              "ring",
		"influence_parameters": map[string]any{"base_influence": 0.1},
	})
	assert.Equal(t, map[string]any{
		"network":                             "ring",
		"influence_parameters.base_influence": 0.1,
	}, flat)
}

func TestChunks(t *testing.T) {
	sets := make([]ParameterSet, 7)
	chunks := Chunks(sets, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[2], 1)
	assert.Len(t, Chunks(sets, 0), 7)
	assert.Empty(t, Chunks(nil, 3))
}

func TestRunner_SerialAndParallelAgree(t *testing.T) {
	space := linearSpace()
	space["history"] = "full"
	space["sample_interval"] = 5
	sets, failures := Expand(space, 2, 7)
	require.Empty(t, failures)

	serial, err := (&Runner{Mode: Serial}).Run(context.Background(), sets)
	require.NoError(t, err)
	parallel, err := (&Runner{Mode: Parallel, NumWorkers: 4, ChunkSize: 3}).Run(context.Background(), sets)
	require.NoError(t, err)

	require.Empty(t, serial.Failures)
	require.Equal(t, len(serial.Rows), len(parallel.Rows))
	for i := range serial.Rows {
		assert.Equal(t, serial.Rows[i].ParameterSetID, parallel.Rows[i].ParameterSetID)
		assert.Equal(t, serial.Rows[i].Repetition, parallel.Rows[i].Repetition)
		assert.Equal(t, serial.Rows[i].Tick, parallel.Rows[i].Tick)
		assert.Equal(t, serial.Rows[i].Measures, parallel.Rows[i].Measures)
	}

	// Every run is sampled at tick 0, every 5 ticks and its final tick.
	for _, row := range serial.Rows {
		assert.True(t, row.Exhausted)
		assert.Zero(t, row.Tick%5)
		assert.LessOrEqual(t, row.Tick, row.Ticks)
	}
}

func TestRunner_FailuresDoNotStopSiblings(t *testing.T) {
	space := Space{
		"network":            "complete",
		"network_parameters": map[string]any{"num_agents": []any{0, 6}},
		"max_iterations":     50,
	}
	sets, failures := Expand(space, 3, 1)
	require.Empty(t, failures)
	require.Len(t, sets, 6)

	m := metrics.New()
	for _, mode := range []string{Serial, Parallel} {
		res, err := (&Runner{Mode: mode, NumWorkers: 2, Metrics: m}).Run(context.Background(), sets)
		require.NoError(t, err)
		assert.Len(t, res.Rows, 3, mode)
		require.Len(t, res.Failures, 3, mode)
		for _, f := range res.Failures {
			assert.Equal(t, StageSetup, f.Stage)
		}
	}
	assert.Equal(t, 6.0, testutil.ToFloat64(m.RunsFailed.WithLabelValues(StageSetup)))
}

// panicHandler is a slog handler that panics on one message.
type panicHandler struct{ msg string }

func (h panicHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h panicHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h panicHandler) WithGroup(string) slog.Handler           { return h }

func (h panicHandler) Handle(_ context.Context, rec slog.Record) error {
	if rec.Message == h.msg {
		panic("handler blew up")
	}
	return nil
}

func TestRunner_PanicBecomesFailure(t *testing.T) {
	space := Space{
		"network":            "complete",
		"network_parameters": map[string]any{"num_agents": 4},
		"max_iterations":     5,
	}
	sets, failures := Expand(space, 2, 1)
	require.Empty(t, failures)

	m := metrics.New()
	logger := slog.New(panicHandler{msg: "run finished"})
	for _, mode := range []string{Serial, Parallel} {
		res, err := (&Runner{Mode: mode, NumWorkers: 2, Logger: logger, Metrics: m}).Run(context.Background(), sets)
		require.NoError(t, err, mode)
		assert.Empty(t, res.Rows, mode)
		require.Len(t, res.Failures, 2, mode)
		for _, f := range res.Failures {
			assert.Equal(t, StageRun, f.Stage)
			assert.Contains(t, f.Error, "handler blew up")
		}
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RunsFailed.WithLabelValues(StageRun)))
}

func TestRunner_Cancelled(t *testing.T) {
	sets, _ := Expand(linearSpace(), 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, mode := range []string{Serial, Parallel} {
		_, err := (&Runner{Mode: mode}).Run(ctx, sets)
		assert.ErrorIs(t, err, context.Canceled, mode)
	}
}

func TestRunner_UnknownMode(t *testing.T) {
	_, err := (&Runner{Mode: "cluster"}).Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestResult_Sort(t *testing.T) {
	r := &Result{Rows: []Row{
		{ParameterSetID: "b", Repetition: 0, Tick: 0},
		{ParameterSetID: "a", Repetition: 1, Tick: 10},
		{ParameterSetID: "a", Repetition: 1, Tick: 0},
		{ParameterSetID: "a", Repetition: 0, Tick: 5},
	}}
	r.Sort()
	got := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		got[i] = row.ParameterSetID
	}
	assert.Equal(t, []string{"a", "a", "a", "b"}, got)
	assert.Equal(t, 0, r.Rows[0].Repetition)
	assert.Equal(t, 0, r.Rows[1].Tick)
	assert.Equal(t, 10, r.Rows[2].Tick)
}

func TestEstimateRuntime(t *testing.T) {
	sets, _ := Expand(linearSpace(), 2, 1)
	est, err := EstimateRuntime(context.Background(), sets, 4, 5)
	require.NoError(t, err)

	assert.Equal(t, len(sets), est.Runs)
	assert.Equal(t, 4, est.SampledRuns)
	assert.Equal(t, 5, est.SampleSteps)
	assert.Greater(t, int64(est.Total), int64(0))
	assert.Empty(t, est.Warnings)
	assert.Equal(t, est.Total/2, est.Wall(2))

	_, err = EstimateRuntime(context.Background(), nil, 1, 1)
	assert.Error(t, err)
}

func TestEstimateRuntime_WarnsOnConvergence(t *testing.T) {
	sets, _ := Expand(Space{"max_iterations": 100}, 1, 1)
	est, err := EstimateRuntime(context.Background(), sets, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleSteps, est.SampleSteps)
	assert.NotEmpty(t, est.Warnings)
}
