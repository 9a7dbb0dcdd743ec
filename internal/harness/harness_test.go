package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/testutil"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestRun_FailedExpectationFailsResult(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "expects two units where the remote has one",
		Kind:        model.KindDelivery,
		Identity:    "driver-1",
		Online:      true,
		WorkUnits:   []WorkUnitFixture{{ID: "D-1", Lat: ptr(4.6097), Lng: ptr(-74.0817)}},
		Steps: []Step{
			{Sync: &SyncStep{Expect: &SyncExpect{Downloaded: ptr(2)}}},
		},
		Assertions: []Assertion{
			{Type: AssertCallCount, Op: testutil.OpFetch, Count: 3},
		},
	}

	result, err := RunIn(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected downloaded=2, got 1")
	assert.Contains(t, result.Errors[1], "3 calls of fetch")
}

func TestRun_OfflineStartSkipsRemote(t *testing.T) {
	scenario := &Scenario{
		Name:        "offline_start",
		Description: "a sync before any connectivity never reaches the remote",
		Kind:        model.KindDelivery,
		Identity:    "driver-1",
		Steps: []Step{
			{Sync: &SyncStep{Expect: &SyncExpect{Error: "OFFLINE"}}},
			{SetOnline: ptr(true)},
			{Sync: &SyncStep{Expect: &SyncExpect{Downloaded: ptr(0)}}},
		},
		Assertions: []Assertion{
			{Type: AssertCallCount, Op: testutil.OpFetch, Count: 1},
			{Type: AssertPendingCount, Count: 0},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "error: OFFLINE", result.Steps[0].Outcome)
	assert.Equal(t, "online", result.Steps[1].Outcome)
	assert.Equal(t, 3, result.Steps[2].Seq)
}

func TestMarshalTrace_Stable(t *testing.T) {
	result := NewResult()
	result.AddStep("sync", "uploaded=0 failed=0 parked=0 deferred=0 downloaded=0")
	result.Calls = []testutil.Call{{Op: testutil.OpFetch, Identity: "driver-1", Result: "ok"}}

	a, err := MarshalTrace("stable", result)
	require.NoError(t, err)
	b, err := MarshalTrace("stable", result)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(string(a), "}\n"))
	assert.Contains(t, string(a), `"scenario_name": "stable"`)
	assert.NotContains(t, string(a), "content_key")
}

func TestMetersNorth(t *testing.T) {
	start := model.Coordinates{Lat: 4.6097, Lng: -74.0817}
	moved := metersNorth(start, 111195)
	assert.InDelta(t, start.Lat+1, moved.Lat, 1e-3)
	assert.Equal(t, start.Lng, moved.Lng)
}
