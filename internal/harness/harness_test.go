package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_FreshOpenClose(t *testing.T) {
	result, err := Run(loadTestdata(t, "fresh_open_close"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, []string{
		"open.request", "upgradeneeded", "container.create", "success",
		"close.request", "barrier.begin", "barrier.complete", "closed", "close.noop",
	}, result.Events("a"))
}

func TestRun_BlockedUpgrade(t *testing.T) {
	result, err := Run(loadTestdata(t, "blocked_upgrade"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Contains(t, result.Events("old"), "conn.versionchange")
	assert.Contains(t, result.Events("old"), "closed")
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectations",
		Description: "Every assertion here is false",
		Steps: []Step{
			{Open: "a", Version: 5},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Session: "a", Event: "blocked"},
			{Type: AssertInitialVersion, Session: "a", Version: 4},
			{Type: AssertState, Session: "a", State: "closed"},
			{Type: AssertContainerExists, Container: "records_v4"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 4)
}

func TestRun_UnexpectedOpenOutcome(t *testing.T) {
	scenario := &Scenario{
		Name:        "expects_error",
		Description: "A fresh open is expected to fail but succeeds",
		Steps: []Step{
			{Open: "a", Version: 1, Expect: ExpectError},
			{Close: "a"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 0")
	assert.Contains(t, result.Errors[0], "expected an error")
	assert.NotContains(t, result.Events("a"), "close.request", "steps after a failure do not run")
}

func TestRun_CustomStore(t *testing.T) {
	scenario := &Scenario{
		Name:        "custom_store",
		Description: "Sessions open the named store",
		Store:       "inventory",
		Steps: []Step{
			{Open: "a", Version: 7},
		},
		Assertions: []Assertion{
			{Type: AssertContainerExists, Container: "records_v7"},
			{Type: AssertState, Session: "a", State: "opened"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.NotEmpty(t, result.Trace["a"])
	assert.Equal(t, "inventory", result.Trace["a"][0].Attrs["store"])
}
