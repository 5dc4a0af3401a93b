package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idbharness/internal/store"
)

func TestInspect_Empty(t *testing.T) {
	stdout, _, err := execute(t, "inspect", "--dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "No stores in")
}

func TestInspect_AfterRuns(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "run", "--dir", dir, "--hold", "10ms", "--version", "1")
	require.NoError(t, err)
	_, _, err = execute(t, "run", "--dir", dir, "--hold", "10ms", "--version", "2")
	require.NoError(t, err)

	stdout, _, err := execute(t, "inspect", "--dir", dir, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   []store.Info `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "harness", resp.Data[0].Name)
	assert.Equal(t, int64(2), resp.Data[0].Version)
	assert.ElementsMatch(t, []string{"records_v1", "records_v2"}, resp.Data[0].Containers)

	stdout, _, err = execute(t, "inspect", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "harness\tversion 2")
}
