package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runResponse struct {
	Status string `json:"status"`
	Data   struct {
		SessionID      string `json:"session_id"`
		Store          string `json:"store"`
		InitialVersion int64  `json:"initial_version"`
		Container      string `json:"container"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func TestRun_OpensHoldsAndCloses(t *testing.T) {
	dir := t.TempDir()

	stdout, stderr, err := execute(t, "run", "--dir", dir, "--hold", "20ms", "--format", "json", "--verbose")
	require.NoError(t, err)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "harness", resp.Data.Store)
	assert.Equal(t, int64(66), resp.Data.InitialVersion)
	assert.Equal(t, "records_v66", resp.Data.Container)
	assert.Len(t, resp.Data.SessionID, 8)

	assert.Contains(t, stderr, "event=upgradeneeded")
	assert.Contains(t, stderr, "event=barrier.begin", "debug events are logged with --verbose")
	assert.Contains(t, stderr, "event=closed")
	assert.Contains(t, stderr, "session="+resp.Data.SessionID)
}

func TestRun_TextOutput(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "--dir", t.TempDir(), "--hold", "10ms", "--version", "3")
	require.NoError(t, err)

	assert.Contains(t, stdout, "at version 3 (container records_v3)")
	assert.Contains(t, stdout, "closed")
	assert.NotContains(t, stderr, "event=barrier.begin", "debug events need --verbose")
}

func TestRun_DowngradeFails(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "run", "--dir", dir, "--hold", "10ms", "--version", "5")
	require.NoError(t, err)

	stdout, stderr, err := execute(t, "run", "--dir", dir, "--hold", "10ms", "--version", "4", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VERSION", resp.Error.Code)
	assert.Contains(t, stderr, "event=error")
}

func TestRun_InvalidVersion(t *testing.T) {
	for _, version := range []string{"0", "-3", "2147483648", "3000000000"} {
		t.Run(version, func(t *testing.T) {
			_, _, err := execute(t, "run", "--dir", t.TempDir(), "--version="+version)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "must be between 1 and 2147483647")
		})
	}
}

func TestRun_RejectsArgs(t *testing.T) {
	_, _, err := execute(t, "run", "extra")
	require.Error(t, err)
}
