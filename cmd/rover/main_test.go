package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/cuemby/rover/pkg/config"
	"github.com/cuemby/rover/pkg/storage"
	"github.com/cuemby/rover/pkg/types"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func seedJournal(t *testing.T, dir string) {
	t.Helper()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.AppendMutations([]types.Mutation{
		{Namespace: types.NamespaceSensorState, Key: "joints", NewValue: []float64{0.1, 0.2}, Timestamp: now},
		{Namespace: types.NamespaceSensorState, Cleared: true, Timestamp: now},
	}))
	require.NoError(t, store.AppendFailureEvent(types.FailureEvent{
		ID:               "f1",
		ModuleName:       "plan",
		FailureType:      types.FailureHeartbeatTimeout,
		RecoveryStrategy: types.RecoveryReset,
		Attempt:          1,
		Timestamp:        now,
	}))
}

func TestHistoryAndFailuresCommands(t *testing.T) {
	dir := t.TempDir()
	seedJournal(t, dir)

	out := execute(t, "history", "--data-dir", dir)
	assert.Contains(t, out, types.NamespaceSensorState)

	out = execute(t, "history", types.NamespaceSensorState, "--data-dir", dir)
	assert.Contains(t, out, "joints")
	assert.Contains(t, out, "[0.1,0.2]")
	assert.Contains(t, out, "<cleared>")

	out = execute(t, "failures", "--data-dir", dir)
	assert.Contains(t, out, "plan")
	assert.Contains(t, out, string(types.FailureHeartbeatTimeout))
	assert.Contains(t, out, string(types.RecoveryReset))
}

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	out := execute(t, "config", "--data-dir", "/srv/rover", "--log-level", "debug")
	assert.Contains(t, out, "data_dir: /srv/rover")
	assert.Contains(t, out, "level: debug")
	assert.Contains(t, out, "heartbeat_timeout: 1s")
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, "Rover version dev")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestApplyOverridesOnReloadedConfig(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("data-dir", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("json-logs", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--log-level", "debug", "--json-logs"}))

	reloaded := config.Default()
	reloaded.Log.Level = "warn"
	dataDir := reloaded.DataDir

	applyOverrides(cmd, reloaded)
	assert.Equal(t, "debug", reloaded.Log.Level)
	assert.True(t, reloaded.Log.JSON)
	assert.Equal(t, dataDir, reloaded.DataDir)
}
