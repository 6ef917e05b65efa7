package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{Level("verbose"), zerolog.InfoLevel},
		{Level(""), zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.level))
		})
	}
}

func TestWithModuleJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := WithModule("sense")
	logger.Info().Int("cycle", 3).Msg("cycle complete")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "module", entry["component"])
	assert.Equal(t, "sense", entry["module"])
	assert.Equal(t, "cycle complete", entry["message"])
	assert.EqualValues(t, 3, entry["cycle"])
}

func TestWithNamespaceJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	logger := WithNamespace("sensor_state")
	logger.Warn().Msg("subscriber failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "statebus", entry["component"])
	assert.Equal(t, "sensor_state", entry["namespace"])
	assert.Equal(t, "warn", entry["level"])
}

func TestInitWithFileWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.log")
	var console bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &console, File: path, MaxSizeMB: 1})
	t.Cleanup(func() { _ = Close() })

	logger := WithComponent("supervisor")
	logger.Info().Msg("supervision started")
	logger.Debug().Msg("dropped below level")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "supervisor", entry["component"])
	assert.Contains(t, console.String(), "supervision started")
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(InfoLevel) })

	SetLevel(ErrorLevel)
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
	SetLevel(DebugLevel)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
