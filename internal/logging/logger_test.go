package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug), WithService("test"))

	logger.Info("refresh complete", "account_id", "acct-1", "correlation_id", "cid-9")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "test", entry["service"])
	require.Equal(t, "refresh complete", entry["message"])
	require.Equal(t, "cid-9", entry["correlation_id"])

	fields, ok := entry["fields"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "acct-1", fields["account_id"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("dropped")
	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.Error("kept")
	require.NotZero(t, buf.Len())
}

func TestComponentTag(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf)).Component("deviceflow")

	logger.Info("polling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "deviceflow", entry["component"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelInfo, ParseLevel("bogus"))
}
