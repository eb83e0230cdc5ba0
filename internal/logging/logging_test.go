package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]int{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestStructuredAndPrintfForms(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: LevelDebug, JSON: true, Output: &buf})
	defer Init(nil)

	L_info("session created", "session", "abc", "attempt", 2)
	L_warn("send took %d ms", 1500)
	L_debug("100% done")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "session created", first["msg"])
	assert.Equal(t, "abc", first["session"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "send took 1500 ms", second["msg"])

	assert.Contains(t, lines[2], "100% done")
}

func TestSetLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: LevelInfo, Output: &buf})
	defer Init(nil)

	L_debug("hidden")
	SetLevel(LevelDebug)
	L_debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestHasFmtVerb(t *testing.T) {
	assert.True(t, hasFmtVerb("value %d"))
	assert.True(t, hasFmtVerb("%v"))
	assert.False(t, hasFmtVerb("100%"))
	assert.False(t, hasFmtVerb("50%% off"))
	assert.False(t, hasFmtVerb("plain"))
}
