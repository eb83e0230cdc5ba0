package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/wabridge/internal/automation"
	"github.com/roelfdiedericks/wabridge/internal/config"
)

func TestEngineTimeouts(t *testing.T) {
	def := automation.DefaultTimeouts()

	got := engineTimeouts(config.AutomationConfig{})
	assert.Equal(t, def, got)

	got = engineTimeouts(config.AutomationConfig{
		Settle:            "0s",
		Poll:              "50ms",
		ChooseCountryCode: "not-a-duration",
		Submit:            "-1s",
	})
	assert.Zero(t, got.Settle)
	assert.Equal(t, 50*time.Millisecond, got.Poll)
	assert.Equal(t, def.ChooseCountryCode, got.ChooseCountryCode)
	assert.Equal(t, def.Submit, got.Submit)
}

func TestBrowserDirs(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Dir = t.TempDir()

	d, err := browserDirs(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Browser.Dir, "bin"), d.bin)
	assert.Equal(t, filepath.Join(cfg.Browser.Dir, "profiles"), d.profiles)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]int{"c": 3, "a": 1, "b": 2}))
	assert.Empty(t, sortedKeys(map[string]int{}))
}
