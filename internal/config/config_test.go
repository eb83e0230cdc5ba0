package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, path, err := Load(writeFile(t, t.TempDir(), "empty.json", ""))
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 100, cfg.Sessions.Max)
	assert.False(t, cfg.Recovery)
	assert.Equal(t, "file", cfg.Journal.Backend)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "wabridge.json", `{"recovery": true, "server": {"listen": ":9000"}, "target": {"cookieDomains": [".example.com"]}}`},
		{"yaml", "wabridge.yaml", "recovery: true\nserver:\n  listen: \":9000\"\ntarget:\n  cookieDomains: [\".example.com\"]\n"},
		{"toml", "wabridge.toml", "recovery = true\n[server]\nlisten = \":9000\"\n[target]\ncookieDomains = [\".example.com\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, err := Load(writeFile(t, t.TempDir(), tt.file, tt.content))
			require.NoError(t, err)
			assert.True(t, cfg.Recovery)
			assert.Equal(t, ":9000", cfg.Server.Listen)
			assert.Equal(t, []string{".example.com"}, cfg.Target.CookieDomains)
			// untouched defaults survive the merge
			assert.Equal(t, "30s", cfg.Automation.ChooseCountryCode)
			assert.NotEmpty(t, cfg.Target.LandingURL)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WABRIDGE_RECOVERY", "true")
	t.Setenv("WABRIDGE_SERVER_LISTEN", "127.0.0.1:7000")
	t.Setenv("WABRIDGE_SESSIONS_MAX", "5")
	t.Setenv("WABRIDGE_JOURNAL_BACKEND", "sqlite")

	cfg, _, err := Load(writeFile(t, t.TempDir(), "c.json", `{"server":{"listen":":9000"}}`))
	require.NoError(t, err)
	assert.True(t, cfg.Recovery)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
	assert.Equal(t, 5, cfg.Sessions.Max)
	assert.Equal(t, "sqlite", cfg.Journal.Backend)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Journal.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Automation.Settle = "soon"
	assert.Error(t, cfg.Validate())
}

func TestResolveDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, ResolveDuration("3s", time.Minute))
	assert.Equal(t, time.Minute, ResolveDuration("", time.Minute))
	assert.Equal(t, time.Minute, ResolveDuration("bogus", time.Minute))
	assert.Equal(t, time.Minute, ResolveDuration("-1s", time.Minute))
}

func TestAtomicWriteJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, AtomicWriteJSON(p, map[string]int{"a": 1}, 0600))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWatchReloads(t *testing.T) {
	p := writeFile(t, t.TempDir(), "wabridge.json", `{"log":{"level":"info"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	go Watch(ctx, p, func(c *Config) {
		select {
		case got <- c:
		default:
		}
	})

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"log":{"level":"debug"}}`), 0600))

	select {
	case c := <-got:
		assert.Equal(t, "debug", c.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
