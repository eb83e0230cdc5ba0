// Package config loads wabridge configuration from defaults, an optional config
// file (json, yaml or toml) and WABRIDGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/kelseyhightower/envconfig"
	"github.com/roelfdiedericks/wabridge/internal/logging"
	"github.com/roelfdiedericks/wabridge/internal/paths"
)

// EnvPrefix is the prefix of environment overrides (WABRIDGE_SERVER_LISTEN, ...).
const EnvPrefix = "wabridge"

// Config represents the merged wabridge configuration.
// Booleans are phrased so that their zero value is the default; mergo only
// overrides with non-empty values.
type Config struct {
	// Recovery enables the session journal: sessions are persisted, replayed at
	// startup and left running at shutdown. When false no journal I/O happens.
	Recovery bool `json:"recovery" yaml:"recovery" toml:"recovery" envconfig:"RECOVERY"`

	Server     ServerConfig     `json:"server" yaml:"server" toml:"server" envconfig:"SERVER"`
	Auth       AuthConfig       `json:"auth" yaml:"auth" toml:"auth" envconfig:"AUTH"`
	Browser    BrowserConfig    `json:"browser" yaml:"browser" toml:"browser" envconfig:"BROWSER"`
	Target     TargetConfig     `json:"target" yaml:"target" toml:"target" envconfig:"TARGET"`
	Sessions   SessionsConfig   `json:"sessions" yaml:"sessions" toml:"sessions" envconfig:"SESSIONS"`
	Automation AutomationConfig `json:"automation" yaml:"automation" toml:"automation" envconfig:"AUTOMATION"`
	Journal    JournalConfig    `json:"journal" yaml:"journal" toml:"journal" envconfig:"JOURNAL"`
	Log        LogConfig        `json:"log" yaml:"log" toml:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Listen       string  `json:"listen" yaml:"listen" toml:"listen" envconfig:"LISTEN"`
	ReadTimeout  string  `json:"readTimeout" yaml:"readTimeout" toml:"readTimeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout string  `json:"writeTimeout" yaml:"writeTimeout" toml:"writeTimeout" envconfig:"WRITE_TIMEOUT"`
	SendRate     float64 `json:"sendRate" yaml:"sendRate" toml:"sendRate" envconfig:"SEND_RATE"`    // message sends per second, all sessions
	SendBurst    int     `json:"sendBurst" yaml:"sendBurst" toml:"sendBurst" envconfig:"SEND_BURST"` // token bucket burst
}

type AuthConfig struct {
	// APIKeys accepted in the X-API-Key header. bcrypt hashes ($2a$/$2b$/$2y$)
	// are verified as hashes; anything else is compared verbatim.
	APIKeys  []string `json:"apiKeys" yaml:"apiKeys" toml:"apiKeys" envconfig:"API_KEYS"`
	Disabled bool     `json:"disabled" yaml:"disabled" toml:"disabled" envconfig:"DISABLED"`
}

type BrowserConfig struct {
	Dir            string   `json:"dir" yaml:"dir" toml:"dir" envconfig:"DIR"` // browser data dir (empty = ~/.wabridge/browser)
	Bin            string   `json:"bin" yaml:"bin" toml:"bin" envconfig:"BIN"` // explicit Chromium binary
	NoDownload     bool     `json:"noDownload" yaml:"noDownload" toml:"noDownload" envconfig:"NO_DOWNLOAD"`
	Headed         bool     `json:"headed" yaml:"headed" toml:"headed" envconfig:"HEADED"`
	NoSandbox      bool     `json:"noSandbox" yaml:"noSandbox" toml:"noSandbox" envconfig:"NO_SANDBOX"`
	DisableStealth bool     `json:"disableStealth" yaml:"disableStealth" toml:"disableStealth" envconfig:"DISABLE_STEALTH"`
	ExtraFlags     []string `json:"extraFlags" yaml:"extraFlags" toml:"extraFlags" envconfig:"EXTRA_FLAGS"`
}

type TargetConfig struct {
	LandingURL        string   `json:"landingURL" yaml:"landingURL" toml:"landingURL" envconfig:"LANDING_URL"`
	CookieDomains     []string `json:"cookieDomains" yaml:"cookieDomains" toml:"cookieDomains" envconfig:"COOKIE_DOMAINS"`
	NavigationTimeout string   `json:"navigationTimeout" yaml:"navigationTimeout" toml:"navigationTimeout" envconfig:"NAVIGATION_TIMEOUT"`
	IdleWait          string   `json:"idleWait" yaml:"idleWait" toml:"idleWait" envconfig:"IDLE_WAIT"`
}

type SessionsConfig struct {
	Max                int    `json:"max" yaml:"max" toml:"max" envconfig:"MAX"`
	KeepProfiles       bool   `json:"keepProfiles" yaml:"keepProfiles" toml:"keepProfiles" envconfig:"KEEP_PROFILES"`
	DestroyTimeout     string `json:"destroyTimeout" yaml:"destroyTimeout" toml:"destroyTimeout" envconfig:"DESTROY_TIMEOUT"`
	ShutdownGrace      string `json:"shutdownGrace" yaml:"shutdownGrace" toml:"shutdownGrace" envconfig:"SHUTDOWN_GRACE"`
	RestoreParallelism int    `json:"restoreParallelism" yaml:"restoreParallelism" toml:"restoreParallelism" envconfig:"RESTORE_PARALLELISM"`
}

type AutomationConfig struct {
	Settle                string `json:"settle" yaml:"settle" toml:"settle" envconfig:"SETTLE"`
	ClickAttempt          string `json:"clickAttempt" yaml:"clickAttempt" toml:"clickAttempt" envconfig:"CLICK_ATTEMPT"`
	Poll                  string `json:"poll" yaml:"poll" toml:"poll" envconfig:"POLL"`
	OpenCompose           string `json:"openCompose" yaml:"openCompose" toml:"openCompose" envconfig:"OPEN_COMPOSE"`
	SelectNewConversation string `json:"selectNewConversation" yaml:"selectNewConversation" toml:"selectNewConversation" envconfig:"SELECT_NEW_CONVERSATION"`
	ChooseCountryCode     string `json:"chooseCountryCode" yaml:"chooseCountryCode" toml:"chooseCountryCode" envconfig:"CHOOSE_COUNTRY_CODE"`
	FillPhoneNumber       string `json:"fillPhoneNumber" yaml:"fillPhoneNumber" toml:"fillPhoneNumber" envconfig:"FILL_PHONE_NUMBER"`
	FillMessage           string `json:"fillMessage" yaml:"fillMessage" toml:"fillMessage" envconfig:"FILL_MESSAGE"`
	Submit                string `json:"submit" yaml:"submit" toml:"submit" envconfig:"SUBMIT"`
}

type JournalConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend" envconfig:"BACKEND"` // "file" or "sqlite"
	Path    string `json:"path" yaml:"path" toml:"path" envconfig:"PATH"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level" envconfig:"LEVEL"`
	JSON       bool   `json:"json" yaml:"json" toml:"json" envconfig:"JSON"`
	HideCaller bool   `json:"hideCaller" yaml:"hideCaller" toml:"hideCaller" envconfig:"HIDE_CALLER"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8080",
			ReadTimeout:  "30s",
			WriteTimeout: "180s", // a full send can take a couple of minutes
			SendRate:     2,
			SendBurst:    4,
		},
		Target: TargetConfig{
			LandingURL:        "https://business.facebook.com/latest/inbox/all",
			CookieDomains:     []string{".facebook.com", "business.facebook.com", ".business.facebook.com"},
			NavigationTimeout: "60s",
			IdleWait:          "15s",
		},
		Sessions: SessionsConfig{
			Max:                100,
			DestroyTimeout:     "15s",
			ShutdownGrace:      "30s",
			RestoreParallelism: 4,
		},
		Automation: AutomationConfig{
			Settle:                "3s",
			ClickAttempt:          "5s",
			Poll:                  "250ms",
			OpenCompose:           "20s",
			SelectNewConversation: "20s",
			ChooseCountryCode:     "30s",
			FillPhoneNumber:       "10s",
			FillMessage:           "10s",
			Submit:                "15s",
		},
		Journal: JournalConfig{
			Backend: "file",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty, in which case the standard
// locations are searched (see paths.ConfigPath). It returns the config and the file
// it was read from ("" when running on defaults).
func Load(path string) (*Config, string, error) {
	cfg := Default()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	if path != "" {
		expanded, err := paths.ExpandTilde(path)
		if err != nil {
			return nil, "", err
		}
		path = expanded

		var fileCfg Config
		if err := decodeFile(path, &fileCfg); err != nil {
			return nil, "", fmt.Errorf("config: %w", err)
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, "", fmt.Errorf("config: merge %s: %w", path, err)
		}
		logging.L_debug("config: loaded file", "path", path)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, "", fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Journal.Backend {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown journal backend %q", c.Journal.Backend)
	}
	if c.Sessions.Max < 0 {
		return fmt.Errorf("config: sessions.max must not be negative")
	}
	if c.Target.LandingURL == "" {
		return fmt.Errorf("config: target.landingURL is required")
	}
	if len(c.Target.CookieDomains) == 0 {
		return fmt.Errorf("config: target.cookieDomains must not be empty")
	}
	for _, d := range []string{
		c.Server.ReadTimeout, c.Server.WriteTimeout,
		c.Target.NavigationTimeout, c.Target.IdleWait,
		c.Sessions.DestroyTimeout, c.Sessions.ShutdownGrace,
		c.Automation.Settle, c.Automation.ClickAttempt, c.Automation.Poll,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", d, err)
		}
	}
	return nil
}

// ResolveDuration parses s, falling back to def when s is empty or invalid.
func ResolveDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ResolveBrowserDir returns the browser data directory, defaulting to ~/.wabridge/browser.
func (c *Config) ResolveBrowserDir() (string, error) {
	if c.Browser.Dir != "" {
		return paths.ExpandTilde(c.Browser.Dir)
	}
	return paths.BrowserDir()
}

// ResolveJournalPath returns the journal location for the configured backend.
func (c *Config) ResolveJournalPath() (string, error) {
	if c.Journal.Path != "" {
		return paths.ExpandTilde(c.Journal.Path)
	}
	return paths.JournalPath(c.Journal.Backend)
}

// LogLevel maps log.level to a logging level constant.
func (c *Config) LogLevel() int {
	return logging.ParseLevel(c.Log.Level)
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
