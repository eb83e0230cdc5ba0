package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/roelfdiedericks/wabridge/internal/cookies"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// FactoryConfig holds the launch and target settings shared by every session.
type FactoryConfig struct {
	LandingURL        string
	CookieDomains     []string
	NavigationTimeout time.Duration
	IdleWait          time.Duration

	Headed         bool
	NoSandbox      bool
	DisableStealth bool
	ExtraFlags     []string // "name" or "name=value", leading dashes optional
}

// CreateError reports which creation stage failed.
type CreateError struct {
	Stage string // binary, profile, launch, connect, page, identity, cookies, navigate
	Err   error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("browser: %s: %v", e.Stage, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &CreateError{Stage: stage, Err: err}
}

// Factory launches one isolated Chromium per session.
type Factory struct {
	cfg      FactoryConfig
	bins     *Downloader
	profiles *ProfileStore
}

// NewFactory creates a factory.
func NewFactory(cfg FactoryConfig, bins *Downloader, profiles *ProfileStore) *Factory {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	return &Factory{cfg: cfg, bins: bins, profiles: profiles}
}

// Profiles returns the profile store sessions are rooted in.
func (f *Factory) Profiles() *ProfileStore {
	return f.profiles
}

// Create launches a browser for session id, applies fp and the cookies, and opens
// the landing page. On failure the handles acquired so far are returned together
// with the error; the caller must Release them.
func (f *Factory) Create(ctx context.Context, id string, fp fingerprint.Descriptor, cookie string) (Handles, error) {
	start := time.Now()
	h := &rodHandles{id: id, profiles: f.profiles}

	entries := cookies.Parse(cookie)
	if len(entries) == 0 {
		return h, stageErr("cookies", errors.New("no cookies in input"))
	}

	bin, err := f.bins.Resolve()
	if err != nil {
		return h, stageErr("binary", err)
	}

	dir, err := f.profiles.Ensure(id)
	if err != nil {
		return h, stageErr("profile", err)
	}
	h.profileDir = dir

	l := f.launcher(bin, dir, fp)
	h.launcher = l
	L_debug("browser: launching", "session", id, "profile", dir, "headless", !f.cfg.Headed)

	controlURL, err := l.Launch()
	if err != nil {
		return h, stageErr("launch", err)
	}
	h.launched = true

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return h, stageErr("connect", err)
	}
	h.browser = b.NoDefaultDevice()

	var page *rod.Page
	if f.cfg.DisableStealth {
		page, err = h.browser.Page(proto.TargetCreateTarget{})
	} else {
		page, err = stealth.Page(h.browser)
	}
	if err != nil {
		return h, stageErr("page", Classify(err))
	}
	h.rawPage = page
	h.page = WrapPage(page)

	if err := applyIdentity(page, fp); err != nil {
		return h, stageErr("identity", Classify(err))
	}

	applied := installCookies(id, entries, f.cfg.CookieDomains, func(creds []cookies.Credential) error {
		return page.SetCookies(cookieParams(creds))
	})

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	defer cancel()
	if err := h.page.Navigate(navCtx, f.cfg.LandingURL); err != nil {
		return h, stageErr("navigate", err)
	}
	if f.cfg.IdleWait > 0 {
		// quiescence never arrives on pages with long-polling, so this one is best effort
		if err := h.page.WaitIdle(navCtx, f.cfg.IdleWait); err != nil {
			if IsClosed(err) {
				return h, stageErr("navigate", err)
			}
			L_debug("browser: page did not go idle", "session", id, "error", err)
		}
	}

	L_elapsed(start, "browser: session ready", "session", id, "platform", fp.Platform, "domains", applied)
	return h, nil
}

func (f *Factory) launcher(bin, dir string, fp fingerprint.Descriptor) *launcher.Launcher {
	l := launcher.New().
		Bin(bin).
		UserDataDir(dir).
		Headless(!f.cfg.Headed).
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", fp.Width, fp.Height)).
		Set("lang", fp.Locale)

	if f.cfg.NoSandbox {
		l = l.Set("no-sandbox")
	}
	for _, raw := range f.cfg.ExtraFlags {
		name, value, ok := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		if ok {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// installCookies applies entries to every domain through set. Failed domains are
// logged and skipped, even when none succeeds.
func installCookies(id string, entries []cookies.Entry, domains []string, set func([]cookies.Credential) error) int {
	applied, failed := cookies.Apply(entries, domains, func(_ string, creds []cookies.Credential) error {
		return set(creds)
	})
	if applied == 0 && len(failed) > 0 {
		L_warn("browser: no cookie domain accepted the cookies", "session", id, "domains", len(failed))
	}
	return applied
}

func cookieParams(creds []cookies.Credential) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(creds))
	for _, c := range creds {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		switch strings.ToLower(c.SameSite) {
		case "none":
			p.SameSite = proto.NetworkCookieSameSiteNone
		case "lax":
			p.SameSite = proto.NetworkCookieSameSiteLax
		case "strict":
			p.SameSite = proto.NetworkCookieSameSiteStrict
		}
		out = append(out, p)
	}
	return out
}

// rodHandles owns one session's launcher process, CDP connection and page.
// Any of them may be nil when creation stopped early.
type rodHandles struct {
	id         string
	profiles   *ProfileStore
	profileDir string

	launcher *launcher.Launcher
	launched bool
	browser  *rod.Browser
	rawPage  *rod.Page
	page     Page

	once sync.Once
	errs []error
}

func (h *rodHandles) Page() Page         { return h.page }
func (h *rodHandles) ProfileDir() string { return h.profileDir }

// cleanupWait bounds how long Release waits for the process to exit before the
// profile directory is removed anyway.
const cleanupWait = 10 * time.Second

func (h *rodHandles) Release(removeProfile bool) []error {
	h.once.Do(func() {
		defer func() {
			for _, err := range h.errs {
				L_warn("browser: release step failed", "session", h.id, "error", err)
			}
		}()
		if h.rawPage != nil {
			if err := h.rawPage.Close(); err != nil && !IsClosed(err) {
				h.errs = append(h.errs, fmt.Errorf("close page: %w", err))
			}
		}
		if h.browser != nil {
			if err := h.browser.Close(); err != nil && !IsClosed(err) {
				h.errs = append(h.errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if h.launcher != nil {
			h.launcher.Kill()
		}

		if !removeProfile || h.profileDir == "" {
			return
		}
		if h.launched {
			// Cleanup waits for the process to exit, then removes the user data dir
			done := make(chan struct{})
			go func() {
				h.launcher.Cleanup()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(cleanupWait):
				L_warn("browser: process did not exit in time", "session", h.id)
			}
		}
		if err := h.profiles.Remove(h.id); err != nil {
			h.errs = append(h.errs, err)
		}
	})
	return h.errs
}
