package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod/lib/launcher"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// Downloader resolves the Chromium binary sessions are launched with: an explicit
// path, a previously downloaded revision, a download into binDir, or a system
// install found on PATH.
type Downloader struct {
	binDir   string
	explicit string
	download bool

	mu      sync.Mutex
	binPath string // cached once resolved
}

// NewDownloader creates a downloader. explicit may be empty. When download is
// false the downloader never fetches anything.
func NewDownloader(binDir, explicit string, download bool) *Downloader {
	return &Downloader{
		binDir:   binDir,
		explicit: explicit,
		download: download,
	}
}

// BinDir returns the directory downloads go to.
func (d *Downloader) BinDir() string {
	return d.binDir
}

// Resolve returns a usable Chromium binary. Safe to call concurrently.
func (d *Downloader) Resolve() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.binPath != "" {
		if _, err := os.Stat(d.binPath); err == nil {
			return d.binPath, nil
		}
		d.binPath = ""
	}

	if d.explicit != "" {
		if _, err := os.Stat(d.explicit); err != nil {
			return "", fmt.Errorf("browser: configured binary %s: %w", d.explicit, err)
		}
		d.binPath = d.explicit
		return d.binPath, nil
	}

	if p, err := d.findExisting(); err == nil {
		d.binPath = p
		return p, nil
	}

	if d.download {
		p, err := d.fetch()
		if err != nil {
			return "", err
		}
		d.binPath = p
		return p, nil
	}

	if p, ok := launcher.LookPath(); ok {
		L_debug("browser: using system browser", "path", p)
		d.binPath = p
		return p, nil
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			d.binPath = p
			return p, nil
		}
	}
	return "", fmt.Errorf("browser: no chromium binary found and downloads are disabled")
}

// Download fetches Chromium into binDir even when a binary is already resolvable.
func (d *Downloader) Download() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.fetch()
	if err != nil {
		return "", err
	}
	d.binPath = p
	return p, nil
}

func (d *Downloader) fetch() (string, error) {
	if err := os.MkdirAll(d.binDir, 0755); err != nil {
		return "", fmt.Errorf("browser: create bin directory: %w", err)
	}
	L_info("browser: downloading chromium", "dir", d.binDir)

	b := launcher.NewBrowser()
	b.RootDir = d.binDir
	p, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("browser: download chromium: %w", err)
	}
	L_info("browser: ready", "path", p)
	return p, nil
}

// findExisting looks for a binary from an earlier download in binDir.
func (d *Downloader) findExisting() (string, error) {
	entries, err := os.ReadDir(d.binDir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		for _, candidate := range []string{
			filepath.Join(d.binDir, entry.Name(), "chrome"),
			filepath.Join(d.binDir, entry.Name(), "chrome.exe"),
			filepath.Join(d.binDir, entry.Name(), "Chromium.app", "Contents", "MacOS", "Chromium"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("browser: no chromium binary in %s", d.binDir)
}
