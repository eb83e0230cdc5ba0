package browsertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roelfdiedericks/wabridge/internal/browser"
	"github.com/roelfdiedericks/wabridge/internal/cookies"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
)

// Handles is a fake browser.Handles around a Page and a real profile directory.
type Handles struct {
	page *Page
	dir  string

	mu       sync.Mutex
	released int
	errs     []error
}

func (h *Handles) Page() browser.Page {
	if h.page == nil {
		return nil
	}
	return h.page
}

func (h *Handles) ProfileDir() string { return h.dir }

// FakePage returns the underlying fake page, nil for partial handles.
func (h *Handles) FakePage() *Page { return h.page }

// FailRelease makes Release report errs.
func (h *Handles) FailRelease(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = errs
}

func (h *Handles) Release(removeProfile bool) []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
	if h.page != nil {
		h.page.Close()
	}
	errs := append([]error(nil), h.errs...)
	if removeProfile && h.dir != "" {
		if err := os.RemoveAll(h.dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Released reports how many times Release ran.
func (h *Handles) Released() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Factory is a fake session factory. It creates a real profile directory per
// session under its root so tests can check for orphans.
type Factory struct {
	root    string
	newPage func(id string) *Page

	mu           sync.Mutex
	failWith     error
	calls        int
	handles      map[string]*Handles
	fingerprints map[string]fingerprint.Descriptor
}

// NewFactory creates a factory that builds pages with newPage.
func NewFactory(root string, newPage func(id string) *Page) *Factory {
	return &Factory{
		root:         root,
		newPage:      newPage,
		handles:      make(map[string]*Handles),
		fingerprints: make(map[string]fingerprint.Descriptor),
	}
}

// FailWith makes every later Create fail after the profile directory exists,
// the way a navigation timeout does. nil restores normal behaviour.
func (f *Factory) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *Factory) Create(ctx context.Context, id string, fp fingerprint.Descriptor, cookie string) (browser.Handles, error) {
	f.mu.Lock()
	f.calls++
	failWith := f.failWith
	f.mu.Unlock()

	h := &Handles{}
	if len(cookies.Parse(cookie)) == 0 {
		return h, errors.New("browsertest: no cookies")
	}

	dir := filepath.Join(f.root, id)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return h, err
	}
	h.dir = dir

	if failWith != nil {
		return h, fmt.Errorf("browsertest: create %s: %w", id, failWith)
	}

	h.page = f.newPage(id)
	if err := h.page.Navigate(ctx, InboxURL); err != nil {
		return h, err
	}

	f.mu.Lock()
	f.handles[id] = h
	f.fingerprints[id] = fp
	f.mu.Unlock()
	return h, nil
}

// Calls returns how many times Create ran.
func (f *Factory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Handles returns the handles of a successfully created session.
func (f *Factory) Handles(id string) *Handles {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[id]
}

// Fingerprint returns the descriptor a session was created with.
func (f *Factory) Fingerprint(id string) (fingerprint.Descriptor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.fingerprints[id]
	return fp, ok
}

// Profiles lists the profile directories that currently exist under the root.
func (f *Factory) Profiles() []string {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}
