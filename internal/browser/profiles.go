package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// ProfileInfo describes one session's on-disk profile.
type ProfileInfo struct {
	SessionID string    `json:"sessionId"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`     // total size in bytes
	LastUsed  time.Time `json:"lastUsed"` // newest modification time
}

// ProfileStore keeps one Chromium user-data directory per session id under a
// common root. Two sessions never share a directory.
type ProfileStore struct {
	root string
}

// NewProfileStore creates a store rooted at dir.
func NewProfileStore(dir string) *ProfileStore {
	return &ProfileStore{root: dir}
}

// Root returns the profiles directory.
func (s *ProfileStore) Root() string {
	return s.root
}

// validID rejects ids that could escape the profiles root.
func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("browser: invalid profile id %q", id)
	}
	return nil
}

// Path returns the profile directory of a session without creating it.
func (s *ProfileStore) Path(id string) string {
	return filepath.Join(s.root, id)
}

// Ensure creates the profile directory of a session and removes stale Chromium
// lock files a crashed process may have left behind.
func (s *ProfileStore) Ensure(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	dir := s.Path(id)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("browser: create profile directory: %w", err)
	}
	cleanupStaleLocks(dir)
	L_debug("browser: ensured profile", "session", id, "path", dir)
	return dir, nil
}

// Exists reports whether a session has a profile directory.
func (s *ProfileStore) Exists(id string) bool {
	info, err := os.Stat(s.Path(id))
	return err == nil && info.IsDir()
}

// Remove deletes the profile directory of a session. A missing directory is not an error.
func (s *ProfileStore) Remove(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.Path(id)); err != nil {
		return fmt.Errorf("browser: remove profile %s: %w", id, err)
	}
	L_debug("browser: removed profile", "session", id)
	return nil
}

// List returns every profile directory, oldest use first.
func (s *ProfileStore) List() ([]ProfileInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []ProfileInfo{}, nil
		}
		return nil, fmt.Errorf("browser: read profiles directory: %w", err)
	}

	var profiles []ProfileInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := profileInfo(entry.Name(), filepath.Join(s.root, entry.Name()))
		if err != nil {
			L_warn("browser: failed to get profile info", "session", entry.Name(), "error", err)
			continue
		}
		profiles = append(profiles, info)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].LastUsed.Before(profiles[j].LastUsed) })
	return profiles, nil
}

func profileInfo(id, path string) (ProfileInfo, error) {
	info := ProfileInfo{SessionID: id, Path: path}
	err := filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() {
			info.Size += fi.Size()
		}
		if fi.ModTime().After(info.LastUsed) {
			info.LastUsed = fi.ModTime()
		}
		return nil
	})
	return info, err
}

// cleanupStaleLocks removes Chrome lock files left behind by crashed sessions.
// Chrome refuses to start on a profile that still has them.
func cleanupStaleLocks(profileDir string) {
	for _, name := range []string{"SingletonLock", "SingletonCookie", "SingletonSocket"} {
		p := filepath.Join(profileDir, name)
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			L_warn("browser: failed to remove stale lock file", "file", p, "error", err)
		} else {
			L_info("browser: removed stale lock file", "file", p)
		}
	}
}

// FormatSize returns a human-readable size string.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
