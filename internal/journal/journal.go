// Package journal persists recoverable session descriptors so sessions can be
// recreated with the same id and fingerprint after a restart. It is only used in
// recovery mode.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
)

// Record is one persisted session. The JSON layout is read back by restore and
// must stay stable across versions.
type Record struct {
	SessionID    string                  `json:"sessionId"`
	CreatedAt    time.Time               `json:"createdAt"`
	LastActivity time.Time               `json:"lastActivity"`
	ProfilePath  string                  `json:"profilePath"`
	CookieString string                  `json:"cookieString"`
	Fingerprint  *fingerprint.Descriptor `json:"fingerprint"`
}

// Recoverable reports whether r carries everything needed to recreate its session.
func (r Record) Recoverable() error {
	if r.SessionID == "" {
		return fmt.Errorf("journal: record has no session id")
	}
	if r.CookieString == "" {
		return fmt.Errorf("journal: record %s has no cookie string", r.SessionID)
	}
	if r.Fingerprint == nil {
		return fmt.Errorf("journal: record %s has no fingerprint", r.SessionID)
	}
	if err := r.Fingerprint.Consistent(); err != nil {
		return fmt.Errorf("journal: record %s: %w", r.SessionID, err)
	}
	return nil
}

// Store is a durable map of session id to Record. Writes are serialized;
// last writer wins.
type Store interface {
	Load(ctx context.Context) (map[string]Record, error)
	Put(ctx context.Context, r Record) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Backend string // "file" (default) or "sqlite"
	Path    string // JSON file or database file
}

// Open creates the configured backend.
func Open(cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("journal: unknown backend %q", cfg.Backend)
	}
}
