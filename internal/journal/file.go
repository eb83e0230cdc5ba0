package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/roelfdiedericks/wabridge/internal/config"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// FileStore keeps the journal as one JSON object keyed by session id. Every
// mutation is a locked read-modify-write followed by an atomic replace.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the journal file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Put(ctx context.Context, r Record) error {
	if r.SessionID == "" {
		return fmt.Errorf("journal: record has no session id")
	}
	return s.update(func(m map[string]Record) { m[r.SessionID] = r })
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	return s.update(func(m map[string]Record) { delete(m, id) })
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(map[string]Record{}); err != nil {
		return err
	}
	L_debug("journal: cleared", "path", s.path)
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) update(fn func(map[string]Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return err
	}
	fn(m)
	return s.write(m)
}

// read must be called with mu held. A missing or empty file is an empty journal.
func (s *FileStore) read() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("journal: read %s: %w", s.path, err)
	}
	m := map[string]Record{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("journal: parse %s: %w", s.path, err)
	}
	if m == nil {
		// a file holding "null"
		m = map[string]Record{}
	}
	return m, nil
}

func (s *FileStore) write(m map[string]Record) error {
	if err := config.AtomicWriteJSON(s.path, m, 0600); err != nil {
		return fmt.Errorf("journal: write %s: %w", s.path, err)
	}
	return nil
}
