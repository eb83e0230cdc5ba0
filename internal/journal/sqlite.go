package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// SQLiteStore keeps the journal in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Schema version for migrations
const currentSchemaVersion = 2

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("journal: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// one writer keeps read-modify-write sequences serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		L_warn("journal: failed to enable WAL mode", "error", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migration failed: %w", err)
	}

	L_debug("journal: sqlite store opened", "path", path)
	return s, nil
}

// Migrate brings the schema up to currentSchemaVersion.
func (s *SQLiteStore) Migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		// no schema_version table yet
		version = 0
	}

	if version >= currentSchemaVersion {
		return nil
	}

	L_info("journal: migrating schema", "from", version, "to", currentSchemaVersion)

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("journal: applied migration", "version", i+1)
	}
	return nil
}

// migrateV1 creates the sessions table
func migrateV1(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		profile_path TEXT NOT NULL DEFAULT '',
		cookie_string TEXT NOT NULL DEFAULT '',
		fingerprint TEXT
	);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// migrateV2 indexes sessions by creation time for ordered listing
func migrateV2(db *sql.DB) error {
	schema := `
	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
	INSERT INTO schema_version (version, applied_at) VALUES (2, ?);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, created_at, last_activity, profile_path, cookie_string, fingerprint
		FROM sessions ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("journal: query failed: %w", err)
	}
	defer rows.Close()

	out := map[string]Record{}
	for rows.Next() {
		var (
			r                     Record
			createdAt, lastActive int64
			fp                    sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &createdAt, &lastActive, &r.ProfilePath, &r.CookieString, &fp); err != nil {
			return nil, fmt.Errorf("journal: scan failed: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		r.LastActivity = time.UnixMilli(lastActive).UTC()
		if fp.Valid && fp.String != "" {
			var d fingerprint.Descriptor
			if err := json.Unmarshal([]byte(fp.String), &d); err != nil {
				// leave it nil; restore drops records without a fingerprint
				L_warn("journal: unreadable fingerprint", "session", r.SessionID, "error", err)
			} else {
				r.Fingerprint = &d
			}
		}
		out[r.SessionID] = r
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, r Record) error {
	if r.SessionID == "" {
		return fmt.Errorf("journal: record has no session id")
	}
	var fp sql.NullString
	if r.Fingerprint != nil {
		data, err := json.Marshal(r.Fingerprint)
		if err != nil {
			return fmt.Errorf("journal: marshal fingerprint: %w", err)
		}
		fp = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, last_activity, profile_path, cookie_string, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			created_at = excluded.created_at,
			last_activity = excluded.last_activity,
			profile_path = excluded.profile_path,
			cookie_string = excluded.cookie_string,
			fingerprint = excluded.fingerprint
	`,
		r.SessionID, r.CreatedAt.UnixMilli(), r.LastActivity.UnixMilli(),
		r.ProfilePath, r.CookieString, fp,
	)
	if err != nil {
		return fmt.Errorf("journal: upsert failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("journal: delete failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("journal: clear failed: %w", err)
	}
	L_debug("journal: cleared", "path", s.path)
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
