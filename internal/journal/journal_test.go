package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := Open(StoreConfig{Backend: "file", Path: filepath.Join(dir, "sessions.json")})
	require.NoError(t, err)

	db, err := Open(StoreConfig{Backend: "sqlite", Path: filepath.Join(dir, "sessions.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Store{"file": file, "sqlite": db}
}

func record(id string) Record {
	fp := fingerprint.Generate()
	now := time.Now().UTC().Truncate(time.Millisecond)
	return Record{
		SessionID:    id,
		CreatedAt:    now,
		LastActivity: now,
		ProfilePath:  "/tmp/profiles/" + id,
		CookieString: "c_user=123; xs=abc",
		Fingerprint:  &fp,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			a, b := record("a"), record("b")
			require.NoError(t, store.Put(ctx, a))
			require.NoError(t, store.Put(ctx, b))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)

			// the fingerprint must come back bit for bit
			require.NotNil(t, got["a"].Fingerprint)
			assert.Equal(t, *a.Fingerprint, *got["a"].Fingerprint)
			assert.Equal(t, a.CookieString, got["a"].CookieString)
			assert.Equal(t, a.ProfilePath, got["a"].ProfilePath)
			assert.True(t, a.CreatedAt.Equal(got["a"].CreatedAt))

			// Put overwrites
			a.LastActivity = a.LastActivity.Add(time.Minute)
			require.NoError(t, store.Put(ctx, a))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.True(t, a.LastActivity.Equal(got["a"].LastActivity))

			require.NoError(t, store.Delete(ctx, "a"))
			require.NoError(t, store.Delete(ctx, "missing"))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, got, 1)
			assert.Contains(t, got, "b")

			require.NoError(t, store.Clear(ctx))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestPutRequiresID(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Put(context.Background(), Record{}))
		})
	}
}

func TestFileStoreSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	store := NewFileStore(path)
	r := record("s1")
	require.NoError(t, store.Put(context.Background(), r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"s1"`, `"sessionId"`, `"createdAt"`, `"lastActivity"`, `"profilePath"`, `"cookieString"`, `"fingerprint"`, `"hardwareConcurrency"`} {
		assert.Contains(t, string(data), key)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileStoreNullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0600))
	store := NewFileStore(path)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.Put(context.Background(), record("s1")))
	got, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, "s1")
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), record("s1")))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, "s1")
}

func TestRecoverable(t *testing.T) {
	r := record("s1")
	assert.NoError(t, r.Recoverable())

	noCookie := r
	noCookie.CookieString = ""
	assert.Error(t, noCookie.Recoverable())

	noFP := r
	noFP.Fingerprint = nil
	assert.Error(t, noFP.Recoverable())

	tampered := r
	fp := *r.Fingerprint
	fp.UserAgent = "curl/8.0"
	tampered.Fingerprint = &fp
	assert.Error(t, tampered.Recoverable())

	// descriptors from older catalogs are still replayed
	older := r
	ofp := *r.Fingerprint
	ofp.BrowserVersion = "119.0.0.0"
	ofp.HardwareConcurrency = 3
	ofp.UserAgent = fingerprint.UserAgent(ofp.Platform, ofp.BrowserVersion)
	older.Fingerprint = &ofp
	assert.NoError(t, older.Recoverable())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(StoreConfig{Backend: "redis"})
	assert.Error(t, err)
}
