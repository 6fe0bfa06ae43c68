package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestSQLite creates a test SQLite database
func setupTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sqlite, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err, "Failed to create SQLite database")
	require.NotNil(t, sqlite.WriteDB)
	require.NotNil(t, sqlite.ReadDB)
	t.Cleanup(func() { _ = sqlite.Close() })
	return sqlite
}

func TestNewSQLite_Success(t *testing.T) {
	sqlite := setupTestSQLite(t)

	var journalMode string
	require.NoError(t, sqlite.WriteDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")

	sqlite, err := NewSQLite(dbPath, nil)
	require.NoError(t, err)
	defer sqlite.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestNewSQLite_InvalidPath(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"traversal", "../../etc/audit.db"},
		{"null byte", "audit\x00.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSQLite(tt.path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid database path")
		})
	}
}

func TestSQLite_HealthCheck(t *testing.T) {
	sqlite := setupTestSQLite(t)
	assert.NoError(t, sqlite.HealthCheck(context.Background()))
}

func TestSQLite_HealthCheck_AfterClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	sqlite, err := NewSQLite(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, sqlite.Close())

	assert.Error(t, sqlite.HealthCheck(context.Background()))
}

func TestSQLite_CreateTables_Indexes(t *testing.T) {
	sqlite := setupTestSQLite(t)

	rows, err := sqlite.ReadDB.Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'audit_events'`)
	require.NoError(t, err)
	defer rows.Close()

	indexes := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes[name] = true
	}
	require.NoError(t, rows.Err())

	for _, want := range []string{"idx_audit_events_created_at", "idx_audit_events_kind", "idx_audit_events_subject"} {
		assert.True(t, indexes[want], "missing index %s", want)
	}
}

func TestSQLite_CreateTables_Idempotent(t *testing.T) {
	sqlite := setupTestSQLite(t)
	assert.NoError(t, sqlite.createTables())
	assert.NoError(t, sqlite.createTables())
}

func TestSQLite_ReadPoolIsQueryOnly(t *testing.T) {
	sqlite := setupTestSQLite(t)

	_, err := sqlite.ReadDB.Exec(`INSERT INTO audit_events (id, kind, session_id, outcome, created_at) VALUES ('x', 'search', 's', 'ok', CURRENT_TIMESTAMP)`)
	assert.Error(t, err)
}

func TestSQLite_Transaction_Commit(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	err := sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO audit_events (id, kind, session_id, outcome, created_at) VALUES ('t1', 'search', 's', 'ok', CURRENT_TIMESTAMP)`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM audit_events WHERE id = 't1'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLite_Transaction_RollbackOnError(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO audit_events (id, kind, session_id, outcome, created_at) VALUES ('t2', 'search', 's', 'ok', CURRENT_TIMESTAMP)`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM audit_events WHERE id = 't2'`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSQLite_Transaction_RollbackOnPanic(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO audit_events (id, kind, session_id, outcome, created_at) VALUES ('t3', 'search', 's', 'ok', CURRENT_TIMESTAMP)`)
			panic("boom")
		})
	})

	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM audit_events WHERE id = 't3'`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSQLite_ConcurrentReads(t *testing.T) {
	sqlite := setupTestSQLite(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var count int
			errs <- sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&count)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestSQLite_InMemoryDatabase(t *testing.T) {
	sqlite, err := NewSQLite(":memory:", nil)
	require.NoError(t, err)
	defer sqlite.Close()

	assert.NoError(t, sqlite.HealthCheck(context.Background()))
}
