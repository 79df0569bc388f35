package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// cliName is the name of the CLI using the store, used for state directory paths.
var cliName = "shmctl"

// SetCLIName sets the CLI name used for state directory paths.
// Call this at CLI startup to isolate state between different CLI tools.
func SetCLIName(name string) {
	cliName = name
}

// Store is the SQLite-backed patch repository.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path following XDG spec.
// Uses the CLI name set via SetCLIName (defaults to "shmctl").
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, cliName, cliName+".db")
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The pool opens connections lazily; ping so a bad path fails here.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// dsn builds the connection string. Pragmas in the DSN are applied to every
// pooled connection, not just the first. Transactions begin IMMEDIATE so a
// commit takes the write lock up front and waits on busy_timeout instead of
// failing when another connection committed since its first read.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

// migrate creates the schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS zones (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		mismatch_volume INTEGER DEFAULT 0,
		active_patch_count INTEGER DEFAULT 0,
		current_ttm INTEGER DEFAULT 0,
		last_rollback INTEGER
	);

	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		zone INTEGER NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		location_label TEXT DEFAULT '',
		patch_type TEXT NOT NULL,
		confidence INTEGER DEFAULT 0,
		vehicles INTEGER DEFAULT 0,
		passes INTEGER DEFAULT 0,
		time_spread_days INTEGER DEFAULT 0,
		suggested_stage TEXT DEFAULT 'candidate',
		last_seen INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		needs_review INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_clusters_zone ON clusters(zone);
	CREATE INDEX IF NOT EXISTS idx_clusters_status ON clusters(status);

	CREATE TABLE IF NOT EXISTS patches (
		id TEXT PRIMARY KEY,
		cluster_id TEXT NOT NULL,
		type TEXT NOT NULL,
		zone INTEGER NOT NULL,
		location_label TEXT DEFAULT '',
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		geofence_radius_m REAL DEFAULT 0,
		delta_description TEXT DEFAULT '',
		delta_magnitude REAL DEFAULT 0,
		stage TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		ttl_days INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		blocked INTEGER DEFAULT 0,
		block_reason TEXT DEFAULT '',
		evidence TEXT NOT NULL,
		rollback_triggers TEXT NOT NULL,
		fleet_percent INTEGER DEFAULT 0,
		distributed_at INTEGER,
		success_rate REAL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_patches_stage ON patches(stage);
	CREATE INDEX IF NOT EXISTS idx_patches_zone ON patches(zone);

	CREATE TABLE IF NOT EXISTS patch_events (
		patch_id TEXT NOT NULL REFERENCES patches(id),
		seq INTEGER NOT NULL,
		id TEXT UNIQUE NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		reason TEXT DEFAULT '',
		artifact_ref TEXT DEFAULT '',
		PRIMARY KEY (patch_id, seq)
	);

	CREATE TABLE IF NOT EXISTS distribution (
		patch_id TEXT PRIMARY KEY REFERENCES patches(id),
		stage TEXT NOT NULL,
		target_zones TEXT NOT NULL,
		fleet_percent INTEGER NOT NULL,
		distributed_at INTEGER,
		success_rate REAL DEFAULT 0,
		avg_latency_ms INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS killswitch (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		global_enabled INTEGER NOT NULL,
		disabled_zones TEXT NOT NULL,
		updated_at INTEGER,
		updated_by TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER DEFAULT (strftime('%s', 'now'))
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
// This should only be used in tests to manipulate state for testing edge cases.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Timestamps are stored as Unix nanoseconds and read back in UTC.

func unixNano(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// nullableTime converts a *time.Time to sql.NullInt64 for database insertion.
func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func scanNullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixNano(n.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
