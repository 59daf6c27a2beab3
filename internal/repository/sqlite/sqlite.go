// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure Go port, so the binary builds without cgo.
// The database is opened through database/sql; a single DB value serves both
// the users table (credential store) and the surveys table (survey record
// store).
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/survey.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite has a single writer. One connection also keeps ":memory:"
	// databases from splitting into one private database per connection.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the credential store view of the database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// Surveys returns the survey record store view of the database.
func (db *DB) Surveys() *SurveyDB {
	return &SurveyDB{conn: db.conn}
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                      TEXT PRIMARY KEY,
			name                    TEXT NOT NULL,
			email                   TEXT NOT NULL UNIQUE,
			password_hash           TEXT NOT NULL,
			role                    TEXT NOT NULL DEFAULT 'participant',
			approved                INTEGER NOT NULL DEFAULT 0,
			access_token            TEXT,
			access_token_expires_at DATETIME,
			created_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_access_token ON users(access_token);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// user_id is deliberately not a foreign key: deleting a user leaves
	// their survey in place. The unique index is what limits every user to
	// a single response.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS surveys (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			answers      TEXT NOT NULL,
			audio_url    TEXT NOT NULL,
			submitted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_surveys_user_id ON surveys(user_id);
		CREATE INDEX IF NOT EXISTS idx_surveys_submitted_at ON surveys(submitted_at);
	`)
	if err != nil {
		return fmt.Errorf("creating surveys table: %w", err)
	}

	// audio_object holds the storage key of the audio artifact. Databases
	// created before object storage support only have audio_url.
	if err := db.addColumnIfNotExists("surveys", "audio_object",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding audio_object to surveys: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so it can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
