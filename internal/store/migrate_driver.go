package store

import (
	"database/sql"
	"fmt"
	"io"
	"sync"

	"github.com/golang-migrate/migrate/v4/database"
)

// sqliteDriver adapts an already-open modernc.org/sqlite *sql.DB to
// golang-migrate's database.Driver contract. golang-migrate's own
// database/sqlite3 package is built on mattn/go-sqlite3 (cgo); this
// workspace uses the pure-Go modernc.org/sqlite driver throughout, so
// migrations run against the same *sql.DB via this adapter instead of
// pulling in a second, cgo-backed sqlite binding.
//
// Grounded on vanducng-goclaw's cmd/migrate.go, which drives
// golang-migrate/migrate/v4 against its own (Postgres) store; the
// locking/versioning shape here mirrors that usage adapted to sqlite's
// single-writer model (an in-process mutex stands in for Postgres's
// advisory lock, since sqlite has no such primitive).
type sqliteDriver struct {
	db *sql.DB
	mu sync.Mutex
}

// newSQLiteDriver wraps db and ensures the schema_migrations table exists.
func newSQLiteDriver(db *sql.DB) (database.Driver, error) {
	d := &sqliteDriver{db: db}
	if err := d.ensureVersionTable(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) ensureVersionTable() error {
	_, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT NOT NULL,
		dirty   BOOLEAN NOT NULL
	)`)
	return err
}

// Open is part of database.Driver but unused: the *sql.DB is always
// supplied by NewWithInstance from an already-opened connection.
func (d *sqliteDriver) Open(url string) (database.Driver, error) {
	return nil, fmt.Errorf("store: sqliteDriver.Open not supported, use NewWithInstance")
}

func (d *sqliteDriver) Close() error {
	return nil // the owning *Store closes the underlying *sql.DB.
}

// Lock/Unlock serialize migration runs within this process. sqlite has no
// cross-process advisory lock; the store is single-writer by construction
// (§4.1, §5 "shared-resource policy"), so an in-process mutex suffices.
func (d *sqliteDriver) Lock() error {
	d.mu.Lock()
	return nil
}

func (d *sqliteDriver) Unlock() error {
	d.mu.Unlock()
	return nil
}

func (d *sqliteDriver) Run(migration io.Reader) error {
	body, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	if _, err := d.db.Exec(string(body)); err != nil {
		return fmt.Errorf("store: run migration: %w", err)
	}
	return nil
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_migrations`); err != nil {
		tx.Rollback()
		return err
	}
	if version >= 0 {
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES ($1, $2)`, version, dirty); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (d *sqliteDriver) Version() (int, bool, error) {
	var version int64
	var dirty bool
	err := d.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int(version), dirty, nil
}

func (d *sqliteDriver) Drop() error {
	rows, err := d.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range tables {
		if _, err := d.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, t)); err != nil {
			return err
		}
	}
	return d.ensureVersionTable()
}
