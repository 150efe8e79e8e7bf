package hashing

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS hashes (file_path TEXT PRIMARY KEY, calculated_hash TEXT)`

// DB is a hash database: one row per project file.
type DB struct {
	path string
	db   *sql.DB
}

// Open opens an existing hash database.
func Open(ctx context.Context, path string) (*DB, error) {
	log.WithFields(log.Fields{
		"path": path,
	}).Trace("opening hash db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open hash db: %s", path)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, errors.Wrapf(err, "cannot ping hash db: %s", path)
	}

	return &DB{path: path, db: db}, nil
}

// Create opens path and makes sure the hashes table exists.
func Create(ctx context.Context, path string) (*DB, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}

	if _, err := db.db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, errors.Wrap(err, "cannot create hashes table")
	}

	return db, nil
}

func (d *DB) Path() string {
	return d.path
}

// Insert stores the given path -> hash rows in a single transaction.
func (d *DB) Insert(ctx context.Context, rows []FileHash) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO hashes (file_path, calculated_hash) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()

		return errors.Wrap(err, "cannot prepare insert")
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Path, row.Hash); err != nil {
			_ = tx.Rollback()

			return errors.Wrapf(err, "cannot insert %s", row.Path)
		}
	}

	log.WithFields(log.Fields{
		"len":  len(rows),
		"path": d.path,
	}).Debug("inserted hashes")

	return errors.Wrap(tx.Commit(), "cannot commit hashes")
}

// Paths returns every file path stored in the database.
func (d *DB) Paths(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT file_path FROM hashes ORDER BY file_path`)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot query file paths from %s", d.path)
	}
	defer rows.Close()

	var ret []string

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, errors.Wrap(err, "cannot scan file path")
		}

		ret = append(ret, path)
	}

	return ret, rows.Err()
}

// Hash returns the stored hash of path.
func (d *DB) Hash(ctx context.Context, path string) (string, error) {
	var hash string

	err := d.db.QueryRowContext(ctx, `SELECT calculated_hash FROM hashes WHERE file_path = ?`, path).Scan(&hash)
	if err != nil {
		return "", errors.Wrapf(err, "cannot retrieve hash for %s", path)
	}

	return hash, nil
}

// All returns the whole table as a path -> hash map.
func (d *DB) All(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT file_path, calculated_hash FROM hashes`)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot query hashes from %s", d.path)
	}
	defer rows.Close()

	ret := map[string]string{}

	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, errors.Wrap(err, "cannot scan hash row")
		}

		ret[path] = hash
	}

	return ret, rows.Err()
}

func (d *DB) Close() error {
	log.WithFields(log.Fields{
		"path": d.path,
	}).Trace("closing hash db")

	return d.db.Close()
}
