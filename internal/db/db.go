// Package db stores captures in a SQLite database. Each capture keeps its
// device description, channel layout and the full packet stream, so a
// database can be loaded back as a session.
package db

import (
	"bytes"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteMagic starts every SQLite 3 database file.
var sqliteMagic = []byte("SQLite format 3\x00")

type DB struct {
	*sql.DB
}

// Open opens or creates the database at path and migrates it to the latest
// schema.
func Open(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDB opens the database without touching its schema.
func OpenDB(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// One connection keeps the capture transaction and reads on the same
	// handle.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return &DB{sqlDB}, nil
}

// IsDatabase reports whether head starts with the SQLite file header.
func IsDatabase(head []byte) bool {
	return bytes.HasPrefix(head, sqliteMagic)
}

// IsDatabaseFile reports whether the file at path is a SQLite database.
func IsDatabaseFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return IsDatabase(head), nil
}
