// Package sqlitedb opens SQLite databases and brings their schema up to date
// with embedded goose migrations.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Options for Open.
type Options struct {
	// Migrations holds goose SQL migrations under Dir.
	Migrations fs.FS
	Dir        string

	// ReadOnly opens the database without running migrations.
	ReadOnly bool
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(path string, opts Options) (*sql.DB, error) {
	dsn := "file:" + path + "?_busy_timeout=5000&_foreign_keys=on"
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if opts.ReadOnly || opts.Migrations == nil {
		return db, nil
	}
	if err := Migrate(db, opts.Migrations, opts.Dir); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies goose migrations from dir in fsys to db.
func Migrate(db *sql.DB, fsys fs.FS, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
