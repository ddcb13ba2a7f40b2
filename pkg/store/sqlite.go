package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore opens (or creates) a SQLite database file.
//
// Every transaction is started with BEGIN IMMEDIATE and the pool holds a
// single connection, so transactions run one at a time. That is how the
// Lock* methods get their exclusive semantics on this engine.
func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s, err := newSQLStore(db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(name string) string {
	params := "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	if strings.Contains(name, "?") {
		return name + "&" + params
	}
	return "file:" + strings.TrimPrefix(name, "file:") + "?" + params
}
