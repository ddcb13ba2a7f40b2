package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to PostgreSQL. Lock* methods use SELECT ... FOR
// UPDATE, so operations on different loans run in parallel.
func NewPostgresStore(connectionString string) (*SQLStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := newSQLStore(db, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Open picks the store implementation for driver ("sqlite3" or "postgres").
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "sqlite3", "sqlite", "":
		return NewSQLiteStore(dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}
