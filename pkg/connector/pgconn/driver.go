package pgconn

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver
)

// Open opens a postgres database handle for use with New. The handle
// is pooled and safe for concurrent runs.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return db, nil
}
