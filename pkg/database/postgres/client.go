package pg

import (
	"database/sql"

	_ "github.com/newrelic/go-agent/v3/integrations/nrpgx"
)

// Open returns a DB connection pool for the data source using the New Relic
// instrumented pgx driver, after verifying connectivity.
func Open(dsn string) (*sql.DB, error) {
	// Try to open a connection pool using the "pgx" driver (instead of "postgres")
	db, err := sql.Open("nrpgx", dsn)
	if err != nil {
		return nil, err
	}

	// Check if the connection was successful
	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
