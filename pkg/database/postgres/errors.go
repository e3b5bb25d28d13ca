package pg

import (
	"database/sql"
)

// CheckNoRows maps sql.ErrNoRows to outErr, passing every other error through.
func CheckNoRows(inErr, outErr error) error {
	if IsNoRows(inErr) {
		return outErr
	}
	return inErr
}

func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return err == sql.ErrNoRows
}
