package sql

import (
	"database/sql"
	"errors"
)

// isNoRows reports whether err is the sentinel database/sql returns for a
// QueryRow with no matching row - both ProcessStore and InstanceStore treat
// that as "not found" rather than an error.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
