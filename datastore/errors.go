package datastore

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateEmail is returned when an account with the same email already exists.
var ErrDuplicateEmail = errors.New("email already registered")

const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint failure on the
// given column, for either supported driver.
func isUniqueViolation(err error, column string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation && strings.Contains(pqErr.Constraint, column)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), "."+column)
	}
	return false
}
