package sqldb

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	pgUniqueViolation    = pq.ErrorCode("23505")
	mysqlDuplicateEntry  = 1062
	sqliteUniqueFallback = "UNIQUE constraint failed"
)

// uniqueViolation reports whether err is a unique-constraint failure and, if
// so, the text that names the offending column or index.
func uniqueViolation(err error) (string, bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return sqliteErr.Error(), true
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return pqErr.Constraint + " " + pqErr.Message, true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return myErr.Message, true
	}

	if err != nil && strings.Contains(err.Error(), sqliteUniqueFallback) {
		return err.Error(), true
	}
	return "", false
}

// conflictField guesses which user column a unique violation was about.
func conflictField(detail string) string {
	if strings.Contains(strings.ToLower(detail), "email") {
		return "email"
	}
	return "username"
}
