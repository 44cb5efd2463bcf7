package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err comes from a unique constraint,
// either a Postgres 23505 or the sqlite equivalent used in tests.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), sqliteUniquePrefix)
}

const sqliteUniquePrefix = "UNIQUE constraint failed: "

// UniqueConstraint returns the violated constraint (Postgres) or column
// list (sqlite) when known.
func UniqueConstraint(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	if _, cols, ok := strings.Cut(err.Error(), sqliteUniquePrefix); ok {
		return cols
	}
	return ""
}
