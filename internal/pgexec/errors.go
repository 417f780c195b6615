package pgexec

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE codes for objects that are already in place.
var existsCodes = map[string]bool{
	"42P07": true, // duplicate_table
	"42701": true, // duplicate_column
	"42710": true, // duplicate_object (policies, constraints, extensions)
	"42P06": true, // duplicate_schema
	"42723": true, // duplicate_function
	"42P04": true, // duplicate_database
}

// Code extracts the SQLSTATE from a driver error, or returns "".
func Code(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		return coded.SQLState()
	}
	return ""
}

// IsAlreadyExists reports whether err means the object being created is
// already present, which is a success for idempotent DDL.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if code := Code(err); code != "" {
		return existsCodes[code]
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}
