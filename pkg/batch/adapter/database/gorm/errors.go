package gorm

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// isDuplicateKeyError recognizes unique and primary key violations of the supported drivers.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	// PostgreSQL unique_violation, when the error is not translated by the dialector.
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}

// isTableNotExistError recognizes "missing table" errors of the supported drivers.
func isTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) || // PostgreSQL
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) || // MySQL
		strings.Contains(msg, "no such table:") // SQLite
}
