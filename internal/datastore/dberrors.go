package datastore

import (
	"context"
	"database/sql/driver"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/tphakala/qcmigrate/internal/errors"
	"gorm.io/gorm"
)

// ErrorReason classifies a target store failure. It labels retry metrics and
// tells the orchestrator whether waiting can help.
type ErrorReason string

const (
	ReasonNone            ErrorReason = "none"
	ReasonUniqueViolation ErrorReason = "unique_violation"
	ReasonForeignKey      ErrorReason = "foreign_key_violation"
	ReasonNotNull         ErrorReason = "null_violation"
	ReasonConstraint      ErrorReason = "constraint_violation"
	ReasonDeadlock        ErrorReason = "deadlock"
	ReasonLockTimeout     ErrorReason = "lock_timeout"
	ReasonSerialization   ErrorReason = "serialization_failure"
	ReasonConnection      ErrorReason = "connection_error"
	ReasonCancelled       ErrorReason = "cancelled"
	ReasonTimeout         ErrorReason = "timeout"
	ReasonOther           ErrorReason = "other"
)

// MySQL server error numbers.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrBadNull         = 1048
	mysqlErrRowIsReferenced = 1451
	mysqlErrNoReferencedRow = 1452
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
)

// ClassifyError maps a driver error from any supported backend to a reason.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonNone
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, driver.ErrBadConn):
		return ReasonConnection
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ReasonUniqueViolation
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ReasonForeignKey
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLite(sqliteErr)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQL(mysqlErr)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr)
	}

	// Drivers surface network failures as plain strings in some paths.
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "invalid connection"):
		return ReasonConnection
	case strings.Contains(errStr, "database is locked"):
		return ReasonLockTimeout
	default:
		return ReasonOther
	}
}

func classifySQLite(err sqlite3.Error) ErrorReason {
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return ReasonUniqueViolation
	case sqlite3.ErrConstraintForeignKey:
		return ReasonForeignKey
	case sqlite3.ErrConstraintNotNull:
		return ReasonNotNull
	}
	switch err.Code {
	case sqlite3.ErrConstraint:
		return ReasonConstraint
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return ReasonLockTimeout
	default:
		return ReasonOther
	}
}

func classifyMySQL(err *mysql.MySQLError) ErrorReason {
	switch err.Number {
	case mysqlErrDupEntry:
		return ReasonUniqueViolation
	case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
		return ReasonForeignKey
	case mysqlErrBadNull:
		return ReasonNotNull
	case mysqlErrLockDeadlock:
		return ReasonDeadlock
	case mysqlErrLockWaitTimeout:
		return ReasonLockTimeout
	default:
		return ReasonOther
	}
}

func classifyPostgres(err *pgconn.PgError) ErrorReason {
	switch err.Code {
	case "23505":
		return ReasonUniqueViolation
	case "23503":
		return ReasonForeignKey
	case "23502":
		return ReasonNotNull
	case "40001":
		return ReasonSerialization
	case "40P01":
		return ReasonDeadlock
	case "55P03":
		return ReasonLockTimeout
	}
	if strings.HasPrefix(err.Code, "08") {
		return ReasonConnection
	}
	if strings.HasPrefix(err.Code, "23") {
		return ReasonConstraint
	}
	return ReasonOther
}

// IsConstraintViolation reports whether err is any integrity constraint failure.
func IsConstraintViolation(err error) bool {
	switch ClassifyError(err) {
	case ReasonUniqueViolation, ReasonForeignKey, ReasonNotNull, ReasonConstraint:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is likely to succeed on retry without any
// change to the data.
func IsTransient(err error) bool {
	switch ClassifyError(err) {
	case ReasonDeadlock, ReasonLockTimeout, ReasonSerialization, ReasonConnection, ReasonTimeout:
		return true
	default:
		return false
	}
}
