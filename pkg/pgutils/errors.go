package pgutils

import (
	"strings"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23 — Integrity Constraint Violation
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"

	// Class 08 — Connection Exception
	CodeConnectionException    = "08000"
	CodeConnectionDoesNotExist = "08003"
	CodeConnectionFailure      = "08006"
	// Class 40 — Transaction Rollback: concurrent-access conflicts a retry
	// at a later time is expected to clear.
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	// Class 53/57 — resource/operator-initiated: the server is momentarily
	// unable to serve the request, not a fault in the query itself.
	CodeTooManyConnections = "53300"
	CodeCannotConnectNow   = "57P03"
	CodeAdminShutdown      = "57P01"
)

// transientCodes are the PostgreSQL error classes worth retrying: the query
// itself was fine, but the connection or the server's current load was not.
var transientCodes = []string{
	CodeConnectionException,
	CodeConnectionDoesNotExist,
	CodeConnectionFailure,
	CodeSerializationFailure,
	CodeDeadlockDetected,
	CodeTooManyConnections,
	CodeCannotConnectNow,
	CodeAdminShutdown,
}

// IsTransient reports whether err carries one of the PostgreSQL error codes
// a caller should retry rather than treat as a permanent failure.
func IsTransient(err error) bool {
	for _, code := range transientCodes {
		if containsErrorCode(err, code) {
			return true
		}
	}
	return false
}

// IsUniqueViolation checks if the error is a PostgreSQL unique constraint violation (23505).
func IsUniqueViolation(err error) bool {
	return containsErrorCode(err, CodeUniqueViolation)
}

// IsForeignKeyViolation checks if the error is a PostgreSQL foreign key violation (23503).
func IsForeignKeyViolation(err error) bool {
	return containsErrorCode(err, CodeForeignKeyViolation)
}

// IsNotNullViolation checks if the error is a PostgreSQL not-null constraint violation (23502).
func IsNotNullViolation(err error) bool {
	return containsErrorCode(err, CodeNotNullViolation)
}

// IsCheckViolation checks if the error is a PostgreSQL check constraint violation (23514).
func IsCheckViolation(err error) bool {
	return containsErrorCode(err, CodeCheckViolation)
}

// containsErrorCode checks if the error message contains a PostgreSQL error code.
func containsErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return len(errStr) > 0 && (strings.Contains(errStr, code) || strings.Contains(errStr, "SQLSTATE "+code))
}
