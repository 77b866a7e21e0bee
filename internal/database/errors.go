package database

import (
	"errors"

	"github.com/lib/pq"
)

// IsRetryable reports whether a Postgres error is transient: serialization
// failures, deadlocks, and lock-not-available all clear on retry.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

// IsUniqueViolation reports a duplicate-key insert.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
