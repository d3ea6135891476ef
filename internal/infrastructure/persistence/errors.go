package persistence

import (
	"errors"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether the error is a Postgres unique
// constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}
