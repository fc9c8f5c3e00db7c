package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when an insert or update trips a unique
// constraint, such as reusing a template name within an organization.
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound is returned when a row does not exist within the caller's
// organization. Rows belonging to other organizations are reported the
// same way so cross-tenant probes cannot distinguish "missing" from
// "forbidden".
var ErrNotFound = errors.New("record not found")

const pgUniqueViolation = "23505"

// mapUnique converts Postgres unique-violation errors to ErrDuplicate and
// passes everything else through.
func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}
