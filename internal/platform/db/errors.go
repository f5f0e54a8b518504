package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/plantops/plantstore/internal/shared"
)

// Classify maps PostgreSQL failures onto the shared error taxonomy. Errors
// that already carry a domain meaning pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		if strings.HasSuffix(pgErr.ConstraintName, "_number_key") {
			return fmt.Errorf("%w: %s", shared.ErrNumberTaken, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s", shared.ErrDuplicate, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: unknown reference (%s)", shared.ErrValidation, pgErr.ConstraintName)
	case pgerrcode.NumericValueOutOfRange:
		return fmt.Errorf("%w: %s", shared.ErrValidation, pgErr.Message)
	case pgerrcode.CheckViolation:
		return fmt.Errorf("%w: %s", shared.ErrInvariantViolation, pgErr.ConstraintName)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: %s", shared.ErrConcurrentUpdate, pgErr.Message)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
