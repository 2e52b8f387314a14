package pg

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
)

// SQLSTATEs que clasificamos. Todo lo demás se propaga tal cual.
const (
	sqlStateUndefinedTable    = "42P01"
	sqlStateInvalidSchemaName = "3F000"
	sqlStateUniqueViolation   = "23505"
)

// classify traduce errores del driver a errores de dominio, sin perder el original.
// Solo "tabla/schema inexistente" se considera ErrKeyspaceNotProvisioned.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateUndefinedTable, sqlStateInvalidSchemaName:
		return fmt.Errorf("%w: %w", repository.ErrKeyspaceNotProvisioned, err)
	case sqlStateUniqueViolation:
		return fmt.Errorf("%w: %w", repository.ErrConflict, err)
	}
	return err
}
