package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	// Los lookups por timestamp no lo devuelven: la ausencia es un resultado (found=false).
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (ej: key timestamp duplicado).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrKeyspaceNotProvisioned indica que el keyspace (schema/tabla) del tenant
	// todavía no fue creado. Es la única clase de error de lectura que el probe
	// de provisioning convierte en "no provisionado".
	ErrKeyspaceNotProvisioned = errors.New("tenant keyspace not provisioned")

	// ErrStoreRead matchea (errors.Is) cualquier *StoreError de lectura.
	ErrStoreRead = errors.New("store read failed")

	// ErrStoreWrite matchea (errors.Is) cualquier *StoreError de escritura.
	ErrStoreWrite = errors.New("store write failed")
)

// StoreOp clasifica un StoreError.
type StoreOp string

const (
	OpRead  StoreOp = "read"
	OpWrite StoreOp = "write"
)

// StoreError envuelve una falla del store subyacente.
//
// errors.Is(err, ErrStoreRead) / errors.Is(err, ErrStoreWrite) matchean según Op,
// y errors.Is/As siguen funcionando sobre el error del driver vía Unwrap.
type StoreError struct {
	Op     StoreOp
	Driver string
	Tenant string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: store %s (tenant=%s): %v", e.Driver, e.Op, e.Tenant, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrStoreRead:
		return e.Op == OpRead
	case ErrStoreWrite:
		return e.Op == OpWrite
	}
	return false
}

// ReadError construye un StoreError de lectura.
func ReadError(driver, tenant string, err error) error {
	return &StoreError{Op: OpRead, Driver: driver, Tenant: tenant, Err: err}
}

// WriteError construye un StoreError de escritura.
func WriteError(driver, tenant string, err error) error {
	return &StoreError{Op: OpWrite, Driver: driver, Tenant: tenant, Err: err}
}

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsKeyspaceNotProvisioned verifica si el error es ErrKeyspaceNotProvisioned.
func IsKeyspaceNotProvisioned(err error) bool {
	return errors.Is(err, ErrKeyspaceNotProvisioned)
}

// IsStoreRead verifica si el error es una falla de lectura del store.
func IsStoreRead(err error) bool {
	return errors.Is(err, ErrStoreRead)
}

// IsStoreWrite verifica si el error es una falla de escritura del store.
func IsStoreWrite(err error) bool {
	return errors.Is(err, ErrStoreWrite)
}
