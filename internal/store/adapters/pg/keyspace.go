package pg

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	"github.com/dropDatabas3/keyregistry/internal/observability/logger"
	store "github.com/dropDatabas3/keyregistry/internal/store"
)

// Keyspace implementa repository.TenantKeyspace sobre el schema del tenant.
type Keyspace struct {
	db        querier
	tenant    string
	schema    string
	provision func(ctx context.Context) error

	signatures string // tabla quoteada: "schema"."signatures"
	meta       string // tabla quoteada: "schema"."keyspace_meta"
}

// NewKeyspace crea el keyspace de un tenant sobre db (normalmente un *pgxpool.Pool).
func NewKeyspace(db querier, tenant, schema string) *Keyspace {
	return &Keyspace{
		db:         db,
		tenant:     tenant,
		schema:     schema,
		signatures: pgx.Identifier{schema, "signatures"}.Sanitize(),
		meta:       pgx.Identifier{schema, "keyspace_meta"}.Sanitize(),
	}
}

func (k *Keyspace) Tenant() string { return k.tenant }

func (k *Keyspace) readErr(err error) error {
	return repository.ReadError(driverName, k.tenant, classify(err))
}

func (k *Keyspace) writeErr(err error) error {
	return repository.WriteError(driverName, k.tenant, classify(err))
}

// Provision crea el schema y las tablas (migraciones idempotentes, con advisory lock).
func (k *Keyspace) Provision(ctx context.Context) error {
	if k.provision == nil {
		return k.writeErr(errors.New("provisioning not configured for this keyspace"))
	}
	if err := k.provision(ctx); err != nil {
		return k.writeErr(err)
	}
	return nil
}

// IsProvisioned: true si existe la fila marker. Tabla/schema inexistente => false.
// Cualquier otro error (conexión, permisos, timeout) se propaga.
func (k *Keyspace) IsProvisioned(ctx context.Context) (bool, error) {
	var ok bool
	err := k.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+k.meta+")").Scan(&ok)
	if err != nil {
		rerr := k.readErr(err)
		if repository.IsKeyspaceNotProvisioned(rerr) {
			logger.From(ctx).Debug("keyspace not provisioned",
				logger.Driver(driverName), logger.TenantID(k.tenant), logger.Schema(k.schema))
			return false, nil
		}
		return false, rerr
	}
	return ok, nil
}

func (k *Keyspace) Add(ctx context.Context, km repository.KeyMaterial) (*repository.SignatureEntity, error) {
	q := "INSERT INTO " + k.signatures + ` (key_timestamp, public_key_mod, public_key_exp, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key_timestamp) DO NOTHING`

	return store.AddEntity(ctx, driverName, k.tenant, km, func(ctx context.Context, e *repository.SignatureEntity) error {
		tag, err := k.db.Exec(ctx, q, e.KeyTimestamp, e.PublicKeyMod.Bytes(), e.PublicKeyExp.Bytes(), e.CreatedAt)
		if err != nil {
			return k.writeErr(err)
		}
		if tag.RowsAffected() == 0 {
			return k.writeErr(fmt.Errorf("key timestamp %s: %w", e.KeyTimestamp, repository.ErrConflict))
		}
		return nil
	})
}

func (k *Keyspace) Get(ctx context.Context, keyTimestamp string) (*repository.SignatureEntity, bool, error) {
	q := "SELECT key_timestamp, public_key_mod, public_key_exp, created_at FROM " + k.signatures + " WHERE key_timestamp = $1"

	var (
		e        repository.SignatureEntity
		mod, exp []byte
		created  time.Time
	)
	err := k.db.QueryRow(ctx, q, keyTimestamp).Scan(&e.KeyTimestamp, &mod, &exp, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, k.readErr(err)
	}
	e.PublicKeyMod = new(big.Int).SetBytes(mod)
	e.PublicKeyExp = new(big.Int).SetBytes(exp)
	e.CreatedAt = created.UTC()
	return &e, true, nil
}

func (k *Keyspace) ListKeyTimestamps(ctx context.Context) ([]string, error) {
	rows, err := k.db.Query(ctx, "SELECT key_timestamp FROM "+k.signatures)
	if err != nil {
		return nil, k.readErr(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, k.readErr(err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Invalidate borra la fila; 0 filas afectadas no es error.
func (k *Keyspace) Invalidate(ctx context.Context, keyTimestamp string) error {
	if _, err := k.db.Exec(ctx, "DELETE FROM "+k.signatures+" WHERE key_timestamp = $1", keyTimestamp); err != nil {
		return k.writeErr(err)
	}
	return nil
}
