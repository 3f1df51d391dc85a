package shared

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EntitlementStore answers scope questions from the entitlement tables. It is
// the production AccessDecider; services only see the interface so tests can
// substitute fixed answers.
type EntitlementStore struct {
	pool *pgxpool.Pool
}

// NewEntitlementStore constructs a pool-backed EntitlementStore.
func NewEntitlementStore(pool *pgxpool.Pool) *EntitlementStore {
	return &EntitlementStore{pool: pool}
}

// EnsureLegalEntity checks that the actor holds a grant on the legal entity.
func (s *EntitlementStore) EnsureLegalEntity(ctx context.Context, scope ScopeContext, legalEntityID int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM legal_entity_grants
WHERE tenant_id=$1 AND actor_id=$2 AND legal_entity_id=$3)`,
		scope.TenantID, scope.ActorID, legalEntityID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: legal entity %d", ErrScopeDenied, legalEntityID)
	}
	return nil
}

// AllowedLegalEntities lists every legal entity the actor holds a grant on.
func (s *EntitlementStore) AllowedLegalEntities(ctx context.Context, scope ScopeContext) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT legal_entity_id FROM legal_entity_grants
WHERE tenant_id=$1 AND actor_id=$2 ORDER BY legal_entity_id`, scope.TenantID, scope.ActorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasCashControlOverride reports whether the actor's grant on the legal
// entity carries the cash control override flag.
func (s *EntitlementStore) HasCashControlOverride(ctx context.Context, scope ScopeContext, legalEntityID int64) (bool, error) {
	var allowed bool
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(bool_or(cash_override), false)
FROM legal_entity_grants
WHERE tenant_id=$1 AND actor_id=$2 AND legal_entity_id=$3`,
		scope.TenantID, scope.ActorID, legalEntityID).Scan(&allowed)
	return allowed, err
}
