package shared

import (
	"context"
	"errors"
)

// ScopeContext identifies the caller for authorization decisions. Every
// mutating GL operation carries one.
type ScopeContext struct {
	TenantID int64
	ActorID  int64
}

// ErrScopeDenied indicates the external permission layer rejected access to
// a legal entity.
var ErrScopeDenied = errors.New("shared: legal entity outside caller scope")

// ErrNoScope indicates the request carried no caller identity.
var ErrNoScope = errors.New("shared: missing caller scope")

type scopeKey struct{}

// WithScope stores the caller scope on the context.
func WithScope(ctx context.Context, scope ScopeContext) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext retrieves the caller scope set by the auth middleware.
func ScopeFromContext(ctx context.Context) (ScopeContext, error) {
	scope, ok := ctx.Value(scopeKey{}).(ScopeContext)
	if !ok || scope.TenantID == 0 || scope.ActorID == 0 {
		return ScopeContext{}, ErrNoScope
	}
	return scope, nil
}

// ErrOverrideDenied indicates the caller lacks the cash-control override
// permission.
var ErrOverrideDenied = errors.New("shared: cash control override not permitted")

// AccessDecider is the external permission collaborator. The GL engines
// consult it before mutating and to filter list results; its internals
// (role-to-scope mapping, caching) live outside this module.
type AccessDecider interface {
	// EnsureLegalEntity fails with ErrScopeDenied when the caller may not act
	// on the given legal entity.
	EnsureLegalEntity(ctx context.Context, scope ScopeContext, legalEntityID int64) error
	// AllowedLegalEntities returns the legal entities the caller may read.
	AllowedLegalEntities(ctx context.Context, scope ScopeContext) ([]int64, error)
	// HasCashControlOverride reports whether the caller may post into
	// cash-controlled accounts directly.
	HasCashControlOverride(ctx context.Context, scope ScopeContext, legalEntityID int64) (bool, error)
}
