// Package contextkeys provides centralized context key definitions
//
// All context keys used by the application management engine are defined here.
// Tenant and caller identity travel on the context of every call and are never
// held in process-wide state.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithPrincipal(ctx, contextkeys.Principal{Username: "admin", TenantDomain: "acme.com"})
//	p, ok := contextkeys.GetPrincipal(ctx)
package contextkeys

import (
	"context"
	"strings"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains Principal
	// Set by: the caller of the engine (admin surface, authentication framework)
	// Used by: owner derivation on create, tenant fallback when no tenant domain is given
	// Type: Principal
	PrincipalKey Key = "principal"

	// OperationIDKey contains the operation ID string (UUID)
	// Set by: appmgt.Service at the start of every public operation
	// Used by: Logger fields, tracing attributes
	// Type: string
	OperationIDKey Key = "operation_id"
)

// Principal identifies the caller of an operation.
type Principal struct {
	Username        string
	UserStoreDomain string
	TenantDomain    string
}

// ParsePrincipal splits a qualified "DOMAIN/username" into a principal.
// Unqualified names get an empty user store domain.
func ParsePrincipal(qualified, tenantDomain string) Principal {
	p := Principal{Username: qualified, TenantDomain: tenantDomain}
	if i := strings.Index(qualified, "/"); i > 0 {
		p.UserStoreDomain = strings.ToUpper(qualified[:i])
		p.Username = qualified[i+1:]
	}
	return p
}

// WithPrincipal adds the calling principal to the context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal retrieves the calling principal from context
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// WithOperationID adds an operation ID to the context
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OperationIDKey, id)
}

// GetOperationID retrieves the operation ID from context
func GetOperationID(ctx context.Context) string {
	if id, ok := ctx.Value(OperationIDKey).(string); ok {
		return id
	}
	return ""
}
