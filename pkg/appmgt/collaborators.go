package appmgt

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TenantResolver maps a tenant domain to its identifier. Unknown domains must
// fail with an error that errors.Is can match (ErrUnknownTenant).
type TenantResolver interface {
	ResolveTenant(ctx context.Context, tenantDomain string) (int64, error)
}

// RoleManager owns the per-application role.
type RoleManager interface {
	RenameApplicationRole(ctx context.Context, tenantID int64, oldName, newName string) error
	DeleteApplicationRole(ctx context.Context, tenantID int64, name string) error
}

// TxRoleManager is a RoleManager whose writes can join the application
// transaction. Its renames roll back with the transaction and need no
// compensation.
type TxRoleManager interface {
	RoleManager
	WithTx(tx sqlx.ExtContext) RoleManager
}

// ProtocolClientRegistry removes the protocol-side registration of an inbound
// key, one implementation per inbound type ("samlsso", "oauth2", ...).
type ProtocolClientRegistry interface {
	RemoveClientRegistration(ctx context.Context, tenantID int64, inboundKey string) error
}

// FileRegistry exposes application names defined outside the relational store.
type FileRegistry interface {
	ContainsName(name string) bool
}

// IdPDirectory is the read side of identity provider management.
type IdPDirectory interface {
	// DefaultAuthenticator returns the provider's default authenticator name,
	// or "" when the provider or its default is unknown.
	DefaultAuthenticator(ctx context.Context, tenantID int64, idpName string) (string, error)
	IsFederationHub(ctx context.Context, tenantID int64, idpName string) (bool, error)
}

// AuthorizeFunc decides whether the caller may see an application in listings.
type AuthorizeFunc func(ctx context.Context, appName string, appID int64) bool

// Inbound protocol types with a built-in meaning.
const (
	InboundTypeSAML  = "samlsso"
	InboundTypeOAuth = "oauth2"
)
