// Package appmgt persists and validates the service provider applications of
// a multi-tenant identity broker.
//
// # Overview
//
// A ServiceProvider is one registered application together with its
// inbound protocol keys, authentication flow, claim and role mappings and
// provisioning settings. Service converts the aggregate to and from about ten
// tenant-scoped tables and enforces the rules that make an authentication
// flow well-formed.
//
// # Write Path
//
// Create and update validate the whole aggregate first. Nothing is written
// when validation fails. The writes then run as ordered stages in one
// transaction:
//
//	basic info -> inbound keys -> steps -> claims -> provisioning -> roles
//
// Any failed stage rolls the transaction back and runs the registered
// compensations in reverse order. Updates replace every child row, so a field
// omitted from the submitted aggregate is cleared.
//
// # Authenticators
//
// Steps reference authenticators through AuthenticatorRegistry. Local
// authenticators are created on first use; federated authenticators must
// already exist and are skipped with a warning otherwise. Definitions owned
// by the super tenant are visible to every tenant.
//
// # Errors
//
// Failures are classified with IsValidation, IsNotFound, IsPersistence and
// IsRollbackFailure. A PersistenceError names the operation, the application
// and the stage that failed.
//
// # Usage Example
//
//	svc, err := appmgt.NewService(appmgt.Options{
//		DB:      db,
//		Tenants: tenant.NewStaticResolver(nil),
//		Roles:   approle.NewStore(db),
//		IdPs:    idp.NewDirectory(db),
//	})
//	if err != nil {
//		return err
//	}
//
//	ctx = contextkeys.WithPrincipal(ctx, contextkeys.Principal{Username: "admin", TenantDomain: "carbon.super"})
//	id, err := svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "portal"}, "")
//
// # Related Packages
//
//   - pkg/storage: connections and schema migrations
//   - pkg/tenant: TenantResolver implementations
//   - pkg/idp: IdPDirectory implementation
//   - pkg/approle: RoleManager implementation
//   - pkg/filereg: FileRegistry implementation
package appmgt
