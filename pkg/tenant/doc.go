// Package tenant maps tenant domains to tenant identifiers.
//
// # Resolvers
//
//   - SQLResolver: the tenants table, with Register for seeding
//   - StaticResolver: a fixed domain to id map, used by configuration and tests
//   - CachedResolver: an expiring LRU in front of any resolver; concurrent
//     misses for one domain share a single lookup and failures are not cached
//
// # Usage Example
//
//	resolver := tenant.NewCachedResolver(tenant.NewSQLResolver(db), 1024, 5*time.Minute)
//	id, err := resolver.ResolveTenant(ctx, "acme.com")
//
// # Related Packages
//
//   - pkg/appmgt: consumes resolvers through appmgt.TenantResolver
package tenant
