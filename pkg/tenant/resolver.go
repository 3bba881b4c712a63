package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
)

// ErrUnknownTenant is returned for domains that do not exist.
var ErrUnknownTenant = appmgt.ErrUnknownTenant

// SQLResolver resolves domains from the tenants table.
type SQLResolver struct {
	db *sqlx.DB
}

// NewSQLResolver creates a resolver over db.
func NewSQLResolver(db *sqlx.DB) *SQLResolver {
	return &SQLResolver{db: db}
}

// ResolveTenant implements appmgt.TenantResolver.
func (r *SQLResolver) ResolveTenant(ctx context.Context, domain string) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, r.db.Rebind(`SELECT id FROM tenants WHERE LOWER(domain) = LOWER(?)`), domain)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTenant, domain)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve tenant %s: %w", domain, err)
	}
	return id, nil
}

// Register adds a tenant row.
func (r *SQLResolver) Register(ctx context.Context, id int64, domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return errors.New("tenant domain is required")
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO tenants (id, domain) VALUES (?, ?)`), id, domain); err != nil {
		return fmt.Errorf("failed to register tenant %s: %w", domain, err)
	}
	return nil
}

// StaticResolver resolves domains from a fixed table. The super tenant is
// always present.
type StaticResolver struct {
	tenants map[string]int64
}

// NewStaticResolver creates a resolver from domain to id pairs.
func NewStaticResolver(tenants map[string]int64) *StaticResolver {
	m := map[string]int64{strings.ToLower(appmgt.SuperTenantDomain): appmgt.SuperTenantID}
	for domain, id := range tenants {
		m[strings.ToLower(strings.TrimSpace(domain))] = id
	}
	return &StaticResolver{tenants: m}
}

// ParseStatic builds a StaticResolver from "domain=id" entries.
func ParseStatic(entries []string) (*StaticResolver, error) {
	tenants := make(map[string]int64, len(entries))
	for _, e := range entries {
		domain, raw, ok := strings.Cut(e, "=")
		domain = strings.TrimSpace(domain)
		if !ok || domain == "" {
			return nil, fmt.Errorf("invalid tenant entry %q, want domain=id", e)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant id in %q: %w", e, err)
		}
		tenants[domain] = id
	}
	return NewStaticResolver(tenants), nil
}

// ResolveTenant implements appmgt.TenantResolver.
func (r *StaticResolver) ResolveTenant(_ context.Context, domain string) (int64, error) {
	id, ok := r.tenants[strings.ToLower(strings.TrimSpace(domain))]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTenant, domain)
	}
	return id, nil
}

// CachedResolver memoizes successful resolutions of another resolver.
// Concurrent misses for one domain share a single lookup.
type CachedResolver struct {
	next  appmgt.TenantResolver
	cache *expirable.LRU[string, int64]
	group singleflight.Group
}

// NewCachedResolver wraps next with an LRU of the given size and TTL.
func NewCachedResolver(next appmgt.TenantResolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = 1024
	}
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, int64](size, nil, ttl),
	}
}

// ResolveTenant implements appmgt.TenantResolver.
func (r *CachedResolver) ResolveTenant(ctx context.Context, domain string) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(domain))
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		id, err := r.next.ResolveTenant(ctx, domain)
		if err != nil {
			return int64(0), err
		}
		r.cache.Add(key, id)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
