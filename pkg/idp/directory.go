package idp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
)

// ErrNotFound is returned by Get for unknown providers.
var ErrNotFound = errors.New("identity provider not found")

// IdentityProvider is a federated identity provider of a tenant.
type IdentityProvider struct {
	ID                   int64
	TenantID             int64
	Name                 string
	FederationHub        bool
	DefaultAuthenticator string
	Authenticators       []Authenticator
}

// Authenticator is one authenticator offered by a provider.
type Authenticator struct {
	Name        string
	DisplayName string
	Disabled    bool
}

type idpRow struct {
	ID            int64          `db:"id"`
	TenantID      int64          `db:"tenant_id"`
	Name          string         `db:"name"`
	FederationHub string         `db:"is_federation_hub"`
	Default       sql.NullString `db:"default_authenticator_name"`
}

// Directory reads providers from the idp table. Tenant rows shadow super
// tenant rows of the same name.
type Directory struct {
	db *sqlx.DB
}

// NewDirectory creates a directory over db.
func NewDirectory(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

// Get returns the provider with its authenticators.
func (d *Directory) Get(ctx context.Context, tenantID int64, name string) (*IdentityProvider, error) {
	var rows []idpRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(`
		SELECT id, tenant_id, name, is_federation_hub, default_authenticator_name FROM idp
		WHERE name = ? AND (tenant_id = ? OR tenant_id = ?)`), name, tenantID, appmgt.SuperTenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity provider %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	row := rows[0]
	for _, r := range rows[1:] {
		if r.TenantID == tenantID {
			row = r
		}
	}

	p := &IdentityProvider{
		ID:                   row.ID,
		TenantID:             row.TenantID,
		Name:                 row.Name,
		FederationHub:        row.FederationHub == "1",
		DefaultAuthenticator: row.Default.String,
	}

	var auths []struct {
		Name        string         `db:"name"`
		DisplayName sql.NullString `db:"display_name"`
		Enabled     string         `db:"is_enabled"`
	}
	err = d.db.SelectContext(ctx, &auths, d.db.Rebind(`
		SELECT name, display_name, is_enabled FROM idp_authenticator
		WHERE tenant_id = ? AND idp_name = ? ORDER BY id`), row.TenantID, row.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load authenticators of %s: %w", name, err)
	}
	for _, a := range auths {
		p.Authenticators = append(p.Authenticators, Authenticator{
			Name:        a.Name,
			DisplayName: a.DisplayName.String,
			Disabled:    a.Enabled != "1",
		})
	}
	return p, nil
}

// DefaultAuthenticator implements appmgt.IdPDirectory. Unknown providers have
// no default.
func (d *Directory) DefaultAuthenticator(ctx context.Context, tenantID int64, name string) (string, error) {
	p, err := d.Get(ctx, tenantID, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.DefaultAuthenticator, nil
}

// IsFederationHub implements appmgt.IdPDirectory.
func (d *Directory) IsFederationHub(ctx context.Context, tenantID int64, name string) (bool, error) {
	p, err := d.Get(ctx, tenantID, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.FederationHub, nil
}

// Register stores a provider and its authenticators in one transaction.
func (d *Directory) Register(ctx context.Context, tenantID int64, p IdentityProvider) (err error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return errors.New("identity provider name is required")
	}
	if strings.EqualFold(name, appmgt.LocalIdPName) {
		return fmt.Errorf("identity provider name %q is reserved", appmgt.LocalIdPName)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO idp (tenant_id, name, is_federation_hub, default_authenticator_name)
		VALUES (?, ?, ?, ?)`), tenantID, name, boolFlag(p.FederationHub), nullable(p.DefaultAuthenticator)); err != nil {
		return fmt.Errorf("failed to insert identity provider %s: %w", name, err)
	}
	for _, a := range p.Authenticators {
		display := a.DisplayName
		if display == "" {
			display = a.Name
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO idp_authenticator (tenant_id, idp_name, name, is_enabled, display_name)
			VALUES (?, ?, ?, ?, ?)`), tenantID, name, a.Name, boolFlag(!a.Disabled), display); err != nil {
			return fmt.Errorf("failed to insert authenticator %s of %s: %w", a.Name, name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identity provider %s: %w", name, err)
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
