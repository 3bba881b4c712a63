package approle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
)

// Prefix is prepended to application names to form role names.
const Prefix = "Application/"

// RoleName returns the role owned by the named application.
func RoleName(appName string) string {
	return Prefix + appName
}

// Store persists application roles in the app_roles table.
type Store struct {
	ext sqlx.ExtContext
}

var _ appmgt.TxRoleManager = (*Store)(nil)

// NewStore creates a role store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{ext: db}
}

// WithTx returns a store whose writes run on tx.
func (s *Store) WithTx(tx sqlx.ExtContext) appmgt.RoleManager {
	return &Store{ext: tx}
}

// CreateApplicationRole adds the role of the named application.
func (s *Store) CreateApplicationRole(ctx context.Context, tenantID int64, appName string) error {
	if strings.TrimSpace(appName) == "" {
		return errors.New("application name is required")
	}
	_, err := s.ext.ExecContext(ctx, s.ext.Rebind(`INSERT INTO app_roles (tenant_id, name) VALUES (?, ?)`),
		tenantID, RoleName(appName))
	if err != nil {
		return fmt.Errorf("failed to create role for %s: %w", appName, err)
	}
	return nil
}

// Exists reports whether the named application has a role.
func (s *Store) Exists(ctx context.Context, tenantID int64, appName string) (bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, s.ext, &id, s.ext.Rebind(`SELECT id FROM app_roles WHERE tenant_id = ? AND name = ?`),
		tenantID, RoleName(appName))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read role for %s: %w", appName, err)
	}
	return true, nil
}

// RenameApplicationRole implements appmgt.RoleManager. Applications without
// a role are left alone.
func (s *Store) RenameApplicationRole(ctx context.Context, tenantID int64, oldName, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return errors.New("new application name is required")
	}
	_, err := s.ext.ExecContext(ctx, s.ext.Rebind(`UPDATE app_roles SET name = ? WHERE tenant_id = ? AND name = ?`),
		RoleName(newName), tenantID, RoleName(oldName))
	if err != nil {
		return fmt.Errorf("failed to rename role %s to %s: %w", RoleName(oldName), RoleName(newName), err)
	}
	return nil
}

// DeleteApplicationRole implements appmgt.RoleManager. Deleting a missing
// role succeeds.
func (s *Store) DeleteApplicationRole(ctx context.Context, tenantID int64, appName string) error {
	_, err := s.ext.ExecContext(ctx, s.ext.Rebind(`DELETE FROM app_roles WHERE tenant_id = ? AND name = ?`),
		tenantID, RoleName(appName))
	if err != nil {
		return fmt.Errorf("failed to delete role %s: %w", RoleName(appName), err)
	}
	return nil
}
