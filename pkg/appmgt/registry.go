package appmgt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/appmgt/pkg/observability"
)

// AuthenticatorIdentity is a tenant-scoped authenticator record shared by
// every application that references it.
type AuthenticatorIdentity struct {
	ID          int64  `db:"id"`
	TenantID    int64  `db:"tenant_id"`
	SourceName  string `db:"idp_name"`
	Name        string `db:"name"`
	DisplayName string `db:"display_name"`
	Enabled     flag   `db:"is_enabled"`
}

// Local reports whether the authenticator belongs to the local identity source.
func (a AuthenticatorIdentity) Local() bool {
	return a.SourceName == LocalIdPName
}

// AuthenticatorRegistry resolves (tenant, source, authenticator) triples to
// stable identifiers. Definitions owned by the super tenant are visible to
// every tenant unless the tenant has its own definition of the same name.
type AuthenticatorRegistry struct {
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// NewAuthenticatorRegistry creates a registry. A nil logger discards output.
func NewAuthenticatorRegistry(log logrus.FieldLogger, metrics *observability.Metrics) *AuthenticatorRegistry {
	if log == nil {
		log = observability.DiscardLogger()
	}
	return &AuthenticatorRegistry{log: log, metrics: metrics}
}

const lookupAuthenticatorQuery = `
	SELECT id, tenant_id FROM idp_authenticator
	WHERE idp_name = ? AND name = ? AND (tenant_id = ? OR tenant_id = ?)`

// Lookup returns the authenticator id visible to the tenant.
func (r *AuthenticatorRegistry) Lookup(ctx context.Context, q sqlx.ExtContext, tenantID int64, source, name string) (int64, bool, error) {
	rows, err := q.QueryxContext(ctx, q.Rebind(lookupAuthenticatorQuery), source, name, tenantID, SuperTenantID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up authenticator %s/%s: %w", source, name, err)
	}
	defer rows.Close()

	var found, shared int64
	for rows.Next() {
		var id, owner int64
		if err := rows.Scan(&id, &owner); err != nil {
			return 0, false, fmt.Errorf("failed to scan authenticator: %w", err)
		}
		if owner == tenantID {
			found = id
		} else if shared == 0 {
			shared = id
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("failed to look up authenticator %s/%s: %w", source, name, err)
	}

	if found != 0 {
		return found, true, nil
	}
	if shared != 0 {
		return shared, true, nil
	}
	return 0, false, nil
}

const createAuthenticatorQuery = `
	INSERT INTO idp_authenticator (tenant_id, idp_name, name, is_enabled, display_name)
	VALUES (?, ?, ?, ?, ?)`

const ownAuthenticatorQuery = `
	SELECT id FROM idp_authenticator WHERE tenant_id = ? AND idp_name = ? AND name = ?`

// Create inserts an enabled authenticator owned by the tenant and returns its
// id. displayName is stored as given, including empty.
func (r *AuthenticatorRegistry) Create(ctx context.Context, ext sqlx.ExtContext, tenantID int64, source, name, displayName string) (int64, error) {
	res, err := ext.ExecContext(ctx, ext.Rebind(createAuthenticatorQuery), tenantID, source, name, flag(true), displayName)
	if err != nil {
		return 0, fmt.Errorf("failed to create authenticator %s/%s: %w", source, name, err)
	}
	id, err := insertedID(res, func() (int64, error) {
		var id int64
		err := sqlx.GetContext(ctx, ext, &id, ext.Rebind(ownAuthenticatorQuery), tenantID, source, name)
		return id, err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read id of authenticator %s/%s: %w", source, name, err)
	}
	r.metrics.RecordAuthenticatorCreated(source)
	return id, nil
}

// Resolve returns the id of the authenticator, creating it when create is set
// and it does not exist yet. An authenticator that cannot be resolved is
// skipped: ok is false, err is nil, and a warning is logged. Only a failed
// lookup query is returned as an error.
func (r *AuthenticatorRegistry) Resolve(ctx context.Context, ext sqlx.ExtContext, tenantID int64, source, name, displayName string, create bool) (id int64, ok bool, err error) {
	id, ok, err = r.Lookup(ctx, ext, tenantID, source, name)
	if err != nil || ok {
		return id, ok, err
	}

	log := observability.FromContext(ctx, r.log).WithFields(logrus.Fields{
		"tenant_id":     tenantID,
		"source":        source,
		"authenticator": name,
	})

	if !create {
		log.Warn("authenticator not found, skipping")
		r.metrics.RecordAuthenticatorSkipped(source, "not-found")
		return 0, false, nil
	}

	id, err = r.createIsolated(ctx, ext, tenantID, source, name, displayName)
	if err != nil && isUniqueViolation(err) {
		// A concurrent writer created it first.
		var lookupErr error
		id, ok, lookupErr = r.Lookup(ctx, ext, tenantID, source, name)
		if lookupErr != nil {
			return 0, false, lookupErr
		}
		if ok {
			log.Debug("authenticator created concurrently, reusing it")
			return id, true, nil
		}
	}
	if err != nil {
		log.WithError(err).Warn("authenticator could not be created, skipping")
		r.metrics.RecordAuthenticatorSkipped(source, "create-failed")
		return 0, false, nil
	}
	return id, true, nil
}

const (
	savepointCreate        = "SAVEPOINT authenticator_create"
	savepointCreateRelease = "RELEASE SAVEPOINT authenticator_create"
	savepointCreateUndo    = "ROLLBACK TO SAVEPOINT authenticator_create"
)

// createIsolated runs Create inside a savepoint when ext is a transaction, so
// a failed insert leaves the enclosing transaction usable.
func (r *AuthenticatorRegistry) createIsolated(ctx context.Context, ext sqlx.ExtContext, tenantID int64, source, name, displayName string) (int64, error) {
	if _, isTx := ext.(*sqlx.Tx); !isTx {
		return r.Create(ctx, ext, tenantID, source, name, displayName)
	}

	if _, err := ext.ExecContext(ctx, savepointCreate); err != nil {
		return 0, fmt.Errorf("failed to open savepoint: %w", err)
	}
	id, err := r.Create(ctx, ext, tenantID, source, name, displayName)
	if err != nil {
		if _, undoErr := ext.ExecContext(ctx, savepointCreateUndo); undoErr != nil {
			return 0, errors.Join(err, fmt.Errorf("failed to roll back savepoint: %w", undoErr))
		}
		return 0, err
	}
	if _, err := ext.ExecContext(ctx, savepointCreateRelease); err != nil {
		return 0, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return id, nil
}

const describeAuthenticatorQuery = `
	SELECT id, tenant_id, idp_name, name, display_name, is_enabled FROM idp_authenticator
	WHERE id = ? AND (tenant_id = ? OR tenant_id = ?)`

// Describe is the reverse lookup from an authenticator id to its source and names.
func (r *AuthenticatorRegistry) Describe(ctx context.Context, q sqlx.ExtContext, tenantID, authenticatorID int64) (AuthenticatorIdentity, error) {
	var a AuthenticatorIdentity
	err := sqlx.GetContext(ctx, q, &a, q.Rebind(describeAuthenticatorQuery), authenticatorID, tenantID, SuperTenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return a, &NotFoundError{Resource: "authenticator", ID: authenticatorID}
	}
	if err != nil {
		return a, fmt.Errorf("failed to describe authenticator %d: %w", authenticatorID, err)
	}
	return a, nil
}
