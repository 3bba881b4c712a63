package appmgt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Row-level lookups shared by the read and write paths. Names match
// case-insensitively, the same way the unique index on sp_app does.

func basicInfoByName(ctx context.Context, q sqlx.ExtContext, tenantID int64, name string) (*basicInfoRow, error) {
	var row basicInfoRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT `+basicInfoColumns+` FROM sp_app
		WHERE tenant_id = ? AND LOWER(app_name) = LOWER(?)`), tenantID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "application", Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application %q: %w", name, err)
	}
	return &row, nil
}

func basicInfoByID(ctx context.Context, q sqlx.ExtContext, tenantID, appID int64) (*basicInfoRow, error) {
	var row basicInfoRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT `+basicInfoColumns+` FROM sp_app
		WHERE tenant_id = ? AND id = ?`), tenantID, appID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "application", ID: appID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application %d: %w", appID, err)
	}
	return &row, nil
}

func appNameByInboundKey(ctx context.Context, q sqlx.ExtContext, tenantID int64, key, inboundType string) (string, error) {
	var name string
	err := sqlx.GetContext(ctx, q, &name, q.Rebind(`
		SELECT a.app_name FROM sp_app a
		JOIN sp_inbound_auth i ON i.app_id = a.id
		WHERE i.tenant_id = ? AND i.inbound_auth_key = ? AND i.inbound_auth_type = ?
		LIMIT 1`), tenantID, key, inboundType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &NotFoundError{Resource: "inbound key", Name: inboundType + "/" + key}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve inbound key %s/%s: %w", inboundType, key, err)
	}
	return name, nil
}

func listBasicInfo(ctx context.Context, q sqlx.ExtContext, tenantID int64) ([]ApplicationBasicInfo, error) {
	var apps []ApplicationBasicInfo
	err := sqlx.SelectContext(ctx, q, &apps, q.Rebind(`
		SELECT id, app_name, COALESCE(description, '') AS description FROM sp_app
		WHERE tenant_id = ? AND LOWER(app_name) <> LOWER(?)
		ORDER BY app_name`), tenantID, DefaultApplicationName)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}

// GetApplicationByInboundKey resolves an inbound protocol identifier to the
// application that owns it.
func (s *Service) GetApplicationByInboundKey(ctx context.Context, key, inboundType, tenantDomain string) (sp *ServiceProvider, err error) {
	ctx, done := s.start(ctx, "get_by_inbound_key")
	defer func() { done(err) }()

	tenantID, domain, err := s.resolveTenant(ctx, tenantDomain)
	if err != nil {
		return nil, err
	}
	name, err := s.applicationNameByInboundKey(ctx, tenantID, key, inboundType)
	if err != nil {
		return nil, err
	}
	return s.getApplication(ctx, tenantID, domain, name)
}

// ApplicationNameByInboundKey returns the name of the application that owns
// the inbound key.
func (s *Service) ApplicationNameByInboundKey(ctx context.Context, key, inboundType, tenantDomain string) (name string, err error) {
	ctx, done := s.start(ctx, "name_by_inbound_key")
	defer func() { done(err) }()

	tenantID, _, err := s.resolveTenant(ctx, tenantDomain)
	if err != nil {
		return "", err
	}
	return s.applicationNameByInboundKey(ctx, tenantID, key, inboundType)
}

func (s *Service) applicationNameByInboundKey(ctx context.Context, tenantID int64, key, inboundType string) (string, error) {
	if key == "" || inboundType == "" {
		return "", invalid("inboundKey", RuleRequired, "inbound key and type are required")
	}
	name, err := appNameByInboundKey(ctx, s.db, tenantID, key, inboundType)
	if err != nil && !IsNotFound(err) {
		return "", &PersistenceError{Op: "resolve inbound key of", Err: err}
	}
	return name, err
}

// ApplicationName returns the name of the application with the given id in
// the caller's tenant.
func (s *Service) ApplicationName(ctx context.Context, appID int64) (name string, err error) {
	ctx, done := s.start(ctx, "name_by_id")
	defer func() { done(err) }()

	tenantID, _, err := s.resolveTenant(ctx, "")
	if err != nil {
		return "", err
	}
	row, err := basicInfoByID(ctx, s.db, tenantID, appID)
	if err != nil {
		return "", s.readError("get name of", err)
	}
	return row.Name, nil
}

// ListApplications returns the basic info of every application of the tenant
// except the default application. When authorize is non-nil only the
// applications it accepts are returned.
func (s *Service) ListApplications(ctx context.Context, tenantDomain string, authorize AuthorizeFunc) (apps []ApplicationBasicInfo, err error) {
	ctx, done := s.start(ctx, "list")
	defer func() { done(err) }()

	tenantID, _, err := s.resolveTenant(ctx, tenantDomain)
	if err != nil {
		return nil, err
	}
	all, err := listBasicInfo(ctx, s.db, tenantID)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	if authorize == nil {
		return all, nil
	}
	apps = make([]ApplicationBasicInfo, 0, len(all))
	for _, app := range all {
		if authorize(ctx, app.Name, app.ID) {
			apps = append(apps, app)
		}
	}
	return apps, nil
}

// GetClaimMapping returns the application's claim mappings keyed by the side
// selected by direction.
func (s *Service) GetClaimMapping(ctx context.Context, appName, tenantDomain string, direction ClaimMappingDirection) (mapping map[string]string, err error) {
	ctx, done := s.start(ctx, "get_claim_mapping")
	defer func() { done(err) }()

	mappings, err := s.claimMappings(ctx, appName, tenantDomain)
	if err != nil {
		return nil, err
	}
	mapping = make(map[string]string, len(mappings))
	for _, cm := range mappings {
		if direction == RemoteToLocal {
			mapping[cm.RemoteClaim] = cm.LocalClaim
		} else {
			mapping[cm.LocalClaim] = cm.RemoteClaim
		}
	}
	return mapping, nil
}

// GetRequestedClaims returns the local claim URIs the application requests.
func (s *Service) GetRequestedClaims(ctx context.Context, appName, tenantDomain string) (claims []string, err error) {
	ctx, done := s.start(ctx, "get_requested_claims")
	defer func() { done(err) }()

	mappings, err := s.claimMappings(ctx, appName, tenantDomain)
	if err != nil {
		return nil, err
	}
	for _, cm := range mappings {
		if cm.Requested {
			claims = append(claims, cm.LocalClaim)
		}
	}
	return claims, nil
}

func (s *Service) claimMappings(ctx context.Context, appName, tenantDomain string) ([]ClaimMapping, error) {
	tenantID, _, err := s.resolveTenant(ctx, tenantDomain)
	if err != nil {
		return nil, err
	}
	row, err := basicInfoByName(ctx, s.db, tenantID, appName)
	if err != nil {
		return nil, s.readError("get claims of", err)
	}
	mappings, err := s.mapper.readClaimMappings(ctx, s.db, tenantID, row.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "get claims of", AppID: row.ID, Err: err}
	}
	return mappings, nil
}
