package appmgt

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/appmgt/pkg/observability"
)

// mapper converts a ServiceProvider to and from its relational rows. Write
// methods receive an aggregate that already went through prepare.
type mapper struct {
	registry *AuthenticatorRegistry
	idps     IdPDirectory
	log      logrus.FieldLogger
}

const insertBasicInfoQuery = `
	INSERT INTO sp_app (tenant_id, app_name, user_store, username, description, auth_type, is_saas_app)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

func (m *mapper) insertBasicInfo(ctx context.Context, ext sqlx.ExtContext, tenantID int64, sp *ServiceProvider) (int64, error) {
	res, err := ext.ExecContext(ctx, ext.Rebind(insertBasicInfoQuery),
		tenantID,
		sp.Name,
		sp.Owner.UserStoreDomain,
		sp.Owner.Username,
		sp.Description,
		string(AuthTypeDefault),
		flag(sp.SaaS),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, invalid("name", RuleNameConflict, "application %q already exists", sp.Name)
		}
		return 0, fmt.Errorf("failed to insert basic info: %w", err)
	}
	return insertedID(res, func() (int64, error) {
		var id int64
		err := sqlx.GetContext(ctx, ext, &id, ext.Rebind(`SELECT id FROM sp_app WHERE tenant_id = ? AND app_name = ?`), tenantID, sp.Name)
		if err != nil {
			return 0, fmt.Errorf("failed to read generated application id: %w", err)
		}
		return id, nil
	})
}

const updateBasicInfoQuery = `
	UPDATE sp_app SET app_name = ?, description = ?, is_saas_app = ?
	WHERE tenant_id = ? AND id = ?`

func (m *mapper) updateBasicInfo(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64, sp *ServiceProvider) error {
	res, err := ext.ExecContext(ctx, ext.Rebind(updateBasicInfoQuery), sp.Name, sp.Description, flag(sp.SaaS), tenantID, appID)
	if err != nil {
		if isUniqueViolation(err) {
			return invalid("name", RuleNameConflict, "application %q already exists", sp.Name)
		}
		return fmt.Errorf("failed to update basic info: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Resource: "application", ID: appID}
	}
	return nil
}

const insertInboundQuery = `
	INSERT INTO sp_inbound_auth (tenant_id, inbound_auth_key, inbound_auth_type, prop_name, prop_value, app_id)
	VALUES (?, ?, ?, ?, ?, ?)`

func (m *mapper) writeInbound(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64, configs []InboundAuthRequestConfig, replace bool) error {
	if replace {
		if err := deleteChildren(ctx, ext, "sp_inbound_auth", tenantID, appID); err != nil {
			return err
		}
	}

	query := ext.Rebind(insertInboundQuery)
	for _, cfg := range configs {
		if len(cfg.Properties) == 0 {
			if _, err := ext.ExecContext(ctx, query, tenantID, cfg.Key, cfg.Type, nil, nil, appID); err != nil {
				return fmt.Errorf("failed to insert inbound config %s/%s: %w", cfg.Type, cfg.Key, err)
			}
			continue
		}
		for _, p := range cfg.Properties {
			if _, err := ext.ExecContext(ctx, query, tenantID, cfg.Key, cfg.Type, p.Name, p.Value, appID); err != nil {
				return fmt.Errorf("failed to insert inbound property %s of %s/%s: %w", p.Name, cfg.Type, cfg.Key, err)
			}
		}
	}
	return nil
}

const (
	updateFlowQuery = `
	UPDATE sp_app SET auth_type = ?, is_send_auth_list_of_idps = ?
	WHERE tenant_id = ? AND id = ?`

	insertStepQuery = `
	INSERT INTO sp_auth_step (tenant_id, step_order, app_id, is_subject_step, is_attribute_step)
	VALUES (?, ?, ?, ?, ?)`

	insertStepLinkQuery = `
	INSERT INTO sp_federated_idp (id, tenant_id, authenticator_id, link_order)
	VALUES (?, ?, ?, ?)`

	insertRequestPathQuery = `
	INSERT INTO sp_req_path_authenticator (tenant_id, authenticator_name, app_id)
	VALUES (?, ?, ?)`
)

func (m *mapper) writeSteps(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64, cfg LocalAndOutboundConfig, requestPath []RequestPathAuthenticator, replace bool) error {
	if _, err := ext.ExecContext(ctx, ext.Rebind(updateFlowQuery),
		string(cfg.AuthenticationType), flag(cfg.AlwaysSendBackAuthenticatedListOfIdPs), tenantID, appID); err != nil {
		return fmt.Errorf("failed to update authentication type: %w", err)
	}

	if replace {
		if _, err := ext.ExecContext(ctx, ext.Rebind(`
			DELETE FROM sp_federated_idp
			WHERE id IN (SELECT id FROM sp_auth_step WHERE tenant_id = ? AND app_id = ?)`), tenantID, appID); err != nil {
			return fmt.Errorf("failed to delete step authenticators: %w", err)
		}
		if err := deleteChildren(ctx, ext, "sp_auth_step", tenantID, appID); err != nil {
			return err
		}
		if err := deleteChildren(ctx, ext, "sp_req_path_authenticator", tenantID, appID); err != nil {
			return err
		}
	}

	for _, step := range cfg.Steps {
		stepID, err := m.insertStep(ctx, ext, tenantID, appID, step)
		if err != nil {
			return err
		}

		var ids []int64
		for _, la := range step.LocalAuthenticators {
			id, ok, err := m.registry.Resolve(ctx, ext, tenantID, LocalIdPName, la.Name, la.DisplayName, true)
			if err != nil {
				return err
			}
			if ok {
				ids = append(ids, id)
			}
		}
		for _, idp := range step.FederatedIdPs {
			for _, a := range idp.Authenticators {
				id, ok, err := m.registry.Resolve(ctx, ext, tenantID, idp.Name, a.Name, a.DisplayName, false)
				if err != nil {
					return err
				}
				if ok {
					ids = append(ids, id)
				}
			}
		}

		for pos, id := range ids {
			if _, err := ext.ExecContext(ctx, ext.Rebind(insertStepLinkQuery), stepID, tenantID, id, pos); err != nil {
				return fmt.Errorf("failed to link authenticator %d to step %d: %w", id, step.Order, err)
			}
		}
	}

	for _, rp := range requestPath {
		if _, err := ext.ExecContext(ctx, ext.Rebind(insertRequestPathQuery), tenantID, rp.Name, appID); err != nil {
			return fmt.Errorf("failed to insert request path authenticator %s: %w", rp.Name, err)
		}
	}
	return nil
}

func (m *mapper) insertStep(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64, step AuthenticationStep) (int64, error) {
	res, err := ext.ExecContext(ctx, ext.Rebind(insertStepQuery),
		tenantID, int(step.Order), appID, flag(step.SubjectStep), flag(step.AttributeStep))
	if err != nil {
		return 0, fmt.Errorf("failed to insert step %d: %w", step.Order, err)
	}
	return insertedID(res, func() (int64, error) {
		var id int64
		err := sqlx.GetContext(ctx, ext, &id,
			ext.Rebind(`SELECT id FROM sp_auth_step WHERE app_id = ? AND step_order = ?`), appID, int(step.Order))
		if err != nil {
			return 0, fmt.Errorf("failed to read id of step %d: %w", step.Order, err)
		}
		return id, nil
	})
}

const (
	updateClaimConfigQuery = `
	UPDATE sp_app SET role_claim = ?, subject_claim_uri = ?, is_local_claim_dialect = ?, is_send_local_subject_id = ?
	WHERE tenant_id = ? AND id = ?`

	insertClaimMappingQuery = `
	INSERT INTO sp_claim_mapping (tenant_id, local_claim, remote_claim, app_id, is_requested, default_value)
	VALUES (?, ?, ?, ?, ?, ?)`
)

func (m *mapper) writeClaims(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64, cfg ClaimConfig, replace bool) error {
	if _, err := ext.ExecContext(ctx, ext.Rebind(updateClaimConfigQuery),
		nullString(cfg.RoleClaimURI),
		nullString(cfg.SubjectClaimURI),
		flag(cfg.LocalClaimDialect),
		flag(cfg.AlwaysSendMappedLocalSubjectID),
		tenantID, appID); err != nil {
		return fmt.Errorf("failed to update claim config: %w", err)
	}

	if replace {
		if err := deleteChildren(ctx, ext, "sp_claim_mapping", tenantID, appID); err != nil {
			return err
		}
	}

	query := ext.Rebind(insertClaimMappingQuery)
	for _, cm := range cfg.Mappings {
		if _, err := ext.ExecContext(ctx, query,
			tenantID, cm.LocalClaim, cm.RemoteClaim, appID, flag(cm.Requested), nullString(cm.DefaultValue)); err != nil {
			return fmt.Errorf("failed to insert claim mapping %s: %w", cm.LocalClaim, err)
		}
	}
	return nil
}

const insertConnectorQuery = `
	INSERT INTO sp_provisioning_connector (tenant_id, idp_name, connector_name, app_id, is_jit_enabled, blocking)
	VALUES (?, ?, ?, ?, ?, ?)`

func (m *mapper) writeProvisioning(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64, in InboundProvisioningConfig, out OutboundProvisioningConfig, replace bool) error {
	if _, err := ext.ExecContext(ctx, ext.Rebind(`UPDATE sp_app SET provisioning_userstore_domain = ? WHERE tenant_id = ? AND id = ?`),
		nullString(in.UserStoreDomain), tenantID, appID); err != nil {
		return fmt.Errorf("failed to update inbound provisioning: %w", err)
	}

	if replace {
		if err := deleteChildren(ctx, ext, "sp_provisioning_connector", tenantID, appID); err != nil {
			return err
		}
	}

	query := ext.Rebind(insertConnectorQuery)
	for _, idp := range out.IdPs {
		if _, err := ext.ExecContext(ctx, query,
			tenantID, idp.Name, nullString(idp.DefaultConnector), appID, flag(idp.JustInTime), flag(idp.Blocking)); err != nil {
			return fmt.Errorf("failed to insert provisioning connector for %s: %w", idp.Name, err)
		}
	}
	return nil
}

const insertRoleMappingQuery = `
	INSERT INTO sp_role_mapping (tenant_id, local_role, remote_role, app_id)
	VALUES (?, ?, ?, ?)`

func (m *mapper) writeRoles(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64, cfg PermissionAndRoleConfig, replace bool) error {
	if replace {
		if err := deleteChildren(ctx, ext, "sp_role_mapping", tenantID, appID); err != nil {
			return err
		}
	}

	query := ext.Rebind(insertRoleMappingQuery)
	for _, rm := range cfg.RoleMappings {
		if _, err := ext.ExecContext(ctx, query, tenantID, rm.LocalRole.String(), rm.RemoteRole, appID); err != nil {
			return fmt.Errorf("failed to insert role mapping %s: %w", rm.LocalRole, err)
		}
	}
	return nil
}

// deleteChildren removes the rows of a child table that belong to the application.
// table is always a package constant.
func deleteChildren(ctx context.Context, ext sqlx.ExtContext, table string, tenantID, appID int64) error {
	query := ext.Rebind("DELETE FROM " + table + " WHERE tenant_id = ? AND app_id = ?")
	if _, err := ext.ExecContext(ctx, query, tenantID, appID); err != nil {
		return fmt.Errorf("failed to delete %s rows: %w", table, err)
	}
	return nil
}

// childTables lists the tables keyed by app_id, in delete order.
var childTables = []string{
	"sp_auth_step",
	"sp_req_path_authenticator",
	"sp_inbound_auth",
	"sp_claim_mapping",
	"sp_role_mapping",
	"sp_provisioning_connector",
}

// deleteApplication removes the application and every child row. The foreign
// keys cascade as well; the explicit deletes keep engines without enforced
// foreign keys consistent.
func (m *mapper) deleteApplication(ctx context.Context, ext sqlx.ExtContext, tenantID, appID int64) error {
	if _, err := ext.ExecContext(ctx, ext.Rebind(`
		DELETE FROM sp_federated_idp
		WHERE id IN (SELECT id FROM sp_auth_step WHERE tenant_id = ? AND app_id = ?)`), tenantID, appID); err != nil {
		return fmt.Errorf("failed to delete step authenticators: %w", err)
	}
	for _, table := range childTables {
		if err := deleteChildren(ctx, ext, table, tenantID, appID); err != nil {
			return err
		}
	}
	res, err := ext.ExecContext(ctx, ext.Rebind(`DELETE FROM sp_app WHERE tenant_id = ? AND id = ?`), tenantID, appID)
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Resource: "application", ID: appID}
	}
	return nil
}

func (m *mapper) logger(ctx context.Context) logrus.FieldLogger {
	return observability.FromContext(ctx, m.log)
}
