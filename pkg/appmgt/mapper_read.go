package appmgt

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
)

// basicInfoRow is one sp_app row.
type basicInfoRow struct {
	ID                    int64          `db:"id"`
	TenantID              int64          `db:"tenant_id"`
	Name                  string         `db:"app_name"`
	UserStore             sql.NullString `db:"user_store"`
	Username              sql.NullString `db:"username"`
	Description           sql.NullString `db:"description"`
	RoleClaim             sql.NullString `db:"role_claim"`
	AuthType              sql.NullString `db:"auth_type"`
	ProvisioningUserStore sql.NullString `db:"provisioning_userstore_domain"`
	LocalClaimDialect     flag           `db:"is_local_claim_dialect"`
	SendLocalSubjectID    flag           `db:"is_send_local_subject_id"`
	SendAuthList          flag           `db:"is_send_auth_list_of_idps"`
	SubjectClaimURI       sql.NullString `db:"subject_claim_uri"`
	SaaS                  flag           `db:"is_saas_app"`
}

const basicInfoColumns = `id, tenant_id, app_name, user_store, username, description, role_claim, auth_type,
	provisioning_userstore_domain, is_local_claim_dialect, is_send_local_subject_id,
	is_send_auth_list_of_idps, subject_claim_uri, is_saas_app`

// assemble loads every sub-aggregate of the application. Queries run without
// a surrounding transaction; any failure aborts the read.
func (m *mapper) assemble(ctx context.Context, q sqlx.ExtContext, row *basicInfoRow, tenantDomain string) (*ServiceProvider, error) {
	sp := &ServiceProvider{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description.String,
		SaaS:        bool(row.SaaS),
		Owner: Owner{
			Username:        row.Username.String,
			UserStoreDomain: row.UserStore.String,
			TenantDomain:    tenantDomain,
		},
		InboundProvisioning: InboundProvisioningConfig{UserStoreDomain: row.ProvisioningUserStore.String},
	}

	var err error
	if sp.InboundAuthConfigs, err = m.readInbound(ctx, q, row.TenantID, row.ID); err != nil {
		return nil, err
	}

	authType := AuthenticationType(row.AuthType.String)
	if !authType.Valid() {
		authType = AuthTypeDefault
	}
	sp.LocalAndOutboundConfig.AuthenticationType = authType
	sp.LocalAndOutboundConfig.AlwaysSendBackAuthenticatedListOfIdPs = bool(row.SendAuthList)
	if sp.LocalAndOutboundConfig.Steps, err = m.readSteps(ctx, q, row.TenantID, row.ID); err != nil {
		return nil, err
	}

	if sp.RequestPathAuthenticators, err = m.readRequestPath(ctx, q, row.TenantID, row.ID); err != nil {
		return nil, err
	}
	if sp.OutboundProvisioning.IdPs, err = m.readProvisioning(ctx, q, row.TenantID, row.ID); err != nil {
		return nil, err
	}

	sp.ClaimConfig = ClaimConfig{
		RoleClaimURI:                   row.RoleClaim.String,
		SubjectClaimURI:                row.SubjectClaimURI.String,
		LocalClaimDialect:              bool(row.LocalClaimDialect),
		AlwaysSendMappedLocalSubjectID: bool(row.SendLocalSubjectID),
	}
	if sp.ClaimConfig.Mappings, err = m.readClaimMappings(ctx, q, row.TenantID, row.ID); err != nil {
		return nil, err
	}

	if sp.PermissionAndRoleConfig.RoleMappings, err = m.readRoles(ctx, q, row.TenantID, row.ID); err != nil {
		return nil, err
	}
	return sp, nil
}

type inboundRow struct {
	Key       string         `db:"inbound_auth_key"`
	Type      string         `db:"inbound_auth_type"`
	PropName  sql.NullString `db:"prop_name"`
	PropValue sql.NullString `db:"prop_value"`
}

func (m *mapper) readInbound(ctx context.Context, q sqlx.ExtContext, tenantID, appID int64) ([]InboundAuthRequestConfig, error) {
	var rows []inboundRow
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
		SELECT inbound_auth_key, inbound_auth_type, prop_name, prop_value FROM sp_inbound_auth
		WHERE tenant_id = ? AND app_id = ? ORDER BY id`), tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inbound configs: %w", err)
	}

	type binding struct{ key, typ string }
	index := make(map[binding]int)
	var configs []InboundAuthRequestConfig
	for _, r := range rows {
		b := binding{r.Key, r.Type}
		i, ok := index[b]
		if !ok {
			i = len(configs)
			index[b] = i
			configs = append(configs, InboundAuthRequestConfig{Key: r.Key, Type: r.Type})
		}
		if r.PropName.Valid {
			configs[i].Properties = append(configs[i].Properties, Property{Name: r.PropName.String, Value: r.PropValue.String})
		}
	}
	return configs, nil
}

type stepRow struct {
	ID        int64 `db:"id"`
	Order     int   `db:"step_order"`
	Subject   flag  `db:"is_subject_step"`
	Attribute flag  `db:"is_attribute_step"`
}

type stepLinkRow struct {
	StepID          int64 `db:"step_id"`
	AuthenticatorID int64 `db:"authenticator_id"`
}

// stepBuilder accumulates one step while its authenticator links are read.
type stepBuilder struct {
	step   AuthenticationStep
	idpPos map[string]int
}

func (b *stepBuilder) addFederated(idp string, a FederatedAuthenticator) {
	i, ok := b.idpPos[idp]
	if !ok {
		i = len(b.step.FederatedIdPs)
		b.idpPos[idp] = i
		b.step.FederatedIdPs = append(b.step.FederatedIdPs, FederatedIdP{Name: idp})
	}
	b.step.FederatedIdPs[i].Authenticators = append(b.step.FederatedIdPs[i].Authenticators, a)
}

func (m *mapper) readSteps(ctx context.Context, q sqlx.ExtContext, tenantID, appID int64) ([]AuthenticationStep, error) {
	var steps []stepRow
	err := sqlx.SelectContext(ctx, q, &steps, q.Rebind(`
		SELECT id, step_order, is_subject_step, is_attribute_step FROM sp_auth_step
		WHERE tenant_id = ? AND app_id = ?`), tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil
	}

	var links []stepLinkRow
	err = sqlx.SelectContext(ctx, q, &links, q.Rebind(`
		SELECT l.id AS step_id, l.authenticator_id FROM sp_federated_idp l
		JOIN sp_auth_step s ON s.id = l.id
		WHERE s.tenant_id = ? AND s.app_id = ?
		ORDER BY l.id, l.link_order`), tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step authenticators: %w", err)
	}

	orderOf := make(map[int64]StepOrder, len(steps))
	builders := make(map[StepOrder]*stepBuilder, len(steps))
	for _, s := range steps {
		order := StepOrder(s.Order)
		orderOf[s.ID] = order
		builders[order] = &stepBuilder{
			step: AuthenticationStep{
				Order:         order,
				SubjectStep:   bool(s.Subject),
				AttributeStep: bool(s.Attribute),
			},
			idpPos: make(map[string]int),
		}
	}

	for _, l := range links {
		b := builders[orderOf[l.StepID]]
		a, err := m.registry.Describe(ctx, q, tenantID, l.AuthenticatorID)
		if err != nil {
			return nil, err
		}
		if a.Local() {
			b.step.LocalAuthenticators = append(b.step.LocalAuthenticators, LocalAuthenticator{Name: a.Name, DisplayName: a.DisplayName})
			continue
		}
		b.addFederated(a.SourceName, FederatedAuthenticator{Name: a.Name, DisplayName: a.DisplayName})
	}

	out := make([]AuthenticationStep, 0, len(builders))
	for _, b := range builders {
		for i := range b.step.FederatedIdPs {
			idp := &b.step.FederatedIdPs[i]
			idp.DefaultAuthenticator = idp.Authenticators[0].Name
			if m.idps != nil {
				hub, err := m.idps.IsFederationHub(ctx, tenantID, idp.Name)
				if err != nil {
					return nil, fmt.Errorf("failed to read identity provider %s: %w", idp.Name, err)
				}
				idp.FederationHub = hub
			}
		}
		out = append(out, b.step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *mapper) readRequestPath(ctx context.Context, q sqlx.ExtContext, tenantID, appID int64) ([]RequestPathAuthenticator, error) {
	var names []string
	err := sqlx.SelectContext(ctx, q, &names, q.Rebind(`
		SELECT authenticator_name FROM sp_req_path_authenticator
		WHERE tenant_id = ? AND app_id = ? ORDER BY id`), tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request path authenticators: %w", err)
	}
	var out []RequestPathAuthenticator
	for _, n := range names {
		out = append(out, RequestPathAuthenticator{Name: n})
	}
	return out, nil
}

type connectorRow struct {
	IdPName   string         `db:"idp_name"`
	Connector sql.NullString `db:"connector_name"`
	JIT       flag           `db:"is_jit_enabled"`
	Blocking  flag           `db:"blocking"`
}

func (m *mapper) readProvisioning(ctx context.Context, q sqlx.ExtContext, tenantID, appID int64) ([]ProvisioningIdP, error) {
	var rows []connectorRow
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
		SELECT idp_name, connector_name, is_jit_enabled, blocking FROM sp_provisioning_connector
		WHERE tenant_id = ? AND app_id = ? ORDER BY id`), tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provisioning connectors: %w", err)
	}
	var out []ProvisioningIdP
	for _, r := range rows {
		out = append(out, ProvisioningIdP{
			Name:             r.IdPName,
			DefaultConnector: r.Connector.String,
			JustInTime:       bool(r.JIT),
			Blocking:         bool(r.Blocking),
		})
	}
	return out, nil
}

type claimMappingRow struct {
	LocalClaim   sql.NullString `db:"local_claim"`
	RemoteClaim  sql.NullString `db:"remote_claim"`
	Requested    flag           `db:"is_requested"`
	DefaultValue sql.NullString `db:"default_value"`
}

func (m *mapper) readClaimMappings(ctx context.Context, q sqlx.ExtContext, tenantID, appID int64) ([]ClaimMapping, error) {
	var rows []claimMappingRow
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
		SELECT local_claim, remote_claim, is_requested, default_value FROM sp_claim_mapping
		WHERE tenant_id = ? AND app_id = ? ORDER BY id`), tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load claim mappings: %w", err)
	}
	var out []ClaimMapping
	for _, r := range rows {
		out = append(out, defaultClaimMapping(ClaimMapping{
			LocalClaim:   r.LocalClaim.String,
			RemoteClaim:  r.RemoteClaim.String,
			Requested:    bool(r.Requested),
			DefaultValue: r.DefaultValue.String,
		}))
	}
	return out, nil
}

type roleMappingRow struct {
	LocalRole  string `db:"local_role"`
	RemoteRole string `db:"remote_role"`
}

func (m *mapper) readRoles(ctx context.Context, q sqlx.ExtContext, tenantID, appID int64) ([]RoleMapping, error) {
	var rows []roleMappingRow
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
		SELECT local_role, remote_role FROM sp_role_mapping
		WHERE tenant_id = ? AND app_id = ? ORDER BY id`), tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role mappings: %w", err)
	}
	var out []RoleMapping
	for _, r := range rows {
		out = append(out, RoleMapping{LocalRole: ParseLocalRole(r.LocalRole), RemoteRole: r.RemoteRole})
	}
	return out, nil
}
