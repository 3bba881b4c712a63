package appmgt_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
	"github.com/platinummonkey/appmgt/pkg/approle"
	"github.com/platinummonkey/appmgt/pkg/contextkeys"
	"github.com/platinummonkey/appmgt/pkg/idp"
	"github.com/platinummonkey/appmgt/pkg/observability"
	"github.com/platinummonkey/appmgt/pkg/storage"
	"github.com/platinummonkey/appmgt/pkg/tenant"
)

const acmeTenant int64 = 7

type fakeRoles struct {
	mu        sync.Mutex
	renames   [][2]string
	deletes   []string
	deleteErr error
}

func (f *fakeRoles) RenameApplicationRole(_ context.Context, _ int64, oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, [2]string{oldName, newName})
	return nil
}

func (f *fakeRoles) DeleteApplicationRole(_ context.Context, _ int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, name)
	return nil
}

type fakeProtocol struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (f *fakeProtocol) RemoveClientRegistration(_ context.Context, _ int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return f.err
}

type fakeFiles map[string]bool

func (f fakeFiles) ContainsName(name string) bool { return f[strings.ToLower(name)] }

type testEnv struct {
	db      *sqlx.DB
	svc     *appmgt.Service
	roles   *fakeRoles
	oauth   *fakeProtocol
	saml    *fakeProtocol
	idps    *idp.Directory
	metrics *observability.Metrics
}

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appmgt.db")
	require.NoError(t, storage.Migrate(storage.DriverSQLite, path, storage.Up))
	db, err := storage.Open(context.Background(), storage.Config{Driver: storage.DriverSQLite, DSN: path, ConnectTimeout: time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEnv(t *testing.T, configure ...func(*appmgt.Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		db:      newTestDB(t),
		roles:   &fakeRoles{},
		oauth:   &fakeProtocol{},
		saml:    &fakeProtocol{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	env.idps = idp.NewDirectory(env.db)

	opts := appmgt.Options{
		DB:      env.db,
		Tenants: tenant.NewStaticResolver(map[string]int64{"acme.com": acmeTenant}),
		Roles:   env.roles,
		Files:   fakeFiles{"legacy-app": true},
		IdPs:    env.idps,
		Protocols: map[string]appmgt.ProtocolClientRegistry{
			appmgt.InboundTypeOAuth: env.oauth,
			appmgt.InboundTypeSAML:  env.saml,
		},
		Metrics: env.metrics,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	svc, err := appmgt.NewService(opts)
	require.NoError(t, err)
	env.svc = svc

	require.NoError(t, env.idps.Register(context.Background(), acmeTenant, idp.IdentityProvider{
		Name:                 "Google",
		DefaultAuthenticator: "GoogleOIDC",
		Authenticators: []idp.Authenticator{
			{Name: "GoogleOIDC", DisplayName: "Google"},
			{Name: "GoogleSAML", DisplayName: "Google SAML"},
		},
	}))
	return env
}

func acmeAdmin() context.Context {
	return contextkeys.WithPrincipal(context.Background(), contextkeys.Principal{
		Username:        "alice",
		UserStoreDomain: "PRIMARY",
		TenantDomain:    "acme.com",
	})
}

func (e *testEnv) count(t *testing.T, table string, appID int64) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.Get(&n, "SELECT COUNT(*) FROM "+table+" WHERE app_id = ?", appID))
	return n
}

func portal() *appmgt.ServiceProvider {
	return &appmgt.ServiceProvider{
		Name:        "Portal",
		Description: "customer portal",
		InboundAuthConfigs: []appmgt.InboundAuthRequestConfig{
			{Key: "portal-client", Type: appmgt.InboundTypeOAuth, Properties: []appmgt.Property{
				{Name: "callbackUrl", Value: "https://portal.acme.com/cb"},
			}},
			{Key: "https://portal.acme.com", Type: appmgt.InboundTypeSAML},
		},
		LocalAndOutboundConfig: appmgt.LocalAndOutboundConfig{
			AuthenticationType: appmgt.AuthTypeDefault,
			Steps: []appmgt.AuthenticationStep{
				{
					Order:         2,
					AttributeStep: true,
					FederatedIdPs: []appmgt.FederatedIdP{{
						Name:                 "Google",
						DefaultAuthenticator: "GoogleSAML",
						Authenticators: []appmgt.FederatedAuthenticator{
							{Name: "GoogleOIDC", DisplayName: "Google"},
							{Name: "GoogleSAML", DisplayName: "Google SAML"},
						},
					}},
				},
				{
					Order:               1,
					SubjectStep:         true,
					LocalAuthenticators: []appmgt.LocalAuthenticator{{Name: "BasicAuthenticator", DisplayName: "basic"}},
				},
			},
		},
		RequestPathAuthenticators: []appmgt.RequestPathAuthenticator{{Name: "BasicAuthRequestPathAuthenticator"}},
		InboundProvisioning:       appmgt.InboundProvisioningConfig{UserStoreDomain: "PRIMARY"},
		OutboundProvisioning: appmgt.OutboundProvisioningConfig{IdPs: []appmgt.ProvisioningIdP{
			{Name: "Google", DefaultConnector: "scim", JustInTime: true},
		}},
		ClaimConfig: appmgt.ClaimConfig{
			RoleClaimURI:    "http://wso2.org/claims/role",
			SubjectClaimURI: "http://wso2.org/claims/emailaddress",
			Mappings: []appmgt.ClaimMapping{
				{LocalClaim: "http://wso2.org/claims/emailaddress", RemoteClaim: "email", Requested: true},
				{LocalClaim: "http://wso2.org/claims/givenname", RemoteClaim: "given_name", DefaultValue: "n/a"},
			},
		},
		PermissionAndRoleConfig: appmgt.PermissionAndRoleConfig{RoleMappings: []appmgt.RoleMapping{
			{LocalRole: appmgt.LocalRole{Name: "admin", UserStoreDomain: "PRIMARY"}, RemoteRole: "portal-admin"},
		}},
	}
}

func ruleOf(t *testing.T, err error) appmgt.Rule {
	t.Helper()
	var ve *appmgt.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Rule
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := appmgt.NewService(appmgt.Options{Tenants: tenant.NewStaticResolver(nil)})
	assert.Error(t, err)
	_, err = appmgt.NewService(appmgt.Options{DB: &sqlx.DB{}})
	assert.Error(t, err)
}

func TestCreateAndGet_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	sp := portal()
	id, err := env.svc.CreateApplication(ctx, sp, "")
	require.NoError(t, err)
	require.Positive(t, id)
	assert.Equal(t, id, sp.ID)

	got, err := env.svc.GetApplication(ctx, "portal", "")
	require.NoError(t, err)

	want := portal()
	want.ID = id
	want.Owner = appmgt.Owner{Username: "alice", UserStoreDomain: "PRIMARY", TenantDomain: "acme.com"}
	want.LocalAndOutboundConfig.Steps = []appmgt.AuthenticationStep{
		{
			Order:               1,
			SubjectStep:         true,
			LocalAuthenticators: []appmgt.LocalAuthenticator{{Name: "BasicAuthenticator", DisplayName: "basic"}},
		},
		{
			Order:         2,
			AttributeStep: true,
			FederatedIdPs: []appmgt.FederatedIdP{{
				Name:                 "Google",
				DefaultAuthenticator: "GoogleSAML",
				Authenticators: []appmgt.FederatedAuthenticator{
					{Name: "GoogleSAML", DisplayName: "Google SAML"},
					{Name: "GoogleOIDC", DisplayName: "Google"},
				},
			}},
		},
	}
	assert.Equal(t, want, got)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.OperationsTotal.WithLabelValues("create", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.AuthenticatorsCreatedTotal.WithLabelValues(appmgt.LocalIdPName)))
}

func TestCreate_ExplicitTenantAndSystemOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "Batch"}, "acme.com")
	require.NoError(t, err)

	got, err := env.svc.GetApplication(ctx, "Batch", "acme.com")
	require.NoError(t, err)
	assert.Equal(t, appmgt.Owner{Username: appmgt.SystemUser, UserStoreDomain: appmgt.PrimaryUserStore, TenantDomain: "acme.com"}, got.Owner)
	assert.Equal(t, appmgt.AuthTypeDefault, got.LocalAndOutboundConfig.AuthenticationType)
	assert.Empty(t, got.LocalAndOutboundConfig.Steps)

	_, err = env.svc.GetApplication(ctx, "Batch", "")
	assert.True(t, appmgt.IsNotFound(err), "super tenant does not see acme applications")
}

func TestUpdate_IsIdempotentAndReplaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	id, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)

	first, err := env.svc.GetApplication(ctx, "Portal", "")
	require.NoError(t, err)
	require.NoError(t, env.svc.UpdateApplication(ctx, first))
	second, err := env.svc.GetApplication(ctx, "Portal", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Empty(t, env.roles.renames)

	second.InboundAuthConfigs = second.InboundAuthConfigs[:1]
	second.ClaimConfig.Mappings = nil
	second.PermissionAndRoleConfig.RoleMappings = nil
	second.RequestPathAuthenticators = nil
	second.LocalAndOutboundConfig.Steps = second.LocalAndOutboundConfig.Steps[:1]
	second.Description = "updated"
	require.NoError(t, env.svc.UpdateApplication(ctx, second))

	third, err := env.svc.GetApplication(ctx, "Portal", "")
	require.NoError(t, err)
	assert.Equal(t, "updated", third.Description)
	assert.Len(t, third.InboundAuthConfigs, 1)
	assert.Empty(t, third.ClaimConfig.Mappings)
	assert.Empty(t, third.PermissionAndRoleConfig.RoleMappings)
	assert.Empty(t, third.RequestPathAuthenticators)
	require.Len(t, third.LocalAndOutboundConfig.Steps, 1)
	assert.Equal(t, appmgt.StepOrder(1), third.LocalAndOutboundConfig.Steps[0].Order)

	assert.Equal(t, 1, env.count(t, "sp_inbound_auth", id))
	assert.Equal(t, 0, env.count(t, "sp_claim_mapping", id))
	assert.Equal(t, 1, env.count(t, "sp_auth_step", id))
}

func TestUpdate_RenameCallsRoleManagerOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	id, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)

	sp, err := env.svc.GetApplication(ctx, "Portal", "")
	require.NoError(t, err)
	sp.Name = "Customer Portal"
	require.NoError(t, env.svc.UpdateApplication(ctx, sp))

	assert.Equal(t, [][2]string{{"Portal", "Customer Portal"}}, env.roles.renames)
	name, err := env.svc.ApplicationName(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Customer Portal", name)

	// A case-only change is not a rename.
	sp.Name = "customer portal"
	require.NoError(t, env.svc.UpdateApplication(ctx, sp))
	assert.Len(t, env.roles.renames, 1)
}

func TestUpdate_FailedWriteRevertsRename(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	id, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)
	sp, err := env.svc.GetApplication(ctx, "Portal", "")
	require.NoError(t, err)

	_, err = env.db.Exec(`DROP TABLE sp_role_mapping`)
	require.NoError(t, err)

	sp.Name = "Customer Portal"
	err = env.svc.UpdateApplication(ctx, sp)
	require.Error(t, err)
	assert.True(t, appmgt.IsPersistence(err))
	assert.False(t, appmgt.IsRollbackFailure(err))

	var pe *appmgt.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, appmgt.StageRoles, pe.Stage)
	assert.Equal(t, id, pe.AppID)

	assert.Equal(t, [][2]string{{"Portal", "Customer Portal"}, {"Customer Portal", "Portal"}}, env.roles.renames)
	name, err := env.svc.ApplicationName(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Portal", name)
	assert.Equal(t, 2, env.count(t, "sp_inbound_auth", id), "earlier stages rolled back")
}

func TestUpdate_TransactionalRoleStore(t *testing.T) {
	db := newTestDB(t)
	roles := approle.NewStore(db)
	svc, err := appmgt.NewService(appmgt.Options{
		DB:      db,
		Tenants: tenant.NewStaticResolver(map[string]int64{"acme.com": acmeTenant}),
		Roles:   roles,
	})
	require.NoError(t, err)
	ctx := acmeAdmin()

	_, err = svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "Portal"}, "")
	require.NoError(t, err)
	require.NoError(t, roles.CreateApplicationRole(ctx, acmeTenant, "Portal"))

	sp, err := svc.GetApplication(ctx, "Portal", "")
	require.NoError(t, err)
	sp.Name = "Intranet"
	require.NoError(t, svc.UpdateApplication(ctx, sp))

	ok, err := roles.Exists(ctx, acmeTenant, "Intranet")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.Exec(`DROP TABLE sp_role_mapping`)
	require.NoError(t, err)
	sp.Name = "Extranet"
	require.Error(t, svc.UpdateApplication(ctx, sp))

	ok, err = roles.Exists(ctx, acmeTenant, "Intranet")
	require.NoError(t, err)
	assert.True(t, ok, "role rename rolled back with the transaction")
	ok, err = roles.Exists(ctx, acmeTenant, "Extranet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdate_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	_, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)
	billingID, err := env.svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "Billing"}, "")
	require.NoError(t, err)

	billing, err := env.svc.GetApplication(ctx, "Billing", "")
	require.NoError(t, err)

	billing.Name = "PORTAL"
	assert.Equal(t, appmgt.RuleNameConflict, ruleOf(t, env.svc.UpdateApplication(ctx, billing)))

	billing.Name = "Legacy-App"
	assert.Equal(t, appmgt.RuleFileNameConflict, ruleOf(t, env.svc.UpdateApplication(ctx, billing)))

	billing.Name = "LOCAL-SP"
	assert.Equal(t, appmgt.RuleReservedName, ruleOf(t, env.svc.UpdateApplication(ctx, billing)))

	billing.Name = "Billing"
	billing.ID = 0
	assert.True(t, appmgt.IsValidation(env.svc.UpdateApplication(ctx, billing)))

	billing.ID = 999
	assert.True(t, appmgt.IsNotFound(env.svc.UpdateApplication(ctx, billing)))

	billing.ID = billingID
	other := contextkeys.WithPrincipal(context.Background(), contextkeys.Principal{Username: "bob"})
	assert.True(t, appmgt.IsNotFound(env.svc.UpdateApplication(other, billing)), "update is scoped to the caller tenant")
	assert.Empty(t, env.roles.renames)
}

func TestUpdate_NameLaterDefinedInFileRegistry(t *testing.T) {
	files := fakeFiles{}
	env := newTestEnv(t, func(o *appmgt.Options) { o.Files = files })
	ctx := acmeAdmin()

	_, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)
	sp, err := env.svc.GetApplication(ctx, "Portal", "")
	require.NoError(t, err)

	files["portal"] = true
	assert.Equal(t, appmgt.RuleFileNameConflict, ruleOf(t, env.svc.UpdateApplication(ctx, sp)))

	delete(files, "portal")
	assert.NoError(t, env.svc.UpdateApplication(ctx, sp))
}

func TestDelete_RemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	id, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteApplication(ctx, "portal"))

	assert.Equal(t, []string{"portal-client"}, env.oauth.removed)
	assert.Equal(t, []string{"https://portal.acme.com"}, env.saml.removed)
	assert.Equal(t, []string{"Portal"}, env.roles.deletes)

	for _, table := range []string{
		"sp_inbound_auth", "sp_auth_step", "sp_req_path_authenticator",
		"sp_claim_mapping", "sp_role_mapping", "sp_provisioning_connector",
	} {
		assert.Zero(t, env.count(t, table, id), table)
	}
	var links int
	require.NoError(t, env.db.Get(&links, `SELECT COUNT(*) FROM sp_federated_idp`))
	assert.Zero(t, links)

	_, err = env.svc.GetApplication(ctx, "Portal", "")
	assert.True(t, appmgt.IsNotFound(err))
	assert.True(t, appmgt.IsNotFound(env.svc.DeleteApplication(ctx, "Portal")))
	assert.True(t, appmgt.IsNotFound(env.svc.DeleteApplicationByID(ctx, id)))
}

func TestDelete_ByIDToleratesProtocolFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()
	env.oauth.err = errors.New("oauth store offline")

	id, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)
	require.NoError(t, env.svc.DeleteApplicationByID(ctx, id))

	assert.Equal(t, []string{"portal-client"}, env.oauth.removed)
	assert.Equal(t, []string{"https://portal.acme.com"}, env.saml.removed)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ProtocolRemovalFailuresTotal.WithLabelValues(appmgt.InboundTypeOAuth)))
}

func TestDelete_RoleFailureKeepsApplication(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()
	env.roles.deleteErr = errors.New("role store offline")

	id, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)

	err = env.svc.DeleteApplication(ctx, "Portal")
	require.Error(t, err)
	assert.True(t, appmgt.IsPersistence(err))

	name, err := env.svc.ApplicationName(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Portal", name)
}

func TestDefaultApplication(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	def, err := env.svc.GetApplication(ctx, appmgt.DefaultApplicationName, "")
	require.NoError(t, err)
	assert.Equal(t, appmgt.DefaultApplicationName, def.Name)
	assert.Equal(t, appmgt.DefaultApplicationDescription, def.Description)
	assert.Equal(t, appmgt.SystemUser, def.Owner.Username)
	assert.Equal(t, appmgt.AuthTypeDefault, def.LocalAndOutboundConfig.AuthenticationType)

	again, err := env.svc.GetApplication(ctx, appmgt.DefaultApplicationName, "")
	require.NoError(t, err)
	assert.Equal(t, def.ID, again.ID)

	_, err = env.svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "Local-SP"}, "")
	assert.Equal(t, appmgt.RuleReservedName, ruleOf(t, err))
	assert.Equal(t, appmgt.RuleReservedName, ruleOf(t, env.svc.DeleteApplication(ctx, appmgt.DefaultApplicationName)))

	def.Name = "Renamed"
	assert.Equal(t, appmgt.RuleReservedName, ruleOf(t, env.svc.UpdateApplication(ctx, def)))

	apps, err := env.svc.ListApplications(ctx, "", nil)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestListApplications(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	portalID, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)
	billingID, err := env.svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "Billing", Description: "invoices"}, "")
	require.NoError(t, err)
	_, err = env.svc.GetApplication(ctx, appmgt.DefaultApplicationName, "")
	require.NoError(t, err)

	apps, err := env.svc.ListApplications(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []appmgt.ApplicationBasicInfo{
		{ID: billingID, Name: "Billing", Description: "invoices"},
		{ID: portalID, Name: "Portal", Description: "customer portal"},
	}, apps)

	denyBilling := func(_ context.Context, name string, _ int64) bool { return name != "Billing" }
	apps, err = env.svc.ListApplications(ctx, "", denyBilling)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Portal", apps[0].Name)

	apps, err = env.svc.ListApplications(ctx, appmgt.SuperTenantDomain, nil)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestInboundKeyLookups(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	id, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)

	sp, err := env.svc.GetApplicationByInboundKey(ctx, "portal-client", appmgt.InboundTypeOAuth, "")
	require.NoError(t, err)
	assert.Equal(t, id, sp.ID)

	name, err := env.svc.ApplicationNameByInboundKey(ctx, "https://portal.acme.com", appmgt.InboundTypeSAML, "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Portal", name)

	_, err = env.svc.ApplicationNameByInboundKey(ctx, "portal-client", appmgt.InboundTypeSAML, "")
	assert.True(t, appmgt.IsNotFound(err), "key is bound per type")

	_, err = env.svc.GetApplicationByInboundKey(ctx, "", appmgt.InboundTypeOAuth, "")
	assert.True(t, appmgt.IsValidation(err))

	name, err = env.svc.ApplicationName(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Portal", name)

	_, err = env.svc.ApplicationName(ctx, id+100)
	assert.True(t, appmgt.IsNotFound(err))
}

func TestClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	sp := portal()
	sp.ClaimConfig.Mappings = append(sp.ClaimConfig.Mappings,
		appmgt.ClaimMapping{LocalClaim: "email"},
		appmgt.ClaimMapping{RemoteClaim: "nickname", Requested: true},
	)
	_, err := env.svc.CreateApplication(ctx, sp, "")
	require.NoError(t, err)

	toRemote, err := env.svc.GetClaimMapping(ctx, "Portal", "", appmgt.LocalToRemote)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"http://wso2.org/claims/emailaddress": "email",
		"http://wso2.org/claims/givenname":    "given_name",
		"email":                               "email",
		"nickname":                            "nickname",
	}, toRemote)

	toLocal, err := env.svc.GetClaimMapping(ctx, "Portal", "", appmgt.RemoteToLocal)
	require.NoError(t, err)
	assert.Equal(t, "http://wso2.org/claims/givenname", toLocal["given_name"])

	requested, err := env.svc.GetRequestedClaims(ctx, "Portal", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://wso2.org/claims/emailaddress", "nickname"}, requested)

	_, err = env.svc.GetRequestedClaims(ctx, "Missing", "")
	assert.True(t, appmgt.IsNotFound(err))

	sp = portal()
	sp.Name = "Broken"
	sp.ClaimConfig.Mappings = []appmgt.ClaimMapping{{Requested: true}}
	_, err = env.svc.CreateApplication(ctx, sp, "")
	assert.Equal(t, appmgt.RuleClaimMapping, ruleOf(t, err))
}

func TestCreate_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	_, err := env.svc.CreateApplication(ctx, portal(), "")
	require.NoError(t, err)

	dup := portal()
	dup.Name = "PORTAL"
	_, err = env.svc.CreateApplication(ctx, dup, "")
	assert.Equal(t, appmgt.RuleNameConflict, ruleOf(t, err))

	_, err = env.svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "legacy-APP"}, "")
	assert.Equal(t, appmgt.RuleFileNameConflict, ruleOf(t, err))

	_, err = env.svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "Elsewhere"}, "nope.com")
	assert.Equal(t, appmgt.RuleUnknownTenant, ruleOf(t, err))
	assert.ErrorIs(t, err, appmgt.ErrUnknownTenant)

	_, err = env.svc.CreateApplication(ctx, &appmgt.ServiceProvider{Name: "  "}, "")
	assert.Equal(t, appmgt.RuleRequired, ruleOf(t, err))

	_, err = env.svc.CreateApplication(ctx, nil, "")
	assert.True(t, appmgt.IsValidation(err))

	local := &appmgt.ServiceProvider{Name: "Kiosk", LocalAndOutboundConfig: appmgt.LocalAndOutboundConfig{
		AuthenticationType: appmgt.AuthTypeLocal,
		Steps: []appmgt.AuthenticationStep{
			{Order: 1, LocalAuthenticators: []appmgt.LocalAuthenticator{{Name: "BasicAuthenticator"}}},
			{Order: 2, LocalAuthenticators: []appmgt.LocalAuthenticator{{Name: "TOTP"}}},
		},
	}}
	_, err = env.svc.CreateApplication(ctx, local, "")
	assert.Equal(t, appmgt.RuleLocalSingleStep, ruleOf(t, err))

	apps, err := env.svc.ListApplications(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, apps, 1, "rejected applications leave no rows")
	assert.Equal(t, float64(6), testutil.ToFloat64(env.metrics.OperationsTotal.WithLabelValues("create", "invalid")))
}

func TestFederatedFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()
	require.NoError(t, env.idps.Register(ctx, acmeTenant, idp.IdentityProvider{
		Name:          "Hub",
		FederationHub: true,
		Authenticators: []idp.Authenticator{
			{Name: "HubSAML", DisplayName: "Partner hub"},
		},
	}))

	federated := func(name, idpName string, authenticators ...string) *appmgt.ServiceProvider {
		fidp := appmgt.FederatedIdP{Name: idpName}
		for _, a := range authenticators {
			fidp.Authenticators = append(fidp.Authenticators, appmgt.FederatedAuthenticator{Name: a})
		}
		return &appmgt.ServiceProvider{Name: name, LocalAndOutboundConfig: appmgt.LocalAndOutboundConfig{
			AuthenticationType: appmgt.AuthTypeFederated,
			Steps:              []appmgt.AuthenticationStep{{Order: 1, FederatedIdPs: []appmgt.FederatedIdP{fidp}}},
		}}
	}

	t.Run("directory default wins", func(t *testing.T) {
		_, err := env.svc.CreateApplication(ctx, federated("Intranet", "Google", "GoogleSAML", "GoogleOIDC"), "")
		require.NoError(t, err)

		got, err := env.svc.GetApplication(ctx, "Intranet", "")
		require.NoError(t, err)
		assert.Equal(t, appmgt.AuthTypeFederated, got.LocalAndOutboundConfig.AuthenticationType)
		require.Len(t, got.LocalAndOutboundConfig.Steps, 1)
		assert.Equal(t, []appmgt.FederatedIdP{{
			Name:                 "Google",
			DefaultAuthenticator: "GoogleOIDC",
			Authenticators:       []appmgt.FederatedAuthenticator{{Name: "GoogleOIDC", DisplayName: "Google"}},
		}}, got.LocalAndOutboundConfig.Steps[0].FederatedIdPs)
	})

	t.Run("federation hub flag is read from the directory", func(t *testing.T) {
		_, err := env.svc.CreateApplication(ctx, federated("Partners", "Hub", "HubSAML"), "")
		require.NoError(t, err)

		got, err := env.svc.GetApplication(ctx, "Partners", "")
		require.NoError(t, err)
		require.Len(t, got.LocalAndOutboundConfig.Steps[0].FederatedIdPs, 1)
		assert.True(t, got.LocalAndOutboundConfig.Steps[0].FederatedIdPs[0].FederationHub)
	})

	t.Run("unknown authenticator is skipped", func(t *testing.T) {
		_, err := env.svc.CreateApplication(ctx, federated("Orphan", "Nowhere", "Ghost"), "")
		require.NoError(t, err)

		got, err := env.svc.GetApplication(ctx, "Orphan", "")
		require.NoError(t, err)
		require.Len(t, got.LocalAndOutboundConfig.Steps, 1)
		assert.Empty(t, got.LocalAndOutboundConfig.Steps[0].FederatedIdPs)
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.AuthenticatorsSkippedTotal.WithLabelValues("Nowhere", "not-found")))
	})

	t.Run("local authenticators are rejected", func(t *testing.T) {
		sp := federated("Mixed", "Google", "GoogleOIDC")
		sp.LocalAndOutboundConfig.Steps[0].LocalAuthenticators = []appmgt.LocalAuthenticator{{Name: "BasicAuthenticator"}}
		_, err := env.svc.CreateApplication(ctx, sp, "")
		assert.Equal(t, appmgt.RuleFederatedNoLocal, ruleOf(t, err))
	})
}

func TestLocalAuthenticatorsAreShared(t *testing.T) {
	env := newTestEnv(t)
	ctx := acmeAdmin()

	for _, name := range []string{"One", "Two"} {
		sp := &appmgt.ServiceProvider{Name: name, LocalAndOutboundConfig: appmgt.LocalAndOutboundConfig{
			AuthenticationType: appmgt.AuthTypeLocal,
			Steps: []appmgt.AuthenticationStep{
				{Order: 1, LocalAuthenticators: []appmgt.LocalAuthenticator{{Name: "BasicAuthenticator"}}},
			},
		}}
		_, err := env.svc.CreateApplication(ctx, sp, "")
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, env.db.Get(&n, `SELECT COUNT(*) FROM idp_authenticator WHERE idp_name = 'LOCAL' AND name = 'BasicAuthenticator'`))
	assert.Equal(t, 1, n)

	got, err := env.svc.GetApplication(ctx, "Two", "")
	require.NoError(t, err)
	assert.Equal(t, []appmgt.LocalAuthenticator{{Name: "BasicAuthenticator"}},
		got.LocalAndOutboundConfig.Steps[0].LocalAuthenticators)
}
