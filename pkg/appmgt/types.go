package appmgt

import "strings"

const (
	// DefaultApplicationName is the tenant's implicit default application. It
	// is created on first read and cannot be created, renamed or deleted.
	DefaultApplicationName = "local-sp"

	// DefaultApplicationDescription is stored when the default application is created.
	DefaultApplicationDescription = "Local Service Provider"

	// LocalIdPName is the identity source name of the broker's own credential store.
	LocalIdPName = "LOCAL"

	// SuperTenantID owns authenticator definitions shared by every tenant.
	SuperTenantID int64 = -1234

	// SuperTenantDomain is used when neither an explicit tenant domain nor a
	// principal is available.
	SuperTenantDomain = "carbon.super"

	// PrimaryUserStore is the user store domain of unqualified usernames.
	PrimaryUserStore = "PRIMARY"

	// SystemUser owns the default application.
	SystemUser = "system"
)

// AuthenticationType classifies the shape of an application's login flow.
type AuthenticationType string

const (
	AuthTypeDefault   AuthenticationType = "default"
	AuthTypeLocal     AuthenticationType = "local"
	AuthTypeFederated AuthenticationType = "federated"
)

// Valid reports whether t is a known authentication type.
func (t AuthenticationType) Valid() bool {
	switch t {
	case AuthTypeDefault, AuthTypeLocal, AuthTypeFederated:
		return true
	}
	return false
}

// ServiceProvider is the aggregate root: one registered application and all
// of its login, claim, role and provisioning configuration.
type ServiceProvider struct {
	ID          int64
	Name        string
	Description string
	Owner       Owner
	SaaS        bool

	InboundAuthConfigs        []InboundAuthRequestConfig
	LocalAndOutboundConfig    LocalAndOutboundConfig
	RequestPathAuthenticators []RequestPathAuthenticator
	InboundProvisioning       InboundProvisioningConfig
	OutboundProvisioning      OutboundProvisioningConfig
	ClaimConfig               ClaimConfig
	PermissionAndRoleConfig   PermissionAndRoleConfig
}

// Owner is the user that registered the application.
type Owner struct {
	Username        string
	UserStoreDomain string
	TenantDomain    string
}

// Property is a named inbound protocol setting.
type Property struct {
	Name  string
	Value string
}

// InboundAuthRequestConfig binds an external protocol identifier to the application.
type InboundAuthRequestConfig struct {
	Key        string
	Type       string
	Properties []Property
}

// LocalAndOutboundConfig holds the authentication flow.
type LocalAndOutboundConfig struct {
	AuthenticationType                    AuthenticationType
	Steps                                 []AuthenticationStep
	AlwaysSendBackAuthenticatedListOfIdPs bool
}

// StepOrder is the execution position of an authentication step.
type StepOrder int

// AuthenticationStep is one stage of a login sequence.
type AuthenticationStep struct {
	Order               StepOrder
	SubjectStep         bool
	AttributeStep       bool
	LocalAuthenticators []LocalAuthenticator
	FederatedIdPs       []FederatedIdP
}

// LocalAuthenticator references an authenticator of the local identity source.
type LocalAuthenticator struct {
	Name        string
	DisplayName string
}

// FederatedAuthenticator is one authenticator of a federated identity provider.
type FederatedAuthenticator struct {
	Name        string
	DisplayName string
}

// FederatedIdP references an external identity provider within a step.
type FederatedIdP struct {
	Name                 string
	Authenticators       []FederatedAuthenticator
	DefaultAuthenticator string
	FederationHub        bool
}

// RequestPathAuthenticator runs before the step sequence, on the request itself.
type RequestPathAuthenticator struct {
	Name string
}

// InboundProvisioningConfig names the user store used for just-in-time provisioning.
type InboundProvisioningConfig struct {
	UserStoreDomain string
}

// OutboundProvisioningConfig lists the identity providers users are provisioned to.
type OutboundProvisioningConfig struct {
	IdPs []ProvisioningIdP
}

// ProvisioningIdP is an outbound provisioning target.
type ProvisioningIdP struct {
	Name             string
	DefaultConnector string
	JustInTime       bool
	Blocking         bool
}

// ClaimConfig controls how user attributes are exposed to the application.
type ClaimConfig struct {
	RoleClaimURI                   string
	SubjectClaimURI                string
	LocalClaimDialect              bool
	AlwaysSendMappedLocalSubjectID bool
	Mappings                       []ClaimMapping
}

// ClaimMapping maps a local claim URI to the application's claim URI.
type ClaimMapping struct {
	LocalClaim   string
	RemoteClaim  string
	Requested    bool
	DefaultValue string
}

// PermissionAndRoleConfig holds role mappings.
type PermissionAndRoleConfig struct {
	RoleMappings []RoleMapping
}

// LocalRole is a broker role, optionally qualified by user store domain.
type LocalRole struct {
	Name            string
	UserStoreDomain string
}

// String returns the qualified "DOMAIN/name" form.
func (r LocalRole) String() string {
	if r.UserStoreDomain == "" {
		return r.Name
	}
	return r.UserStoreDomain + "/" + r.Name
}

// ParseLocalRole splits a qualified role name.
func ParseLocalRole(qualified string) LocalRole {
	if i := strings.Index(qualified, "/"); i > 0 {
		return LocalRole{UserStoreDomain: qualified[:i], Name: qualified[i+1:]}
	}
	return LocalRole{Name: qualified}
}

// RoleMapping maps a local role to the role name the application expects.
type RoleMapping struct {
	LocalRole  LocalRole
	RemoteRole string
}

// ApplicationBasicInfo is the summary returned by listings.
type ApplicationBasicInfo struct {
	ID          int64  `db:"id"`
	Name        string `db:"app_name"`
	Description string `db:"description"`
}

// ClaimMappingDirection selects the key side of GetClaimMapping.
type ClaimMappingDirection int

const (
	// LocalToRemote keys the map by local claim URI.
	LocalToRemote ClaimMappingDirection = iota
	// RemoteToLocal keys the map by the application's claim URI.
	RemoteToLocal
)

// IsDefaultApplication reports whether name is the reserved default application.
func IsDefaultApplication(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), DefaultApplicationName)
}
