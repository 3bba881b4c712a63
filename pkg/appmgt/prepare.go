package appmgt

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// prepare validates the whole aggregate and returns a normalized copy. It
// runs before any transaction is opened.
func (s *Service) prepare(ctx context.Context, tenantID int64, in *ServiceProvider) (*ServiceProvider, error) {
	sp := *in
	sp.Name = strings.TrimSpace(in.Name)
	if sp.Name == "" {
		return nil, invalid("name", RuleRequired, "application name is required")
	}

	log := s.logger(ctx).WithField("app_name", sp.Name)

	sp.InboundAuthConfigs = nil
	seen := make(map[[2]string]bool)
	for _, cfg := range in.InboundAuthConfigs {
		if cfg.Key == "" || cfg.Type == "" {
			log.WithFields(logrus.Fields{"inbound_key": cfg.Key, "inbound_type": cfg.Type}).
				Warn("inbound config without key or type, skipping")
			continue
		}
		b := [2]string{cfg.Key, cfg.Type}
		if seen[b] {
			return nil, invalid("inboundAuthConfigs", RuleDuplicateInboundKey, "inbound key %q of type %q is configured twice", cfg.Key, cfg.Type)
		}
		seen[b] = true
		cfg.Properties = append([]Property(nil), cfg.Properties...)
		sp.InboundAuthConfigs = append(sp.InboundAuthConfigs, cfg)
	}

	defaults, err := s.directoryDefaults(ctx, tenantID, in.LocalAndOutboundConfig)
	if err != nil {
		return nil, err
	}
	if sp.LocalAndOutboundConfig, err = ValidateFlow(in.LocalAndOutboundConfig, defaults); err != nil {
		return nil, err
	}

	sp.RequestPathAuthenticators = nil
	for _, rp := range in.RequestPathAuthenticators {
		if strings.TrimSpace(rp.Name) == "" {
			return nil, invalid("requestPathAuthenticators", RuleRequired, "authenticator name is required")
		}
		sp.RequestPathAuthenticators = append(sp.RequestPathAuthenticators, rp)
	}

	sp.ClaimConfig.Mappings = nil
	for i, cm := range in.ClaimConfig.Mappings {
		cm = defaultClaimMapping(cm)
		if cm.LocalClaim == "" {
			return nil, invalid(fmt.Sprintf("claimConfig.mappings[%d]", i), RuleClaimMapping, "local or remote claim URI is required")
		}
		sp.ClaimConfig.Mappings = append(sp.ClaimConfig.Mappings, cm)
	}

	sp.OutboundProvisioning.IdPs = nil
	targets := make(map[string]bool)
	for _, idp := range in.OutboundProvisioning.IdPs {
		if strings.TrimSpace(idp.Name) == "" {
			return nil, invalid("outboundProvisioning", RuleRequired, "identity provider name is required")
		}
		if targets[idp.Name] {
			return nil, invalid("outboundProvisioning", RuleDuplicateProvisioning, "identity provider %q is listed twice", idp.Name)
		}
		targets[idp.Name] = true
		sp.OutboundProvisioning.IdPs = append(sp.OutboundProvisioning.IdPs, idp)
	}

	sp.PermissionAndRoleConfig.RoleMappings = nil
	for _, rm := range in.PermissionAndRoleConfig.RoleMappings {
		if rm.LocalRole.Name == "" || rm.RemoteRole == "" {
			return nil, invalid("permissionAndRoleConfig", RuleRequired, "role mapping needs a local and a remote role")
		}
		sp.PermissionAndRoleConfig.RoleMappings = append(sp.PermissionAndRoleConfig.RoleMappings, rm)
	}

	return &sp, nil
}

// directoryDefaults asks the identity provider directory for the default
// authenticator of the provider of a federated flow.
func (s *Service) directoryDefaults(ctx context.Context, tenantID int64, cfg LocalAndOutboundConfig) (map[string]string, error) {
	if s.idps == nil || cfg.AuthenticationType != AuthTypeFederated {
		return nil, nil
	}
	defaults := make(map[string]string)
	for _, step := range cfg.Steps {
		for _, idp := range step.FederatedIdPs {
			if idp.Name == "" || strings.EqualFold(idp.Name, LocalIdPName) {
				continue
			}
			name, err := s.idps.DefaultAuthenticator(ctx, tenantID, idp.Name)
			if err != nil {
				return nil, &PersistenceError{Op: "read identity provider for", Err: err}
			}
			if name != "" {
				defaults[idp.Name] = name
			}
		}
	}
	return defaults, nil
}

// defaultClaimMapping lets a blank side of the mapping inherit the other side.
func defaultClaimMapping(cm ClaimMapping) ClaimMapping {
	if cm.RemoteClaim == "" {
		cm.RemoteClaim = cm.LocalClaim
	}
	if cm.LocalClaim == "" {
		cm.LocalClaim = cm.RemoteClaim
	}
	return cm
}
