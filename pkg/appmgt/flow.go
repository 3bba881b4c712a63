package appmgt

import (
	"fmt"
	"sort"
	"strings"
)

// ValidateFlow checks an authentication flow and returns its normalized form.
// It performs no I/O. defaults maps a federated identity provider name to the
// default authenticator known by the identity provider directory; it may be nil.
//
// Normalization:
//   - an empty step list, or an empty type, yields AuthTypeDefault
//   - steps are sorted by order
//   - in a federated flow the provider's authenticator list is replaced by its
//     single default: the directory default when known, otherwise the first
//     authenticator supplied by the caller
//   - in other flows the default authenticator of each provider is moved to
//     the front of its list, and the first one is used when none is named
//
// The input is not modified.
func ValidateFlow(cfg LocalAndOutboundConfig, defaults map[string]string) (LocalAndOutboundConfig, error) {
	out := cfg
	out.Steps = cloneSteps(cfg.Steps)

	if out.AuthenticationType == "" || len(out.Steps) == 0 {
		out.AuthenticationType = AuthTypeDefault
	}
	if !out.AuthenticationType.Valid() {
		return out, invalid("authenticationType", RuleUnknownAuthType, "unknown authentication type %q", out.AuthenticationType)
	}

	sort.SliceStable(out.Steps, func(i, j int) bool { return out.Steps[i].Order < out.Steps[j].Order })

	seen := make(map[StepOrder]bool, len(out.Steps))
	for i := range out.Steps {
		step := &out.Steps[i]
		field := fmt.Sprintf("steps[%d]", step.Order)
		if seen[step.Order] {
			return out, invalid(field, RuleDuplicateStepOrder, "step order %d is used more than once", step.Order)
		}
		seen[step.Order] = true

		if len(step.LocalAuthenticators) == 0 && len(step.FederatedIdPs) == 0 {
			return out, invalid(field, RuleStepAuthenticator, "step needs at least one local authenticator or federated identity provider")
		}
		for _, la := range step.LocalAuthenticators {
			if strings.TrimSpace(la.Name) == "" {
				return out, invalid(field+".localAuthenticators", RuleRequired, "authenticator name is required")
			}
		}
		for _, idp := range step.FederatedIdPs {
			if strings.TrimSpace(idp.Name) == "" {
				return out, invalid(field+".federatedIdPs", RuleRequired, "identity provider name is required")
			}
			if strings.EqualFold(idp.Name, LocalIdPName) {
				return out, invalid(field+".federatedIdPs", RuleReservedIdPName, "%q is reserved for the local identity provider", idp.Name)
			}
		}
	}

	switch out.AuthenticationType {
	case AuthTypeLocal:
		if len(out.Steps) != 1 {
			return out, invalid("steps", RuleLocalSingleStep, "local authentication needs exactly one step, got %d", len(out.Steps))
		}
		step := out.Steps[0]
		if len(step.LocalAuthenticators) != 1 || len(step.FederatedIdPs) != 0 {
			return out, invalid("steps", RuleLocalSingleAuth, "local authentication needs exactly one local authenticator and no federated identity provider")
		}
	case AuthTypeFederated:
		if len(out.Steps) != 1 {
			return out, invalid("steps", RuleFederatedSingleStep, "federated authentication needs exactly one step, got %d", len(out.Steps))
		}
		step := &out.Steps[0]
		if len(step.LocalAuthenticators) != 0 {
			return out, invalid("steps", RuleFederatedNoLocal, "federated authentication cannot use local authenticators")
		}
		if len(step.FederatedIdPs) != 1 {
			return out, invalid("steps", RuleFederatedSingleIdP, "federated authentication needs exactly one identity provider, got %d", len(step.FederatedIdPs))
		}
		idp := &step.FederatedIdPs[0]
		chosen := federatedDefault(*idp, defaults[idp.Name])
		if chosen.Name == "" {
			return out, invalid("steps", RuleFederatedAuth, "identity provider %q has no authenticator", idp.Name)
		}
		idp.Authenticators = []FederatedAuthenticator{chosen}
		idp.DefaultAuthenticator = chosen.Name
	default:
		for i := range out.Steps {
			for j := range out.Steps[i].FederatedIdPs {
				promoteDefault(&out.Steps[i].FederatedIdPs[j])
			}
		}
	}

	return out, nil
}

// federatedDefault picks the single authenticator of a federated flow.
func federatedDefault(idp FederatedIdP, directoryDefault string) FederatedAuthenticator {
	if directoryDefault != "" {
		for _, a := range idp.Authenticators {
			if a.Name == directoryDefault {
				return a
			}
		}
		return FederatedAuthenticator{Name: directoryDefault}
	}
	if len(idp.Authenticators) > 0 {
		return idp.Authenticators[0]
	}
	return FederatedAuthenticator{}
}

func promoteDefault(idp *FederatedIdP) {
	if len(idp.Authenticators) == 0 {
		return
	}
	if idp.DefaultAuthenticator == "" {
		idp.DefaultAuthenticator = idp.Authenticators[0].Name
		return
	}
	for i, a := range idp.Authenticators {
		if a.Name == idp.DefaultAuthenticator {
			if i > 0 {
				rest := append([]FederatedAuthenticator{a}, idp.Authenticators[:i]...)
				idp.Authenticators = append(rest, idp.Authenticators[i+1:]...)
			}
			return
		}
	}
	// unknown default: the first listed authenticator is what reads will report
	idp.DefaultAuthenticator = idp.Authenticators[0].Name
}

func cloneSteps(in []AuthenticationStep) []AuthenticationStep {
	if in == nil {
		return nil
	}
	out := make([]AuthenticationStep, len(in))
	for i, s := range in {
		out[i] = s
		out[i].LocalAuthenticators = append([]LocalAuthenticator(nil), s.LocalAuthenticators...)
		if s.FederatedIdPs != nil {
			out[i].FederatedIdPs = make([]FederatedIdP, len(s.FederatedIdPs))
			for j, idp := range s.FederatedIdPs {
				out[i].FederatedIdPs[j] = idp
				out[i].FederatedIdPs[j].Authenticators = append([]FederatedAuthenticator(nil), idp.Authenticators...)
			}
		}
	}
	return out
}
