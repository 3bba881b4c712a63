package appmgt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrUnknownTenant is wrapped by TenantResolver implementations for domains
// that do not exist.
var ErrUnknownTenant = errors.New("unknown tenant")

// Rule names a violated structural validation rule.
type Rule string

const (
	RuleRequired              Rule = "required"
	RuleReservedName          Rule = "reserved-name"
	RuleNameConflict          Rule = "name-conflict"
	RuleFileNameConflict      Rule = "file-name-conflict"
	RuleUnknownTenant         Rule = "unknown-tenant"
	RuleUnknownAuthType       Rule = "unknown-authentication-type"
	RuleStepAuthenticator     Rule = "step-requires-authenticator"
	RuleDuplicateStepOrder    Rule = "duplicate-step-order"
	RuleReservedIdPName       Rule = "reserved-idp-name"
	RuleLocalSingleStep       Rule = "local-flow-single-step"
	RuleLocalSingleAuth       Rule = "local-flow-single-authenticator"
	RuleFederatedSingleStep   Rule = "federated-flow-single-step"
	RuleFederatedSingleIdP    Rule = "federated-flow-single-idp"
	RuleFederatedNoLocal      Rule = "federated-flow-no-local-authenticator"
	RuleFederatedAuth         Rule = "federated-flow-authenticator"
	RuleClaimMapping          Rule = "claim-mapping-uri"
	RuleDuplicateInboundKey   Rule = "duplicate-inbound-key"
	RuleDuplicateProvisioning Rule = "duplicate-provisioning-idp"
)

// ValidationError reports input that cannot be persisted. It is always
// returned before any write for the offending sub-resource.
type ValidationError struct {
	Field   string
	Rule    Rule
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
	}
	return fmt.Sprintf("validation failed (%s): %s: %s", e.Rule, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation implements validationErrorInterface.
func (e *ValidationError) IsValidation() bool { return true }

func invalid(field string, rule Rule, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent application, inbound key or authenticator.
type NotFoundError struct {
	Resource string
	Name     string
	ID       int64
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// IsNotFound implements notFoundErrorInterface.
func (e *NotFoundError) IsNotFound() bool { return true }

// Severity ranks persistence failures.
type Severity int

const (
	SeverityError Severity = iota
	// SeverityCritical means the store may hold a partial write.
	SeverityCritical
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "error"
}

// PersistenceError reports a storage failure with the operation context.
// When the rollback itself failed, RollbackErr is set and Err aggregates the
// triggering and rollback causes.
type PersistenceError struct {
	Op          string
	AppID       int64
	Stage       Stage
	Err         error
	RollbackErr error
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to %s application", e.Op)
	if e.AppID != 0 {
		fmt.Fprintf(&b, " %d", e.AppID)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " at stage %s", e.Stage)
	}
	if e.RollbackErr != nil {
		b.WriteString(" and rollback failed")
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Severity is critical when the rollback failed.
func (e *PersistenceError) Severity() Severity {
	if e.RollbackErr != nil {
		return SeverityCritical
	}
	return SeverityError
}

// IsPersistence implements persistenceErrorInterface.
func (e *PersistenceError) IsPersistence() bool { return true }

func rollbackFailure(op string, appID int64, stage Stage, cause, rbErr error) *PersistenceError {
	return &PersistenceError{
		Op:          op,
		AppID:       appID,
		Stage:       stage,
		Err:         multierror.Append(nil, cause, rbErr),
		RollbackErr: rbErr,
	}
}

type validationErrorInterface interface {
	IsValidation() bool
}

type notFoundErrorInterface interface {
	IsNotFound() bool
}

type persistenceErrorInterface interface {
	IsPersistence() bool
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var e validationErrorInterface
	return errors.As(err, &e) && e.IsValidation()
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var e notFoundErrorInterface
	return errors.As(err, &e) && e.IsNotFound()
}

// IsPersistence reports whether err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var e persistenceErrorInterface
	return errors.As(err, &e) && e.IsPersistence()
}

// IsRollbackFailure reports whether err carries a failed rollback.
func IsRollbackFailure(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e) && e.RollbackErr != nil
}

// isUniqueViolation classifies driver errors for duplicate keys.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
