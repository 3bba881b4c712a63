package appmgt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/appmgt/pkg/audit"
	"github.com/platinummonkey/appmgt/pkg/contextkeys"
	"github.com/platinummonkey/appmgt/pkg/observability"
)

// Options configures a Service. DB and Tenants are required.
type Options struct {
	DB      *sqlx.DB
	Tenants TenantResolver
	Roles   RoleManager
	Files   FileRegistry
	IdPs    IdPDirectory
	// Protocols maps an inbound type to the registry that owns its client
	// registrations.
	Protocols map[string]ProtocolClientRegistry
	// Audit receives one event per attempted write. Nil disables the trail.
	Audit audit.Logger

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
}

// Service persists and validates service provider applications.
type Service struct {
	db        *sqlx.DB
	tenants   TenantResolver
	roles     RoleManager
	files     FileRegistry
	idps      IdPDirectory
	protocols map[string]ProtocolClientRegistry
	audit     audit.Logger

	log     logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mapper *mapper
	tx     *TxCoordinator
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.DB == nil {
		return nil, errors.New("appmgt: database is required")
	}
	if opts.Tenants == nil {
		return nil, errors.New("appmgt: tenant resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.DiscardLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer()
	}
	s := &Service{
		db:        opts.DB,
		tenants:   opts.Tenants,
		roles:     opts.Roles,
		files:     opts.Files,
		idps:      opts.IdPs,
		protocols: opts.Protocols,
		audit:     opts.Audit,
		log:       opts.Logger.WithField("component", "appmgt"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
	s.mapper = &mapper{
		registry: NewAuthenticatorRegistry(s.log, opts.Metrics),
		idps:     opts.IdPs,
		log:      s.log,
	}
	s.tx = NewTxCoordinator(opts.DB, s.log, opts.Metrics, opts.Tracer)
	return s, nil
}

// start tags ctx with an operation id and opens the operation span. The
// returned func ends the span and records the outcome.
func (s *Service) start(ctx context.Context, op string) (context.Context, func(error)) {
	began := time.Now()
	if contextkeys.GetOperationID(ctx) == "" {
		ctx = contextkeys.WithOperationID(ctx, uuid.NewString())
	}
	ctx, span := s.tracer.Start(ctx, "appmgt."+op, trace.WithAttributes(attribute.String("appmgt.operation", op)))

	return ctx, func(err error) {
		status := "success"
		switch {
		case err == nil:
		case IsNotFound(err):
			status = "not_found"
		case IsValidation(err):
			status = "invalid"
		default:
			status = "error"
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		}
		span.End()
		s.metrics.ObserveOperation(op, status, time.Since(began))

		log := s.logger(ctx).WithFields(logrus.Fields{"op": op, "status": status, "duration": time.Since(began)})
		if status == "error" {
			log.WithError(err).Error("application operation failed")
			return
		}
		log.Debug("application operation finished")
	}
}

// resolveTenant picks the explicit domain, then the caller's, then the super
// tenant, and resolves it once.
func (s *Service) resolveTenant(ctx context.Context, tenantDomain string) (int64, string, error) {
	domain := strings.TrimSpace(tenantDomain)
	if domain == "" {
		if p, ok := contextkeys.GetPrincipal(ctx); ok && p.TenantDomain != "" {
			domain = p.TenantDomain
		} else {
			domain = SuperTenantDomain
		}
	}
	id, err := s.tenants.ResolveTenant(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrUnknownTenant) {
			return 0, "", &ValidationError{
				Field:   "tenantDomain",
				Rule:    RuleUnknownTenant,
				Message: fmt.Sprintf("tenant %q does not exist", domain),
				Err:     err,
			}
		}
		return 0, "", &PersistenceError{Op: "resolve tenant of", Err: err}
	}
	return id, domain, nil
}

// TenantID resolves tenantDomain with the fallback every operation uses.
func (s *Service) TenantID(ctx context.Context, tenantDomain string) (int64, error) {
	id, _, err := s.resolveTenant(ctx, tenantDomain)
	return id, err
}

// owner derives the owner of a new application from the caller.
func owner(ctx context.Context, tenantDomain string) Owner {
	o := Owner{Username: SystemUser, UserStoreDomain: PrimaryUserStore, TenantDomain: tenantDomain}
	if p, ok := contextkeys.GetPrincipal(ctx); ok && p.Username != "" {
		o.Username = p.Username
		if p.UserStoreDomain != "" {
			o.UserStoreDomain = p.UserStoreDomain
		}
	}
	return o
}

func (s *Service) readError(op string, err error) error {
	if IsNotFound(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// record writes the audit event of a write that reached the store. Audit
// failures never fail the operation.
func (s *Service) record(ctx context.Context, action audit.Action, tenantID, appID int64, name, previous string, cause error) {
	if s.audit == nil {
		return
	}
	e := audit.NewEvent(ctx, action, tenantID).Fail(cause)
	e.AppID = appID
	e.AppName = name
	e.PreviousName = previous
	var pe *PersistenceError
	if errors.As(cause, &pe) && pe.Stage != "" {
		e.Metadata = map[string]any{"stage": string(pe.Stage)}
	}
	if err := s.audit.Log(ctx, e); err != nil {
		s.logger(ctx).WithError(err).WithField("action", string(action)).Warn("failed to record audit event")
	}
}

func (s *Service) logger(ctx context.Context) logrus.FieldLogger {
	return observability.FromContext(ctx, s.log)
}

// writeStages builds the staged writes for the aggregate after basic info.
func (s *Service) writeStages(tenantID int64, sp *ServiceProvider, replace bool, basic StageFunc) []StagedWrite {
	m := s.mapper
	return []StagedWrite{
		{Stage: StageBasicInfo, Run: basic},
		{Stage: StageInbound, Run: func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
			return m.writeInbound(ctx, tx, tenantID, ws.AppID, sp.InboundAuthConfigs, replace)
		}},
		{Stage: StageSteps, Run: func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
			return m.writeSteps(ctx, tx, tenantID, ws.AppID, sp.LocalAndOutboundConfig, sp.RequestPathAuthenticators, replace)
		}},
		{Stage: StageClaims, Run: func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
			return m.writeClaims(ctx, tx, tenantID, ws.AppID, sp.ClaimConfig, replace)
		}},
		{Stage: StageProvisioning, Run: func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
			return m.writeProvisioning(ctx, tx, tenantID, ws.AppID, sp.InboundProvisioning, sp.OutboundProvisioning, replace)
		}},
		{Stage: StageRoles, Run: func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
			return m.writeRoles(ctx, tx, tenantID, ws.AppID, sp.PermissionAndRoleConfig, replace)
		}},
	}
}

// checkFileRegistry rejects names already defined by file-based applications.
func (s *Service) checkFileRegistry(name string) error {
	if s.files != nil && s.files.ContainsName(strings.TrimSpace(name)) {
		return invalid("name", RuleFileNameConflict, "application %q is already defined in the file registry", name)
	}
	return nil
}

// CreateApplication validates sp and stores it with every sub-configuration
// in one transaction. The owner is taken from the caller principal. On
// success sp.ID holds the generated identifier.
func (s *Service) CreateApplication(ctx context.Context, sp *ServiceProvider, tenantDomain string) (id int64, err error) {
	ctx, done := s.start(ctx, "create")
	defer func() { done(err) }()

	if sp == nil {
		return 0, invalid("", RuleRequired, "application is required")
	}
	if IsDefaultApplication(sp.Name) {
		return 0, invalid("name", RuleReservedName, "application name %q is reserved", DefaultApplicationName)
	}
	if err := s.checkFileRegistry(sp.Name); err != nil {
		return 0, err
	}
	tenantID, domain, err := s.resolveTenant(ctx, tenantDomain)
	if err != nil {
		return 0, err
	}
	prepared, err := s.prepare(ctx, tenantID, sp)
	if err != nil {
		return 0, err
	}
	prepared.Owner = owner(ctx, domain)

	if _, err := basicInfoByName(ctx, s.db, tenantID, prepared.Name); err == nil {
		return 0, invalid("name", RuleNameConflict, "application %q already exists", prepared.Name)
	} else if !IsNotFound(err) {
		return 0, &PersistenceError{Op: "create", Err: err}
	}

	ws := &WriteState{}
	basic := func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
		appID, err := s.mapper.insertBasicInfo(ctx, tx, tenantID, prepared)
		if err != nil {
			return err
		}
		ws.AppID = appID
		return nil
	}
	if err := s.tx.Run(ctx, "create", ws, s.writeStages(tenantID, prepared, false, basic)...); err != nil {
		s.record(ctx, audit.ActionCreate, tenantID, 0, prepared.Name, "", err)
		return 0, err
	}
	s.record(ctx, audit.ActionCreate, tenantID, ws.AppID, prepared.Name, "", nil)

	s.logger(ctx).WithFields(logrus.Fields{"app_id": ws.AppID, "app_name": prepared.Name, "tenant_id": tenantID}).
		Info("application created")
	sp.ID = ws.AppID
	return ws.AppID, nil
}

// GetApplication loads the full application by name. The default application
// is created on first access.
func (s *Service) GetApplication(ctx context.Context, name, tenantDomain string) (sp *ServiceProvider, err error) {
	ctx, done := s.start(ctx, "get")
	defer func() { done(err) }()

	tenantID, domain, err := s.resolveTenant(ctx, tenantDomain)
	if err != nil {
		return nil, err
	}
	return s.getApplication(ctx, tenantID, domain, name)
}

func (s *Service) getApplication(ctx context.Context, tenantID int64, tenantDomain, name string) (*ServiceProvider, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", RuleRequired, "application name is required")
	}
	row, err := basicInfoByName(ctx, s.db, tenantID, name)
	if IsNotFound(err) && IsDefaultApplication(name) {
		if err := s.createDefault(ctx, tenantID, tenantDomain); err != nil {
			return nil, err
		}
		row, err = basicInfoByName(ctx, s.db, tenantID, name)
	}
	if err != nil {
		return nil, s.readError("get", err)
	}
	sp, err := s.mapper.assemble(ctx, s.db, row, tenantDomain)
	if err != nil {
		return nil, &PersistenceError{Op: "get", AppID: row.ID, Err: err}
	}
	return sp, nil
}

// createDefault stores the reserved default application of a tenant. A
// concurrent creation by another caller counts as success.
func (s *Service) createDefault(ctx context.Context, tenantID int64, tenantDomain string) error {
	sp := &ServiceProvider{
		Name:        DefaultApplicationName,
		Description: DefaultApplicationDescription,
		Owner:       Owner{Username: SystemUser, UserStoreDomain: PrimaryUserStore, TenantDomain: tenantDomain},
		LocalAndOutboundConfig: LocalAndOutboundConfig{
			AuthenticationType: AuthTypeDefault,
		},
	}
	ws := &WriteState{}
	err := s.tx.Run(ctx, "create default", ws, StagedWrite{
		Stage: StageBasicInfo,
		Run: func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
			appID, err := s.mapper.insertBasicInfo(ctx, tx, tenantID, sp)
			ws.AppID = appID
			return err
		},
	})
	if IsValidation(err) {
		return nil
	}
	s.record(ctx, audit.ActionCreateDefault, tenantID, ws.AppID, sp.Name, "", err)
	if err != nil {
		return err
	}
	s.logger(ctx).WithField("tenant_id", tenantID).Info("default application created")
	return nil
}

// UpdateApplication replaces the stored application identified by sp.ID in
// the caller's tenant. A name change renames the application role exactly
// once; the rename is reverted if the transaction rolls back.
func (s *Service) UpdateApplication(ctx context.Context, sp *ServiceProvider) (err error) {
	ctx, done := s.start(ctx, "update")
	defer func() { done(err) }()

	if sp == nil {
		return invalid("", RuleRequired, "application is required")
	}
	if sp.ID <= 0 {
		return invalid("id", RuleRequired, "application id is required")
	}
	tenantID, _, err := s.resolveTenant(ctx, "")
	if err != nil {
		return err
	}
	prepared, err := s.prepare(ctx, tenantID, sp)
	if err != nil {
		return err
	}

	stored, err := basicInfoByID(ctx, s.db, tenantID, sp.ID)
	if err != nil {
		return s.readError("update", err)
	}
	if IsDefaultApplication(stored.Name) != IsDefaultApplication(prepared.Name) {
		return invalid("name", RuleReservedName, "application name %q is reserved", DefaultApplicationName)
	}
	if err := s.checkFileRegistry(prepared.Name); err != nil {
		return err
	}
	renamed := !strings.EqualFold(stored.Name, prepared.Name)
	if renamed {
		if other, err := basicInfoByName(ctx, s.db, tenantID, prepared.Name); err == nil && other.ID != sp.ID {
			return invalid("name", RuleNameConflict, "application %q already exists", prepared.Name)
		} else if err != nil && !IsNotFound(err) {
			return &PersistenceError{Op: "update", AppID: sp.ID, Err: err}
		}
	}

	ws := &WriteState{AppID: sp.ID}
	basic := func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
		if err := s.mapper.updateBasicInfo(ctx, tx, tenantID, ws.AppID, prepared); err != nil {
			return err
		}
		if !renamed || s.roles == nil {
			return nil
		}
		if txRoles, ok := s.roles.(TxRoleManager); ok {
			if err := txRoles.WithTx(tx).RenameApplicationRole(ctx, tenantID, stored.Name, prepared.Name); err != nil {
				return fmt.Errorf("failed to rename application role: %w", err)
			}
			return nil
		}
		if err := s.roles.RenameApplicationRole(ctx, tenantID, stored.Name, prepared.Name); err != nil {
			return fmt.Errorf("failed to rename application role: %w", err)
		}
		ws.OnRollback(func(ctx context.Context) error {
			return s.roles.RenameApplicationRole(ctx, tenantID, prepared.Name, stored.Name)
		})
		return nil
	}
	previous := ""
	if renamed {
		previous = stored.Name
	}
	err = s.tx.Run(ctx, "update", ws, s.writeStages(tenantID, prepared, true, basic)...)
	s.record(ctx, audit.ActionUpdate, tenantID, sp.ID, prepared.Name, previous, err)
	if err != nil {
		return err
	}

	s.logger(ctx).WithFields(logrus.Fields{"app_id": sp.ID, "app_name": prepared.Name, "renamed": renamed}).
		Info("application updated")
	return nil
}

// DeleteApplication removes the named application. Protocol registrations of
// its inbound keys are removed first on a best-effort basis, then the
// application role, then the rows.
func (s *Service) DeleteApplication(ctx context.Context, name string) (err error) {
	ctx, done := s.start(ctx, "delete")
	defer func() { done(err) }()

	tenantID, _, err := s.resolveTenant(ctx, "")
	if err != nil {
		return err
	}
	row, err := basicInfoByName(ctx, s.db, tenantID, strings.TrimSpace(name))
	if err != nil {
		return s.readError("delete", err)
	}
	return s.deleteApplication(ctx, tenantID, row)
}

// DeleteApplicationByID removes the application with the given id.
func (s *Service) DeleteApplicationByID(ctx context.Context, appID int64) (err error) {
	ctx, done := s.start(ctx, "delete_by_id")
	defer func() { done(err) }()

	tenantID, _, err := s.resolveTenant(ctx, "")
	if err != nil {
		return err
	}
	row, err := basicInfoByID(ctx, s.db, tenantID, appID)
	if err != nil {
		return s.readError("delete", err)
	}
	return s.deleteApplication(ctx, tenantID, row)
}

func (s *Service) deleteApplication(ctx context.Context, tenantID int64, row *basicInfoRow) error {
	if IsDefaultApplication(row.Name) {
		return invalid("name", RuleReservedName, "application %q cannot be deleted", row.Name)
	}
	log := s.logger(ctx).WithFields(logrus.Fields{"app_id": row.ID, "app_name": row.Name})

	inbound, err := s.mapper.readInbound(ctx, s.db, tenantID, row.ID)
	if err != nil {
		return &PersistenceError{Op: "delete", AppID: row.ID, Err: err}
	}
	for _, cfg := range inbound {
		reg, ok := s.protocols[cfg.Type]
		if !ok {
			continue
		}
		if err := reg.RemoveClientRegistration(ctx, tenantID, cfg.Key); err != nil {
			log.WithError(err).WithFields(logrus.Fields{"inbound_key": cfg.Key, "inbound_type": cfg.Type}).
				Warn("failed to remove protocol client registration")
			s.metrics.RecordProtocolRemovalFailure(cfg.Type)
		}
	}

	if s.roles != nil {
		if err := s.roles.DeleteApplicationRole(ctx, tenantID, row.Name); err != nil {
			err = &PersistenceError{Op: "delete", AppID: row.ID, Err: fmt.Errorf("failed to delete application role: %w", err)}
			s.record(ctx, audit.ActionDelete, tenantID, row.ID, row.Name, "", err)
			return err
		}
	}

	ws := &WriteState{AppID: row.ID}
	err = s.tx.Run(ctx, "delete", ws, StagedWrite{
		Stage: StageDelete,
		Run: func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error {
			return s.mapper.deleteApplication(ctx, tx, tenantID, ws.AppID)
		},
	})
	s.record(ctx, audit.ActionDelete, tenantID, row.ID, row.Name, "", err)
	if err != nil {
		return err
	}
	log.Info("application deleted")
	return nil
}
