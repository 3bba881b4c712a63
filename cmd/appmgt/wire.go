package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
	"github.com/platinummonkey/appmgt/pkg/approle"
	"github.com/platinummonkey/appmgt/pkg/audit"
	"github.com/platinummonkey/appmgt/pkg/config"
	"github.com/platinummonkey/appmgt/pkg/filereg"
	"github.com/platinummonkey/appmgt/pkg/idp"
	"github.com/platinummonkey/appmgt/pkg/observability"
	"github.com/platinummonkey/appmgt/pkg/storage"
	"github.com/platinummonkey/appmgt/pkg/tenant"
)

// engine is the wired application service and the resources it owns.
type engine struct {
	db      *sqlx.DB
	svc     *appmgt.Service
	files   *filereg.Registry
	tenants *tenant.SQLResolver
	audit   audit.Logger
}

func (e *engine) Close() error {
	var result *multierror.Error
	if e.audit != nil {
		if err := e.audit.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := e.db.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// newAuditLogger builds the configured audit destinations, or nil when none
// is enabled.
func newAuditLogger(cfg config.AuditConfig, db *sqlx.DB) (audit.Logger, error) {
	var loggers []audit.Logger
	if cfg.Database {
		loggers = append(loggers, audit.NewSQLLogger(db))
	}
	if cfg.Dir != "" {
		files, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Dir,
			MaxSize:  int64(cfg.MaxSizeMB) * 1024 * 1024,
			MaxFiles: cfg.MaxFiles,
		})
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, files)
	}
	switch len(loggers) {
	case 0:
		return nil, nil
	case 1:
		return loggers[0], nil
	default:
		return audit.NewMultiLogger(loggers...), nil
	}
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	return observability.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)
}

func buildEngine(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, metrics *observability.Metrics) (*engine, error) {
	db, err := storage.Open(ctx, cfg.Storage(), log)
	if err != nil {
		return nil, err
	}
	e := &engine{db: db, tenants: tenant.NewSQLResolver(db)}

	var resolver appmgt.TenantResolver = e.tenants
	if len(cfg.Tenants.Static) > 0 {
		static, err := tenant.ParseStatic(cfg.Tenants.Static)
		if err != nil {
			db.Close()
			return nil, err
		}
		resolver = static
	}
	if cfg.Tenants.CacheTTL > 0 {
		resolver = tenant.NewCachedResolver(resolver, 1024, cfg.Tenants.CacheTTL)
	}

	if e.audit, err = newAuditLogger(cfg.Audit, db); err != nil {
		db.Close()
		return nil, err
	}

	opts := appmgt.Options{
		DB:      db,
		Tenants: resolver,
		Roles:   approle.NewStore(db),
		IdPs:    idp.NewDirectory(db),
		Logger:  log,
		Metrics: metrics,
		Audit:   e.audit,
	}
	if cfg.FileReg.Dir != "" {
		e.files = filereg.New(cfg.FileReg.Dir, log, metrics)
		if err := e.files.Load(); err != nil {
			log.WithError(err).Warn("file registry loaded with errors")
		}
		opts.Files = e.files
	}

	if e.svc, err = appmgt.NewService(opts); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create application service: %w", err)
	}
	return e, nil
}
