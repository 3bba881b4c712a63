// Package audit records the lifecycle of service provider applications for
// compliance and forensics.
//
// # Overview
//
// Every create, update and delete that reaches the store produces one Event
// carrying the tenant, the application, the acting principal and the
// outcome. Validation failures are rejected before any write and are not
// recorded.
//
// # Destinations
//
//   - FileLogger: newline-delimited JSON with size based rotation
//   - SQLLogger: the app_audit_log table, searchable with Filter
//   - MultiLogger: fans one event out to several destinations
//
// # Usage Example
//
//	files, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: "/var/log/appmgt/audit"})
//	if err != nil {
//		return err
//	}
//	logger := audit.NewMultiLogger(files, audit.NewSQLLogger(db))
//	defer logger.Close()
//
//	svc, err := appmgt.NewService(appmgt.Options{DB: db, Tenants: tenants, Audit: logger})
//
// Search recorded events:
//
//	events, err := audit.NewSQLLogger(db).Search(ctx, audit.Filter{AppName: "portal", Limit: 50})
//	err = audit.Export(os.Stdout, events, audit.ExportFormatCSV)
//
// # Related Packages
//
//   - pkg/appmgt: emits the events
//   - pkg/storage: owns the app_audit_log migration
package audit
