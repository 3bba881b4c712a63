package main

import (
	"github.com/spf13/cobra"

	"github.com/platinummonkey/appmgt/pkg/config"
)

type rootOptions struct {
	configFile string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "appmgt",
		Short: "Service provider application management for the identity broker",
		Long: `
Service provider application management for the identity broker

Options may be supplied in a YAML configuration file or via environment
variables prefixed with APPMGT_.

Available Configurations:

  database:
      driver             (string)   (APPMGT_DATABASE_DRIVER)  postgres, pgx or sqlite3
      dsn                (string)   (APPMGT_DATABASE_DSN)
      max_open_conns     (int)      (APPMGT_DATABASE_MAX_OPEN_CONNS)
      connect_timeout    (duration) (APPMGT_DATABASE_CONNECT_TIMEOUT)
  log:
      level              (string)   (APPMGT_LOG_LEVEL)
      format             (string)   (APPMGT_LOG_FORMAT)  text or json
  http:
      addr               (string)   (APPMGT_HTTP_ADDR)
      shutdown_timeout   (duration) (APPMGT_HTTP_SHUTDOWN_TIMEOUT)
  filereg:
      dir                (string)   (APPMGT_FILEREG_DIR)
  tenants:
      static             ([]string) (APPMGT_TENANTS_STATIC)  domain=id pairs
      cache_ttl          (duration) (APPMGT_TENANTS_CACHE_TTL)
  otel:
      enabled            (bool)     (APPMGT_OTEL_ENABLED)
      endpoint           (string)   (APPMGT_OTEL_ENDPOINT)
      sample_ratio       (float)    (APPMGT_OTEL_SAMPLE_RATIO)
  audit:
      database           (bool)     (APPMGT_AUDIT_DATABASE)
      dir                (string)   (APPMGT_AUDIT_DIR)
      max_size_mb        (int)      (APPMGT_AUDIT_MAX_SIZE_MB)
      max_files          (int)      (APPMGT_AUDIT_MAX_FILES)
`,
		SilenceUsage: true,
		Version:      version,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a configuration file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newAppsCmd(opts),
		newTenantsCmd(opts),
		newAuditCmd(opts),
	)
	return cmd
}
