package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/appmgt/pkg/audit"
	"github.com/platinummonkey/appmgt/pkg/observability"
	"github.com/platinummonkey/appmgt/pkg/storage"
)

type auditListOptions struct {
	tenantID int64
	app      string
	action   string
	status   string
	since    time.Duration
	limit    int
	format   string
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the application audit trail",
	}

	opts := &auditListOptions{}
	list := &cobra.Command{
		Use:   "list",
		Short: "Print recorded application changes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			db, err := storage.Open(cmd.Context(), cfg.Storage(), observability.DiscardLogger())
			if err != nil {
				return err
			}
			defer db.Close()

			filter := audit.Filter{
				AppName: opts.app,
				Action:  audit.Action(opts.action),
				Status:  audit.Status(opts.status),
				Limit:   opts.limit,
			}
			if cmd.Flags().Changed("tenant-id") {
				filter.TenantID = &opts.tenantID
			}
			if opts.since > 0 {
				filter.Since = time.Now().Add(-opts.since)
			}

			events, err := audit.NewSQLLogger(db).Search(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return audit.Export(cmd.OutOrStdout(), events, audit.ExportFormat(opts.format))
		},
	}
	list.Flags().Int64Var(&opts.tenantID, "tenant-id", 0, "Only events of this tenant id")
	list.Flags().StringVar(&opts.app, "app", "", "Only events of this application name")
	list.Flags().StringVar(&opts.action, "action", "", "Only this action, e.g. application.update")
	list.Flags().StringVar(&opts.status, "status", "", "Only success or failure events")
	list.Flags().DurationVar(&opts.since, "since", 0, "Only events newer than this age, e.g. 24h")
	list.Flags().IntVar(&opts.limit, "limit", audit.DefaultSearchLimit, "Maximum number of events")
	list.Flags().StringVar(&opts.format, "format", string(audit.ExportFormatJSON), "Output format: json, ndjson or csv")

	cmd.AddCommand(list)
	return cmd
}
