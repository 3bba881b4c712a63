package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
	"github.com/platinummonkey/appmgt/pkg/contextkeys"
	"github.com/platinummonkey/appmgt/pkg/observability"
)

type appsOptions struct {
	*rootOptions
	tenant string
	user   string
}

func (o *appsOptions) context(ctx context.Context) context.Context {
	if o.user == "" {
		return ctx
	}
	return contextkeys.WithPrincipal(ctx, contextkeys.ParsePrincipal(o.user, o.tenant))
}

// withEngine runs fn against an engine built from the configuration.
func (o *appsOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, svc *appmgt.Service) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	log.SetOutput(cmd.ErrOrStderr())

	e, err := buildEngine(cmd.Context(), cfg, log, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(o.context(cmd.Context()), e.svc)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newAppsCmd(root *rootOptions) *cobra.Command {
	opts := &appsOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Inspect and remove stored applications",
	}
	cmd.PersistentFlags().StringVar(&opts.tenant, "tenant", "", "Tenant domain (defaults to the super tenant)")
	cmd.PersistentFlags().StringVar(&opts.user, "user", "", "Acting user, optionally qualified as DOMAIN/name")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, svc *appmgt.Service) error {
				apps, err := svc.ListApplications(ctx, opts.tenant, nil)
				if err != nil {
					return err
				}
				for _, app := range apps {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", app.ID, app.Name, app.Description)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get NAME",
		Short: "Print an application with its full configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, svc *appmgt.Service) error {
				sp, err := svc.GetApplication(ctx, args[0], opts.tenant)
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), sp)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "claims NAME",
		Short: "Print the claim mapping of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, svc *appmgt.Service) error {
				mapping, err := svc.GetClaimMapping(ctx, args[0], opts.tenant, appmgt.LocalToRemote)
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), mapping)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME|ID",
		Short: "Delete an application in the tenant of --user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, svc *appmgt.Service) error {
				var err error
				if id, convErr := strconv.ParseInt(args[0], 10, 64); convErr == nil {
					err = svc.DeleteApplicationByID(ctx, id)
				} else {
					err = svc.DeleteApplication(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func newTenantsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage rows of the tenants table",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "register DOMAIN ID",
		Short: "Add a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", args[1], err)
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			e, err := buildEngine(cmd.Context(), cfg, observability.DiscardLogger(), nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.tenants.Register(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s as %d\n", args[0], id)
			return nil
		},
	})
	return cmd
}
