package main

import (
	"fmt"

	"github.com/fmkit/go-fmdata/rest"
	"github.com/spf13/cobra"
)

func newDatabasesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List the databases visible to the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := a.config()
			if err != nil {
				return err
			}
			dbs, err := rest.ListDatabases(cmd.Context(), config)
			if err != nil {
				return err
			}
			return a.renderList(cmd.OutOrStdout(), "DATABASE", dbs)
		},
	}
}

func newLayoutsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List the layouts of a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := a.config()
			if err != nil {
				return err
			}
			layouts, err := rest.ListLayouts(cmd.Context(), config)
			if err != nil {
				return err
			}
			return a.renderList(cmd.OutOrStdout(), "LAYOUT", layouts)
		},
	}
}

func newInfoCmd(a *app) *cobra.Command {
	var require string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the server product information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := a.config()
			if err != nil {
				return err
			}
			info, err := rest.ServerInfo(cmd.Context(), config)
			if err != nil {
				return err
			}
			if require != "" {
				ok, err := info.Satisfies(require)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("server version %s does not satisfy %q", info.Version, require)
				}
			}
			if a.output == "json" {
				return a.renderValue(cmd.OutOrStdout(), "", info)
			}
			return a.renderList(cmd.OutOrStdout(), "PRODUCT", []string{
				info.Name,
				"version " + info.Version,
				"built " + info.BuildDate,
			})
		},
	}
	cmd.Flags().StringVar(&require, "require", "", `fail unless the server version satisfies this constraint, e.g. ">= 19.0"`)
	return cmd
}

func newFieldsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the field names of the layout, taken from its first record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *rest.Client) error {
				names, err := c.FieldNames(cmd.Context())
				if err != nil {
					return err
				}
				return a.renderList(cmd.OutOrStdout(), "FIELD", names)
			})
		},
	}
}
