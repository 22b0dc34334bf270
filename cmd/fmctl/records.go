package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fmkit/go-fmdata/core"
	"github.com/fmkit/go-fmdata/rest"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count the records of the layout's table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *rest.Client) error {
				n, err := c.Count(cmd.Context())
				if err != nil {
					return err
				}
				return a.renderValue(cmd.OutOrStdout(), "records", n)
			})
		},
	}
}

func newRecordsCmd(a *app) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Fetch one page of records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *rest.Client) error {
				records, err := c.GetRecords(cmd.Context(), offset, limit)
				if err != nil {
					return err
				}
				return a.render(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 1, "1-based position of the first record")
	cmd.Flags().IntVar(&limit, "limit", core.DefaultPageSize, "maximum number of records")
	return cmd
}

func newAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Fetch every record, page by page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *rest.Client) error {
				records, err := c.GetAllRecords(cmd.Context())
				if err != nil {
					return err
				}
				return a.render(cmd.OutOrStdout(), records)
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get RECORD_ID",
		Short: "Fetch one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRecordID(args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *rest.Client) error {
				record, err := c.GetRecord(cmd.Context(), id)
				if err != nil {
					return err
				}
				return a.render(cmd.OutOrStdout(), record)
			})
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	var (
		queries       []string
		sortFields    []string
		descending    bool
		offset, limit int
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find records",
		Long: `Find records matching any of the given conditions.

Each --query is one condition of comma separated field=expression pairs that
must all match. Repeating --query ORs the conditions:

  fmctl find -q 'City=Paris,Age=>30' -q 'Name=Bob' --sort Name`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conditions, err := parseQueries(queries)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *rest.Client) error {
				if limit > 0 {
					page, err := c.SearchPage(cmd.Context(), conditions, sortFields, !descending, offset, limit)
					if err != nil {
						return err
					}
					return a.render(cmd.OutOrStdout(), page.Records)
				}
				records, err := c.Search(cmd.Context(), conditions, sortFields, !descending)
				if err != nil {
					return err
				}
				return a.render(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "condition as field=expr[,field=expr...]; repeat for OR")
	cmd.Flags().StringSliceVar(&sortFields, "sort", nil, "fields to sort by")
	cmd.Flags().BoolVar(&descending, "desc", false, "sort descending")
	cmd.Flags().IntVar(&offset, "offset", 1, "1-based position of the first match, with --limit")
	cmd.Flags().IntVar(&limit, "limit", 0, "return a single page of this size instead of every match")
	return cmd
}

// parseQueries turns "a=x,b=y" flags into find conditions.
func parseQueries(raw []string) ([]core.Query, error) {
	conditions := make([]core.Query, 0, len(raw))
	for _, condition := range raw {
		q := core.Query{}
		for _, pair := range strings.Split(condition, ",") {
			name, expr, found := strings.Cut(pair, "=")
			name = strings.TrimSpace(name)
			if !found || name == "" {
				return nil, fmt.Errorf("invalid condition %q: expected field=expression", pair)
			}
			q[name] = expr
		}
		conditions = append(conditions, q)
	}
	return conditions, nil
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every record of the layout to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "msgpack" {
				return fmt.Errorf("unknown export format %q", format)
			}
			return a.withClient(cmd, func(c *rest.Client) error {
				records, err := c.GetAllRecords(cmd.Context())
				if err != nil {
					return err
				}
				var data []byte
				if format == "msgpack" {
					if data, err = records.Export(); err != nil {
						return err
					}
				} else {
					data = []byte(records.PrettyJson() + "\n")
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err = os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				success(cmd.ErrOrStderr(), "exported %d records to %s", len(records), pterm.Bold.Sprint(out))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or msgpack")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}
