package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fmkit/go-fmdata/core"
	"github.com/fmkit/go-fmdata/rest"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

func newAddCmd(a *app) *cobra.Command {
	var (
		file string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create records",
		Long: `Create one record from --set pairs, or every record of a YAML or JSON file
holding an object or a list of objects ("-" reads stdin). Items of a file are
created one by one; a failing item does not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readFields(cmd.InOrStdin(), file, sets)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *rest.Client) error {
				results := c.AddRecords(cmd.Context(), batch)
				w := cmd.OutOrStdout()
				for _, r := range results {
					if r.Err != nil {
						warning(cmd.ErrOrStderr(), "item %d failed: %v", r.Index, r.Err)
						continue
					}
					success(w, "created record %d", r.ID)
				}
				if failed := core.BatchErrors(results); len(failed) > 0 {
					return fmt.Errorf("%d of %d records failed", len(failed), len(results))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with the field data")
	cmd.Flags().StringArrayVarP(&sets, "set", "s", nil, "field=value, repeatable")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		file string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "update RECORD_ID",
		Short: "Change fields of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRecordID(args[0])
			if err != nil {
				return err
			}
			batch, err := readFields(cmd.InOrStdin(), file, sets)
			if err != nil {
				return err
			}
			if len(batch) != 1 {
				return fmt.Errorf("update takes exactly one object, got %d", len(batch))
			}
			return a.withClient(cmd, func(c *rest.Client) error {
				if err := c.UpdateRecord(cmd.Context(), id, batch[0]); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "updated record %d", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with the field data")
	cmd.Flags().StringArrayVarP(&sets, "set", "s", nil, "field=value, repeatable")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RECORD_ID",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRecordID(args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *rest.Client) error {
				if err := c.DeleteRecord(cmd.Context(), id); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "deleted record %d", id)
				return nil
			})
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record of the layout's table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete every record of %s without --yes", a.layout)
			}
			return a.withClient(cmd, func(c *rest.Client) error {
				deleted, err := c.ClearRecords(cmd.Context())
				if err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "deleted %d records", deleted)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

// readFields collects field data from --set pairs or a YAML/JSON document.
func readFields(stdin io.Reader, file string, sets []string) ([]core.Fields, error) {
	if file != "" && len(sets) > 0 {
		return nil, fmt.Errorf("--file and --set are mutually exclusive")
	}
	if file == "" {
		if len(sets) == 0 {
			return nil, fmt.Errorf("no field data: use --set or --file")
		}
		m := make(map[string]any, len(sets))
		for _, pair := range sets {
			name, value, found := strings.Cut(pair, "=")
			if !found || strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("invalid --set %q: expected field=value", pair)
			}
			m[strings.TrimSpace(name)] = value
		}
		fields, err := core.NewFields(m)
		if err != nil {
			return nil, err
		}
		return []core.Fields{fields}, nil
	}

	var (
		raw []byte
		err error
	)
	if file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, err
	}
	return parseDocument(raw)
}

// parseDocument accepts YAML or JSON holding one object or a list of objects.
func parseDocument(raw []byte) ([]core.Fields, error) {
	data, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var batch []core.Fields
		if err = json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		return batch, nil
	}
	var fields core.Fields
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid input: expected an object or a list of objects: %w", err)
	}
	return []core.Fields{fields}, nil
}
