package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fmkit/go-fmdata/core"
	"github.com/pterm/pterm"
)

func (a *app) render(w io.Writer, v core.Renderable) error {
	if a.output == "json" {
		_, err := fmt.Fprintln(w, v.PrettyJson())
		return err
	}
	_, err := fmt.Fprintln(w, v.PrettyTable())
	return err
}

// renderList prints a one column listing.
func (a *app) renderList(w io.Writer, header string, items []string) error {
	if a.output == "json" {
		if items == nil {
			items = []string{}
		}
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	rows := pterm.TableData{{header}}
	for _, item := range items {
		rows = append(rows, []string{item})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(w).Render()
}

func (a *app) renderValue(w io.Writer, label string, v any) error {
	if a.output == "json" {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintf(w, "%s: %v\n", label, v)
	return err
}

func success(w io.Writer, format string, args ...any) {
	pterm.Success.WithWriter(w).Printfln(format, args...)
}

func warning(w io.Writer, format string, args ...any) {
	pterm.Warning.WithWriter(w).Printfln(format, args...)
}
