package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/fmkit/go-fmdata/internal/keychain"
	"github.com/fmkit/go-fmdata/rest"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials and save the password in the OS keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.serverURL == "" || a.username == "" {
				return fmt.Errorf("login needs --url and --user")
			}
			password := a.password
			switch {
			case fromStdin:
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			case password == "":
				var err error
				password, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password for " + a.username)
				if err != nil {
					return err
				}
			}
			a.password = password

			config, err := a.config()
			if err != nil {
				return err
			}
			// Listing databases needs no database and proves the credentials.
			if _, err = rest.ListDatabases(cmd.Context(), config); err != nil {
				return err
			}
			manager, err := a.openKeychain(a.stateDir)
			if err != nil {
				return err
			}
			if err = manager.SavePassword(keychain.Account(a.serverURL, a.username), password); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "password for %s saved", a.username)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved password from the OS keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openKeychain(a.stateDir)
			if err != nil {
				return err
			}
			if err = manager.DeletePassword(keychain.Account(a.serverURL, a.username)); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "password for %s removed", a.username)
			return nil
		},
	}
}
