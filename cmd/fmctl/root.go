package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fmkit/go-fmdata/core"
	"github.com/fmkit/go-fmdata/internal/keychain"
	"github.com/fmkit/go-fmdata/internal/logging"
	"github.com/fmkit/go-fmdata/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Environment variables read as flag defaults, after .env is loaded.
const (
	EnvUser     = "FM_USER"
	EnvPassword = "FM_PASSWORD"
	EnvDatabase = "FM_DATABASE"
	EnvLayout   = "FM_LAYOUT"
)

type app struct {
	serverURL string
	username  string
	password  string
	database  string
	layout    string
	pageSize  int
	timeout   time.Duration
	output    string
	stateDir  string

	openKeychain func(stateDir string) (*keychain.Manager, error)
	logger       *zap.Logger
	flushLog     func()
}

func newApp() *app {
	return &app{openKeychain: keychain.NewManager}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "fmctl",
		Short:         "Command line client for the FileMaker Data API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.serverURL, "url", os.Getenv(core.EnvServerURL), "Data API base URL, e.g. https://host/fmi/data/vLatest (env "+core.EnvServerURL+")")
	f.StringVarP(&a.username, "user", "u", os.Getenv(EnvUser), "account name (env "+EnvUser+")")
	f.StringVarP(&a.password, "password", "p", os.Getenv(EnvPassword), "account password (env "+EnvPassword+"); falls back to the password saved by login")
	f.StringVarP(&a.database, "database", "d", os.Getenv(EnvDatabase), "database name (env "+EnvDatabase+")")
	f.StringVarP(&a.layout, "layout", "l", os.Getenv(EnvLayout), "layout name (env "+EnvLayout+")")
	f.IntVar(&a.pageSize, "page-size", core.DefaultPageSize, "records per request when fetching everything")
	f.DurationVar(&a.timeout, "timeout", 30*time.Second, "timeout of a single request")
	f.StringVarP(&a.output, "output", "o", "table", "output format: table or json")
	f.StringVar(&a.stateDir, "state-dir", "", "directory for logs and the file keyring (default ~/.fmctl)")
	_ = f.MarkHidden("state-dir")

	root.AddCommand(
		newDatabasesCmd(a),
		newLayoutsCmd(a),
		newInfoCmd(a),
		newFieldsCmd(a),
		newCountCmd(a),
		newRecordsCmd(a),
		newAllCmd(a),
		newGetCmd(a),
		newFindCmd(a),
		newAddCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newClearCmd(a),
		newExportCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
	)
	return root
}

func (a *app) setup() error {
	if a.output != "table" && a.output != "json" {
		return fmt.Errorf("unknown output format %q", a.output)
	}
	if a.stateDir == "" {
		dir, err := logging.Dir()
		if err != nil {
			return err
		}
		a.stateDir = dir
	}
	logger, flush, err := logging.New(a.stateDir)
	if err != nil {
		return err
	}
	a.logger, a.flushLog = logger, flush
	return nil
}

func (a *app) teardown() {
	if a.flushLog != nil {
		a.flushLog()
	}
}

// resolvePassword prefers the flag or environment, then the keychain.
func (a *app) resolvePassword() (string, error) {
	if a.password != "" {
		return a.password, nil
	}
	manager, err := a.openKeychain(a.stateDir)
	if err != nil {
		return "", fmt.Errorf("no password given and keychain unavailable: %w", err)
	}
	password, err := manager.LoadPassword(keychain.Account(a.serverURL, a.username))
	if errors.Is(err, keychain.ErrNotFound) {
		return "", fmt.Errorf("no password for %s: pass --password, set %s or run fmctl login", a.username, EnvPassword)
	}
	return password, err
}

func (a *app) config() (*core.Config, error) {
	password, err := a.resolvePassword()
	if err != nil {
		return nil, err
	}
	timeout := a.timeout
	return &core.Config{
		ServerURL: a.serverURL,
		Username:  a.username,
		Password:  password,
		Database:  a.database,
		Layout:    a.layout,
		PageSize:  a.pageSize,
		Timeout:   &timeout,
		Logger:    a.logger,
		UserAgent: "fmctl/" + core.ClientVersion(),
	}, nil
}

// withClient runs fn with a layout client and logs out afterwards.
func (a *app) withClient(cmd *cobra.Command, fn func(c *rest.Client) error) error {
	config, err := a.config()
	if err != nil {
		return err
	}
	c, err := rest.NewClient(config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(cmd.Context()); cerr != nil {
			a.logger.Warn("logout failed", zap.Error(cerr))
		}
	}()
	return fn(c)
}
