package fmdata

import (
	"context"

	"github.com/fmkit/go-fmdata/core"
	"github.com/fmkit/go-fmdata/rest"
)

type (
	Config      = core.Config
	Fields      = core.Fields
	Value       = core.Value
	Record      = core.Record
	RecordSet   = core.RecordSet
	Page        = core.Page
	Query       = core.Query
	AddResult   = core.AddResult
	ProductInfo = core.ProductInfo
	Renderable  = core.Renderable
	LayoutAPI   = core.LayoutAPI
	Client      = rest.Client
)

// NewClient creates a client bound to config.Database and config.Layout.
func NewClient(config *Config) (*Client, error) {
	return rest.NewClient(config)
}

// ListDatabases lists the databases visible to the configured account.
func ListDatabases(ctx context.Context, config *Config) ([]string, error) {
	return rest.ListDatabases(ctx, config)
}

// ListLayouts lists the layouts of config.Database.
func ListLayouts(ctx context.Context, config *Config) ([]string, error) {
	return rest.ListLayouts(ctx, config)
}

// NewFields converts a native map into Fields.
func NewFields(m map[string]any) (Fields, error) {
	return core.NewFields(m)
}
