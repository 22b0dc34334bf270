package rest

import (
	"context"
	"fmt"

	"github.com/fmkit/go-fmdata/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// FieldNames returns the field names of the layout, taken from its first
// record; global fields (prefixed "g_") are skipped. A layout without records
// yields an empty list. Results are cached for MetadataTTL.
func (c *Client) FieldNames(ctx context.Context) (names []string, err error) {
	key := c.metadataKey()
	if cached, ok := c.fieldNames.Get(key); ok {
		return append([]string(nil), cached...), nil
	}
	ctx, span := c.startSpan(ctx, "FieldNames")
	defer func() { endSpan(span, err) }()

	page, err := c.recordsPage(ctx, core.Cursor{Offset: 1, Limit: 1}, core.SortSpec{})
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		c.Session.Logger().Warn("no records found while fetching field names", zap.String("layout", c.layout))
		return []string{}, nil
	}
	names = core.FieldNamesByExample(page.Records[0])
	c.fieldNames.Set(key, names)
	return append([]string(nil), names...), nil
}

// Layouts lists the layouts of the bound database. Folders are flattened.
func (c *Client) Layouts(ctx context.Context) (layouts []string, err error) {
	ctx, span := c.startSpan(ctx, "Layouts")
	defer func() { endSpan(span, err) }()
	return core.Execute(ctx, c.Session, core.RequestSpec{Op: core.OpListLayouts, Database: c.database}, core.DecodeLayouts)
}

// ProductInfo describes the server. It needs no session and is cached for MetadataTTL.
func (c *Client) ProductInfo(ctx context.Context) (info core.ProductInfo, err error) {
	if cached, ok := c.product.Get(c.Session.GetConfig().ServerURL); ok {
		return cached, nil
	}
	ctx, span := c.startSpan(ctx, "ProductInfo")
	defer func() { endSpan(span, err) }()

	info, err = core.Execute(ctx, c.Session, core.RequestSpec{Op: core.OpProductInfo}, core.DecodeProductInfo)
	if err != nil {
		return core.ProductInfo{}, err
	}
	span.SetAttributes(attribute.String("fm.server_version", info.Version))
	c.product.Set(c.Session.GetConfig().ServerURL, info)
	return info, nil
}

// RequireVersion fails unless the server version satisfies constraint, e.g. ">= 19.0".
func (c *Client) RequireVersion(ctx context.Context, constraint string) error {
	info, err := c.ProductInfo(ctx)
	if err != nil {
		return err
	}
	ok, err := info.Satisfies(constraint)
	if err != nil {
		return err
	}
	if !ok {
		return &core.ValidationError{
			Field:  "server version",
			Reason: fmt.Sprintf("%s does not satisfy %q", info.Version, constraint),
		}
	}
	return nil
}

// ######################################################
//              SERVER LEVEL CALLS
// ######################################################

// ListDatabases lists the databases visible to the configured account. Only
// the server URL and credentials are used; no session is opened.
func ListDatabases(ctx context.Context, config *core.Config) ([]string, error) {
	session, err := core.NewSession(config, core.ServerValidators()...)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(contextOrBackground(ctx), "fmdata.ListDatabases")
	databases, err := core.Execute(ctx, session, core.RequestSpec{Op: core.OpListDatabases}, core.DecodeDatabases)
	endSpan(span, err)
	return databases, err
}

// ServerInfo returns the product information of the configured server. No
// session is opened.
func ServerInfo(ctx context.Context, config *core.Config) (core.ProductInfo, error) {
	session, err := core.NewSession(config, core.ServerValidators()...)
	if err != nil {
		return core.ProductInfo{}, err
	}
	ctx, span := tracer.Start(contextOrBackground(ctx), "fmdata.ServerInfo")
	info, err := core.Execute(ctx, session, core.RequestSpec{Op: core.OpProductInfo}, core.DecodeProductInfo)
	endSpan(span, err)
	return info, err
}

// ListLayouts lists the layouts of config.Database with a short-lived session
// that is closed before returning.
func ListLayouts(ctx context.Context, config *core.Config) ([]string, error) {
	session, err := core.NewSession(config, append(core.ServerValidators(), core.WithDatabase)...)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(contextOrBackground(ctx), "fmdata.ListLayouts",
		trace.WithAttributes(attribute.String("fm.database", session.GetConfig().Database)))
	defer func() {
		if cerr := session.Close(ctx); cerr != nil {
			session.Logger().Warn("logout failed", zap.Error(cerr))
		}
	}()
	layouts, err := core.Execute(ctx, session,
		core.RequestSpec{Op: core.OpListLayouts, Database: session.GetConfig().Database}, core.DecodeLayouts)
	endSpan(span, err)
	return layouts, err
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
