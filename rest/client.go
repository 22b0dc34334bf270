package rest

import (
	"context"
	"sort"

	"github.com/fmkit/go-fmdata/core"
	"github.com/maypok86/otter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fmkit/go-fmdata/rest")

const metadataCacheSize = 256

// Client issues record operations against one (database, layout) pair. It is
// safe for concurrent use; all calls share one session token.
type Client struct {
	Session *core.Session

	ctx      context.Context
	database string
	layout   string
	pageSize int
	locker   *core.KeyLocker

	fieldNames otter.Cache[string, []string]
	product    otter.Cache[string, core.ProductInfo]
}

var _ core.LayoutAPI = (*Client)(nil)

// NewClient validates config and prepares a client. No network call is made:
// the session is opened by the first operation that needs it.
func NewClient(config *core.Config) (*Client, error) {
	session, err := core.NewSession(config, append(core.DefaultValidators(), core.WithLayout)...)
	if err != nil {
		return nil, err
	}
	cfg := session.GetConfig()
	fieldNames, err := otter.MustBuilder[string, []string](metadataCacheSize).
		WithTTL(cfg.MetadataTTL).
		Build()
	if err != nil {
		return nil, err
	}
	product, err := otter.MustBuilder[string, core.ProductInfo](1).
		WithTTL(cfg.MetadataTTL).
		Build()
	if err != nil {
		return nil, err
	}
	c := &Client{
		Session:    session,
		database:   cfg.Database,
		layout:     cfg.Layout,
		pageSize:   cfg.PageSize,
		locker:     core.NewKeyLocker(),
		fieldNames: fieldNames,
		product:    product,
	}
	if cfg.Context != nil {
		c.SetCtx(cfg.Context)
	} else {
		c.SetCtx(context.Background())
	}
	return c, nil
}

func (c *Client) GetSession() *core.Session {
	return c.Session
}

func (c *Client) GetCtx() context.Context {
	return c.ctx
}

func (c *Client) SetCtx(ctx context.Context) {
	c.ctx = ctx
}

func (c *Client) Database() string {
	return c.database
}

func (c *Client) Layout() string {
	return c.layout
}

func (c *Client) PageSize() int {
	return c.pageSize
}

// Lock serializes in-process work on the given keys of this layout, e.g.
// Lock(recordID). It returns the unlock function.
func (c *Client) Lock(keys ...any) func() {
	return c.locker.Lock(append([]any{c.layout}, keys...)...)
}

// Close logs out. A later call opens a new session.
func (c *Client) Close(ctx context.Context) error {
	c.fieldNames.Clear()
	c.product.Clear()
	return c.Session.Close(c.context(ctx))
}

// ######################################################
//              READ OPERATIONS
// ######################################################

// Count returns the total number of records in the layout's table.
func (c *Client) Count(ctx context.Context) (count int, err error) {
	ctx, span := c.startSpan(ctx, "Count")
	defer func() { endSpan(span, err) }()

	page, err := c.recordsPage(ctx, core.Cursor{Offset: 1, Limit: 1}, core.SortSpec{})
	if err != nil {
		return 0, err
	}
	return page.Info.TotalRecordCount, nil
}

// GetRecordsPage returns at most limit records starting at the 1-based offset,
// together with the paging metadata.
func (c *Client) GetRecordsPage(ctx context.Context, offset, limit int) (page core.Page, err error) {
	ctx, span := c.startSpan(ctx, "GetRecordsPage", attribute.Int("fm.offset", offset), attribute.Int("fm.limit", limit))
	defer func() { endSpan(span, err) }()
	return c.recordsPage(ctx, core.Cursor{Offset: offset, Limit: limit}, core.SortSpec{})
}

// GetRecords returns at most limit records starting at the 1-based offset.
func (c *Client) GetRecords(ctx context.Context, offset, limit int) (core.RecordSet, error) {
	page, err := c.GetRecordsPage(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

// GetAllRecords walks the whole table page by page.
func (c *Client) GetAllRecords(ctx context.Context) (records core.RecordSet, err error) {
	ctx, span := c.startSpan(ctx, "GetAllRecords")
	defer func() { endSpan(span, err) }()

	it := c.Iterator(ctx)
	records, err = it.All()
	span.SetAttributes(attribute.Int("fm.pages", it.Pages()), attribute.Int("fm.records", len(records)))
	return records, err
}

// Iterator returns a page iterator over the whole table.
func (c *Client) Iterator(ctx context.Context) *core.RecordIterator {
	return core.NewRecordIterator(c.context(ctx), func(ctx context.Context, cursor core.Cursor) (core.Page, error) {
		return c.recordsPage(ctx, cursor, core.SortSpec{})
	}, c.pageSize)
}

// GetRecord returns the record with the given id.
func (c *Client) GetRecord(ctx context.Context, id int64) (record core.Record, err error) {
	ctx, span := c.startSpan(ctx, "GetRecord", attribute.Int64("fm.record_id", id))
	defer func() { endSpan(span, err) }()

	spec := c.spec(core.OpGetRecord)
	spec.RecordID = id
	return core.Execute(ctx, c.Session, spec, core.DecodeRecord)
}

// Search returns every record matching any of the conditions. Within one
// condition all fields must match. No match yields an empty set.
func (c *Client) Search(ctx context.Context, conditions []core.Query, sortFields []string, ascending bool) (records core.RecordSet, err error) {
	ctx, span := c.startSpan(ctx, "Search", attribute.Int("fm.conditions", len(conditions)))
	defer func() { endSpan(span, err) }()
	return c.SearchIterator(ctx, conditions, sortFields, ascending).All()
}

// SearchPage returns one page of a find.
func (c *Client) SearchPage(ctx context.Context, conditions []core.Query, sortFields []string, ascending bool, offset, limit int) (page core.Page, err error) {
	ctx, span := c.startSpan(ctx, "SearchPage", attribute.Int("fm.offset", offset), attribute.Int("fm.limit", limit))
	defer func() { endSpan(span, err) }()
	return c.findPage(ctx, conditions, core.SortSpec{Fields: sortFields, Ascending: ascending}, core.Cursor{Offset: offset, Limit: limit})
}

// SearchIterator returns a page iterator over the results of a find.
func (c *Client) SearchIterator(ctx context.Context, conditions []core.Query, sortFields []string, ascending bool) *core.RecordIterator {
	sortSpec := core.SortSpec{Fields: sortFields, Ascending: ascending}
	return core.NewRecordIterator(c.context(ctx), func(ctx context.Context, cursor core.Cursor) (core.Page, error) {
		return c.findPage(ctx, conditions, sortSpec, cursor)
	}, c.pageSize)
}

// AdvancedSearch matches records where any one of the given fields matches
// its expression: every field becomes a condition of its own.
func (c *Client) AdvancedSearch(ctx context.Context, fields map[string]string, sortFields []string, ascending bool) (core.RecordSet, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	conditions := make([]core.Query, 0, len(names))
	for _, name := range names {
		conditions = append(conditions, core.Query{name: fields[name]})
	}
	return c.Search(ctx, conditions, sortFields, ascending)
}

// ######################################################
//              WRITE OPERATIONS
// ######################################################

// AddRecord creates a record and returns its id.
func (c *Client) AddRecord(ctx context.Context, fields core.Fields) (id int64, err error) {
	ctx, span := c.startSpan(ctx, "AddRecord")
	defer func() { endSpan(span, err) }()

	spec := c.spec(core.OpCreateRecord)
	spec.Fields = fields
	id, err = core.Execute(ctx, c.Session, spec, func(r *core.RawResponse) (int64, error) {
		id, _, err := core.DecodeCreated(r)
		return id, err
	})
	if err == nil {
		span.SetAttributes(attribute.Int64("fm.record_id", id))
	}
	return id, err
}

// AddRecords creates each record with its own call. A failing item does not
// stop the batch; the outcome of every item is reported in input order.
func (c *Client) AddRecords(ctx context.Context, batch []core.Fields) []core.AddResult {
	ctx, span := c.startSpan(ctx, "AddRecords", attribute.Int("fm.batch", len(batch)))
	results := make([]core.AddResult, len(batch))
	var failed int
	for i, fields := range batch {
		id, err := c.AddRecord(ctx, fields)
		results[i] = core.AddResult{Index: i, ID: id, Err: err}
		if err != nil {
			failed++
			c.Session.Logger().Warn("batch item failed", zap.Int("index", i), zap.Error(err))
		}
	}
	span.SetAttributes(attribute.Int("fm.failed", failed))
	span.End()
	return results
}

// UpdateRecord changes only the given fields of a record.
func (c *Client) UpdateRecord(ctx context.Context, id int64, fields core.Fields) (err error) {
	ctx, span := c.startSpan(ctx, "UpdateRecord", attribute.Int64("fm.record_id", id))
	defer func() { endSpan(span, err) }()

	defer c.Lock(id)()
	spec := c.spec(core.OpUpdateRecord)
	spec.RecordID = id
	spec.Fields = fields
	_, err = core.Execute(ctx, c.Session, spec, core.DecodeModID)
	return err
}

// DeleteRecord deletes a record. Deleting a missing record is a not-found error.
func (c *Client) DeleteRecord(ctx context.Context, id int64) (err error) {
	ctx, span := c.startSpan(ctx, "DeleteRecord", attribute.Int64("fm.record_id", id))
	defer func() { endSpan(span, err) }()

	defer c.Lock(id)()
	return c.deleteRecord(ctx, id)
}

// deleteRecord issues the delete call; the caller holds the record lock.
func (c *Client) deleteRecord(ctx context.Context, id int64) error {
	spec := c.spec(core.OpDeleteRecord)
	spec.RecordID = id
	_, err := core.Execute(ctx, c.Session, spec, func(r *core.RawResponse) (struct{}, error) {
		return struct{}{}, core.DecodeEmpty(r)
	})
	return err
}

// ClearRecords deletes every record of the layout's table, one page at a time,
// and returns how many records it deleted. Records removed concurrently by
// someone else are skipped. It is not transactional.
func (c *Client) ClearRecords(ctx context.Context) (deleted int, err error) {
	ctx, span := c.startSpan(ctx, "ClearRecords")
	defer func() {
		span.SetAttributes(attribute.Int("fm.deleted", deleted))
		endSpan(span, err)
	}()

	logger := c.Session.Logger()
	for {
		page, err := c.recordsPage(ctx, core.Cursor{Offset: 1, Limit: c.pageSize}, core.SortSpec{})
		if err != nil {
			return deleted, err
		}
		if len(page.Records) == 0 {
			break
		}
		progress, err := c.clearPage(ctx, page.Records)
		deleted += progress
		if err != nil {
			return deleted, err
		}
		// Nothing on this page could be deleted; the listing is stale.
		if progress == 0 {
			break
		}
	}
	if deleted == 0 {
		logger.Warn("no records found, nothing to clear", zap.String("layout", c.layout))
	}
	c.fieldNames.Delete(c.metadataKey())
	return deleted, nil
}

// ######################################################
//              HELPERS
// ######################################################

// clearPage deletes the records of one page while holding their locks.
func (c *Client) clearPage(ctx context.Context, records core.RecordSet) (deleted int, err error) {
	defer c.locker.LockRecords(c.layout, records.IDs()...)()
	for _, record := range records {
		err = c.deleteRecord(ctx, record.ID)
		if core.IsNotFoundErr(err) {
			c.Session.Logger().Debug("record already gone", zap.Int64("recordId", record.ID))
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (c *Client) spec(op core.Operation) core.RequestSpec {
	return core.RequestSpec{Op: op, Database: c.database, Layout: c.layout}
}

func (c *Client) context(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c *Client) metadataKey() string {
	return c.database + "/" + c.layout
}

// recordsPage fetches one page of the plain record listing. An empty table is
// an empty page, not an error.
func (c *Client) recordsPage(ctx context.Context, cursor core.Cursor, sortSpec core.SortSpec) (core.Page, error) {
	spec := c.spec(core.OpGetRecords)
	spec.Cursor = &cursor
	spec.Sort = sortSpec
	return emptyOnNoMatch(core.Execute(ctx, c.Session, spec, core.DecodePage))
}

func (c *Client) findPage(ctx context.Context, conditions []core.Query, sortSpec core.SortSpec, cursor core.Cursor) (core.Page, error) {
	spec := c.spec(core.OpFind)
	spec.Query = conditions
	spec.Sort = sortSpec
	spec.Cursor = &cursor
	return emptyOnNoMatch(core.Execute(ctx, c.Session, spec, core.DecodePage))
}

func emptyOnNoMatch(page core.Page, err error) (core.Page, error) {
	if core.IsNoRecordsMatch(err) {
		return core.Page{Records: core.RecordSet{}}, nil
	}
	return page, err
}

func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("fm.database", c.database),
		attribute.String("fm.layout", c.layout),
	)
	return tracer.Start(c.context(ctx), "fmdata."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
