// Package typed maps the records of a layout onto Go structs.
//
// Struct fields are matched against FileMaker field names through their json
// tags. The reserved tags "recordId" and "modId" receive the record identity:
//
//	type Contact struct {
//		ID   int64  `json:"recordId"`
//		Name string `json:"Name,omitempty"`
//		City string `json:"City,omitempty"`
//	}
//
//	contacts, err := typed.New[Contact](config)
//	all, err := contacts.All(ctx)
package typed

import (
	"context"

	"github.com/fmkit/go-fmdata/core"
	"github.com/fmkit/go-fmdata/rest"
)

// Layout provides typed access to the records of one layout.
type Layout[T any] struct {
	// Untyped provides access to the underlying client when needed
	Untyped *rest.Client
}

// New creates a typed layout from configuration.
func New[T any](config *core.Config) (*Layout[T], error) {
	client, err := rest.NewClient(config)
	if err != nil {
		return nil, err
	}
	return &Layout[T]{Untyped: client}, nil
}

// Wrap creates a typed layout over an existing client, sharing its session.
func Wrap[T any](client *rest.Client) *Layout[T] {
	return &Layout[T]{Untyped: client}
}

// Close logs out of the underlying session.
func (l *Layout[T]) Close(ctx context.Context) error {
	return l.Untyped.Close(ctx)
}

// -----------------------------------------------------
// READ
// -----------------------------------------------------

// Get returns the record with the given id.
func (l *Layout[T]) Get(ctx context.Context, id int64) (*T, error) {
	record, err := l.Untyped.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	var item T
	if err := record.Fill(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns at most limit records starting at the 1-based offset.
func (l *Layout[T]) List(ctx context.Context, offset, limit int) ([]T, error) {
	records, err := l.Untyped.GetRecords(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return fill[T](records)
}

// All returns every record of the layout.
func (l *Layout[T]) All(ctx context.Context) ([]T, error) {
	records, err := l.Untyped.GetAllRecords(ctx)
	if err != nil {
		return nil, err
	}
	return fill[T](records)
}

// Find returns every record matching any of the conditions.
func (l *Layout[T]) Find(ctx context.Context, conditions []core.Query, sortFields []string, ascending bool) ([]T, error) {
	records, err := l.Untyped.Search(ctx, conditions, sortFields, ascending)
	if err != nil {
		return nil, err
	}
	return fill[T](records)
}

// FindOne returns the first match, or a not-found error when nothing matches.
func (l *Layout[T]) FindOne(ctx context.Context, conditions ...core.Query) (*T, error) {
	record, err := l.first(ctx, conditions)
	if err != nil {
		return nil, err
	}
	var item T
	if err := record.Fill(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Exists reports whether any record matches the conditions.
func (l *Layout[T]) Exists(ctx context.Context, conditions ...core.Query) (bool, error) {
	_, err := l.first(ctx, conditions)
	if core.IsNotFoundErr(err) {
		return false, nil
	}
	return err == nil, err
}

// -----------------------------------------------------
// WRITE
// -----------------------------------------------------

// Create stores item as a new record and returns its id. Zero values tagged
// omitempty are not sent.
func (l *Layout[T]) Create(ctx context.Context, item *T) (int64, error) {
	fields, err := core.FieldsFromStruct(item)
	if err != nil {
		return 0, err
	}
	return l.Untyped.AddRecord(ctx, fields)
}

// CreateMany stores each item with its own call and reports every outcome.
func (l *Layout[T]) CreateMany(ctx context.Context, items []T) []core.AddResult {
	batch := make([]core.Fields, len(items))
	var invalid map[int]error
	for i := range items {
		fields, err := core.FieldsFromStruct(&items[i])
		if err != nil {
			if invalid == nil {
				invalid = map[int]error{}
			}
			invalid[i] = err
			continue
		}
		batch[i] = fields
	}
	if invalid == nil {
		return l.Untyped.AddRecords(ctx, batch)
	}

	results := make([]core.AddResult, len(items))
	for i := range items {
		if err, failed := invalid[i]; failed {
			results[i] = core.AddResult{Index: i, Err: err}
			continue
		}
		id, err := l.Untyped.AddRecord(ctx, batch[i])
		results[i] = core.AddResult{Index: i, ID: id, Err: err}
	}
	return results
}

// Update writes the non-empty fields of item to the record with the given id.
func (l *Layout[T]) Update(ctx context.Context, id int64, item *T) error {
	fields, err := core.FieldsFromStruct(item)
	if err != nil {
		return err
	}
	return l.Untyped.UpdateRecord(ctx, id, fields)
}

// Delete deletes a record by id.
func (l *Layout[T]) Delete(ctx context.Context, id int64) error {
	return l.Untyped.DeleteRecord(ctx, id)
}

// Ensure returns the first record matching conditions, creating it from item
// when there is none.
func (l *Layout[T]) Ensure(ctx context.Context, conditions []core.Query, item *T) (*T, error) {
	found, err := l.FindOne(ctx, conditions...)
	if err == nil {
		return found, nil
	}
	if !core.IsNotFoundErr(err) {
		return nil, err
	}
	id, err := l.Create(ctx, item)
	if err != nil {
		return nil, err
	}
	return l.Get(ctx, id)
}

func (l *Layout[T]) first(ctx context.Context, conditions []core.Query) (core.Record, error) {
	page, err := l.Untyped.SearchPage(ctx, conditions, nil, true, 1, 1)
	if err != nil {
		return core.Record{}, err
	}
	if len(page.Records) == 0 {
		return core.Record{}, core.ErrNotFound
	}
	return page.Records[0], nil
}

func fill[T any](records core.RecordSet) ([]T, error) {
	items := make([]T, 0, len(records))
	if err := records.Fill(&items); err != nil {
		return nil, err
	}
	return items, nil
}
