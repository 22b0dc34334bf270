package core

import (
	"context"
)

// RecordReader defines the read operations on the records of one layout.
type RecordReader interface {
	Count(ctx context.Context) (int, error)
	GetRecords(ctx context.Context, offset, limit int) (RecordSet, error)
	GetAllRecords(ctx context.Context) (RecordSet, error)
	GetRecord(ctx context.Context, id int64) (Record, error)
	Search(ctx context.Context, conditions []Query, sortFields []string, ascending bool) (RecordSet, error)
	AdvancedSearch(ctx context.Context, fields map[string]string, sortFields []string, ascending bool) (RecordSet, error)
	FieldNames(ctx context.Context) ([]string, error)
}

// RecordWriter defines the write operations on the records of one layout.
type RecordWriter interface {
	AddRecord(ctx context.Context, fields Fields) (int64, error)
	AddRecords(ctx context.Context, batch []Fields) []AddResult
	UpdateRecord(ctx context.Context, id int64, fields Fields) error
	DeleteRecord(ctx context.Context, id int64) error
	ClearRecords(ctx context.Context) (int, error)
}

// LayoutAPI is the full set of record operations bound to a (database, layout) pair.
type LayoutAPI interface {
	RecordReader
	RecordWriter
	// Per-record mutex lock for in-process access control
	Lock(...any) func()
}

// AddResult is the outcome of one item of a batch add. Exactly one of ID and
// Err is meaningful.
type AddResult struct {
	Index int
	ID    int64
	Err   error
}

// BatchErrors collects the failed items of a batch, or nil when all succeeded.
func BatchErrors(results []AddResult) map[int]error {
	var failed map[int]error
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if failed == nil {
			failed = map[int]error{}
		}
		failed[r.Index] = r.Err
	}
	return failed
}
