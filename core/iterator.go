package core

import (
	"context"
	"fmt"
	"strings"
)

// ######################################################
//              ITERATOR INTERFACES
// ######################################################

// Iterator walks a record listing page by page using 1-based offset/limit paging.
type Iterator interface {
	// Next fetches the next page. It returns an empty RecordSet once the listing is exhausted.
	Next() (RecordSet, error)

	// Previous moves back one page. It returns an empty RecordSet on the first page.
	Previous() (RecordSet, error)

	// HasNext returns true if another page may be available.
	HasNext() bool

	// HasPrevious returns true if there is a page before the current one.
	HasPrevious() bool

	// Count returns the found count reported by the server, or -1 before the first page.
	Count() int

	// PageSize returns the page size.
	PageSize() int

	// Reset rewinds to offset 1 and returns the first page.
	Reset() (RecordSet, error)

	// All fetches all remaining pages and returns them as a single RecordSet.
	All() (RecordSet, error)
}

// PageFetcher returns the page selected by cursor.
type PageFetcher func(ctx context.Context, cursor Cursor) (Page, error)

// ######################################################
//              RECORD ITERATOR IMPLEMENTATION
// ######################################################

// RecordIterator implements Iterator over any PageFetcher. Paging stops at the
// first page shorter than the page size (an empty page included).
type RecordIterator struct {
	fetch    PageFetcher
	ctx      context.Context
	pageSize int

	current     RecordSet
	offset      int // offset of the current page
	nextOffset  int
	totalCount  int
	pages       int
	done        bool
	err         error
	initialized bool
}

// NewRecordIterator creates an iterator. A non-positive pageSize falls back to DefaultPageSize.
func NewRecordIterator(ctx context.Context, fetch PageFetcher, pageSize int) *RecordIterator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &RecordIterator{
		fetch:      fetch,
		ctx:        ctx,
		pageSize:   pageSize,
		offset:     1,
		nextOffset: 1,
		totalCount: -1,
	}
}

// fetchPage loads the page at offset. A "no records match" answer is an empty page.
func (it *RecordIterator) fetchPage(offset int) error {
	page, err := it.fetch(it.ctx, Cursor{Offset: offset, Limit: it.pageSize})
	if err != nil && !IsNoRecordsMatch(err) {
		return err
	}
	if err != nil {
		page = Page{Records: RecordSet{}}
	}
	if len(page.Records) > it.pageSize {
		return fmt.Errorf("%w: page at offset %d returned %d records, limit was %d",
			ErrDecode, offset, len(page.Records), it.pageSize)
	}
	it.current = page.Records
	it.offset = offset
	it.nextOffset = offset + len(page.Records)
	it.totalCount = page.Info.FoundCount
	if it.totalCount == 0 && len(page.Records) > 0 {
		it.totalCount = -1
	}
	it.done = len(page.Records) < it.pageSize
	it.pages++
	return nil
}

// Next advances to the next page and returns the records and any error.
func (it *RecordIterator) Next() (RecordSet, error) {
	if !it.HasNext() {
		return RecordSet{}, nil
	}
	it.err = it.fetchPage(it.nextOffset)
	it.initialized = true
	if it.err != nil {
		return RecordSet{}, it.err
	}
	return it.current, nil
}

// Previous moves to the previous page and returns the records and any error.
func (it *RecordIterator) Previous() (RecordSet, error) {
	if !it.initialized {
		it.err = fmt.Errorf("iterator not initialized, call Next() first")
		return RecordSet{}, it.err
	}
	if !it.HasPrevious() {
		return RecordSet{}, nil
	}
	offset := it.offset - it.pageSize
	if offset < 1 {
		offset = 1
	}
	it.err = it.fetchPage(offset)
	if it.err != nil {
		return RecordSet{}, it.err
	}
	return it.current, nil
}

// HasNext returns true if there is a next page.
func (it *RecordIterator) HasNext() bool {
	if !it.initialized {
		return true
	}
	return !it.done && it.err == nil
}

// HasPrevious returns true if there is a previous page.
func (it *RecordIterator) HasPrevious() bool {
	return it.initialized && it.offset > 1
}

func (it *RecordIterator) Count() int {
	return it.totalCount
}

func (it *RecordIterator) PageSize() int {
	return it.pageSize
}

// Pages returns how many page requests have been issued.
func (it *RecordIterator) Pages() int {
	return it.pages
}

// String returns a formatted string representation of the iterator state.
func (it *RecordIterator) String() string {
	var sb strings.Builder
	sb.WriteString("RecordIterator {\n")
	sb.WriteString(fmt.Sprintf("  Initialized:   %v\n", it.initialized))
	sb.WriteString(fmt.Sprintf("  Offset:        %d\n", it.offset))
	sb.WriteString(fmt.Sprintf("  Page Size:     %d\n", it.pageSize))
	sb.WriteString(fmt.Sprintf("  Total Count:   %d\n", it.totalCount))
	sb.WriteString(fmt.Sprintf("  Current:       [... (%d items)]\n", len(it.current)))
	sb.WriteString(fmt.Sprintf("  Done:          %v\n", it.done))
	if it.err != nil {
		sb.WriteString(fmt.Sprintf("  Error:         %v\n", it.err))
	}
	sb.WriteString("}")
	return sb.String()
}

// Reset resets the iterator to the first page and returns the first page records.
func (it *RecordIterator) Reset() (RecordSet, error) {
	it.initialized = false
	it.current = nil
	it.offset = 1
	it.nextOffset = 1
	it.done = false
	it.err = nil
	it.totalCount = -1
	return it.Next()
}

// All fetches all pages and returns all records in server order. An iterator
// whose last fetch failed returns that error until Reset is called.
func (it *RecordIterator) All() (RecordSet, error) {
	if it.err != nil {
		return nil, it.err
	}
	allRecords := RecordSet{}
	if it.initialized {
		allRecords = append(allRecords, it.current...)
	}
	for it.HasNext() {
		records, err := it.Next()
		if err != nil {
			return nil, err
		}
		allRecords = append(allRecords, records...)
	}
	return allRecords, nil
}
