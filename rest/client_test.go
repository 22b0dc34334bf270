package rest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fmkit/go-fmdata/core"
	"github.com/fmkit/go-fmdata/fmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, seed int, mutate ...func(*core.Config)) (*Client, *fmtest.Server) {
	t.Helper()
	srv := fmtest.New(t)
	srv.AddLayout("Contacts", "Web")
	srv.Seed("Contacts", "Web", seed)
	config := srv.Config("Contacts", "Web")
	config.PageSize = 10
	for _, fn := range mutate {
		fn(config)
	}
	client, err := NewClient(config)
	require.NoError(t, err)
	return client, srv
}

func fields(t *testing.T, m map[string]any) core.Fields {
	t.Helper()
	f, err := core.NewFields(m)
	require.NoError(t, err)
	return f
}

func str(t *testing.T, r core.Record, name string) string {
	t.Helper()
	s, ok := r.Get(name).Str()
	require.True(t, ok, "field %s is %s", name, r.Get(name).Kind())
	return s
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(&core.Config{ServerURL: "https://fm.example", Username: "u", Password: "p", Database: "Contacts"})
	assert.True(t, core.IsValidationErr(err))

	client, srv := newTestClient(t, 0)
	assert.Equal(t, "Contacts", client.Database())
	assert.Equal(t, "Web", client.Layout())
	assert.Equal(t, 10, client.PageSize())
	assert.Zero(t, srv.Logins(), "construction must not log in")
}

func TestGetAllRecordsPagesThroughTable(t *testing.T) {
	tests := []struct {
		name    string
		seed    int
		offsets []int
	}{
		{name: "partial last page", seed: 25, offsets: []int{1, 11, 21}},
		{name: "exact multiple", seed: 20, offsets: []int{1, 11, 21}},
		{name: "single page", seed: 3, offsets: []int{1}},
		{name: "empty table", seed: 0, offsets: []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, srv := newTestClient(t, tt.seed)
			records, err := client.GetAllRecords(context.Background())
			require.NoError(t, err)
			assert.Len(t, records, tt.seed)
			assert.NotNil(t, records)
			assert.Equal(t, tt.offsets, srv.PageOffsets())
			for _, limit := range srv.PageLimits() {
				assert.Equal(t, 10, limit)
			}
			for i, r := range records {
				assert.Equal(t, int64(i+1), r.ID)
			}
		})
	}
}

func TestGetRecords(t *testing.T) {
	client, srv := newTestClient(t, 25)
	ctx := context.Background()

	records, err := client.GetRecords(ctx, 21, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{21, 22, 23, 24, 25}, records.IDs())

	page, err := client.GetRecordsPage(ctx, 1, 5)
	require.NoError(t, err)
	assert.Len(t, page.Records, 5)
	assert.Equal(t, 25, page.Info.TotalRecordCount)
	assert.Equal(t, 5, page.Info.ReturnedCount)

	_, err = client.GetRecords(ctx, 0, 10)
	assert.True(t, core.IsValidationErr(err))
	_, err = client.GetRecords(ctx, 1, 0)
	assert.True(t, core.IsValidationErr(err))
	assert.Len(t, srv.PageLimits(), 2)
}

func TestIteratorWalksPagesLazily(t *testing.T) {
	client, srv := newTestClient(t, 15)
	it := client.Iterator(context.Background())

	first, err := it.Next()
	require.NoError(t, err)
	assert.Len(t, first, 10)
	assert.Len(t, srv.PageLimits(), 1)

	second, err := it.Next()
	require.NoError(t, err)
	assert.Len(t, second, 5)
	assert.False(t, it.HasNext())
	assert.Equal(t, 2, it.Pages())
}

func TestCount(t *testing.T) {
	client, _ := newTestClient(t, 7)
	n, err := client.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	empty, _ := newTestClient(t, 0)
	n, err = empty.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetRecord(t *testing.T) {
	client, _ := newTestClient(t, 3)
	ctx := context.Background()

	r, err := client.GetRecord(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "record 2", str(t, r, "name"))
	n, ok := r.Get("n").Int64()
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	_, err = client.GetRecord(ctx, 99)
	assert.True(t, core.IsNotFoundErr(err))

	_, err = client.GetRecord(ctx, 0)
	assert.True(t, core.IsValidationErr(err))
}

func TestSearch(t *testing.T) {
	client, srv := newTestClient(t, 0)
	for _, p := range []map[string]any{
		{"name": "Alice Smith", "city": "Paris", "age": 42},
		{"name": "Bob Stone", "city": "Berlin", "age": 35},
		{"name": "Carol Smith", "city": "Berlin", "age": 28},
	} {
		srv.Insert("Contacts", "Web", p)
	}
	ctx := context.Background()

	t.Run("and within a condition", func(t *testing.T) {
		records, err := client.Search(ctx, []core.Query{{"city": "Berlin", "name": "Smith"}}, nil, true)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "Carol Smith", str(t, records[0], "name"))
	})

	t.Run("or across conditions with sort", func(t *testing.T) {
		records, err := client.Search(ctx, []core.Query{{"city": "Paris"}, {"age": "<30"}}, []string{"age"}, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, records.IDs())

		records, err = client.Search(ctx, []core.Query{{"city": "Paris"}, {"age": "<30"}}, []string{"age"}, true)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 1}, records.IDs())
	})

	t.Run("no match is empty", func(t *testing.T) {
		records, err := client.Search(ctx, []core.Query{{"city": "Tokyo"}}, nil, true)
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	})

	t.Run("page", func(t *testing.T) {
		page, err := client.SearchPage(ctx, []core.Query{{"name": "*"}}, []string{"name"}, true, 2, 1)
		require.NoError(t, err)
		require.Len(t, page.Records, 1)
		assert.Equal(t, "Bob Stone", str(t, page.Records[0], "name"))
		assert.Equal(t, 3, page.Info.FoundCount)
	})

	t.Run("advanced search ors fields", func(t *testing.T) {
		records, err := client.AdvancedSearch(ctx, map[string]string{"city": "Paris", "name": "Bob"}, []string{"name"}, true)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, records.IDs())
	})
}

func TestSearchPagesThroughResults(t *testing.T) {
	client, srv := newTestClient(t, 23)
	records, err := client.Search(context.Background(), []core.Query{{"name": "record"}}, nil, true)
	require.NoError(t, err)
	assert.Len(t, records, 23)
	assert.Equal(t, []int{1, 11, 21}, srv.PageOffsets())
}

func TestSearchValidationSkipsNetwork(t *testing.T) {
	client, srv := newTestClient(t, 3)
	ctx := context.Background()

	_, err := client.Search(ctx, nil, nil, true)
	assert.True(t, core.IsValidationErr(err))
	_, err = client.Search(ctx, []core.Query{{}}, nil, true)
	assert.True(t, core.IsValidationErr(err))
	_, err = client.AdvancedSearch(ctx, map[string]string{}, nil, true)
	assert.True(t, core.IsValidationErr(err))
	assert.Zero(t, srv.Logins())
}

func TestAddRecord(t *testing.T) {
	client, srv := newTestClient(t, 0)
	ctx := context.Background()

	id, err := client.AddRecord(ctx, fields(t, map[string]any{"name": "Alice", "age": 42}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	stored, ok := srv.Record("Contacts", "Web", id)
	require.True(t, ok)
	assert.Equal(t, "Alice", stored["name"])

	r, err := client.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", str(t, r, "name"))

	blank, err := client.AddRecord(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), blank)
}

func TestAddRecordRejectedByServer(t *testing.T) {
	client, srv := newTestClient(t, 0)
	srv.RejectField("email", "504")

	_, err := client.AddRecord(context.Background(), fields(t, map[string]any{"email": "dup@example.com"}))
	assert.True(t, core.IsValidationErr(err))
	var apiErr *core.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "504", apiErr.Code)
	assert.Zero(t, srv.Count("Contacts", "Web"))
}

func TestAddRecordsContinuesPastFailures(t *testing.T) {
	client, srv := newTestClient(t, 0)
	srv.RejectField("bad", "509")

	results := client.AddRecords(context.Background(), []core.Fields{
		fields(t, map[string]any{"name": "one"}),
		fields(t, map[string]any{"name": "two", "bad": "x"}),
		fields(t, map[string]any{"name": "three"}),
	})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, int64(2), results[2].ID)
	assert.Equal(t, 2, srv.Count("Contacts", "Web"))

	failed := core.BatchErrors(results)
	assert.Len(t, failed, 1)
	assert.Contains(t, failed, 1)
}

func TestUpdateRecord(t *testing.T) {
	client, srv := newTestClient(t, 2)
	ctx := context.Background()

	require.NoError(t, client.UpdateRecord(ctx, 1, fields(t, map[string]any{"name": "renamed"})))
	stored, _ := srv.Record("Contacts", "Web", 1)
	assert.Equal(t, "renamed", stored["name"])
	assert.NotNil(t, stored["n"], "untouched fields are kept")

	before, err := client.GetAllRecords(ctx)
	require.NoError(t, err)
	first, _ := srv.Record("Contacts", "Web", 1)
	second, _ := srv.Record("Contacts", "Web", 2)

	err = client.UpdateRecord(ctx, 42, fields(t, map[string]any{"name": "x"}))
	assert.True(t, core.IsNotFoundErr(err))

	after, err := client.GetAllRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a failed update leaves the table as it was")
	assert.Equal(t, 2, srv.Count("Contacts", "Web"))
	stored, _ = srv.Record("Contacts", "Web", 1)
	assert.Equal(t, first, stored)
	stored, _ = srv.Record("Contacts", "Web", 2)
	assert.Equal(t, second, stored)

	err = client.UpdateRecord(ctx, 1, core.Fields{})
	assert.True(t, core.IsValidationErr(err))
}

func TestDeleteRecord(t *testing.T) {
	client, srv := newTestClient(t, 2)
	ctx := context.Background()

	require.NoError(t, client.DeleteRecord(ctx, 1))
	assert.Equal(t, 1, srv.Count("Contacts", "Web"))

	err := client.DeleteRecord(ctx, 1)
	assert.True(t, core.IsNotFoundErr(err))
}

func TestClearRecords(t *testing.T) {
	client, srv := newTestClient(t, 23)
	ctx := context.Background()

	deleted, err := client.ClearRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 23, deleted)
	assert.Zero(t, srv.Count("Contacts", "Web"))

	deleted, err = client.ClearRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestClearRecordsWaitsForRecordLocks(t *testing.T) {
	client, srv := newTestClient(t, 3)
	ctx := context.Background()

	unlock := client.Lock(int64(2))
	done := make(chan int)
	go func() {
		deleted, err := client.ClearRecords(ctx)
		assert.NoError(t, err)
		done <- deleted
	}()
	select {
	case <-done:
		t.Fatal("clear ran while a record of its page was locked")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 3, srv.Count("Contacts", "Web"), "nothing is deleted before the page is locked")

	unlock()
	assert.Equal(t, 3, <-done)
	assert.Zero(t, srv.Count("Contacts", "Web"))
}

func TestFieldNamesCached(t *testing.T) {
	client, srv := newTestClient(t, 0)
	srv.Insert("Contacts", "Web", map[string]any{"name": "Alice", "age": 1, "g_total": 9})
	ctx := context.Background()

	names, err := client.FieldNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "name"}, names)

	names[0] = "mutated"
	again, err := client.FieldNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "name"}, again)
	assert.Len(t, srv.PageLimits(), 1, "second call is served from cache")
}

func TestFieldNamesEmptyLayout(t *testing.T) {
	client, _ := newTestClient(t, 0)
	names, err := client.FieldNames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLayouts(t *testing.T) {
	client, srv := newTestClient(t, 0)
	srv.AddFolderLayout("Contacts", "Reports", "Monthly")
	srv.AddFolderLayout("Contacts", "Reports", "Yearly")
	srv.AddLayout("Contacts", "Admin")

	layouts, err := client.Layouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Web", "Monthly", "Yearly", "Admin"}, layouts)
}

func TestProductInfoAndRequireVersion(t *testing.T) {
	client, srv := newTestClient(t, 0)
	ctx := context.Background()

	info, err := client.ProductInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "21.0.1.51", info.Version)
	assert.Zero(t, srv.Logins())

	require.NoError(t, client.RequireVersion(ctx, ">= 19.0"))
	err = client.RequireVersion(ctx, ">= 22.0")
	assert.True(t, core.IsValidationErr(err))
	err = client.RequireVersion(ctx, "not a constraint")
	assert.True(t, core.IsValidationErr(err))
}

func TestListDatabasesAndLayouts(t *testing.T) {
	srv := fmtest.New(t)
	srv.AddLayout("Contacts", "Web")
	srv.AddLayout("Invoices", "Lines")
	ctx := context.Background()

	config := srv.Config("", "")
	dbs, err := ListDatabases(ctx, config)
	require.NoError(t, err)
	assert.Equal(t, []string{"Contacts", "Invoices"}, dbs)
	assert.Zero(t, srv.Logins())

	config = srv.Config("Invoices", "")
	layouts, err := ListLayouts(ctx, config)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lines"}, layouts)
	assert.Equal(t, 1, srv.Logins())
	assert.Equal(t, 1, srv.Logouts())
	assert.Zero(t, srv.OpenSessions())

	bad := srv.Config("", "")
	bad.Password = "wrong"
	_, err = ListDatabases(ctx, bad)
	assert.True(t, core.IsAuthErr(err))
}

func TestConcurrentCallsShareOneLogin(t *testing.T) {
	client, srv := newTestClient(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := client.GetRecord(ctx, id)
			errs <- err
		}(int64(i%5 + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, srv.Logins())
}

func TestExpiredTokenTriggersOneRelogin(t *testing.T) {
	client, srv := newTestClient(t, 5)
	ctx := context.Background()

	_, err := client.GetRecord(ctx, 1)
	require.NoError(t, err)
	srv.ExpireTokens()

	r, err := client.GetRecord(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.ID)
	assert.Equal(t, 2, srv.Logins())
	assert.Equal(t, 3, srv.DataRequests())
}

func TestLoginFailureSurfaces(t *testing.T) {
	client, srv := newTestClient(t, 1)
	srv.FailLogins(1)
	ctx := context.Background()

	_, err := client.GetRecord(ctx, 1)
	assert.True(t, core.IsAuthErr(err))
	var loginErr *core.LoginError
	assert.ErrorAs(t, err, &loginErr)

	_, err = client.GetRecord(ctx, 1)
	require.NoError(t, err, "a later call logs in again")
	assert.Equal(t, 2, srv.Logins())
}

func TestCloseLogsOut(t *testing.T) {
	client, srv := newTestClient(t, 1)
	ctx := context.Background()

	_, err := client.GetRecord(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, client.Close(ctx))
	assert.Equal(t, 1, srv.Logouts())
	assert.Zero(t, srv.OpenSessions())

	_, err = client.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Logins())
}

func TestLockSerializesPerRecord(t *testing.T) {
	client, _ := newTestClient(t, 0)
	unlock := client.Lock(int64(1))
	acquired := make(chan struct{})
	go func() {
		defer client.Lock(int64(1))()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("lock acquired twice")
	default:
	}
	unlock()
	<-acquired
}
