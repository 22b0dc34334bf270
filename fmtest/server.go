// Package fmtest provides an in-memory FileMaker Data API server for tests.
package fmtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/fmkit/go-fmdata/core"
	"github.com/labstack/echo/v4"
)

const (
	BasePath        = "/fmi/data/vLatest"
	DefaultUser     = "admin"
	DefaultPassword = "secret"
	defaultLimit    = 100
)

type record struct {
	id     int64
	modID  int
	fields map[string]any
}

type layout struct {
	name    string
	folder  string
	fields  map[string]struct{} // when set, unknown fields are rejected
	records []*record
	nextID  int64
}

type database struct {
	layouts []*layout
}

func (d *database) layout(name string) *layout {
	for _, l := range d.layouts {
		if l.name == name {
			return l
		}
	}
	return nil
}

// Server is a mock Data API. Every method is safe for concurrent use.
type Server struct {
	*httptest.Server
	Username string
	Password string

	mu           sync.Mutex
	version      string
	databases    map[string]*database
	dbOrder      []string
	tokens       map[string]string // token -> database
	nextToken    int
	logins       int
	logouts      int
	failLogins   int
	fieldErrors  map[string]string
	pageLimits   []int
	pageOffsets  []int
	dataRequests int
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		Username:    DefaultUser,
		Password:    DefaultPassword,
		version:     "21.0.1.51",
		databases:   map[string]*database{},
		tokens:      map[string]string{},
		fieldErrors: map[string]string{},
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var fe *fmError
		if !errors.As(err, &fe) {
			fe = &fmError{status: http.StatusInternalServerError, code: "-1", message: err.Error()}
			var he *echo.HTTPError
			if errors.As(err, &he) {
				fe.status = he.Code
				fe.message = fmt.Sprint(he.Message)
			}
		}
		if c.Response().Committed {
			return
		}
		_ = c.JSON(fe.status, map[string]any{
			"messages": []map[string]string{{"code": fe.code, "message": fe.message}},
			"response": map[string]any{},
		})
	}

	g := e.Group(BasePath)
	g.GET("/productInfo", s.productInfo)
	g.GET("/databases", s.listDatabases)
	g.POST("/databases/:database/sessions", s.login)
	g.DELETE("/databases/:database/sessions/:token", s.logout)

	data := g.Group("/databases/:database", s.requireToken)
	data.GET("/layouts", s.listLayouts)
	data.GET("/layouts/:layout/records", s.getRecords)
	data.POST("/layouts/:layout/records", s.createRecord)
	data.GET("/layouts/:layout/records/:recordId", s.getRecord)
	data.PATCH("/layouts/:layout/records/:recordId", s.updateRecord)
	data.DELETE("/layouts/:layout/records/:recordId", s.deleteRecord)
	data.POST("/layouts/:layout/_find", s.find)

	s.Server = httptest.NewServer(e)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the value to use as core.Config.ServerURL.
func (s *Server) BaseURL() string {
	return s.URL + BasePath
}

// Config returns a client configuration bound to database and layout.
func (s *Server) Config(databaseName, layoutName string) *core.Config {
	return &core.Config{
		ServerURL: s.BaseURL(),
		Username:  s.Username,
		Password:  s.Password,
		Database:  databaseName,
		Layout:    layoutName,
	}
}

// ######################################################
//              FIXTURES
// ######################################################

// AddLayout registers a layout, creating its database when needed. When fields
// are given, records may only use those fields.
func (s *Server) AddLayout(databaseName, layoutName string, fields ...string) {
	s.addLayout(databaseName, "", layoutName, fields)
}

// AddFolderLayout registers a layout that is listed inside a layout folder.
func (s *Server) AddFolderLayout(databaseName, folder, layoutName string) {
	s.addLayout(databaseName, folder, layoutName, nil)
}

func (s *Server) addLayout(databaseName, folder, layoutName string, fields []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[databaseName]
	if !ok {
		db = &database{}
		s.databases[databaseName] = db
		s.dbOrder = append(s.dbOrder, databaseName)
	}
	l := &layout{name: layoutName, folder: folder, nextID: 1}
	if len(fields) > 0 {
		l.fields = map[string]struct{}{}
		for _, f := range fields {
			l.fields[f] = struct{}{}
		}
	}
	db.layouts = append(db.layouts, l)
}

// Insert stores a record directly and returns its id.
func (s *Server) Insert(databaseName, layoutName string, fields map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.mustLayout(databaseName, layoutName)
	r := &record{id: l.nextID, fields: normalize(fields)}
	l.nextID++
	l.records = append(l.records, r)
	return r.id
}

// Seed inserts n records {"name": "record <i>", "n": i} for i in 1..n.
func (s *Server) Seed(databaseName, layoutName string, n int) {
	for i := 1; i <= n; i++ {
		s.Insert(databaseName, layoutName, map[string]any{"name": fmt.Sprintf("record %d", i), "n": i})
	}
}

// Record returns a copy of the stored field data.
func (s *Server) Record(databaseName, layoutName string, id int64) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.mustLayout(databaseName, layoutName)
	for _, r := range l.records {
		if r.id == id {
			return copyFields(r.fields), true
		}
	}
	return nil, false
}

// Count returns the number of stored records.
func (s *Server) Count(databaseName, layoutName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mustLayout(databaseName, layoutName).records)
}

func (s *Server) mustLayout(databaseName, layoutName string) *layout {
	db, ok := s.databases[databaseName]
	if !ok {
		panic(fmt.Sprintf("fmtest: unknown database %q", databaseName))
	}
	l := db.layout(layoutName)
	if l == nil {
		panic(fmt.Sprintf("fmtest: unknown layout %q", layoutName))
	}
	return l
}

// ######################################################
//              FAILURE INJECTION AND COUNTERS
// ######################################################

// ExpireTokens invalidates every open session, as the server does after idle timeout.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	s.tokens = map[string]string{}
	s.mu.Unlock()
}

// FailLogins makes the next n logins fail with code 212.
func (s *Server) FailLogins(n int) {
	s.mu.Lock()
	s.failLogins = n
	s.mu.Unlock()
}

// RejectField makes every create or update that sets field fail with code,
// e.g. "504" (value not unique).
func (s *Server) RejectField(field, code string) {
	s.mu.Lock()
	s.fieldErrors[field] = code
	s.mu.Unlock()
}

func (s *Server) SetVersion(v string) {
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Server) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

// OpenSessions returns the number of tokens currently valid.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// PageLimits returns the limit of every listing and find request, in order.
func (s *Server) PageLimits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pageLimits...)
}

// PageOffsets returns the offset of every listing and find request, in order.
func (s *Server) PageOffsets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pageOffsets...)
}

// DataRequests counts requests that carried a bearer token.
func (s *Server) DataRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataRequests
}

// ######################################################
//              HANDLERS
// ######################################################

func (s *Server) productInfo(c echo.Context) error {
	s.mu.Lock()
	v := s.version
	s.mu.Unlock()
	return respond(c, map[string]any{"productInfo": map[string]any{
		"name":            "FileMaker Data API Engine",
		"buildDate":       "03/27/2024",
		"version":         v,
		"dateFormat":      "MM/dd/yyyy",
		"timeFormat":      "HH:mm:ss",
		"timeStampFormat": "MM/dd/yyyy HH:mm:ss",
	}})
}

func (s *Server) checkBasic(c echo.Context) bool {
	user, pass, found := c.Request().BasicAuth()
	return found && user == s.Username && pass == s.Password
}

func (s *Server) listDatabases(c echo.Context) error {
	if !s.checkBasic(c) {
		return fail(http.StatusUnauthorized, core.CodeBadCredentials, "Invalid user account and/or password; please try again")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dbs := make([]map[string]string, 0, len(s.dbOrder))
	for _, name := range s.dbOrder {
		dbs = append(dbs, map[string]string{"name": name})
	}
	return respond(c, map[string]any{"databases": dbs})
}

func (s *Server) login(c echo.Context) error {
	databaseName := param(c, "database")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	if s.failLogins > 0 {
		s.failLogins--
		return fail(http.StatusUnauthorized, core.CodeBadCredentials, "Invalid user account and/or password; please try again")
	}
	user, pass, found := c.Request().BasicAuth()
	if !found || user != s.Username || pass != s.Password {
		return fail(http.StatusUnauthorized, core.CodeBadCredentials, "Invalid user account and/or password; please try again")
	}
	if _, exists := s.databases[databaseName]; !exists {
		return fail(http.StatusInternalServerError, core.CodeUnableToOpenFile, "Unable to open file")
	}
	s.nextToken++
	token := fmt.Sprintf("token-%d", s.nextToken)
	s.tokens[token] = databaseName
	c.Response().Header().Set("X-FM-Data-Access-Token", token)
	return respond(c, map[string]any{"token": token})
}

func (s *Server) logout(c echo.Context) error {
	token := param(c, "token")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token]; !exists {
		return fail(http.StatusUnauthorized, core.CodeInvalidToken, "Invalid FileMaker Data API token (*)")
	}
	delete(s.tokens, token)
	s.logouts++
	return respond(c, map[string]any{})
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimPrefix(c.Request().Header.Get(core.HeaderAuthorization), core.AuthTypeBearer+" ")
		s.mu.Lock()
		s.dataRequests++
		databaseName, valid := s.tokens[token]
		s.mu.Unlock()
		if !valid || databaseName != param(c, "database") {
			return fail(http.StatusUnauthorized, core.CodeInvalidToken, "Invalid FileMaker Data API token (*)")
		}
		return next(c)
	}
}

func (s *Server) listLayouts(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db := s.databases[param(c, "database")]
	entries := []map[string]any{}
	folders := map[string]int{}
	for _, l := range db.layouts {
		if l.folder == "" {
			entries = append(entries, map[string]any{"name": l.name, "table": l.name})
			continue
		}
		idx, seen := folders[l.folder]
		if !seen {
			idx = len(entries)
			folders[l.folder] = idx
			entries = append(entries, map[string]any{"name": l.folder, "isFolder": true, "folderLayoutNames": []map[string]any{}})
		}
		children := entries[idx]["folderLayoutNames"].([]map[string]any)
		entries[idx]["folderLayoutNames"] = append(children, map[string]any{"name": l.name, "table": l.name})
	}
	return respond(c, map[string]any{"layouts": entries})
}

// lookup resolves the layout of the request; the caller holds s.mu.
func (s *Server) lookup(c echo.Context) (*layout, error) {
	db := s.databases[param(c, "database")]
	if db == nil {
		return nil, fail(http.StatusInternalServerError, core.CodeUnableToOpenFile, "Unable to open file")
	}
	l := db.layout(param(c, "layout"))
	if l == nil {
		return nil, fail(http.StatusInternalServerError, core.CodeLayoutMissing, "Layout is missing")
	}
	return l, nil
}

func (s *Server) getRecords(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lookup(c)
	if err != nil {
		return err
	}
	offset, limit, err := s.cursor(c.QueryParam("_offset"), c.QueryParam("_limit"))
	if err != nil {
		return err
	}
	found := append([]*record(nil), l.records...)
	if raw := c.QueryParam("_sort"); raw != "" {
		var sorts []sortEntry
		if err := json.Unmarshal([]byte(raw), &sorts); err != nil {
			return fail(http.StatusInternalServerError, core.CodeInvalidParameter, "Invalid parameter: _sort")
		}
		sortRecords(found, sorts)
	}
	return s.page(c, l, found, offset, limit)
}

func (s *Server) find(c echo.Context) error {
	var body struct {
		Query  []map[string]string `json:"query"`
		Sort   []sortEntry         `json:"sort"`
		Offset string              `json:"offset"`
		Limit  string              `json:"limit"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return fail(http.StatusInternalServerError, core.CodeInvalidJSON, "Invalid JSON input")
	}
	if len(body.Query) == 0 {
		return fail(http.StatusInternalServerError, core.CodeParameterMissing, "Parameter missing: query")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lookup(c)
	if err != nil {
		return err
	}
	offset, limit, err := s.cursor(body.Offset, body.Limit)
	if err != nil {
		return err
	}
	var found []*record
	for _, r := range l.records {
		if matchAny(r, body.Query) {
			found = append(found, r)
		}
	}
	sortRecords(found, body.Sort)
	return s.page(c, l, found, offset, limit)
}

// cursor parses and records paging parameters; the caller holds s.mu.
func (s *Server) cursor(rawOffset, rawLimit string) (int, int, error) {
	offset, limit := 1, defaultLimit
	var err error
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil || offset < 1 {
			return 0, 0, fail(http.StatusInternalServerError, core.CodeInvalidParameter, "Invalid parameter: offset")
		}
	}
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil || limit < 1 {
			return 0, 0, fail(http.StatusInternalServerError, core.CodeInvalidParameter, "Invalid parameter: limit")
		}
	}
	s.pageOffsets = append(s.pageOffsets, offset)
	s.pageLimits = append(s.pageLimits, limit)
	return offset, limit, nil
}

func (s *Server) page(c echo.Context, l *layout, found []*record, offset, limit int) error {
	if len(found) == 0 || offset > len(found) {
		return fail(http.StatusInternalServerError, core.CodeNoRecordsMatch, "No records match the request")
	}
	end := offset - 1 + limit
	if end > len(found) {
		end = len(found)
	}
	data := make([]map[string]any, 0, end-offset+1)
	for _, r := range found[offset-1 : end] {
		data = append(data, r.wire())
	}
	return respond(c, map[string]any{
		"dataInfo": map[string]any{
			"database":         param(c, "database"),
			"layout":           l.name,
			"table":            l.name,
			"totalRecordCount": len(l.records),
			"foundCount":       len(found),
			"returnedCount":    len(data),
		},
		"data": data,
	})
}

func (s *Server) getRecord(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, r, err := s.lookupRecord(c)
	if err != nil {
		return err
	}
	return respond(c, map[string]any{
		"dataInfo": map[string]any{
			"database":         param(c, "database"),
			"layout":           l.name,
			"table":            l.name,
			"totalRecordCount": len(l.records),
			"foundCount":       1,
			"returnedCount":    1,
		},
		"data": []map[string]any{r.wire()},
	})
}

func (s *Server) createRecord(c echo.Context) error {
	fields, err := fieldData(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lookup(c)
	if err != nil {
		return err
	}
	if err := s.checkFields(c, l, fields); err != nil {
		return err
	}
	r := &record{id: l.nextID, fields: fields}
	l.nextID++
	l.records = append(l.records, r)
	return respond(c, map[string]any{"recordId": strconv.FormatInt(r.id, 10), "modId": "0"})
}

func (s *Server) updateRecord(c echo.Context) error {
	fields, err := fieldData(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, r, err := s.lookupRecord(c)
	if err != nil {
		return err
	}
	if err := s.checkFields(c, l, fields); err != nil {
		return err
	}
	for k, v := range fields {
		r.fields[k] = v
	}
	r.modID++
	return respond(c, map[string]any{"modId": strconv.Itoa(r.modID)})
}

func (s *Server) deleteRecord(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, r, err := s.lookupRecord(c)
	if err != nil {
		return err
	}
	for i, candidate := range l.records {
		if candidate == r {
			l.records = append(l.records[:i], l.records[i+1:]...)
			break
		}
	}
	return respond(c, map[string]any{})
}

// lookupRecord resolves layout and record; the caller holds s.mu.
func (s *Server) lookupRecord(c echo.Context) (*layout, *record, error) {
	l, err := s.lookup(c)
	if err != nil {
		return nil, nil, err
	}
	id, perr := strconv.ParseInt(param(c, "recordId"), 10, 64)
	if perr != nil {
		return nil, nil, fail(http.StatusInternalServerError, core.CodeInvalidParameter, "Invalid parameter: recordId")
	}
	for _, r := range l.records {
		if r.id == id {
			return l, r, nil
		}
	}
	return nil, nil, fail(http.StatusInternalServerError, core.CodeRecordMissing, "Record is missing")
}

func (s *Server) checkFields(c echo.Context, l *layout, fields map[string]any) error {
	for name := range fields {
		if l.fields != nil {
			if _, known := l.fields[name]; !known {
				return fail(http.StatusInternalServerError, core.CodeFieldMissing, "Field is missing")
			}
		}
		if code, rejected := s.fieldErrors[name]; rejected {
			return fail(http.StatusInternalServerError, code, fmt.Sprintf("Field %q failed validation", name))
		}
	}
	return nil
}

// fieldData decodes {"fieldData": {...}}.
func fieldData(c echo.Context) (map[string]any, error) {
	var body struct {
		FieldData map[string]any `json:"fieldData"`
	}
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fail(http.StatusInternalServerError, core.CodeInvalidJSON, "Invalid JSON input")
	}
	if body.FieldData == nil {
		return nil, fail(http.StatusInternalServerError, core.CodeParameterMissing, "Parameter missing: fieldData")
	}
	return body.FieldData, nil
}

func (r *record) wire() map[string]any {
	return map[string]any{
		"fieldData":  copyFields(r.fields),
		"portalData": map[string]any{},
		"recordId":   strconv.FormatInt(r.id, 10),
		"modId":      strconv.Itoa(r.modID),
	}
}

func respond(c echo.Context, response any) error {
	return c.JSON(http.StatusOK, map[string]any{
		"messages": []map[string]string{{"code": core.CodeOK, "message": "OK"}},
		"response": response,
	})
}

// fmError is a FileMaker error reply; the echo error handler renders it.
type fmError struct {
	status  int
	code    string
	message string
}

func (e *fmError) Error() string {
	return e.code + ": " + e.message
}

func fail(status int, code, message string) error {
	return &fmError{status: status, code: code, message: message}
}

func param(c echo.Context, name string) string {
	v := c.Param(name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

// normalize round-trips fixture values through JSON so they match decoded request data.
func normalize(fields map[string]any) map[string]any {
	raw, _ := json.Marshal(fields)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	_ = dec.Decode(&out)
	return out
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
