package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fmkit/go-fmdata/api"
)

// Operation identifies one Data API call.
type Operation int

const (
	OpLogin Operation = iota
	OpLogout
	OpListDatabases
	OpListLayouts
	OpProductInfo
	OpGetRecords
	OpGetRecord
	OpCreateRecord
	OpUpdateRecord
	OpDeleteRecord
	OpFind
)

var operationNames = map[Operation]string{
	OpLogin:         "login",
	OpLogout:        "logout",
	OpListDatabases: "list databases",
	OpListLayouts:   "list layouts",
	OpProductInfo:   "product info",
	OpGetRecords:    "get records",
	OpGetRecord:     "get record",
	OpCreateRecord:  "create record",
	OpUpdateRecord:  "update record",
	OpDeleteRecord:  "delete record",
	OpFind:          "find",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// Path templates relative to the server URL. They mirror the paths of the
// embedded OpenAPI document.
const (
	PathProductInfo = "/productInfo"
	PathDatabases   = "/databases"
	PathSessions    = "/databases/{database}/sessions"
	PathSession     = "/databases/{database}/sessions/{sessionToken}"
	PathLayouts     = "/databases/{database}/layouts"
	PathRecords     = "/databases/{database}/layouts/{layout}/records"
	PathRecord      = "/databases/{database}/layouts/{layout}/records/{recordId}"
	PathFind        = "/databases/{database}/layouts/{layout}/_find"
)

type authMode int

const (
	authNone authMode = iota
	authBasic
	authBearer
)

type route struct {
	method   string
	path     string
	auth     authMode
	layout   bool // requires a layout
	database bool // requires a database
}

var routes = map[Operation]route{
	OpLogin:         {http.MethodPost, PathSessions, authBasic, false, true},
	OpLogout:        {http.MethodDelete, PathSession, authNone, false, true},
	OpListDatabases: {http.MethodGet, PathDatabases, authBasic, false, false},
	OpListLayouts:   {http.MethodGet, PathLayouts, authBearer, false, true},
	OpProductInfo:   {http.MethodGet, PathProductInfo, authNone, false, false},
	OpGetRecords:    {http.MethodGet, PathRecords, authBearer, true, true},
	OpGetRecord:     {http.MethodGet, PathRecord, authBearer, true, true},
	OpCreateRecord:  {http.MethodPost, PathRecords, authBearer, true, true},
	OpUpdateRecord:  {http.MethodPatch, PathRecord, authBearer, true, true},
	OpDeleteRecord:  {http.MethodDelete, PathRecord, authBearer, true, true},
	OpFind:          {http.MethodPost, PathFind, authBearer, true, true},
}

// Route returns the HTTP method and path template of an operation.
func Route(op Operation) (method, path string, ok bool) {
	r, ok := routes[op]
	return r.method, r.path, ok
}

// Query is one find request: all fields must match (AND). Several queries in a
// find are OR-combined.
type Query map[string]string

// SortSpec orders results by Fields, all in the same direction.
type SortSpec struct {
	Fields    []string
	Ascending bool
}

func (s SortSpec) entries() []sortEntry {
	if len(s.Fields) == 0 {
		return nil
	}
	order := sortOrderDescend
	if s.Ascending {
		order = sortOrderAscend
	}
	out := make([]sortEntry, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = sortEntry{FieldName: f, SortOrder: order}
	}
	return out
}

// Cursor selects a slice of a record listing. Offset is 1-based.
type Cursor struct {
	Offset int
	Limit  int
}

func (c Cursor) validate() error {
	if c.Offset < 1 {
		return &ValidationError{Field: "offset", Reason: fmt.Sprintf("must be >= 1, got %d", c.Offset)}
	}
	if c.Limit < 1 {
		return &ValidationError{Field: "limit", Reason: fmt.Sprintf("must be >= 1, got %d", c.Limit)}
	}
	return nil
}

// RequestSpec carries everything needed to build one call.
type RequestSpec struct {
	Op       Operation
	Database string
	Layout   string
	RecordID int64
	Fields   Fields
	Query    []Query
	Sort     SortSpec
	Cursor   *Cursor
	Token    string // session token to close, logout only
}

// PreparedRequest is the transport-independent form of a call.
type PreparedRequest struct {
	Op     Operation
	Method string
	URL    string
	Header http.Header
	Body   []byte

	auth authMode
}

type sortEntry struct {
	FieldName string `json:"fieldName"`
	SortOrder string `json:"sortOrder"`
}

type findBody struct {
	Query  []Query     `json:"query"`
	Sort   []sortEntry `json:"sort,omitempty"`
	Offset string      `json:"offset,omitempty"`
	Limit  string      `json:"limit,omitempty"`
}

type recordBody struct {
	FieldData Fields `json:"fieldData"`
}

// RequestBuilder turns a RequestSpec into a PreparedRequest.
type RequestBuilder struct {
	baseURL   string
	userAgent string
	basicAuth string
}

func NewRequestBuilder(config *Config) *RequestBuilder {
	creds := base64.StdEncoding.EncodeToString([]byte(config.Username + ":" + config.Password))
	return &RequestBuilder{
		baseURL:   strings.TrimRight(config.ServerURL, "/"),
		userAgent: config.UserAgent,
		basicAuth: AuthTypeBasic + " " + creds,
	}
}

// Build validates spec and produces the request. Operations that need a
// session token must be passed through Authorize before sending.
func (b *RequestBuilder) Build(spec RequestSpec) (*PreparedRequest, error) {
	r, ok := routes[spec.Op]
	if !ok {
		return nil, fmt.Errorf("unknown operation %d", int(spec.Op))
	}
	if r.database && strings.TrimSpace(spec.Database) == "" {
		return nil, &ValidationError{Field: "database", Reason: "cannot be empty"}
	}
	if r.layout && strings.TrimSpace(spec.Layout) == "" {
		return nil, &ValidationError{Field: "layout", Reason: "cannot be empty"}
	}

	path := strings.NewReplacer(
		"{database}", url.PathEscape(spec.Database),
		"{layout}", url.PathEscape(spec.Layout),
		"{sessionToken}", url.PathEscape(spec.Token),
		"{recordId}", strconv.FormatInt(spec.RecordID, 10),
	).Replace(r.path)

	var (
		query url.Values
		body  []byte
		err   error
	)
	switch spec.Op {
	case OpLogin:
		body = []byte("{}")
	case OpLogout:
		if spec.Token == "" {
			return nil, &ValidationError{Field: "token", Reason: "cannot be empty"}
		}
	case OpGetRecord, OpDeleteRecord:
		if err = validRecordID(spec.RecordID); err != nil {
			return nil, err
		}
	case OpUpdateRecord:
		if err = validRecordID(spec.RecordID); err != nil {
			return nil, err
		}
		if err = spec.Fields.validate(); err != nil {
			return nil, err
		}
		body, err = json.Marshal(recordBody{FieldData: spec.Fields})
	case OpCreateRecord:
		fields := spec.Fields
		if fields == nil {
			fields = Fields{}
		}
		for name := range fields {
			if strings.TrimSpace(name) == "" {
				return nil, &ValidationError{Field: "fieldData", Reason: "field names cannot be empty"}
			}
		}
		body, err = json.Marshal(recordBody{FieldData: fields})
	case OpGetRecords:
		query = url.Values{}
		if spec.Cursor != nil {
			if err = spec.Cursor.validate(); err != nil {
				return nil, err
			}
			query.Set("_offset", strconv.Itoa(spec.Cursor.Offset))
			query.Set("_limit", strconv.Itoa(spec.Cursor.Limit))
		}
		if entries := spec.Sort.entries(); entries != nil {
			if err = validSortFields(spec.Sort.Fields); err != nil {
				return nil, err
			}
			raw, _ := json.Marshal(entries)
			query.Set("_sort", string(raw))
		}
	case OpFind:
		body, err = buildFindBody(spec)
	}
	if err != nil {
		return nil, err
	}
	if body != nil {
		if err = api.ValidateRequestBody(r.method, r.path, body); err != nil {
			return nil, &ValidationError{Field: "request body", Reason: err.Error()}
		}
	}

	fullURL := b.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	header := http.Header{}
	header.Set(HeaderAccept, ContentTypeJSON)
	if b.userAgent != "" {
		header.Set(HeaderUserAgent, b.userAgent)
	}
	if body != nil {
		header.Set(HeaderContentType, ContentTypeJSON)
	}
	if r.auth == authBasic {
		header.Set(HeaderAuthorization, b.basicAuth)
	}
	return &PreparedRequest{
		Op:     spec.Op,
		Method: r.method,
		URL:    fullURL,
		Header: header,
		Body:   body,
		auth:   r.auth,
	}, nil
}

// NeedsToken reports whether the request must carry a session token.
func (p *PreparedRequest) NeedsToken() bool {
	return p.auth == authBearer
}

// Authorize returns a copy of the request carrying token as bearer credential.
// Requests that do not use a session token are returned unchanged.
func (p *PreparedRequest) Authorize(token string) (*PreparedRequest, error) {
	if !p.NeedsToken() {
		return p, nil
	}
	if token == "" {
		return nil, fmt.Errorf("%w: %s requires a session token", ErrAuthentication, p.Op)
	}
	cp := *p
	cp.Header = p.Header.Clone()
	cp.Header.Set(HeaderAuthorization, AuthTypeBearer+" "+token)
	return &cp, nil
}

func buildFindBody(spec RequestSpec) ([]byte, error) {
	if len(spec.Query) == 0 {
		return nil, &ValidationError{Field: "query", Reason: "find requires at least one condition; use the record listing to fetch everything"}
	}
	for i, q := range spec.Query {
		if len(q) == 0 {
			return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("condition %d is empty", i)}
		}
		for name := range q {
			if strings.TrimSpace(name) == "" {
				return nil, &ValidationError{Field: "query", Reason: fmt.Sprintf("condition %d has an empty field name", i)}
			}
		}
	}
	if err := validSortFields(spec.Sort.Fields); err != nil {
		return nil, err
	}
	fb := findBody{Query: spec.Query, Sort: spec.Sort.entries()}
	if spec.Cursor != nil {
		if err := spec.Cursor.validate(); err != nil {
			return nil, err
		}
		fb.Offset = strconv.Itoa(spec.Cursor.Offset)
		fb.Limit = strconv.Itoa(spec.Cursor.Limit)
	}
	return json.Marshal(fb)
}

func validRecordID(id int64) error {
	if id < 1 {
		return &ValidationError{Field: "record id", Reason: fmt.Sprintf("must be a positive number, got %d", id)}
	}
	return nil
}

func validSortFields(fields []string) error {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return &ValidationError{Field: "sort", Reason: "field names cannot be empty"}
		}
	}
	return nil
}

// ParseRecordID converts user input such as "42" into a record id.
func ParseRecordID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "record id", Reason: fmt.Sprintf("%q is not numeric", s)}
	}
	if err = validRecordID(id); err != nil {
		return 0, err
	}
	return id, nil
}
