package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fmkit/go-fmdata/api"
)

const maxErrorBody = 2048

// RawResponse is what the transport hands back: status and body, nothing else.
type RawResponse struct {
	Op         Operation
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

type messageCode string

func (c *messageCode) UnmarshalJSON(data []byte) error {
	s, err := rawString(data)
	if err != nil {
		return err
	}
	*c = messageCode(s)
	return nil
}

type message struct {
	Code    messageCode `json:"code"`
	Message string      `json:"message"`
}

type envelope struct {
	Messages []message      `json:"messages"`
	Response json.RawMessage `json:"response"`
}

// firstError returns the first message carrying a non-zero code.
func (e *envelope) firstError() (code, msg string) {
	for _, m := range e.Messages {
		if m.Code != "" && string(m.Code) != CodeOK {
			return string(m.Code), m.Message
		}
	}
	return "", ""
}

func parseEnvelope(body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Err classifies the response. It returns nil for a 2xx answer whose messages
// carry no error code, and an *ApiError otherwise.
func (r *RawResponse) Err() error {
	var code, msg string
	if env, err := parseEnvelope(r.Body); err == nil {
		code, msg = env.firstError()
	}
	if r.StatusCode >= 200 && r.StatusCode < 300 && code == "" {
		return nil
	}
	return &ApiError{
		Kind:       classify(r.StatusCode, code),
		Method:     r.Method,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		Code:       code,
		Message:    msg,
		Body:       truncate(r.Body),
	}
}

var responseSchemas = map[Operation]string{
	OpLogin:         api.SchemaLoginResponse,
	OpLogout:        api.SchemaEmptyResponse,
	OpListDatabases: api.SchemaDatabasesResponse,
	OpListLayouts:   api.SchemaLayoutsResponse,
	OpProductInfo:   api.SchemaProductInfo,
	OpGetRecords:    api.SchemaRecordsResponse,
	OpGetRecord:     api.SchemaRecordsResponse,
	OpCreateRecord:  api.SchemaCreateResponse,
	OpUpdateRecord:  api.SchemaEditResponse,
	OpDeleteRecord:  api.SchemaEmptyResponse,
	OpFind:          api.SchemaRecordsResponse,
}

// decodeResponse checks the envelope and the "response" member against the
// operation's schema, then unmarshals the member into out.
func decodeResponse(r *RawResponse, out any) error {
	fail := func(err error) error {
		return &DecodeError{Op: r.Op, Body: truncate(r.Body), Err: err}
	}
	if err := r.Err(); err != nil {
		return err
	}
	if err := api.ValidateComponent(api.SchemaEnvelope, r.Body); err != nil {
		return fail(err)
	}
	env, err := parseEnvelope(r.Body)
	if err != nil {
		return fail(err)
	}
	schema := responseSchemas[r.Op]
	payload := bytes.TrimSpace(env.Response)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		if schema == api.SchemaEmptyResponse {
			return nil
		}
		return fail(errors.New("missing response member"))
	}
	if err = api.ValidateComponent(schema, payload); err != nil {
		return fail(err)
	}
	if out == nil {
		return nil
	}
	if err = json.Unmarshal(payload, out); err != nil {
		return fail(err)
	}
	return nil
}

func DecodeToken(r *RawResponse) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := decodeResponse(r, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func DecodeEmpty(r *RawResponse) error {
	return decodeResponse(r, nil)
}

func DecodePage(r *RawResponse) (Page, error) {
	var out struct {
		Data     RecordSet `json:"data"`
		DataInfo DataInfo  `json:"dataInfo"`
	}
	if err := decodeResponse(r, &out); err != nil {
		return Page{}, err
	}
	if out.Data == nil {
		out.Data = RecordSet{}
	}
	return Page{Records: out.Data, Info: out.DataInfo}, nil
}

func DecodeRecord(r *RawResponse) (Record, error) {
	page, err := DecodePage(r)
	if err != nil {
		return Record{}, err
	}
	if len(page.Records) != 1 {
		return Record{}, &DecodeError{
			Op:   r.Op,
			Body: truncate(r.Body),
			Err:  fmt.Errorf("expected exactly one record, got %d", len(page.Records)),
		}
	}
	return page.Records[0], nil
}

// DecodeCreated returns the id and modification id of a new record.
func DecodeCreated(r *RawResponse) (int64, string, error) {
	var out struct {
		RecordID json.RawMessage `json:"recordId"`
		ModID    json.RawMessage `json:"modId"`
	}
	if err := decodeResponse(r, &out); err != nil {
		return 0, "", err
	}
	id, err := parseRecordID(out.RecordID)
	if err != nil {
		return 0, "", &DecodeError{Op: r.Op, Body: truncate(r.Body), Err: err}
	}
	modID, _ := rawString(out.ModID)
	return id, modID, nil
}

func DecodeModID(r *RawResponse) (string, error) {
	var out struct {
		ModID json.RawMessage `json:"modId"`
	}
	if err := decodeResponse(r, &out); err != nil {
		return "", err
	}
	modID, _ := rawString(out.ModID)
	return modID, nil
}

func DecodeDatabases(r *RawResponse) ([]string, error) {
	var out struct {
		Databases []struct {
			Name string `json:"name"`
		} `json:"databases"`
	}
	if err := decodeResponse(r, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Databases))
	for _, db := range out.Databases {
		names = append(names, db.Name)
	}
	return names, nil
}

type layoutEntry struct {
	Name              string        `json:"name"`
	IsFolder          bool          `json:"isFolder"`
	FolderLayoutNames []layoutEntry `json:"folderLayoutNames"`
}

// DecodeLayouts returns layout names in server order. Folders are flattened
// depth-first and do not appear themselves.
func DecodeLayouts(r *RawResponse) ([]string, error) {
	var out struct {
		Layouts []layoutEntry `json:"layouts"`
	}
	if err := decodeResponse(r, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Layouts))
	var walk func([]layoutEntry)
	walk = func(entries []layoutEntry) {
		for _, e := range entries {
			if e.IsFolder {
				walk(e.FolderLayoutNames)
				continue
			}
			names = append(names, e.Name)
		}
	}
	walk(out.Layouts)
	return names, nil
}

func DecodeProductInfo(r *RawResponse) (ProductInfo, error) {
	var out struct {
		ProductInfo ProductInfo `json:"productInfo"`
	}
	if err := decodeResponse(r, &out); err != nil {
		return ProductInfo{}, err
	}
	return out.ProductInfo, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "...(truncated)"
	}
	return string(body)
}
