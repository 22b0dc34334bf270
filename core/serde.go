package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/bndr/gotabulate"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	recordIDKey = "recordId"
	modIDKey    = "modId"
)

type FillFunc func(Record, any) error

var fillFunc FillFunc = func(r Record, container any) error {
	data, err := json.Marshal(r.flatten())
	if err != nil {
		return err
	}
	return FlexibleUnmarshal(data, container)
}

//  ######################################################
//              FIELD DATA
//  ######################################################

// Fields maps field names to values. It is the "fieldData" part of a record
// and the payload of create/update calls.
type Fields map[string]Value

// NewFields converts a native map into Fields.
func NewFields(m map[string]any) (Fields, error) {
	fields := make(Fields, len(m))
	for k, v := range m {
		val, err := ValueOf(v)
		if err != nil {
			return nil, &ValidationError{Field: k, Reason: err.Error()}
		}
		fields[k] = val
	}
	return fields, nil
}

// FieldsFromStruct builds Fields from the exported fields of a struct using their
// json tags. Zero values tagged with omitempty are skipped, so the result is
// suitable for partial updates.
func FieldsFromStruct(obj any) (Fields, error) {
	val := reflect.ValueOf(obj)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("expected non-nil pointer to struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct or pointer to struct, got %T", obj)
	}
	raw, err := json.Marshal(val.Interface())
	if err != nil {
		return nil, err
	}
	var fields Fields
	if err = json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, recordIDKey)
	delete(fields, modIDKey)
	return fields, nil
}

// Get returns the value of a field, or null when absent.
func (f Fields) Get(name string) Value {
	return f[name]
}

// Names returns the field names in lexical order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f Fields) validate() error {
	if len(f) == 0 {
		return &ValidationError{Field: "fieldData", Reason: "at least one field is required"}
	}
	for name := range f {
		if strings.TrimSpace(name) == "" {
			return &ValidationError{Field: "fieldData", Reason: "field names cannot be empty"}
		}
	}
	return nil
}

//  ######################################################
//              RETURN TYPES
//  ######################################################

// Renderable is an interface implemented by types that can render themselves
// into a human-readable string format, typically for CLI display or logging.
type Renderable interface {
	PrettyTable() string
	PrettyJson(indent ...string) string
}

// Filler is a generic interface for filling a struct or slice of structs.
type Filler interface {
	// Fill populates the given container with data from the implementing type.
	// The container can be a pointer to a struct (for Record),
	// or a pointer to a slice of structs (for RecordSet).
	Fill(container any) error
}

// DisplayableRecord combines rendering and data population capabilities.
// It is implemented by Record and RecordSet.
type DisplayableRecord interface {
	Renderable
	Filler
}

// Record is a single row returned by the Data API.
type Record struct {
	ID      int64
	ModID   string
	Fields  Fields
	Portals map[string][]Fields
}

// RecordSet represents a list of Record objects in server order.
type RecordSet []Record

// DataInfo is the paging metadata attached to record listings.
type DataInfo struct {
	Database         string `json:"database,omitempty"`
	Layout           string `json:"layout,omitempty"`
	Table            string `json:"table,omitempty"`
	TotalRecordCount int    `json:"totalRecordCount"`
	FoundCount       int    `json:"foundCount"`
	ReturnedCount    int    `json:"returnedCount"`
}

// Page is one bounded slice of a record listing.
type Page struct {
	Records RecordSet
	Info    DataInfo
}

type wireRecord struct {
	FieldData  Fields              `json:"fieldData"`
	PortalData map[string][]Fields `json:"portalData,omitempty"`
	RecordID   json.RawMessage     `json:"recordId"`
	ModID      json.RawMessage     `json:"modId,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	fields := r.Fields
	if fields == nil {
		fields = Fields{}
	}
	modID, err := json.Marshal(r.ModID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRecord{
		FieldData:  fields,
		PortalData: r.Portals,
		RecordID:   json.RawMessage(strconv.Quote(strconv.FormatInt(r.ID, 10))),
		ModID:      modID,
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.FieldData == nil {
		return fmt.Errorf("record has no fieldData")
	}
	id, err := parseRecordID(w.RecordID)
	if err != nil {
		return err
	}
	modID, err := rawString(w.ModID)
	if err != nil {
		return fmt.Errorf("invalid modId: %w", err)
	}
	*r = Record{ID: id, ModID: modID, Fields: w.FieldData, Portals: w.PortalData}
	return nil
}

// parseRecordID accepts the id as a JSON string ("12") or number (12).
func parseRecordID(raw json.RawMessage) (int64, error) {
	s, err := rawString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid recordId: %w", err)
	}
	if s == "" {
		return 0, fmt.Errorf("missing recordId")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("recordId %q is not numeric", s)
	}
	return id, nil
}

func rawString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Get returns the value of a field, or null when absent.
func (r Record) Get(name string) Value {
	return r.Fields.Get(name)
}

// flatten returns field data plus record metadata as plain Go values.
func (r Record) flatten() map[string]any {
	m := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		m[k] = v.Interface()
	}
	if _, ok := m[recordIDKey]; !ok {
		m[recordIDKey] = r.ID
	}
	if _, ok := m[modIDKey]; !ok {
		m[modIDKey] = r.ModID
	}
	return m
}

// Fill populates the exported fields of the given struct pointer from the
// record's field data, matching keys against json tags. The record id and
// modification id are available under the "recordId" and "modId" keys.
//
// Returns an error if the container is not a pointer to a struct or if conversion fails.
func (r Record) Fill(container any) error {
	val := reflect.ValueOf(container)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("container must be a non-nil pointer to a struct")
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("container must point to a struct")
	}
	return fillFunc(r, container)
}

// PrettyTable prints a single Record as a table
func (r Record) PrettyTable() string {
	if r.ID == 0 && len(r.Fields) == 0 {
		return "<>"
	}
	var rows [][]any
	for _, name := range r.Fields.Names() {
		rows = append(rows, []any{name, r.Fields[name].String()})
	}
	for _, name := range sortedKeys(r.Portals) {
		portal, _ := json.Marshal(r.Portals[name])
		rows = append(rows, []any{"<<portal " + name + ">>", string(portal)})
	}
	if len(rows) == 0 {
		rows = append(rows, []any{"", ""})
	}
	t := gotabulate.Create(rows)
	t.SetHeaders([]string{"field", "value"})
	t.SetAlign("left")
	t.SetWrapStrings(true)
	t.SetMaxCellSize(85)
	return fmt.Sprintf("record %d (mod %s):\n%s", r.ID, r.ModID, t.Render("grid"))
}

// PrettyJson prints the Record as JSON, optionally indented
func (r Record) PrettyJson(indent ...string) string {
	return prettyJson(r, indent...)
}

func (r Record) Empty() bool {
	return r.ID == 0 && len(r.Fields) == 0
}

func (r Record) String() string {
	return r.PrettyTable()
}

func (r Record) EncodeMsgpack(enc *msgpack.Encoder) error {
	portals := make(map[string]any, len(r.Portals))
	for name, rows := range r.Portals {
		items := make([]any, len(rows))
		for i, row := range rows {
			items[i] = Object(row).Interface()
		}
		portals[name] = items
	}
	return enc.Encode(map[string]any{
		recordIDKey:  r.ID,
		modIDKey:     r.ModID,
		"fieldData":  Object(r.Fields).Interface(),
		"portalData": portals,
	})
}

func (r *Record) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeMap()
	if err != nil {
		return err
	}
	out := Record{Fields: Fields{}}
	idValue, err := ValueOf(raw[recordIDKey])
	if err != nil {
		return fmt.Errorf("invalid recordId: %w", err)
	}
	if id, ok := idValue.Int64(); ok {
		out.ID = id
	}
	if modID, ok := raw[modIDKey].(string); ok {
		out.ModID = modID
	}
	if data, ok := raw["fieldData"].(map[string]any); ok {
		if out.Fields, err = NewFields(data); err != nil {
			return err
		}
	}
	if portals, ok := raw["portalData"].(map[string]any); ok && len(portals) > 0 {
		out.Portals = make(map[string][]Fields, len(portals))
		for name, rows := range portals {
			items, _ := rows.([]any)
			for _, item := range items {
				row, _ := item.(map[string]any)
				fields, err := NewFields(row)
				if err != nil {
					return err
				}
				out.Portals[name] = append(out.Portals[name], fields)
			}
		}
	}
	*r = out
	return nil
}

// Fill populates the provided container slice with data from the RecordSet.
// The container must be a non-nil pointer to a slice of structs (e.g., *[]T or *[]*T).
//
// Example usage:
//
//	var contacts []Contact
//	err := recordSet.Fill(&contacts)
func (rs RecordSet) Fill(container any) error {
	val := reflect.ValueOf(container)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("container must be a non-nil pointer to a slice")
	}

	sliceVal := val.Elem()
	if sliceVal.Kind() != reflect.Slice {
		return fmt.Errorf("container must point to a slice")
	}

	elemType := sliceVal.Type().Elem()
	isPtrElem := elemType.Kind() == reflect.Ptr

	var targetType reflect.Type
	if isPtrElem {
		if elemType.Elem().Kind() != reflect.Struct {
			return fmt.Errorf("slice element must be pointer to a struct")
		}
		targetType = elemType.Elem()
	} else {
		if elemType.Kind() != reflect.Struct {
			return fmt.Errorf("slice element must be a struct")
		}
		targetType = elemType
	}

	for _, record := range rs {
		elemPtr := reflect.New(targetType)
		if err := record.Fill(elemPtr.Interface()); err != nil {
			return fmt.Errorf("record %d: %w", record.ID, err)
		}
		if isPtrElem {
			sliceVal.Set(reflect.Append(sliceVal, elemPtr))
		} else {
			sliceVal.Set(reflect.Append(sliceVal, elemPtr.Elem()))
		}
	}
	return nil
}

// PrettyTable renders the RecordSet as one table: a recordId column followed
// by the union of all field names.
func (rs RecordSet) PrettyTable() string {
	if len(rs) == 0 {
		return "[]"
	}
	seen := map[string]struct{}{}
	var columns []string
	for _, r := range rs {
		for name := range r.Fields {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				columns = append(columns, name)
			}
		}
	}
	sort.Strings(columns)
	rows := make([][]any, 0, len(rs))
	for _, r := range rs {
		row := make([]any, 0, len(columns)+1)
		row = append(row, strconv.FormatInt(r.ID, 10))
		for _, name := range columns {
			row = append(row, r.Fields[name].String())
		}
		rows = append(rows, row)
	}
	t := gotabulate.Create(rows)
	t.SetHeaders(append([]string{recordIDKey}, columns...))
	t.SetAlign("left")
	t.SetWrapStrings(true)
	t.SetMaxCellSize(40)
	return t.Render("grid")
}

func (rs RecordSet) Empty() bool {
	return len(rs) == 0
}

// PrettyJson prints the RecordSet as JSON, optionally indented
func (rs RecordSet) PrettyJson(indent ...string) string {
	if rs == nil {
		rs = RecordSet{}
	}
	return prettyJson(rs, indent...)
}

// IDs returns the record ids in order.
func (rs RecordSet) IDs() []int64 {
	ids := make([]int64, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

// Export encodes the set in MessagePack.
func (rs RecordSet) Export() ([]byte, error) {
	if rs == nil {
		rs = RecordSet{}
	}
	return msgpack.Marshal([]Record(rs))
}

// Import decodes a set previously produced by Export.
func Import(data []byte) (RecordSet, error) {
	var records []Record
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FieldNamesByExample lists the field names of a record, skipping global fields
// (prefixed "g_") which are not stored per record.
func FieldNamesByExample(r Record) []string {
	names := make([]string, 0, len(r.Fields))
	for _, name := range r.Fields.Names() {
		if strings.HasPrefix(name, globalFieldPrefix) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (p Page) PrettyTable() string {
	return fmt.Sprintf("%s\nreturned %d of %d found (%d total)",
		p.Records.PrettyTable(), p.Info.ReturnedCount, p.Info.FoundCount, p.Info.TotalRecordCount)
}

func (p Page) PrettyJson(indent ...string) string {
	return prettyJson(struct {
		Data     RecordSet `json:"data"`
		DataInfo DataInfo  `json:"dataInfo"`
	}{p.Records, p.Info}, indent...)
}

func prettyJson(v any, indent ...string) string {
	var (
		b   []byte
		err error
	)
	if len(indent) > 0 {
		b, err = json.MarshalIndent(v, "", indent[0])
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Sprintf("failed to marshal JSON: %v", err)
	}
	return string(b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
