package core

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okBody(response string) []byte {
	return []byte(`{"messages":[{"code":"0","message":"OK"}],"response":` + response + `}`)
}

func errBody(code, msg string) []byte {
	return []byte(`{"messages":[{"code":"` + code + `","message":"` + msg + `"}],"response":{}}`)
}

func raw(op Operation, status int, body []byte) *RawResponse {
	return &RawResponse{Op: op, Method: http.MethodGet, URL: "https://fm/x", StatusCode: status, Body: body}
}

func TestRawResponseErr(t *testing.T) {
	assert.NoError(t, raw(OpGetRecords, 200, okBody(`{}`)).Err())

	err := raw(OpFind, 500, errBody("401", "No records match the request")).Err()
	require.Error(t, err)
	assert.True(t, IsNoRecordsMatch(err))
	assert.True(t, IsNotFoundErr(err))

	// numeric codes are accepted as well
	err = raw(OpGetRecord, 401, []byte(`{"messages":[{"code":952,"message":"Invalid FileMaker Data API token (*)"}]}`)).Err()
	assert.True(t, IsAuthErr(err))
	assert.True(t, tokenRejected(err))

	// error code on a 2xx status
	err = raw(OpCreateRecord, 200, errBody("504", "Value in field is not unique")).Err()
	assert.True(t, IsValidationErr(err))

	// non JSON error page
	err = raw(OpGetRecords, http.StatusBadGateway, []byte("<html>bad gateway</html>")).Err()
	assert.True(t, IsServerErr(err))
	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "<html>bad gateway</html>", apiErr.Body)

	big := raw(OpGetRecords, 500, []byte(strings.Repeat("x", 5000))).Err()
	require.ErrorAs(t, big, &apiErr)
	assert.True(t, strings.HasSuffix(apiErr.Body, "...(truncated)"))
	assert.Len(t, apiErr.Body, maxErrorBody+len("...(truncated)"))
}

func TestDecodeToken(t *testing.T) {
	token, err := DecodeToken(raw(OpLogin, 200, okBody(`{"token":"abc123"}`)))
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	_, err = DecodeToken(raw(OpLogin, 200, okBody(`{"token":""}`)))
	assert.True(t, IsDecodeErr(err))

	_, err = DecodeToken(raw(OpLogin, 200, okBody(`{}`)))
	assert.True(t, IsDecodeErr(err))

	_, err = DecodeToken(raw(OpLogin, 401, errBody("212", "Invalid user account and/or password; please try again")))
	assert.True(t, IsAuthErr(err))
	assert.False(t, tokenRejected(err))
}

func TestDecodeEmpty(t *testing.T) {
	assert.NoError(t, DecodeEmpty(raw(OpLogout, 200, okBody(`{}`))))
	assert.NoError(t, DecodeEmpty(raw(OpDeleteRecord, 200, []byte(`{"messages":[{"code":"0"}]}`))))
	assert.True(t, IsDecodeErr(DecodeEmpty(raw(OpDeleteRecord, 200, []byte(`not json`)))))
	assert.True(t, IsDecodeErr(DecodeEmpty(raw(OpDeleteRecord, 200, []byte(`{"response":{}}`)))))
}

const pageResponse = `{
	"dataInfo": {"database":"Contacts","layout":"Web","table":"People","totalRecordCount":3,"foundCount":2,"returnedCount":2},
	"data": [
		{"fieldData":{"Name":"Alice","Age":42},"portalData":{},"recordId":"1","modId":"0"},
		{"fieldData":{"Name":"Bob","Age":""},"portalData":{},"recordId":"2","modId":"5"}
	]
}`

func TestDecodePage(t *testing.T) {
	page, err := DecodePage(raw(OpGetRecords, 200, okBody(pageResponse)))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, page.Records.IDs())
	assert.Equal(t, "5", page.Records[1].ModID)
	assert.Equal(t, DataInfo{Database: "Contacts", Layout: "Web", Table: "People", TotalRecordCount: 3, FoundCount: 2, ReturnedCount: 2}, page.Info)

	empty, err := DecodePage(raw(OpGetRecords, 200, okBody(`{"data":[]}`)))
	require.NoError(t, err)
	assert.NotNil(t, empty.Records)
	assert.Empty(t, empty.Records)

	tests := map[string]string{
		"missing data":       `{"dataInfo":{}}`,
		"non numeric id":     `{"data":[{"fieldData":{},"recordId":"x"}]}`,
		"missing field data": `{"data":[{"recordId":"1"}]}`,
		"no response":        `null`,
	}
	for name, response := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePage(raw(OpGetRecords, 200, okBody(response)))
			assert.True(t, IsDecodeErr(err), "got %v", err)
		})
	}
}

func TestDecodeRecord(t *testing.T) {
	one := `{"data":[{"fieldData":{"Name":"Alice"},"recordId":"9","modId":"2"}]}`
	r, err := DecodeRecord(raw(OpGetRecord, 200, okBody(one)))
	require.NoError(t, err)
	assert.Equal(t, int64(9), r.ID)

	_, err = DecodeRecord(raw(OpGetRecord, 200, okBody(pageResponse)))
	assert.True(t, IsDecodeErr(err))

	_, err = DecodeRecord(raw(OpGetRecord, 500, errBody("101", "Record is missing")))
	assert.True(t, IsNotFoundErr(err))
}

func TestDecodeCreatedAndModID(t *testing.T) {
	id, modID, err := DecodeCreated(raw(OpCreateRecord, 200, okBody(`{"recordId":"147","modId":"0"}`)))
	require.NoError(t, err)
	assert.Equal(t, int64(147), id)
	assert.Equal(t, "0", modID)

	_, _, err = DecodeCreated(raw(OpCreateRecord, 200, okBody(`{"modId":"0"}`)))
	assert.True(t, IsDecodeErr(err))

	id, modID, err = DecodeCreated(raw(OpCreateRecord, 200, okBody(`{"recordId":148,"modId":2}`)))
	require.NoError(t, err)
	assert.Equal(t, int64(148), id)
	assert.Equal(t, "2", modID)

	page, err := DecodePage(raw(OpGetRecords, 200, okBody(`{"data":[{"fieldData":{},"recordId":9,"modId":1}]}`)))
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, page.Records.IDs())
	assert.Equal(t, "1", page.Records[0].ModID)

	modID, err = DecodeModID(raw(OpUpdateRecord, 200, okBody(`{"modId":"3"}`)))
	require.NoError(t, err)
	assert.Equal(t, "3", modID)
}

func TestDecodeDatabasesAndLayouts(t *testing.T) {
	dbs, err := DecodeDatabases(raw(OpListDatabases, 200, okBody(`{"databases":[{"name":"Contacts"},{"name":"Invoices"}]}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"Contacts", "Invoices"}, dbs)

	layouts, err := DecodeLayouts(raw(OpListLayouts, 200, okBody(`{"layouts":[
		{"name":"Web"},
		{"name":"Reports","isFolder":true,"folderLayoutNames":[{"name":"Monthly"},{"name":"Yearly"}]},
		{"name":"Admin","table":""}
	]}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"Web", "Monthly", "Yearly", "Admin"}, layouts)
}

func TestDecodeProductInfo(t *testing.T) {
	info, err := DecodeProductInfo(raw(OpProductInfo, 200, okBody(`{"productInfo":{
		"name":"FileMaker Data API Engine","buildDate":"03/27/2024","version":"21.0.1.51",
		"dateFormat":"MM/dd/yyyy","timeFormat":"HH:mm:ss","timeStampFormat":"MM/dd/yyyy HH:mm:ss"
	}}`)))
	require.NoError(t, err)
	assert.Equal(t, "21.0.1.51", info.Version)
	assert.Equal(t, "MM/dd/yyyy", info.DateFormat)

	_, err = DecodeProductInfo(raw(OpProductInfo, 200, okBody(`{"productInfo":{}}`)))
	assert.True(t, IsDecodeErr(err))
}
