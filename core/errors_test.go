package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"invalid token", http.StatusUnauthorized, CodeInvalidToken, ErrAuthentication},
		{"bad credentials", http.StatusUnauthorized, CodeBadCredentials, ErrAuthentication},
		{"plain 401", http.StatusUnauthorized, "", ErrAuthentication},
		{"no records match", http.StatusInternalServerError, CodeNoRecordsMatch, ErrNotFound},
		{"record missing", http.StatusInternalServerError, CodeRecordMissing, ErrNotFound},
		{"layout missing", http.StatusInternalServerError, CodeLayoutMissing, ErrNotFound},
		{"file missing", http.StatusInternalServerError, CodeFileMissing, ErrNotFound},
		{"unable to open", http.StatusInternalServerError, CodeUnableToOpenFile, ErrNotFound},
		{"plain 404", http.StatusNotFound, "", ErrNotFound},
		{"field missing", http.StatusInternalServerError, CodeFieldMissing, ErrValidation},
		{"field validation range", http.StatusInternalServerError, "507", ErrValidation},
		{"range upper bound", http.StatusInternalServerError, "511", ErrValidation},
		{"outside range", http.StatusInternalServerError, "512", ErrServer},
		{"parameter missing", http.StatusBadRequest, CodeParameterMissing, ErrValidation},
		{"invalid json", http.StatusInternalServerError, CodeInvalidJSON, ErrValidation},
		{"find criteria", http.StatusInternalServerError, "1630", ErrValidation},
		{"plain 400", http.StatusBadRequest, "", ErrValidation},
		{"plain 415", http.StatusUnsupportedMediaType, "", ErrValidation},
		{"plain 422", http.StatusUnprocessableEntity, "", ErrValidation},
		{"unknown code", http.StatusInternalServerError, "8003", ErrServer},
		{"unknown code on 404", http.StatusNotFound, "8003", ErrNotFound},
		{"plain 503", http.StatusServiceUnavailable, "", ErrServer},
		{"2xx with unknown code", http.StatusOK, "8003", ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.status, tt.code))
		})
	}
}

func TestApiError(t *testing.T) {
	err := &ApiError{
		Kind:       ErrNotFound,
		Method:     http.MethodGet,
		URL:        "https://fm/fmi/data/vLatest/databases/db/layouts/l/records/9",
		StatusCode: http.StatusInternalServerError,
		Code:       CodeRecordMissing,
		Message:    "Record is missing",
	}
	wrapped := fmt.Errorf("get record: %w", err)

	assert.True(t, IsApiError(wrapped))
	assert.True(t, IsNotFoundErr(wrapped))
	assert.False(t, IsAuthErr(wrapped))
	assert.False(t, IsServerErr(wrapped))
	assert.Contains(t, err.Error(), "code 101: Record is missing")
	assert.False(t, IsNoRecordsMatch(wrapped))

	err.Code = CodeNoRecordsMatch
	assert.True(t, IsNoRecordsMatch(wrapped))

	noCode := &ApiError{Kind: ErrServer, Method: http.MethodGet, URL: "u", StatusCode: 502, Body: "<html>"}
	assert.Contains(t, noCode.Error(), "response body: <html>")
}

func TestTransportError(t *testing.T) {
	err := &TransportError{Method: http.MethodGet, URL: "u", Err: context.DeadlineExceeded}
	assert.True(t, IsTransportErr(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, IsApiError(err))
	assert.False(t, IsAuthErr(err))
}

func TestDecodeAndValidationErrors(t *testing.T) {
	decodeErr := &DecodeError{Op: OpFind, Err: errors.New("missing data")}
	assert.True(t, IsDecodeErr(decodeErr))
	assert.Contains(t, decodeErr.Error(), "unexpected find response")

	valErr := &ValidationError{Field: "query", Reason: "empty"}
	assert.True(t, IsValidationErr(valErr))
	assert.Equal(t, "invalid query: empty", valErr.Error())
	assert.Equal(t, "invalid input: bad", (&ValidationError{Reason: "bad"}).Error())
}

func TestLoginErrorMatchesCauseAndAuth(t *testing.T) {
	cause := &TransportError{Method: http.MethodPost, URL: "u", Err: errors.New("connection refused")}
	err := &LoginError{Database: "Contacts", Err: cause}
	assert.True(t, IsAuthErr(err))
	assert.True(t, IsTransportErr(err))
	assert.Contains(t, err.Error(), `"Contacts"`)
}

func TestIgnoreHelpers(t *testing.T) {
	notFound := &ApiError{Kind: ErrNotFound, StatusCode: http.StatusNotFound}
	val, err := IgnoreNotFound(42, notFound)
	require.NoError(t, err)
	assert.Equal(t, 42, val)

	_, err = IgnoreNotFound(0, ErrServer)
	assert.ErrorIs(t, err, ErrServer)

	assert.NoError(t, IgnoreStatusCodes(notFound, http.StatusNotFound))
	assert.Error(t, IgnoreStatusCodes(notFound, http.StatusConflict))
	assert.Error(t, IgnoreStatusCodes(ErrServer, http.StatusNotFound))
	assert.True(t, ExpectStatusCodes(notFound, http.StatusBadRequest, http.StatusNotFound))
	assert.False(t, ExpectStatusCodes(errors.New("x"), http.StatusNotFound))
}

func TestTokenRejected(t *testing.T) {
	assert.True(t, tokenRejected(&ApiError{Kind: ErrAuthentication, Code: CodeInvalidToken}))
	assert.True(t, tokenRejected(fmt.Errorf("wrapped: %w", &ApiError{Kind: ErrAuthentication, StatusCode: 401})))
	assert.False(t, tokenRejected(&ApiError{Kind: ErrAuthentication, Code: CodeBadCredentials}))
	assert.False(t, tokenRejected(&ApiError{Kind: ErrNotFound, Code: CodeNoRecordsMatch}))
	assert.False(t, tokenRejected(ErrAuthentication))
}
