package core

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Error kinds. Every error returned by the client matches at least one of them
// through errors.Is. A *LoginError also matches the kind of its cause, so a
// login that could not reach the server is both ErrAuthentication and
// ErrTransport.
var (
	ErrTransport      = errors.New("transport error")
	ErrAuthentication = errors.New("authentication error")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation error")
	ErrDecode         = errors.New("decode error")
	ErrServer         = errors.New("server error")
)

// ApiError represents a non-2xx answer from the Data API.
type ApiError struct {
	Kind       error
	Method     string
	URL        string
	StatusCode int
	Code       string // FileMaker message code, empty when the body carried none
	Message    string
	Body       string
}

// Error implements the error interface.
func (e *ApiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf(
			"%s: %s request to %s returned status code %d"+
				" - response body: %s", e.Kind, e.Method, e.URL, e.StatusCode, e.Body,
		)
	}
	return fmt.Sprintf(
		"%s: %s request to %s returned status code %d (code %s: %s)",
		e.Kind, e.Method, e.URL, e.StatusCode, e.Code, e.Message,
	)
}

func (e *ApiError) Unwrap() error {
	return e.Kind
}

// NoRecordsMatch reports whether the server answered "no records match the request".
// Listing operations translate this into an empty result.
func (e *ApiError) NoRecordsMatch() bool {
	return e.Code == CodeNoRecordsMatch
}

// TransportError wraps connection-level failures (refused, DNS, TLS, timeout).
// It is never classified further.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to perform %s request to %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// DecodeError is returned when a 2xx payload does not have the shape the
// operation expects.
type DecodeError struct {
	Op   Operation
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unexpected %s response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// ValidationError is raised before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func IsApiError(err error) bool {
	var apiErr *ApiError
	return errors.As(err, &apiErr)
}

func IsAuthErr(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationErr(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsDecodeErr(err error) bool {
	return errors.Is(err, ErrDecode)
}

func IsServerErr(err error) bool {
	return errors.Is(err, ErrServer)
}

func IsTransportErr(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsNoRecordsMatch reports whether err is the server's "no records match" answer.
func IsNoRecordsMatch(err error) bool {
	var apiErr *ApiError
	return errors.As(err, &apiErr) && apiErr.NoRecordsMatch()
}

// IgnoreNotFound drops a Not Found error and keeps the value.
func IgnoreNotFound[T any](val T, err error) (T, error) {
	if IsNotFoundErr(err) {
		return val, nil
	}
	return val, err
}

func IgnoreStatusCodes(err error, codes ...int) error {
	if ExpectStatusCodes(err, codes...) {
		return nil
	}
	return err
}

func ExpectStatusCodes(err error, codes ...int) bool {
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.StatusCode == code {
			return true
		}
	}
	return false
}

// classify maps a FileMaker message code and HTTP status to an error kind.
// The mapping is total: unknown codes fall back to the status, and any
// remaining non-2xx status is a server error.
func classify(status int, code string) error {
	switch code {
	case CodeInvalidToken, CodeBadCredentials:
		return ErrAuthentication
	case CodeNoRecordsMatch, CodeRecordMissing, CodeLayoutMissing, CodeFileMissing, CodeUnableToOpenFile:
		return ErrNotFound
	case CodeFieldMissing, CodeParameterMissing, CodeUnsupported, CodeInvalidParameter,
		"1630", CodeInvalidJSON, "1710", "1711":
		return ErrValidation
	}
	if n, err := strconv.Atoi(code); err == nil && n >= 500 && n <= 511 {
		return ErrValidation
	}
	switch status {
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return ErrValidation
	}
	return ErrServer
}

// tokenRejected reports whether err means the bearer token is no longer
// accepted, as opposed to bad credentials during login.
func tokenRejected(err error) bool {
	var apiErr *ApiError
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrAuthentication {
		return false
	}
	return apiErr.Code != CodeBadCredentials
}
