package core

// HTTP-related constants for Data API operations

// HTTP Header Names
const (
	HeaderAccept        = "Accept"
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderUserAgent     = "User-Agent"
)

// HTTP Content Types
const (
	ContentTypeJSON = "application/json"
)

// HTTP Authentication Types
const (
	AuthTypeBasic  = "Basic"
	AuthTypeBearer = "Bearer"
)

// Environment variables consulted at construction time only.
const (
	EnvServerURL = "FM_URL"
	EnvLogLevel  = "FM_LOG"
)

// Data API defaults.
const (
	DefaultPageSize   = 100
	DefaultMaxConns   = 10
	globalFieldPrefix = "g_"
	sortOrderAscend   = "ascend"
	sortOrderDescend  = "descend"
)

// FileMaker message codes the client reacts to. Everything not listed here is
// classified by HTTP status.
const (
	CodeOK               = "0"
	CodeFileMissing      = "100"
	CodeRecordMissing    = "101"
	CodeFieldMissing     = "102"
	CodeLayoutMissing    = "105"
	CodeBadCredentials   = "212"
	CodeNoRecordsMatch   = "401"
	CodeInvalidToken     = "952"
	CodeParameterMissing = "958"
	CodeUnsupported      = "959"
	CodeInvalidParameter = "960"
	CodeUnableToOpenFile = "802"
	CodeInvalidJSON      = "1708"
)
