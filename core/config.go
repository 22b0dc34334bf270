package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config represents the configuration required to create a Data API session.
type Config struct {
	ServerURL      string         // Base URL of the Data API, e.g. https://host/fmi/data/vLatest.
	Username       string         // Account name used to open sessions.
	Password       string         // Account password used to open sessions.
	Database       string         // Hosted database (file) name.
	Layout         string         // Layout the record operations are bound to. Optional for listing calls.
	SslVerify      bool           // Whether to verify SSL certificates.
	Timeout        *time.Duration // HTTP client timeout. If nil, a default is applied by validators.
	MaxConnections int            // Maximum number of concurrent HTTP connections.
	UserAgent      string         // Optional custom User-Agent header. If empty, a default is applied.
	PageSize       int            // Page size used by the fetch-all loop and iterators.
	MetadataTTL    time.Duration  // How long field names and product info are cached.

	// HTTPClient replaces the default transport. Useful for tests and custom TLS setups.
	HTTPClient Doer

	// Logger receives request/response logs. Defaults to a logger driven by FM_LOG.
	Logger *zap.Logger

	// Context is an optional external context for controlling HTTP request lifecycle.
	// When provided, it will be used as the parent context for all HTTP requests made by the client.
	Context context.Context

	// BeforeRequestFn is an optional function hook executed before an API request is sent.
	// It allows for request inspection, mutation, or logging.
	//
	// Parameters:
	//   - ctx: The request context for managing deadlines and cancellations.
	//   - req: Request object
	//   - verb: The HTTP method (e.g., GET, POST, PATCH).
	//   - url: The target URL (path and query parameters).
	//   - body: The request body reader, typically containing JSON payload.
	//
	// Return:
	//   - error: Any error returned will abort the request.
	BeforeRequestFn func(ctx context.Context, r *http.Request, verb, url string, body io.Reader) error

	// AfterRequestFn is an optional function hook executed after a successful API response
	// has been translated.
	//
	// Parameters:
	//   - ctx: The request context.
	//   - op: The operation the response belongs to.
	//   - response: The decoded result (RecordSet, Record, Page, []string, ...).
	//
	// Returns:
	//   - An error, if the response should be rejected.
	AfterRequestFn func(ctx context.Context, op Operation, response any) error
}

// ConfigFunc defines a function that can modify or validate a Config.
type ConfigFunc func(*Config) error

// Validate applies the given ConfigFunc validators to the config.
// The first failing validator stops the chain.
func (config *Config) Validate(validators ...ConfigFunc) error {
	for _, fn := range validators {
		if err := fn(config); err != nil {
			return err
		}
	}
	return nil
}

// Copy returns a shallow copy of the config. Sessions keep their own copy so
// later mutations by the caller do not affect an open client.
func (config *Config) Copy() *Config {
	cp := *config
	if config.Timeout != nil {
		t := *config.Timeout
		cp.Timeout = &t
	}
	return &cp
}

// WithServerURL resolves the server base URL. The environment variable envKey is
// consulted only when ServerURL is empty.
func WithServerURL(envKey string) ConfigFunc {
	return func(config *Config) error {
		if config.ServerURL == "" {
			config.ServerURL = os.Getenv(envKey)
		}
		if config.ServerURL == "" {
			return &ValidationError{Field: "server url", Reason: fmt.Sprintf("empty (set it explicitly or via %s)", envKey)}
		}
		u, err := url.Parse(config.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: "server url", Reason: fmt.Sprintf("%q is not an absolute URL", config.ServerURL)}
		}
		config.ServerURL = strings.TrimRight(config.ServerURL, "/")
		return nil
	}
}

// WithCredentials validates that both username and password are provided.
func WithCredentials(config *Config) error {
	if config.Username == "" || config.Password == "" {
		return &ValidationError{Field: "credentials", Reason: "username and password must be provided"}
	}
	return nil
}

// WithDatabase validates that the database name is set.
func WithDatabase(config *Config) error {
	if strings.TrimSpace(config.Database) == "" {
		return &ValidationError{Field: "database", Reason: "cannot be empty"}
	}
	return nil
}

// WithLayout validates that the layout name is set.
func WithLayout(config *Config) error {
	if strings.TrimSpace(config.Layout) == "" {
		return &ValidationError{Field: "layout", Reason: "cannot be empty"}
	}
	return nil
}

// WithTimeout returns a ConfigFunc that sets a default timeout if none is provided.
func WithTimeout(timeout time.Duration) ConfigFunc {
	return func(config *Config) error {
		if config.Timeout == nil {
			config.Timeout = &timeout
		}
		return nil
	}
}

// WithMaxConnections returns a ConfigFunc that sets the maximum number of connections
// if not explicitly provided.
func WithMaxConnections(maxConnections int) ConfigFunc {
	return func(config *Config) error {
		if config.MaxConnections == 0 {
			config.MaxConnections = maxConnections
		}
		return nil
	}
}

// WithPageSize sets the default page size and rejects negative values.
func WithPageSize(pageSize int) ConfigFunc {
	return func(config *Config) error {
		if config.PageSize < 0 {
			return &ValidationError{Field: "page size", Reason: "must be >= 1"}
		}
		if config.PageSize == 0 {
			config.PageSize = pageSize
		}
		return nil
	}
}

func WithMetadataTTL(ttl time.Duration) ConfigFunc {
	return func(config *Config) error {
		if config.MetadataTTL == 0 {
			config.MetadataTTL = ttl
		}
		return nil
	}
}

// WithUserAgent sets a default User-Agent header if none is provided in the config.
func WithUserAgent(config *Config) error {
	if config.UserAgent == "" {
		config.UserAgent = fmt.Sprintf(
			"%s,os:%s,arch:%s",
			fmt.Sprintf("go-fmdata-%s", ClientVersion()),
			runtime.GOOS,
			runtime.GOARCH,
		)
	}
	return nil
}

// WithLogger installs the FM_LOG driven logger when none is provided.
func WithLogger(config *Config) error {
	if config.Logger == nil {
		config.Logger = NewLogger(os.Getenv(EnvLogLevel))
	}
	return nil
}

// DefaultValidators is the validator chain used by clients bound to a layout.
func DefaultValidators() []ConfigFunc {
	return []ConfigFunc{
		WithServerURL(EnvServerURL),
		WithCredentials,
		WithDatabase,
		WithTimeout(30 * time.Second),
		WithMaxConnections(DefaultMaxConns),
		WithPageSize(DefaultPageSize),
		WithMetadataTTL(5 * time.Minute),
		WithUserAgent,
		WithLogger,
	}
}

// ServerValidators is the chain used by server-level calls (database listing)
// that need credentials but no database.
func ServerValidators() []ConfigFunc {
	return []ConfigFunc{
		WithServerURL(EnvServerURL),
		WithCredentials,
		WithTimeout(30 * time.Second),
		WithMaxConnections(DefaultMaxConns),
		WithUserAgent,
		WithLogger,
	}
}
