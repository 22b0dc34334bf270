package core

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Session binds a configuration to a transport and a SessionManager. It is
// safe for concurrent use.
type Session struct {
	config  *Config
	client  Doer
	builder *RequestBuilder
	manager *SessionManager
	logger  *zap.Logger
}

// NewSession copies config, applies validators (DefaultValidators when none are
// given) and prepares the transport. No network call is made.
func NewSession(config *Config, validators ...ConfigFunc) (*Session, error) {
	if config == nil {
		return nil, &ValidationError{Field: "config", Reason: "cannot be nil"}
	}
	if len(validators) == 0 {
		validators = DefaultValidators()
	}
	cfg := config.Copy()
	if err := cfg.Validate(validators...); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg)
	}
	s := &Session{
		config:  cfg,
		client:  client,
		builder: NewRequestBuilder(cfg),
		logger:  cfg.Logger,
	}
	s.manager = NewSessionManager(&SessionAuthenticator{session: s}, cfg.Logger)
	return s, nil
}

func newHTTPClient(config *Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !config.SslVerify}
	transport.MaxConnsPerHost = config.MaxConnections
	client := &http.Client{Transport: otelhttp.NewTransport(transport)}
	if config.Timeout != nil {
		client.Timeout = *config.Timeout
	}
	return client
}

func (s *Session) GetConfig() *Config {
	return s.config
}

func (s *Session) Manager() *SessionManager {
	return s.manager
}

func (s *Session) Builder() *RequestBuilder {
	return s.builder
}

func (s *Session) Logger() *zap.Logger {
	return s.logger
}

// Close logs out the current session, if any.
func (s *Session) Close(ctx context.Context) error {
	return s.manager.Close(s.requestContext(ctx))
}

func (s *Session) requestContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	if s.config.Context != nil {
		return s.config.Context
	}
	return context.Background()
}

// send performs one HTTP exchange. Connection-level failures come back as
// *TransportError; any status code is returned as a RawResponse.
func (s *Session) send(ctx context.Context, prepared *PreparedRequest) (*RawResponse, error) {
	if prepared.NeedsToken() && prepared.Header.Get(HeaderAuthorization) == "" {
		return nil, fmt.Errorf("%w: %s sent without a session token", ErrAuthentication, prepared.Op)
	}
	ctx = s.requestContext(ctx)
	var body io.Reader
	if prepared.Body != nil {
		body = bytes.NewReader(prepared.Body)
	}
	req, err := http.NewRequestWithContext(ctx, prepared.Method, prepared.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", prepared.Op, err)
	}
	req.Header = prepared.Header.Clone()

	if err = s.doBeforeRequest(ctx, req, prepared); err != nil {
		return nil, err
	}
	maskedURL := Mask(prepared.URL)
	response, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: prepared.Method, URL: maskedURL, Err: err}
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &TransportError{Method: prepared.Method, URL: maskedURL, Err: err}
	}
	raw := &RawResponse{
		Op:         prepared.Op,
		Method:     prepared.Method,
		URL:        maskedURL,
		StatusCode: response.StatusCode,
		Body:       data,
	}
	responseLog(s.logger, raw)
	return raw, nil
}

// Execute builds spec, sends it with the session token and decodes the answer.
// A rejected token triggers one re-login and one retry (see SessionManager.WithToken).
func Execute[T any](ctx context.Context, s *Session, spec RequestSpec, decode func(*RawResponse) (T, error)) (T, error) {
	var zero T
	ctx = s.requestContext(ctx)
	prepared, err := s.builder.Build(spec)
	if err != nil {
		return zero, err
	}

	var result T
	call := func(ctx context.Context, token string) error {
		authorized, err := prepared.Authorize(token)
		if err != nil {
			return err
		}
		raw, err := s.send(ctx, authorized)
		if err != nil {
			return err
		}
		result, err = decode(raw)
		return err
	}
	if prepared.NeedsToken() {
		err = s.manager.WithToken(ctx, call)
	} else {
		err = call(ctx, "")
	}
	if err != nil {
		return zero, err
	}
	if err = s.doAfterRequest(ctx, spec.Op, result); err != nil {
		return zero, err
	}
	return result, nil
}
