package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Authenticator opens and closes Data API sessions.
type Authenticator interface {
	Login(ctx context.Context) (string, error)
	Logout(ctx context.Context, token string) error
}

// LoginError is returned when a session cannot be opened. It matches
// ErrAuthentication and also the underlying cause (transport, decode, ...).
type LoginError struct {
	Database string
	Err      error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login to database %q failed: %v", e.Database, e.Err)
}

func (e *LoginError) Unwrap() []error {
	return []error{ErrAuthentication, e.Err}
}

// SessionManager owns the session token. Concurrent callers share a single
// in-flight login, and a rejected token is replaced at most once per call.
type SessionManager struct {
	auth   Authenticator
	logger *zap.Logger

	mu     sync.RWMutex
	token  string
	group  singleflight.Group
	logins atomic.Int64
}

func NewSessionManager(auth Authenticator, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{auth: auth, logger: logger}
}

func (m *SessionManager) current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Acquire returns the current token, logging in first when there is none.
// The login itself is not tied to ctx: a caller giving up does not fail the
// other callers waiting on the same login.
func (m *SessionManager) Acquire(ctx context.Context) (string, error) {
	if token := m.current(); token != "" {
		return token, nil
	}
	ch := m.group.DoChan("login", func() (any, error) {
		if token := m.current(); token != "" {
			return token, nil
		}
		m.logins.Add(1)
		m.logger.Debug("opening session")
		token, err := m.auth.Login(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		m.token = token
		m.mu.Unlock()
		return token, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate discards the current token; the next Acquire logs in again.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// invalidateIfCurrent clears the token only if it is still the one that was
// rejected, so a token freshly obtained by another caller survives.
func (m *SessionManager) invalidateIfCurrent(token string) {
	m.mu.Lock()
	if m.token == token {
		m.token = ""
	}
	m.mu.Unlock()
}

// WithToken runs fn with a valid token. If fn reports that the token was
// rejected, the token is replaced and fn is retried exactly once; a second
// rejection is returned to the caller.
func (m *SessionManager) WithToken(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	token, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, token)
	if err == nil || !tokenRejected(err) {
		return err
	}
	m.logger.Debug("session token rejected, logging in again", zap.Error(err))
	m.invalidateIfCurrent(token)
	if token, err = m.Acquire(ctx); err != nil {
		return err
	}
	return fn(ctx, token)
}

// Close logs out if a session is open. It is safe to call more than once.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.token = ""
	m.mu.Unlock()
	if token == "" {
		return nil
	}
	err := m.auth.Logout(ctx, token)
	// Already expired server-side.
	if err != nil && (IsAuthErr(err) || IsNotFoundErr(err)) {
		return nil
	}
	return err
}

// Logins returns how many logins this manager has performed.
func (m *SessionManager) Logins() int64 {
	return m.logins.Load()
}

// SessionAuthenticator opens sessions with Basic credentials against the
// sessions endpoint of one database.
type SessionAuthenticator struct {
	session *Session
}

func (a *SessionAuthenticator) Login(ctx context.Context) (string, error) {
	s := a.session
	prepared, err := s.builder.Build(RequestSpec{Op: OpLogin, Database: s.config.Database})
	if err != nil {
		return "", &LoginError{Database: s.config.Database, Err: err}
	}
	raw, err := s.send(ctx, prepared)
	if err != nil {
		return "", &LoginError{Database: s.config.Database, Err: err}
	}
	token, err := DecodeToken(raw)
	if err != nil {
		return "", &LoginError{Database: s.config.Database, Err: err}
	}
	return token, nil
}

func (a *SessionAuthenticator) Logout(ctx context.Context, token string) error {
	s := a.session
	prepared, err := s.builder.Build(RequestSpec{Op: OpLogout, Database: s.config.Database, Token: token})
	if err != nil {
		return err
	}
	raw, err := s.send(ctx, prepared)
	if err != nil {
		return err
	}
	return DecodeEmpty(raw)
}
