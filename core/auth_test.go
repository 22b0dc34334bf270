package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	logins  atomic.Int32
	logouts atomic.Int32
	delay   time.Duration
	loginFn func(n int32) (string, error)
	logout  error
}

func (f *fakeAuth) Login(ctx context.Context) (string, error) {
	n := f.logins.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.loginFn != nil {
		return f.loginFn(n)
	}
	return fmt.Sprintf("token-%d", n), nil
}

func (f *fakeAuth) Logout(context.Context, string) error {
	f.logouts.Add(1)
	return f.logout
}

func invalidToken() error {
	return &ApiError{Kind: ErrAuthentication, StatusCode: http.StatusUnauthorized, Code: CodeInvalidToken}
}

func TestSessionManager_ConcurrentAcquireLogsInOnce(t *testing.T) {
	auth := &fakeAuth{delay: 20 * time.Millisecond}
	m := NewSessionManager(auth, nil)

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.Acquire(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.logins.Load())
	assert.Equal(t, int64(1), m.Logins())
	for _, token := range tokens {
		assert.Equal(t, "token-1", token)
	}
}

func TestSessionManager_TokenReused(t *testing.T) {
	auth := &fakeAuth{}
	m := NewSessionManager(auth, nil)
	for i := 0; i < 3; i++ {
		err := m.WithToken(context.Background(), func(_ context.Context, token string) error {
			assert.Equal(t, "token-1", token)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), auth.logins.Load())
}

func TestSessionManager_RetriesOnceOnRejectedToken(t *testing.T) {
	auth := &fakeAuth{}
	m := NewSessionManager(auth, nil)

	var seen []string
	err := m.WithToken(context.Background(), func(_ context.Context, token string) error {
		seen = append(seen, token)
		if token == "token-1" {
			return invalidToken()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"token-1", "token-2"}, seen)
	assert.Equal(t, int32(2), auth.logins.Load())
}

func TestSessionManager_SecondRejectionSurfaces(t *testing.T) {
	auth := &fakeAuth{}
	m := NewSessionManager(auth, nil)

	var calls int
	err := m.WithToken(context.Background(), func(context.Context, string) error {
		calls++
		return invalidToken()
	})
	assert.True(t, IsAuthErr(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(2), auth.logins.Load())
}

func TestSessionManager_OtherErrorsAreNotRetried(t *testing.T) {
	auth := &fakeAuth{}
	m := NewSessionManager(auth, nil)

	var calls int
	err := m.WithToken(context.Background(), func(context.Context, string) error {
		calls++
		return &ApiError{Kind: ErrNotFound, Code: CodeRecordMissing}
	})
	assert.True(t, IsNotFoundErr(err))
	assert.Equal(t, 1, calls)
}

func TestSessionManager_StaleRejectionKeepsFreshToken(t *testing.T) {
	auth := &fakeAuth{}
	m := NewSessionManager(auth, nil)
	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	m.Invalidate()
	fresh, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", fresh)

	m.invalidateIfCurrent("token-1")
	current, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, current)
}

func TestSessionManager_LoginFailure(t *testing.T) {
	cause := &ApiError{Kind: ErrAuthentication, StatusCode: http.StatusUnauthorized, Code: CodeBadCredentials}
	auth := &fakeAuth{loginFn: func(int32) (string, error) {
		return "", &LoginError{Database: "Contacts", Err: cause}
	}}
	m := NewSessionManager(auth, nil)

	var called bool
	err := m.WithToken(context.Background(), func(context.Context, string) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, IsAuthErr(err))
	var loginErr *LoginError
	assert.ErrorAs(t, err, &loginErr)
	assert.Equal(t, int32(1), auth.logins.Load())
}

func TestSessionManager_CancelledWaiterDoesNotFailLogin(t *testing.T) {
	auth := &fakeAuth{delay: 50 * time.Millisecond}
	m := NewSessionManager(auth, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx)
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	token, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, int32(1), auth.logins.Load())
}

func TestSessionManager_Close(t *testing.T) {
	auth := &fakeAuth{}
	m := NewSessionManager(auth, nil)

	// nothing to close yet
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, int32(0), auth.logouts.Load())

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, int32(1), auth.logouts.Load())

	// a later call opens a new session
	token, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}

func TestSessionManager_CloseIgnoresExpiredSession(t *testing.T) {
	auth := &fakeAuth{logout: invalidToken()}
	m := NewSessionManager(auth, nil)
	_, _ = m.Acquire(context.Background())
	assert.NoError(t, m.Close(context.Background()))

	boom := errors.New("connection reset")
	auth = &fakeAuth{logout: &TransportError{Method: http.MethodDelete, URL: "u", Err: boom}}
	m = NewSessionManager(auth, nil)
	_, _ = m.Acquire(context.Background())
	err := m.Close(context.Background())
	assert.ErrorIs(t, err, boom)
}
