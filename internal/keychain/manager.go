// Package keychain keeps fmctl passwords in the OS credential store.
package keychain

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies our keychain/credential store namespace.
const ServiceName = "fmctl"

// EnvFilePassword enables the encrypted file backend when no native store is available.
const EnvFilePassword = "FMCTL_KEYRING_PASSWORD"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("no stored password")

// Manager stores one password per (server, user) account. It is safe for concurrent use.
type Manager struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// NewManager opens the OS keyring.
func NewManager(stateDir string) (*Manager, error) {
	ring, err := openRing(stateDir)
	if err != nil {
		return nil, err
	}
	return NewManagerWith(ring), nil
}

// NewManagerWith wraps an already opened keyring.
func NewManagerWith(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

func openRing(stateDir string) (keyring.Keyring, error) {
	var backends []keyring.BackendType
	switch runtime.GOOS {
	case "darwin":
		backends = []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		backends = []keyring.BackendType{keyring.WinCredBackend}
	default:
		backends = []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.PassBackend}
	}
	password := os.Getenv(EnvFilePassword)
	if password != "" {
		backends = append(backends, keyring.FileBackend)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:      ServiceName,
		AllowedBackends:  backends,
		PassPrefix:       ServiceName,
		WinCredPrefix:    ServiceName,
		FileDir:          filepath.Join(stateDir, "keys"),
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, errors.New("no secure credential store available; set " + EnvFilePassword + " to use an encrypted file")
	}
	return ring, nil
}

// Account builds the key under which a password is stored.
func Account(serverURL, username string) string {
	return strings.TrimRight(serverURL, "/") + "|" + username
}

func (m *Manager) SavePassword(account, password string) error {
	if password == "" {
		return errors.New("empty password")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Set(keyring.Item{Key: account, Data: []byte(password), Label: ServiceName + " " + account})
}

func (m *Manager) LoadPassword(account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, err := m.ring.Get(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if len(it.Data) == 0 {
		return "", ErrNotFound
	}
	return string(it.Data), nil
}

// DeletePassword removes a stored password. Removing a missing one is not an error.
func (m *Manager) DeletePassword(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.ring.Remove(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}
