// Package session keeps the signed-in account and tears it down when the
// server stops accepting its credentials.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/99designs/keyring"
	"github.com/ajramos/orionmail/internal/services"
	"github.com/ajramos/orionmail/pkg/auth"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	serviceName = "orionmail"
	accountKey  = "account"
)

// ErrNoAccount is returned by Active when nobody is signed in.
var ErrNoAccount = errors.New("no active account")

// Account is the persisted identity of the signed-in user.
type Account struct {
	Email string        `json:"email"`
	Token *oauth2.Token `json:"token,omitempty"`
}

// OpenKeyring opens the OS keyring, falling back to an encrypted file store
// under dir.
func OpenKeyring(dir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Manager persists the active account and implements services.SessionManager.
type Manager struct {
	ring   keyring.Keyring
	oauth  *auth.OAuth2Config
	logger logrus.FieldLogger

	mu        sync.Mutex
	handlers  []func(reason error)
	loggedOut bool
}

// NewManager creates a manager over ring. oauth may be nil when the account
// does not use a token file.
func NewManager(ring keyring.Keyring, oauth *auth.OAuth2Config) *Manager {
	return &Manager{ring: ring, oauth: oauth}
}

// SetLogger sets the logger for the manager
func (m *Manager) SetLogger(logger logrus.FieldLogger) {
	m.logger = logger
}

func (m *Manager) log() logrus.FieldLogger {
	if m.logger != nil {
		return m.logger
	}
	return discardLogger
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Active returns the signed-in account.
func (m *Manager) Active() (Account, error) {
	item, err := m.ring.Get(accountKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Account{}, ErrNoAccount
	}
	if err != nil {
		return Account{}, fmt.Errorf("read account: %w", err)
	}
	var acct Account
	if err := json.Unmarshal(item.Data, &acct); err != nil {
		return Account{}, fmt.Errorf("decode account: %w", err)
	}
	return acct, nil
}

// Save stores acct as the active account and clears a previous logout.
func (m *Manager) Save(acct Account) error {
	if strings.TrimSpace(acct.Email) == "" {
		return errors.New("account email cannot be empty")
	}
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := m.ring.Set(keyring.Item{
		Key:         accountKey,
		Data:        data,
		Label:       "OrionMail account",
		Description: acct.Email,
	}); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	m.mu.Lock()
	m.loggedOut = false
	m.mu.Unlock()
	return nil
}

// TokenSource returns a source of access tokens for the active account.
// Refreshed tokens are written back to the keyring. A refresh token the
// server rejects surfaces as services.ErrSessionInvalid.
func (m *Manager) TokenSource(ctx context.Context, client *oauth2.Config) (oauth2.TokenSource, error) {
	acct, err := m.Active()
	if err != nil {
		return nil, err
	}
	if acct.Token == nil {
		return nil, fmt.Errorf("%w: account %s has no token", services.ErrSessionInvalid, acct.Email)
	}
	return &persistingSource{
		manager: m,
		email:   acct.Email,
		last:    acct.Token.AccessToken,
		base:    oauth2.ReuseTokenSource(acct.Token, client.TokenSource(ctx, acct.Token)),
	}, nil
}

type persistingSource struct {
	manager *Manager
	email   string
	base    oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		if auth.IsInvalidGrant(err) {
			return nil, fmt.Errorf("%w: %v", services.ErrSessionInvalid, err)
		}
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.manager.Save(Account{Email: s.email, Token: tok}); err != nil {
			s.manager.log().WithError(err).Warn("could not persist refreshed token")
		}
	}
	return tok, nil
}

// OnLogout registers fn to run when the session is torn down.
func (m *Manager) OnLogout(fn func(reason error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// LoggedOut reports whether ForceLogout has run since the last Save.
func (m *Manager) LoggedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedOut
}

// ForceLogout removes the stored credentials and notifies the registered
// handlers. Repeated calls are no-ops until the next Save.
func (m *Manager) ForceLogout(_ context.Context, reason error) error {
	m.mu.Lock()
	if m.loggedOut {
		m.mu.Unlock()
		return nil
	}
	m.loggedOut = true
	handlers := append([]func(error){}, m.handlers...)
	m.mu.Unlock()

	m.log().WithError(reason).Warn("forcing logout")

	var errs []error
	if err := m.ring.Remove(accountKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		errs = append(errs, fmt.Errorf("remove account: %w", err))
	}
	if m.oauth != nil {
		if err := m.oauth.RemoveToken(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range handlers {
		fn(reason)
	}
	return errors.Join(errs...)
}
