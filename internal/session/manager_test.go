package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/ajramos/orionmail/internal/services"
	"github.com/ajramos/orionmail/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestManager(t *testing.T) (*Manager, keyring.Keyring) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	return NewManager(ring, nil), ring
}

func tokenServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func clientFor(srv *httptest.Server) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
}

func TestManager_ActiveWithoutAccount(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Active()
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestManager_SaveAndActive(t *testing.T) {
	m, _ := newTestManager(t)
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}

	require.NoError(t, m.Save(Account{Email: "ada@example.com", Token: tok}))

	acct, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", acct.Email)
	assert.Equal(t, "a", acct.Token.AccessToken)
	assert.Equal(t, "r", acct.Token.RefreshToken)
}

func TestManager_SaveRejectsEmptyEmail(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.Save(Account{Email: "  "}))
}

func TestManager_ActiveCorruptEntry(t *testing.T) {
	m, ring := newTestManager(t)
	require.NoError(t, ring.Set(keyring.Item{Key: accountKey, Data: []byte("{")}))

	_, err := m.Active()
	assert.ErrorContains(t, err, "decode account")
}

func TestManager_TokenSource_ValidTokenNoRefresh(t *testing.T) {
	srv, hits := tokenServer(t, http.StatusOK, `{}`)
	m, _ := newTestManager(t)
	require.NoError(t, m.Save(Account{Email: "a@b.c", Token: &oauth2.Token{
		AccessToken: "live", Expiry: time.Now().Add(time.Hour),
	}}))

	ts, err := m.TokenSource(context.Background(), clientFor(srv))
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "live", tok.AccessToken)
	assert.Zero(t, hits.Load())
}

func TestManager_TokenSource_RefreshPersists(t *testing.T) {
	srv, hits := tokenServer(t, http.StatusOK,
		`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	m, _ := newTestManager(t)
	require.NoError(t, m.Save(Account{Email: "a@b.c", Token: &oauth2.Token{
		AccessToken: "stale", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour),
	}}))

	ts, err := m.TokenSource(context.Background(), clientFor(srv))
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, int32(1), hits.Load())

	acct, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, "fresh", acct.Token.AccessToken)
	assert.Equal(t, "r", acct.Token.RefreshToken)
}

func TestManager_TokenSource_InvalidGrant(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	m, _ := newTestManager(t)
	require.NoError(t, m.Save(Account{Email: "a@b.c", Token: &oauth2.Token{
		AccessToken: "stale", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour),
	}}))

	ts, err := m.TokenSource(context.Background(), clientFor(srv))
	require.NoError(t, err)
	_, err = ts.Token()
	assert.ErrorIs(t, err, services.ErrSessionInvalid)
	assert.True(t, services.IsSessionInvalid(err))
}

func TestManager_TokenSource_NoToken(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Save(Account{Email: "a@b.c"}))

	_, err := m.TokenSource(context.Background(), &oauth2.Config{})
	assert.ErrorIs(t, err, services.ErrSessionInvalid)

	m2, _ := newTestManager(t)
	_, err = m2.TokenSource(context.Background(), &oauth2.Config{})
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestManager_ForceLogout(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token.json")
	oauthCfg := auth.NewOAuth2Config("", tokenPath)
	require.NoError(t, oauthCfg.SaveToken(&oauth2.Token{AccessToken: "x"}))

	ring := keyring.NewArrayKeyring(nil)
	m := NewManager(ring, oauthCfg)
	require.NoError(t, m.Save(Account{Email: "a@b.c", Token: &oauth2.Token{AccessToken: "x"}}))

	var reasons []error
	m.OnLogout(func(reason error) { reasons = append(reasons, reason) })

	reason := errors.New("revoked")
	require.NoError(t, m.ForceLogout(context.Background(), reason))
	require.NoError(t, m.ForceLogout(context.Background(), errors.New("again")))

	assert.True(t, m.LoggedOut())
	assert.Equal(t, []error{reason}, reasons)
	_, err := m.Active()
	assert.ErrorIs(t, err, ErrNoAccount)
	_, err = os.Stat(tokenPath)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_SaveAfterLogoutRearms(t *testing.T) {
	m, _ := newTestManager(t)
	calls := 0
	m.OnLogout(func(error) { calls++ })

	require.NoError(t, m.ForceLogout(context.Background(), services.ErrSessionInvalid))
	require.NoError(t, m.Save(Account{Email: "a@b.c"}))
	assert.False(t, m.LoggedOut())
	require.NoError(t, m.ForceLogout(context.Background(), services.ErrSessionInvalid))

	assert.Equal(t, 2, calls)
}

func TestManager_ImplementsSessionManager(t *testing.T) {
	var _ services.SessionManager = (*Manager)(nil)
}
