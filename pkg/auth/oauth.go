package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ScopeMail grants full IMAP access to a Google mailbox.
const ScopeMail = "https://mail.google.com/"

// Environment keys read when no credentials file is present.
const (
	EnvClientID     = "GOOGLE_CLIENT_ID"
	EnvClientSecret = "GOOGLE_CLIENT_SECRET"
)

// ErrNoCredentials is returned when neither a credentials file nor client
// id/secret variables are available.
var ErrNoCredentials = errors.New("no OAuth client credentials")

// OAuth2Config holds OAuth2 configuration
type OAuth2Config struct {
	CredentialsPath string
	TokenPath       string
	EnvPath         string
	Scopes          []string
	// RedirectAddr is the local address the consent flow listens on.
	RedirectAddr string
	// Out receives the consent instructions. Defaults to stderr.
	Out io.Writer
}

// NewOAuth2Config creates a new OAuth2 configuration
func NewOAuth2Config(credentialsPath string, tokenPath string, scopes ...string) *OAuth2Config {
	return &OAuth2Config{
		CredentialsPath: credentialsPath,
		TokenPath:       tokenPath,
		Scopes:          scopes,
		RedirectAddr:    "localhost:8080",
	}
}

func (c *OAuth2Config) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stderr
}

// LoadCredentials loads the OAuth2 client from the credentials file. When the
// file does not exist the client id and secret are taken from the .env file
// or the environment.
func (c *OAuth2Config) LoadCredentials() (*oauth2.Config, error) {
	data, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		if cfg := c.credentialsFromEnv(); cfg != nil {
			return cfg, nil
		}
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(data, c.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file: %w", err)
	}

	return config, nil
}

func (c *OAuth2Config) credentialsFromEnv() *oauth2.Config {
	vars := map[string]string{}
	if c.EnvPath != "" {
		if read, err := godotenv.Read(c.EnvPath); err == nil {
			vars = read
		}
	}
	get := func(key string) string {
		if v := strings.TrimSpace(vars[key]); v != "" {
			return v
		}
		return strings.TrimSpace(os.Getenv(key))
	}
	id, secret := get(EnvClientID), get(EnvClientSecret)
	if id == "" || secret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     id,
		ClientSecret: secret,
		Endpoint:     google.Endpoint,
		Scopes:       c.Scopes,
	}
}

// LoadToken loads cached token from file
func (c *OAuth2Config) LoadToken() (*oauth2.Token, error) {
	f, err := os.Open(c.TokenPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeToken(f)
}

// DecodeToken reads a JSON encoded token.
func DecodeToken(r io.Reader) (*oauth2.Token, error) {
	token := &oauth2.Token{}
	if err := json.NewDecoder(r).Decode(token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return token, nil
}

// SaveToken saves token to file
func (c *OAuth2Config) SaveToken(token *oauth2.Token) error {
	if token == nil {
		return errors.New("nil token")
	}
	if strings.TrimSpace(c.TokenPath) == "" {
		return errors.New("empty token path")
	}
	if err := os.MkdirAll(filepath.Dir(c.TokenPath), 0o700); err != nil {
		return err
	}

	f, err := os.OpenFile(c.TokenPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("could not save OAuth token: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(token)
}

// RemoveToken deletes the cached token file. A missing file is not an error.
func (c *OAuth2Config) RemoveToken() error {
	if c.TokenPath == "" {
		return nil
	}
	if err := os.Remove(c.TokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// IsInvalidGrant reports whether err came from a token endpoint rejecting the
// refresh token.
func IsInvalidGrant(err error) bool {
	if err == nil {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "Token has been expired or revoked")
}

// GetToken retrieves a token, refreshing if necessary. A missing token or a
// revoked refresh token starts the browser consent flow.
func (c *OAuth2Config) GetToken(ctx context.Context) (*oauth2.Token, error) {
	config, err := c.LoadCredentials()
	if err != nil {
		return nil, err
	}

	token, err := c.LoadToken()
	if err != nil {
		token, err = c.authenticate(ctx, config)
		if err != nil {
			return nil, err
		}
	}

	if !token.Valid() {
		token, err = config.TokenSource(ctx, token).Token()
		if err != nil {
			if !IsInvalidGrant(err) {
				return nil, fmt.Errorf("token refresh failed: %w", err)
			}
			fmt.Fprintln(c.out(), "\nYour access token has expired or been revoked. Re-authentication is required.")
			token, err = c.authenticate(ctx, config)
			if err != nil {
				return nil, fmt.Errorf("re-authentication failed: %w", err)
			}
		}
	}

	if err := c.SaveToken(token); err != nil {
		return nil, err
	}

	return token, nil
}

// authenticate performs the consent flow with a local redirect server.
func (c *OAuth2Config) authenticate(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	server := &http.Server{
		Addr:              c.RedirectAddr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("<html><body><h2>Authorization error</h2><p>Authorization code not received.</p></body></html>"))
				select {
				case errorChan <- errors.New("authorization code not received"):
				default:
				}
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html><body><h2>Authorization successful</h2><p>You can close this window and return to OrionMail.</p></body></html>"))
			select {
			case codeChan <- code:
			default:
			}
		}),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorChan <- err
		}
	}()
	defer func() { _ = server.Shutdown(context.WithoutCancel(ctx)) }()

	localConfig := *config
	localConfig.RedirectURL = "http://" + c.RedirectAddr

	authURL := localConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	out := c.out()
	fmt.Fprintf(out, "\nAuthorization required\n")
	fmt.Fprintf(out, "1. Open this link: %s\n", authURL)
	fmt.Fprintf(out, "2. Grant access to the application\n")
	fmt.Fprintf(out, "3. You will be redirected automatically\n")
	fmt.Fprintf(out, "\nWaiting for authorization...\n")

	var authCode string
	select {
	case authCode = <-codeChan:
	case err := <-errorChan:
		return nil, fmt.Errorf("local server error: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timeout exceeded")
	}

	token, err := localConfig.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("could not exchange authorization code for token: %w", err)
	}

	fmt.Fprintf(out, "Authorization successful!\n")
	return token, nil
}
