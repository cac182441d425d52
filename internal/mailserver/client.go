package mailserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var (
	// ErrAuthFailed is returned when the server rejects the credentials.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotFound is returned when a uid does not exist in the mailbox.
	ErrNotFound = errors.New("message not found")
	// ErrConnectionClosed is returned when the server dropped the connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Credentials selects how connections authenticate. Tokens takes precedence
// over Password.
type Credentials struct {
	Password string
	Tokens   oauth2.TokenSource
}

// Dialer opens authenticated IMAP sessions with the mailbox selected.
type Dialer struct {
	cfg    Config
	creds  Credentials
	logger logrus.FieldLogger
}

// NewDialer creates a dialer. Zero fields of cfg take their defaults.
func NewDialer(cfg Config, creds Credentials) *Dialer {
	return &Dialer{cfg: cfg.withDefaults(), creds: creds}
}

// SetLogger sets the logger for debug output
func (d *Dialer) SetLogger(logger logrus.FieldLogger) {
	d.logger = logger
}

// Config returns the effective configuration.
func (d *Dialer) Config() Config {
	return d.cfg
}

func (d *Dialer) log() logrus.FieldLogger {
	if d.logger != nil {
		return d.logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Dial connects, authenticates and selects the configured mailbox.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	addr := d.cfg.Addr()
	logger := d.log().WithField("addr", addr)

	netDialer := &net.Dialer{Timeout: d.cfg.DialTimeout}
	var conn net.Conn
	var err error
	if d.cfg.TLS {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: &tls.Config{ServerName: d.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	s := &Session{
		cfg:     d.cfg,
		updates: make(chan struct{}, 1),
	}
	s.client = imapclient.New(conn, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Expunge: func(uint32) { s.signal() },
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					s.signal()
				}
			},
		},
	})

	if err := d.authenticate(s.client); err != nil {
		_ = s.client.Close()
		return nil, err
	}
	if _, err := s.Select(); err != nil {
		_ = s.Logout()
		return nil, err
	}
	logger.WithField("mailbox", d.cfg.Mailbox).Debug("imap session opened")
	return s, nil
}

func (d *Dialer) authenticate(c *imapclient.Client) error {
	var err error
	if d.creds.Tokens != nil {
		var tok *oauth2.Token
		tok, err = d.creds.Tokens.Token()
		if err != nil {
			return fmt.Errorf("get access token: %w", err)
		}
		err = c.Authenticate(NewXOAuth2Client(d.cfg.Username, tok.AccessToken))
	} else {
		err = c.Login(d.cfg.Username, d.creds.Password).Wait()
	}
	if err == nil {
		return nil
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeAuthenticationFailed {
		return fmt.Errorf("%w for %s: %v", ErrAuthFailed, d.cfg.Username, err)
	}
	return fmt.Errorf("authenticate %s: %w", d.cfg.Username, err)
}

// MailboxStatus is the state of the selected mailbox.
type MailboxStatus struct {
	UIDValidity uint32
	UIDNext     uint32
	Messages    uint32
}

// Session is one authenticated connection. It is not safe for concurrent use.
type Session struct {
	client   *imapclient.Client
	cfg      Config
	updates  chan struct{}
	lastUsed time.Time
}

func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// LastUsed returns when the session last completed a command.
func (s *Session) LastUsed() time.Time {
	return s.lastUsed
}

func (s *Session) touch() {
	s.lastUsed = time.Now()
}

// Select (re)selects the configured mailbox and returns its status.
func (s *Session) Select() (MailboxStatus, error) {
	data, err := s.client.Select(s.cfg.Mailbox, nil).Wait()
	if err != nil {
		return MailboxStatus{}, fmt.Errorf("select %s: %w", s.cfg.Mailbox, err)
	}
	s.touch()
	return MailboxStatus{
		UIDValidity: data.UIDValidity,
		UIDNext:     uint32(data.UIDNext),
		Messages:    data.NumMessages,
	}, nil
}

// Noop checks that the connection is alive.
func (s *Session) Noop() error {
	if err := s.client.Noop().Wait(); err != nil {
		return fmt.Errorf("noop: %w", err)
	}
	s.touch()
	return nil
}

// Logout ends the session and closes the connection.
func (s *Session) Logout() error {
	err := s.client.Logout().Wait()
	if cerr := s.client.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

// Close drops the connection without logging out.
func (s *Session) Close() error {
	return s.client.Close()
}
