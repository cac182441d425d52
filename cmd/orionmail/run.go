package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"

	"github.com/ajramos/orionmail/internal/config"
	"github.com/ajramos/orionmail/internal/db"
	"github.com/ajramos/orionmail/internal/gateway"
	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/mailserver"
	"github.com/ajramos/orionmail/internal/services"
	"github.com/ajramos/orionmail/internal/session"
	"github.com/ajramos/orionmail/internal/tui"
	"github.com/ajramos/orionmail/pkg/auth"
)

// run wires the cache, the IMAP gateway and the session into a controller
// and hands it to the interface or the headless sync.
func run(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, once bool) error {
	store, err := db.Open(ctx, cfg.Cache.DBPath)
	if err != nil {
		return fmt.Errorf("open message cache: %w", err)
	}
	defer store.Close()

	ring, err := session.OpenKeyring(filepath.Join(config.DefaultConfigDir(), "keyring"))
	if err != nil {
		return err
	}

	var oauth *auth.OAuth2Config
	if cfg.IMAP.Auth == config.AuthXOAuth2 {
		oauth = auth.NewOAuth2Config(cfg.Credentials, cfg.Token, auth.ScopeMail)
		oauth.EnvPath = cfg.EnvFile
	}
	sessions := session.NewManager(ring, oauth)
	sessions.SetLogger(logger.WithField("component", "session"))

	creds, err := credentials(ctx, cfg, sessions, oauth)
	if err != nil {
		return err
	}

	dialer := mailserver.NewDialer(cfg.ServerConfig(), creds)
	dialer.SetLogger(logger.WithField("component", "imap"))

	svc, err := gateway.New(ctx, db.NewMessageStore(store), gateway.IMAP(dialer), cfg.GatewayOptions())
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.SetLogger(logger.WithField("component", "gateway"))

	var push services.PushChannel
	if !once {
		watcher := gateway.NewIdleWatcher(gateway.IMAP(dialer), cfg.WatcherOptions())
		watcher.SetLogger(logger.WithField("component", "idle"))
		push = watcher
	}

	ctrl := services.NewMailboxController(svc, sessions, push, cfg.ControllerConfig())
	ctrl.SetLogger(logger.WithField("component", "controller"))
	defer ctrl.Close()

	if once {
		return syncOnce(ctx, ctrl, os.Stdout)
	}

	colors, err := config.NewThemeLoader(config.DefaultThemesDir()).Load(cfg.Theme)
	if err != nil {
		logger.WithError(err).Warn("theme not loaded, using defaults")
		colors = config.DefaultColors()
	}
	app := tui.NewApp(ctrl, colors)
	app.SetLogger(logger.WithField("component", "tui"))
	sessions.OnLogout(app.HandleLogout)

	go func() {
		<-ctx.Done()
		app.Quit()
	}()
	return app.Run()
}

// credentials returns how IMAP connections authenticate. For XOAUTH2 the
// first run signs in through the browser and stores the account.
func credentials(ctx context.Context, cfg *config.Config, sessions *session.Manager, oauth *auth.OAuth2Config) (mailserver.Credentials, error) {
	if cfg.IMAP.Auth == config.AuthPassword {
		return mailserver.Credentials{Password: cfg.IMAP.Password}, nil
	}

	client, err := oauth.LoadCredentials()
	if err != nil {
		return mailserver.Credentials{}, err
	}
	acct, err := sessions.Active()
	if errors.Is(err, session.ErrNoAccount) || (err == nil && acct.Email != cfg.IMAP.Username) {
		tok, err := oauth.GetToken(ctx)
		if err != nil {
			return mailserver.Credentials{}, fmt.Errorf("sign in: %w", err)
		}
		if err := sessions.Save(session.Account{Email: cfg.IMAP.Username, Token: tok}); err != nil {
			return mailserver.Credentials{}, err
		}
	} else if err != nil {
		return mailserver.Credentials{}, err
	}

	var tokens oauth2.TokenSource
	tokens, err = sessions.TokenSource(ctx, client)
	if err != nil {
		return mailserver.Credentials{}, err
	}
	return mailserver.Credentials{Tokens: tokens}, nil
}

type inboxEntry struct {
	UID         uint32    `yaml:"uid"`
	From        string    `yaml:"from"`
	Subject     string    `yaml:"subject"`
	Date        time.Time `yaml:"date"`
	Unread      bool      `yaml:"unread,omitempty"`
	Starred     bool      `yaml:"starred,omitempty"`
	Attachments bool      `yaml:"attachments,omitempty"`
}

// syncOnce bootstraps the cache, runs one sync and prints the first page of
// the inbox.
func syncOnce(ctx context.Context, ctrl *services.MailboxController, out *os.File) error {
	if err := ctrl.Bootstrap(ctx); err != nil {
		return err
	}
	// A cold bootstrap leaves its own sync running
	res, err := ctrl.Sync(ctx, services.TriggerUser)
	for err == nil && res.Skipped {
		if ctrl.View().LoggedOut {
			return services.ErrSessionInvalid
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		res, err = ctrl.Sync(ctx, services.TriggerUser)
	}
	if err != nil {
		return err
	}

	msgs := ctrl.Messages(mail.FolderInbox)
	entries := make([]inboxEntry, 0, len(msgs))
	for _, m := range msgs {
		from := m.Sender
		if m.SenderAddress != "" {
			from = fmt.Sprintf("%s <%s>", m.Sender, m.SenderAddress)
		}
		entries = append(entries, inboxEntry{
			UID:         m.UID,
			From:        from,
			Subject:     m.Subject,
			Date:        m.Timestamp,
			Unread:      m.Unread,
			Starred:     m.Starred,
			Attachments: m.HasAttachments,
		})
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]any{
		"new":      res.NewCount,
		"unread":   ctrl.UnreadCounts()[mail.FolderInbox],
		"messages": entries,
	})
}
