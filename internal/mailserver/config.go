// Package mailserver speaks IMAP to the upstream mail server: it dials and
// authenticates connections, reads headers and bodies, updates flags and waits
// for mailbox changes with IDLE.
package mailserver

import (
	"net"
	"strconv"
	"time"
)

// Config describes the upstream IMAP server.
type Config struct {
	Host         string
	Port         int
	Username     string
	Mailbox      string
	TrashMailbox string
	// TLS selects implicit TLS. Plain connections are only meant for local
	// test servers.
	TLS         bool
	DialTimeout time.Duration
}

// DefaultConfig returns the settings for Gmail.
func DefaultConfig() Config {
	return Config{
		Host:         "imap.gmail.com",
		Port:         993,
		Mailbox:      "INBOX",
		TrashMailbox: "[Gmail]/Trash",
		TLS:          true,
		DialTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Mailbox == "" {
		c.Mailbox = def.Mailbox
	}
	if c.TrashMailbox == "" {
		c.TrashMailbox = def.TrashMailbox
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
