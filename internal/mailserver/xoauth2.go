package mailserver

import (
	"errors"

	"github.com/emersion/go-sasl"
)

// XOAuth2 is the SASL mechanism name used by Gmail for OAuth bearer tokens.
const XOAuth2 = "XOAUTH2"

type xoauth2Client struct {
	username string
	token    string
}

// NewXOAuth2Client returns a SASL client authenticating username with an
// OAuth2 access token.
func NewXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	if c.username == "" || c.token == "" {
		return "", nil, errors.New("xoauth2: username and token are required")
	}
	ir = []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return XOAuth2, ir, nil
}

// Next answers the server's error challenge with an empty response so the
// server can finish the exchange with a tagged NO.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
