package mailserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseBody_Multipart(t *testing.T) {
	raw := crlf(`From: Ada <ada@example.com>
Subject: Report
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

Hello there
--inner
Content-Type: text/html; charset=utf-8

<p>Hello <b>there</b></p>
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"

PDFDATA
--outer--
`)

	b := ParseBody(raw)
	assert.Equal(t, "Hello there", strings.TrimSpace(b.Text))
	assert.Contains(t, b.HTML, "<b>there</b>")
	require.Len(t, b.Attachments, 1)
	assert.Equal(t, "report.pdf", b.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", b.Attachments[0].MIMEType)
	assert.Positive(t, b.Attachments[0].Size)
}

func TestParseBody_SinglePartHTML(t *testing.T) {
	raw := crlf(`Subject: Promo
Content-Type: text/html; charset=utf-8

<h1>Sale</h1>
`)
	b := ParseBody(raw)
	assert.Empty(t, b.Text)
	assert.Contains(t, b.HTML, "<h1>Sale</h1>")
}

func TestParseBody_QuotedPrintableLatin1(t *testing.T) {
	raw := crlf(`Subject: Caf=E9
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

Un caf=E9, s'il vous pla=EEt
`)
	b := ParseBody(raw)
	assert.Equal(t, "Un café, s'il vous plaît", strings.TrimSpace(b.Text))
}

func TestParseBody_NotAMessage(t *testing.T) {
	b := ParseBody([]byte("just some text without headers"))
	assert.NotEmpty(t, b.Text)
	assert.Empty(t, b.HTML)
}
