package mailserver

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Body is a parsed message body.
type Body struct {
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment describes one attached part.
type Attachment struct {
	Filename string
	MIMEType string
	Size     int64
}

// ParseBody splits a raw RFC 822 message into its text and HTML parts. Input
// that is not a parseable message is returned as plain text.
func ParseBody(raw []byte) Body {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Body{Text: string(raw)}
	}
	defer mr.Close()

	var b Body
	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF or a malformed part: keep what was read so far
			break
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && b.Text == "":
				b.Text = string(data)
			case strings.HasPrefix(contentType, "text/html") && b.HTML == "":
				b.HTML = string(data)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			n, _ := io.Copy(io.Discard, part.Body)
			b.Attachments = append(b.Attachments, Attachment{
				Filename: filename,
				MIMEType: contentType,
				Size:     n,
			})
		}
	}
	return b
}
