package mail

import (
	"hash/fnv"
	"strings"
	"unicode"

	gomail "github.com/emersion/go-message/mail"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/unicode/norm"
)

// AvatarPalette is the number of distinct avatar hues.
const AvatarPalette = 12

// Normalize converts a gateway record into a Message. It never fails: every
// missing display field receives a deterministic default.
func Normalize(raw RawMessage) Message {
	name, addr := splitSender(raw.Sender, raw.SenderAddress)

	sender := name
	if sender == "" {
		sender = localPart(addr)
	}
	if sender == "" {
		sender = DefaultSender
	}
	if addr == "" {
		addr = DefaultAddress
	}

	subject := cleanLine(raw.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	snippet := Snippet(raw.Snippet)
	if snippet == "" {
		snippet = DefaultSnippet
	}

	folder := strings.ToLower(strings.TrimSpace(raw.Folder))
	if folder == "" || folder == FolderStarred {
		folder = FolderInbox
	}

	initials := Initials(name)
	if initials == DefaultAvatar && addr != DefaultAddress {
		initials = Initials(localPart(addr))
	}

	return Message{
		UID:            raw.UID,
		Sender:         sender,
		SenderAddress:  addr,
		Subject:        subject,
		Snippet:        snippet,
		Avatar:         initials,
		AvatarHue:      hue(sender),
		Timestamp:      raw.Date,
		Unread:         !raw.Seen,
		Starred:        raw.Flagged,
		Folder:         folder,
		HasAttachments: raw.HasAttachments,
	}
}

// NormalizeAll normalizes a page of gateway records, preserving order.
func NormalizeAll(raws []RawMessage) []Message {
	out := make([]Message, 0, len(raws))
	for _, r := range raws {
		out = append(out, Normalize(r))
	}
	return out
}

// Snippet collapses whitespace and newlines and cuts the text to SnippetWidth
// display cells.
func Snippet(text string) string {
	s := cleanLine(text)
	if runewidth.StringWidth(s) <= SnippetWidth {
		return s
	}
	return runewidth.Truncate(s, SnippetWidth, "...")
}

// Initials returns up to two upper-case initials for a display name, or
// DefaultAvatar when the name has no letters.
func Initials(name string) string {
	var out []rune
	for _, word := range strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '_' || r == '-' || r == '"'
	}) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				out = append(out, unicode.ToUpper(r))
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return DefaultAvatar
	}
	return string(out)
}

// splitSender separates a display name from an address. The gateway may hand
// over a full "Name <addr>" header value in the sender field.
func splitSender(sender, address string) (string, string) {
	sender = cleanLine(sender)
	address = strings.TrimSpace(address)

	if address == "" && strings.ContainsAny(sender, "<@") {
		if parsed, err := gomail.ParseAddress(sender); err == nil {
			return cleanLine(parsed.Name), parsed.Address
		}
	}
	if sender == address {
		sender = ""
	}
	return strings.Trim(sender, `"' `), address
}

func localPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i > 0 {
		return addr[:i]
	}
	return ""
}

// cleanLine NFC-normalizes s, drops control characters and collapses every
// whitespace run into a single space.
func cleanLine(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func hue(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % AvatarPalette)
}
