// Package render turns message records and bodies into terminal text.
package render

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// LinkRef is a hyperlink collected while rendering HTML.
type LinkRef struct {
	Index int
	URL   string
	Text  string
}

// textWriter accumulates rendered text. Block elements request blank lines
// lazily so that nested blocks do not stack empty lines.
type textWriter struct {
	b         strings.Builder
	quote     int
	pendingNL int
	atLineBOL bool
	links     []LinkRef
	listStack []int
	pre       int
}

func newTextWriter() *textWriter {
	return &textWriter{atLineBOL: true}
}

func (w *textWriter) newline(n int) {
	if w.b.Len() == 0 {
		return
	}
	if n > w.pendingNL {
		w.pendingNL = n
	}
}

func (w *textWriter) lineStart() bool {
	return w.b.Len() == 0 || strings.HasSuffix(w.b.String(), "\n")
}

// raw writes s verbatim after any pending line breaks, prefixing new lines
// with the current quote marker.
func (w *textWriter) raw(s string) {
	for ; w.pendingNL > 0; w.pendingNL-- {
		w.b.WriteByte('\n')
	}
	if w.lineStart() && w.quote > 0 {
		w.b.WriteString(strings.Repeat("> ", w.quote))
	}
	w.b.WriteString(s)
	w.atLineBOL = false
}

func (w *textWriter) text(s string) {
	if w.pre == 0 {
		s = collapseSpace(s)
		if w.atLineBOL || w.pendingNL > 0 || w.lineStart() {
			s = strings.TrimLeft(s, " ")
		}
	} else if w.quote > 0 {
		s = strings.ReplaceAll(s, "\n", "\n"+strings.Repeat("> ", w.quote))
	}
	if s == "" {
		return
	}
	w.raw(s)
}

func (w *textWriter) String() string {
	return tidy(w.b.String())
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// HTMLToText renders an HTML body as plain text. Links are replaced by a
// numbered marker and listed at the end of the text. Returns the input with
// tags stripped when the markup cannot be parsed.
func HTMLToText(src string) string {
	text, links := renderHTML(src)
	if len(links) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	for _, l := range links {
		fmt.Fprintf(&b, "[%d] %s\n", l.Index, l.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHTML(src string) (string, []LinkRef) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return tidy(src), nil
	}
	w := newTextWriter()
	walk(w, doc)
	return w.String(), w.links
}

func walk(w *textWriter, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		element(w, n)
		return
	}
	walkChildren(w, n)
}

func walkChildren(w *textWriter, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(w, c)
	}
}

func element(w *textWriter, n *html.Node) {
	switch n.DataAtom {
	case atom.Head, atom.Style, atom.Script, atom.Title, atom.Noscript:
		return
	case atom.Br:
		w.pendingNL++
		return
	case atom.Hr:
		w.newline(2)
		w.text("----")
		w.newline(2)
		return
	case atom.Img:
		if alt := strings.TrimSpace(attr(n, "alt")); alt != "" {
			w.text("[image: " + alt + "]")
		}
		return
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Table:
		w.newline(2)
		walkChildren(w, n)
		w.newline(2)
		return
	case atom.Tr:
		w.newline(1)
		walkChildren(w, n)
		w.newline(1)
		return
	case atom.Td, atom.Th:
		if n.PrevSibling != nil && !w.lineStart() && w.pendingNL == 0 {
			w.raw(" | ")
		}
		walkChildren(w, n)
		return
	case atom.Ul, atom.Ol:
		w.newline(2)
		w.listStack = append(w.listStack, 0)
		walkChildren(w, n)
		w.listStack = w.listStack[:len(w.listStack)-1]
		w.newline(2)
		return
	case atom.Li:
		listItem(w, n)
		return
	case atom.Blockquote:
		w.newline(2)
		w.quote++
		walkChildren(w, n)
		w.quote--
		w.newline(2)
		return
	case atom.Pre:
		w.newline(2)
		w.pre++
		walkChildren(w, n)
		w.pre--
		w.newline(2)
		return
	case atom.A:
		link(w, n)
		return
	}
	walkChildren(w, n)
}

func listItem(w *textWriter, n *html.Node) {
	w.newline(1)
	depth := len(w.listStack)
	indent := ""
	if depth > 1 {
		indent = strings.Repeat("  ", depth-1)
	}
	marker := "- "
	if depth > 0 && n.Parent != nil && n.Parent.DataAtom == atom.Ol {
		w.listStack[depth-1]++
		marker = fmt.Sprintf("%d. ", w.listStack[depth-1])
	}
	w.raw(indent + marker)
	w.atLineBOL = true
	walkChildren(w, n)
	w.newline(1)
}

func link(w *textWriter, n *html.Node) {
	href := strings.TrimSpace(attr(n, "href"))
	before := w.b.Len()
	walkChildren(w, n)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return
	}
	label := strings.TrimSpace(w.b.String()[before:])
	if label == href {
		return
	}
	for _, l := range w.links {
		if l.URL == href {
			w.text(fmt.Sprintf(" [%d]", l.Index))
			return
		}
	}
	ref := LinkRef{Index: len(w.links) + 1, URL: href, Text: label}
	w.links = append(w.links, ref)
	w.text(fmt.Sprintf(" [%d]", ref.Index))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// tidy trims trailing spaces, drops invisible glyphs and collapses runs of
// blank lines.
func tidy(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u00A0', '\u202F':
			b.WriteByte(' ')
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u00AD', '\u034F', '\u2060', '\r':
		default:
			if unicode.IsControl(r) && r != '\n' && r != '\t' {
				continue
			}
			b.WriteRune(r)
		}
	}
	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	blank := 0
	for _, ln := range lines {
		ln = strings.TrimRight(ln, " \t")
		if strings.TrimSpace(strings.ReplaceAll(ln, ">", "")) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, ln)
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}

// Wrap breaks text at spaces so that no line exceeds width display columns.
// Quote prefixes are carried onto continuation lines. Words wider than width
// are left intact.
func Wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	var out []string
	for _, ln := range lines {
		if runewidth.StringWidth(ln) <= width {
			out = append(out, ln)
			continue
		}
		prefix := quotePrefix(ln)
		words := strings.Fields(ln[len(prefix):])
		avail := width - runewidth.StringWidth(prefix)
		if avail < 10 {
			avail = 10
		}
		var cur strings.Builder
		curW := 0
		for _, word := range words {
			ww := runewidth.StringWidth(word)
			if curW > 0 && curW+1+ww > avail {
				out = append(out, prefix+cur.String())
				cur.Reset()
				curW = 0
			}
			if curW > 0 {
				cur.WriteByte(' ')
				curW++
			}
			cur.WriteString(word)
			curW += ww
		}
		if curW > 0 {
			out = append(out, prefix+cur.String())
		}
	}
	return strings.Join(out, "\n")
}

func quotePrefix(ln string) string {
	i := 0
	for i < len(ln) && (ln[i] == '>' || ln[i] == ' ') {
		i++
	}
	if i == 0 || !strings.Contains(ln[:i], ">") {
		return ""
	}
	return ln[:i]
}
