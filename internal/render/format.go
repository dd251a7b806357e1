package render

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"
)

// LinkRef is a hyperlink collected from a message body
type LinkRef struct {
	Index int
	URL   string
	Text  string
}

var (
	plainURLRe = regexp.MustCompile(`(?i)\bhttps?://[\w\-\._~:/%\?#\[\]@!$&'()*+,;=]+`)
	tokenURLRe = regexp.MustCompile(`(?i)^[a-z][a-z0-9+\-.]*://\S+$`)
)

// FormatMessageForTerminal builds a [BODY]/[LINKS] preview of a message.
// The markup is preferred when it renders to non-blank text.
func FormatMessageForTerminal(text, markup string, width int) string {
	body := ""
	var links []LinkRef
	if strings.TrimSpace(markup) != "" {
		if b, l, err := HTMLToText(markup); err == nil {
			body, links = b, l
		}
	}
	if strings.TrimSpace(body) == "" {
		body = text
	}
	body = normalizeNewlines(body)
	if len(links) == 0 {
		links, body = detectPlainTextLinks(body)
	}
	if width > 0 {
		body = WrapTextPreserving(body, width)
	}
	body = dedupeConsecutiveLines(sanitizeForTerminal(body))

	var out strings.Builder
	out.WriteString("[BODY]\n")
	out.WriteString(strings.TrimSpace(body))
	out.WriteString("\n\n[LINKS]\n")
	if len(links) == 0 {
		out.WriteString("None\n")
	}
	for _, lr := range links {
		fmt.Fprintf(&out, "(%d) %s\n", lr.Index, lr.URL)
	}
	return out.String()
}

// detectPlainTextLinks replaces URLs in plain text with [n] references
func detectPlainTextLinks(input string) ([]LinkRef, string) {
	idx := 0
	var links []LinkRef
	replaced := plainURLRe.ReplaceAllStringFunc(input, func(m string) string {
		idx++
		links = append(links, LinkRef{Index: idx, URL: m, Text: m})
		return fmt.Sprintf("[%d]", idx)
	})
	return links, replaced
}

// HTMLToText renders markup the way a browser lays it out as plain text:
// block elements break lines, lists get dashes, links keep their label
// followed by a [n] reference to the returned link list.
func HTMLToText(markup string) (string, []LinkRef, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse markup: %w", err)
	}
	var b strings.Builder
	var links []LinkRef
	quoteDepth := 0

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text := sanitizeForTerminal(n.Data)
			words := strings.Fields(text)
			if len(words) == 0 {
				if text != "" && b.Len() > 0 && lastByte(&b) != '\n' {
					b.WriteByte(' ')
				}
				return
			}
			if quoteDepth > 0 && (b.Len() == 0 || lastByte(&b) == '\n') {
				b.WriteString(strings.Repeat("> ", min(quoteDepth, 3)))
			} else if unicode.IsSpace(rune(text[0])) && b.Len() > 0 && lastByte(&b) != '\n' && lastByte(&b) != ' ' {
				b.WriteByte(' ')
			}
			b.WriteString(strings.Join(words, " "))
			if unicode.IsSpace(rune(text[len(text)-1])) {
				b.WriteByte(' ')
			}
			return
		case html.ElementNode:
			switch strings.ToLower(n.Data) {
			case "head", "style", "script", "title", "meta", "link", "img":
				return
			case "br":
				b.WriteByte('\n')
				return
			case "hr":
				b.WriteString("\n-----\n")
				return
			case "div", "section", "tr", "ul", "ol":
				breakLine(&b)
				visitChildren(n, visit)
				b.WriteByte('\n')
				return
			case "p", "h1", "h2", "h3", "h4", "h5", "h6":
				breakLine(&b)
				visitChildren(n, visit)
				b.WriteString("\n\n")
				return
			case "li":
				breakLine(&b)
				b.WriteString("- ")
				visitChildren(n, visit)
				b.WriteByte('\n')
				return
			case "td", "th":
				visitChildren(n, visit)
				b.WriteByte(' ')
				return
			case "blockquote":
				breakLine(&b)
				quoteDepth++
				visitChildren(n, visit)
				quoteDepth--
				b.WriteByte('\n')
				return
			case "a":
				href := attr(n, "href")
				var inner strings.Builder
				visitChildren(n, func(c *html.Node) { collectText(&inner, c) })
				label := strings.TrimSpace(inner.String())
				if label == "" {
					label = firstNonEmpty(attr(n, "aria-label"), attr(n, "title"), href)
				}
				b.WriteString(label)
				if href != "" {
					links = append(links, LinkRef{Index: len(links) + 1, URL: href, Text: label})
					fmt.Fprintf(&b, " [%d]", len(links))
				}
				return
			}
		}
		visitChildren(n, visit)
	}
	visit(doc)
	lines := strings.Split(b.String(), "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSpace(ln)
	}
	return strings.TrimSpace(normalizeNewlines(strings.Join(lines, "\n"))), links, nil
}

func lastByte(b *strings.Builder) byte {
	s := b.String()
	if s == "" {
		return 0
	}
	return s[len(s)-1]
}

func breakLine(b *strings.Builder) {
	if b.Len() > 0 && lastByte(b) != '\n' {
		b.WriteByte('\n')
	}
}

func visitChildren(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		fn(c)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func collectText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(sanitizeForTerminal(n.Data))
	case html.ElementNode:
		if strings.EqualFold(n.Data, "br") {
			b.WriteByte('\n')
		}
	}
	visitChildren(n, func(c *html.Node) { collectText(b, c) })
}

// sanitizeForTerminal replaces rich-text glyphs with ASCII-safe equivalents
// and drops invisible characters
func sanitizeForTerminal(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u00A0', '\u202F':
			b.WriteRune(' ')
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u034F', '\u2060', '\u00AD':
			// invisible
		case '\u2000', '\u2001', '\u2002', '\u2003', '\u2004', '\u2005', '\u2006', '\u2007', '\u2008', '\u2009', '\u200A':
			b.WriteRune(' ')
		case '\u2013', '\u2014':
			b.WriteRune('-')
		case '\u2022', '\u2043', '\u25AA', '\u25CF', '\u25E6':
			b.WriteString("- ")
		case '\u2018', '\u2019':
			b.WriteRune('\'')
		case '\u201C', '\u201D':
			b.WriteRune('"')
		case '\u2026':
			b.WriteString("...")
		default:
			if unicode.IsControl(r) && r != '\n' && r != '\t' {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dedupeConsecutiveLines drops repeated lines (footers, trackers)
func dedupeConsecutiveLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	prev := ""
	for _, ln := range lines {
		cur := strings.TrimRight(ln, " ")
		trimmed := strings.TrimSpace(cur)
		if trimmed != "" && trimmed == prev {
			continue
		}
		out = append(out, cur)
		prev = trimmed
	}
	return normalizeNewlines(strings.Join(out, "\n"))
}

// WrapTextPreserving wraps text to width keeping quote prefixes and never
// breaking URLs
func WrapTextPreserving(input string, width int) string {
	if width <= 0 {
		return input
	}
	lines := strings.Split(normalizeNewlines(input), "\n")
	var out strings.Builder
	for i, line := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		prefix := ""
		trimmed := line
		for strings.HasPrefix(trimmed, "> ") {
			prefix += "> "
			trimmed = strings.TrimPrefix(trimmed, "> ")
		}
		tokens := strings.Fields(trimmed)
		if len(tokens) == 0 {
			out.WriteString(strings.TrimRight(prefix, " "))
			continue
		}

		cur := prefix
		for _, tok := range tokens {
			switch {
			case cur == prefix:
				cur += tok
			case displayLen(cur)+1+displayLen(tok) <= width:
				cur += " " + tok
			default:
				out.WriteString(cur)
				out.WriteByte('\n')
				cur = prefix + tok
			}
			// hard cut tokens wider than a line, URLs excepted
			for displayLen(cur) > width && !tokenURLRe.MatchString(tok) && displayLen(prefix)+1 < width {
				head := runewidth.Truncate(cur, width, "")
				if head == prefix || head == "" {
					break
				}
				out.WriteString(head)
				out.WriteByte('\n')
				cur = prefix + strings.TrimPrefix(cur, head)
				tok = strings.TrimPrefix(cur, prefix)
			}
		}
		out.WriteString(cur)
	}
	return out.String()
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func displayLen(s string) int { return runewidth.StringWidth(s) }
