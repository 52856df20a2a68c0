package templates

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText strips markup from src. Head, style and script contents are
// dropped, block elements end a line, and whitespace runs in the source,
// newlines included, collapse to a single space. Entities are decoded;
// &nbsp; stays a non-breaking space.
func HTMLToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapse(b.String())
		case html.TextToken:
			if skip == 0 {
				b.WriteString(squeeze(string(z.Text())))
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if hidden(a) {
				switch tt {
				case html.StartTagToken:
					skip++
				case html.EndTagToken:
					if skip > 0 {
						skip--
					}
				}
				continue
			}
			if breaksLine(a) {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
	}
}

func hidden(a atom.Atom) bool {
	switch a {
	case atom.Head, atom.Style, atom.Script, atom.Title:
		return true
	}
	return false
}

func breaksLine(a atom.Atom) bool {
	switch a {
	case atom.Br, atom.P, atom.Div, atom.Tr, atom.Li, atom.Ul, atom.Ol, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Hr, atom.Body:
		return true
	}
	return false
}

// collapse turns the block breaks into lines, dropping blank ones.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Trim(squeeze(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// squeeze replaces each run of ASCII whitespace with one space. Unicode
// spaces such as U+00A0 are content and kept.
func squeeze(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if asciiSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func asciiSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
