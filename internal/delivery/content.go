// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package delivery

import (
	"html"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// isMarkup reports whether content contains at least one known html tag. Text like "<john>" or
// "a < b" is not markup.
func isMarkup(content string) bool {
	z := nethtml.NewTokenizer(strings.NewReader(content))

	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			return false

		case nethtml.StartTagToken, nethtml.EndTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
		}
	}
}

// alternatives returns the plain text and html rendition of content.
func alternatives(content string) (string, string) {
	if isMarkup(content) {
		return stripMarkup(content), content
	}

	return content, plainToHTML(content)
}

var blockElements = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Table:      true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Blockquote: true,
}

// stripMarkup extracts the readable text of an html document.
func stripMarkup(content string) string {
	var (
		b    strings.Builder
		skip int
		z    = nethtml.NewTokenizer(strings.NewReader(content))
	)

	for {
		tokenType := z.Next()

		switch tokenType {
		case nethtml.ErrorToken:
			return tidy(b.String())

		case nethtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}

		case nethtml.StartTagToken, nethtml.EndTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()

			switch tag := atom.Lookup(name); {
			case tag == atom.Script || tag == atom.Style:
				if tokenType == nethtml.StartTagToken {
					skip++
				} else if tokenType == nethtml.EndTagToken && skip > 0 {
					skip--
				}

			case tag == atom.Br:
				b.WriteByte('\n')

			case blockElements[tag]:
				b.WriteString("\n\n")
			}
		}
	}
}

// tidy collapses whitespace within lines and keeps at most one empty line between paragraphs.
func tidy(text string) string {
	var (
		lines []string
		empty = true
	)

	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")

		if line == "" {
			if !empty {
				lines = append(lines, "")
			}

			empty = true
			continue
		}

		lines = append(lines, line)
		empty = false
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// plainToHTML wraps plain text into a minimal html document. Empty lines separate paragraphs,
// single line breaks become <br>.
func plainToHTML(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var b strings.Builder
	b.WriteString("<html><body>\n")

	for _, paragraph := range strings.Split(strings.TrimSpace(content), "\n\n") {
		paragraph = strings.Trim(paragraph, "\n")
		if paragraph == "" {
			continue
		}

		lines := strings.Split(paragraph, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}

		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>\n"))
		b.WriteString("</p>\n")
	}

	b.WriteString("</body></html>\n")
	return b.String()
}
