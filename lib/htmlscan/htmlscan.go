// Package htmlscan pulls script tags out of raw HTML without parsing it.
//
// Pages that embed application state in <script> blocks are frequently not
// well-formed documents, so this package runs a regex scan over the raw
// markup instead of going through an HTML parser that would normalize or
// drop the interesting parts.
package htmlscan

import (
	"regexp"
	"strings"
)

var (
	scriptRe     = regexp.MustCompile(`(?is)<script([^>]*)>(.*?)</script>`)
	attrDoubleRe = regexp.MustCompile(`([a-zA-Z_:][-a-zA-Z0-9_:.]*)\s*=\s*"([^"]*)"`)
	attrSingleRe = regexp.MustCompile(`([a-zA-Z_:][-a-zA-Z0-9_:.]*)\s*=\s*'([^']*)'`)
)

// ScriptTag is one <script> element found in a page.
type ScriptTag struct {
	Attrs map[string]string
	Body  string
}

// Attr returns the named attribute or "" when it is missing.
func (t ScriptTag) Attr(name string) string {
	return t.Attrs[name]
}

// Scanner iterates over the script tags of a page lazily, in document order.
type Scanner struct {
	html string
	pos  int
	tag  ScriptTag
}

func NewScanner(html string) *Scanner {
	return &Scanner{html: html}
}

// Next advances to the next script tag. It returns false when the page is
// exhausted.
func (s *Scanner) Next() bool {
	loc := scriptRe.FindStringSubmatchIndex(s.html[s.pos:])
	if loc == nil {
		return false
	}
	attrs := s.html[s.pos+loc[2] : s.pos+loc[3]]
	body := s.html[s.pos+loc[4] : s.pos+loc[5]]
	s.pos += loc[1]
	s.tag = ScriptTag{
		Attrs: parseAttrs(attrs),
		Body:  strings.TrimSpace(body),
	}
	return true
}

// Tag returns the tag found by the last successful Next.
func (s *Scanner) Tag() ScriptTag {
	return s.tag
}

// ScriptTags collects every script tag of the page at once.
func ScriptTags(html string) []ScriptTag {
	var tags []ScriptTag
	sc := NewScanner(html)
	for sc.Next() {
		tags = append(tags, sc.Tag())
	}
	return tags
}

// parseAttrs reads key="value" and key='value' pairs out of the attribute
// text of a tag. Single-quoted values win when both forms produce the same
// key.
func parseAttrs(s string) map[string]string {
	attrs := map[string]string{}
	for _, m := range attrDoubleRe.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = m[2]
	}
	for _, m := range attrSingleRe.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}
