package diff

import (
	"strings"

	"golang.org/x/net/html"
)

// Markup renders tokens as HTML: deleted runs in <del>, inserted runs in
// <ins>, unchanged words bare. All text is escaped. The result still has to
// go through a sanitizer before it is displayed.
func Markup(tokens []Token) string {
	var b strings.Builder
	for _, t := range tokens {
		text := html.EscapeString(t.Value) + t.Space
		switch t.Class {
		case Deleted:
			b.WriteString("<del>")
			b.WriteString(text)
			b.WriteString("</del>")
		case Inserted:
			b.WriteString("<ins>")
			b.WriteString(text)
			b.WriteString("</ins>")
		default:
			b.WriteString(text)
		}
	}
	return b.String()
}

// String diffs original against modified and renders the result as markup.
func String(original, modified string) string {
	return Markup(Compare(original, modified))
}
