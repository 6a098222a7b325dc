// Package sanitize strips markup down to an allow-list of attribute-free
// tags before it is displayed.
package sanitize

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Policy is a set of allowed element names.
type Policy map[atom.Atom]bool

// DiffPolicy allows only the markers the history diff emits.
var DiffPolicy = Policy{atom.Ins: true, atom.Del: true}

// Sanitize re-serialises markup keeping text and allowed tags only. Attributes
// are always dropped. Content of script and style elements is removed, and
// unbalanced allowed tags are closed at the end.
func (p Policy) Sanitize(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	var open []atom.Atom
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return b.String()
			}
			for i := len(open) - 1; i >= 0; i-- {
				b.WriteString("</" + open[i].String() + ">")
			}
			return b.String()
		case html.TextToken:
			if skipDepth == 0 {
				b.WriteString(html.EscapeString(string(z.Text())))
			}
		case html.StartTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style {
				skipDepth++
				continue
			}
			if skipDepth == 0 && p[tok.DataAtom] {
				open = append(open, tok.DataAtom)
				b.WriteString("<" + tok.DataAtom.String() + ">")
			}
		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth == 0 && p[tok.DataAtom] && len(open) > 0 && open[len(open)-1] == tok.DataAtom {
				open = open[:len(open)-1]
				b.WriteString("</" + tok.DataAtom.String() + ">")
			}
		}
		// comments, doctypes and self-closing tags are dropped
	}
}

// Diff sanitises history diff markup.
func Diff(markup string) string {
	return DiffPolicy.Sanitize(markup)
}
