package presence

import (
	"sort"

	"collabtext/awareness"
	"collabtext/crdt"
)

// Indicator is what gets painted for one remote peer.
type Indicator struct {
	ClientID string `json:"clientID"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	// Highlights has one rectangle per visual row of the selection.
	Highlights []Rect `json:"highlights"`
	// Caret sits at the end of the last highlight and carries the name.
	Caret Rect `json:"caret"`
}

// Render computes indicators for every peer in states except localID.
// Peers without a cursor, or whose cursor no longer resolves against doc,
// are skipped. Indicators are ordered by client ID.
func Render(doc *crdt.Doc, states map[string]awareness.State, localID string, s Surface) []Indicator {
	ids := make([]string, 0, len(states))
	for id := range states {
		if id != localID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	text := doc.String()
	var out []Indicator
	for _, id := range ids {
		st := states[id]
		if st.Cursor == nil {
			continue
		}
		anchor := doc.AbsolutePosition(st.Cursor.Anchor)
		focus := doc.AbsolutePosition(st.Cursor.Focus)
		if anchor == crdt.Unresolved || focus == crdt.Unresolved {
			continue
		}
		rects := s.Rects(text, anchor, focus)
		last := rects[len(rects)-1]
		out = append(out, Indicator{
			ClientID:   id,
			Name:       st.User.Name,
			Color:      st.User.Color,
			Highlights: rects,
			Caret:      Rect{Row: last.Row, Col: last.Col + last.Width},
		})
	}
	return out
}
