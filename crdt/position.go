package crdt

// Unresolved is returned by AbsolutePosition when the character a relative
// position was anchored to has been deleted or is unknown.
const Unresolved = -1

// RelativePosition anchors a cursor to the character immediately after it.
// A nil Item anchors to the end of the document.
type RelativePosition struct {
	Item *CharID `json:"item,omitempty"`
}

// RelativePosition converts a visible offset into a position that survives
// concurrent edits. Offsets outside the document are clamped.
func (d *Doc) RelativePosition(index int) RelativePosition {
	if index < 0 {
		index = 0
	}
	i, ok := d.visibleIndex(index)
	if !ok || i == len(d.chars) {
		return RelativePosition{}
	}
	id := d.chars[i].ID
	return RelativePosition{Item: &id}
}

// AbsolutePosition resolves rp against the current document.
func (d *Doc) AbsolutePosition(rp RelativePosition) int {
	if rp.Item == nil {
		return d.Len()
	}
	c, ok := d.byID[*rp.Item]
	if !ok || c.deleted {
		return Unresolved
	}
	n := 0
	for _, other := range d.chars {
		if other == c {
			return n
		}
		if !other.deleted {
			n++
		}
	}
	return Unresolved
}
