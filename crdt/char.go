package crdt

import "fmt"

// CharID is a globally unique identifier for a character, combining a logical clock
// and the ID of the peer that created it.
type CharID struct {
	Clock  int    `json:"clock"`
	PeerID string `json:"peerID"`
}

// Less orders IDs by clock, breaking ties by peer ID.
func (id CharID) Less(other CharID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.PeerID < other.PeerID
}

func (id CharID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.PeerID)
}

// Char represents a single character in the CRDT sequence. It has a unique ID,
// its value, and the ID of the character it was inserted after. A nil Origin
// means the character was inserted at the start of the document.
type Char struct {
	ID      CharID  `json:"id"`
	Value   string  `json:"value"`
	Origin  *CharID `json:"origin,omitempty"`
	deleted bool
}

// Action names the kind of change an Op carries.
type Action string

const (
	ActionInsert Action = "insert"
	ActionDelete Action = "delete"
)

// Op is the message sent over the network. Delete ops only carry Char.ID.
type Op struct {
	Action Action `json:"action"`
	Char   Char   `json:"char"`
}
