// Package awareness holds the ephemeral per-peer presence state: display
// name, color, cursor and whether the peer edited since the last snapshot.
//
// Every peer owns exactly one entry and is the only one that writes it. The
// local entry is changed through the Set* methods; entries of other peers
// arrive as Updates and are applied with Apply. Each entry carries a clock
// so stale updates are ignored.
package awareness

import (
	"sort"

	"collabtext/crdt"
)

// User is the identity part of a peer's state.
type User struct {
	Name   string `json:"name"`
	Color  string `json:"color"`
	Edited bool   `json:"edited"`
}

// Cursor is a selection anchored to document content.
type Cursor struct {
	Anchor crdt.RelativePosition `json:"anchor"`
	Focus  crdt.RelativePosition `json:"focus"`
}

// State is one peer's presence record.
type State struct {
	User   User    `json:"user"`
	Cursor *Cursor `json:"cursor,omitempty"`
}

// Update carries one peer's state over the wire. A nil State removes the
// peer.
type Update struct {
	ClientID string `json:"clientID"`
	Clock    int    `json:"clock"`
	State    *State `json:"state,omitempty"`
}

// Change lists the peers affected by one modification.
type Change struct {
	Added   []string
	Updated []string
	Removed []string
	// Local is set when the change was made through the local setters.
	Local bool
}

// Observer receives awareness changes.
type Observer func(Change)

// Awareness is the presence channel for one document session.
// It is not safe for concurrent use.
type Awareness struct {
	clientID string
	states   map[string]State
	clocks   map[string]int

	observers    map[int]Observer
	nextObserver int
}

// New creates a channel whose local peer is clientID, starting with user.
func New(clientID string, user User) *Awareness {
	a := &Awareness{
		clientID:  clientID,
		states:    make(map[string]State),
		clocks:    make(map[string]int),
		observers: make(map[int]Observer),
	}
	a.states[clientID] = State{User: user}
	return a
}

// ClientID returns the local peer's ID.
func (a *Awareness) ClientID() string { return a.clientID }

// States returns a copy of all known states keyed by client ID.
func (a *Awareness) States() map[string]State {
	out := make(map[string]State, len(a.states))
	for id, s := range a.states {
		out[id] = s
	}
	return out
}

// Peers returns the known client IDs in sorted order.
func (a *Awareness) Peers() []string {
	ids := make([]string, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LocalState returns the local peer's state.
func (a *Awareness) LocalState() State { return a.states[a.clientID] }

// SetUser replaces the local user record.
func (a *Awareness) SetUser(u User) {
	s := a.states[a.clientID]
	if s.User == u {
		return
	}
	s.User = u
	a.setLocal(s)
}

// SetEdited sets the local edited flag.
func (a *Awareness) SetEdited(edited bool) {
	u := a.LocalState().User
	u.Edited = edited
	a.SetUser(u)
}

// SetName changes the local display name.
func (a *Awareness) SetName(name string) {
	u := a.LocalState().User
	u.Name = name
	a.SetUser(u)
}

// SetCursor replaces the local cursor. A nil cursor hides it.
func (a *Awareness) SetCursor(c *Cursor) {
	s := a.states[a.clientID]
	s.Cursor = c
	a.setLocal(s)
}

func (a *Awareness) setLocal(s State) {
	a.states[a.clientID] = s
	a.clocks[a.clientID]++
	a.emit(Change{Updated: []string{a.clientID}, Local: true})
}

// Encode returns the update describing the local state.
func (a *Awareness) Encode() Update {
	s := a.LocalState()
	return Update{ClientID: a.clientID, Clock: a.clocks[a.clientID], State: &s}
}

// EncodeRemoval returns the update telling peers the local client left.
func (a *Awareness) EncodeRemoval() Update {
	return Update{ClientID: a.clientID, Clock: a.clocks[a.clientID] + 1}
}

// Apply merges a remote update. Updates for the local client and updates
// older than the known clock are ignored.
func (a *Awareness) Apply(u Update) {
	if u.ClientID == a.clientID {
		return
	}
	known, seen := a.clocks[u.ClientID]
	if seen && u.Clock <= known {
		return
	}
	a.clocks[u.ClientID] = u.Clock
	if u.State == nil {
		if _, ok := a.states[u.ClientID]; ok {
			delete(a.states, u.ClientID)
			a.emit(Change{Removed: []string{u.ClientID}})
		}
		return
	}
	_, existed := a.states[u.ClientID]
	a.states[u.ClientID] = *u.State
	if existed {
		a.emit(Change{Updated: []string{u.ClientID}})
	} else {
		a.emit(Change{Added: []string{u.ClientID}})
	}
}

// Remove drops a remote peer, e.g. when its connection is gone.
func (a *Awareness) Remove(clientID string) {
	if clientID == a.clientID {
		return
	}
	if _, ok := a.states[clientID]; !ok {
		return
	}
	delete(a.states, clientID)
	a.emit(Change{Removed: []string{clientID}})
}

// Observe registers fn and returns a function that removes it.
func (a *Awareness) Observe(fn Observer) func() {
	id := a.nextObserver
	a.nextObserver++
	a.observers[id] = fn
	return func() { delete(a.observers, id) }
}

func (a *Awareness) emit(c Change) {
	for id := 0; id < a.nextObserver; id++ {
		if fn, ok := a.observers[id]; ok {
			fn(c)
		}
	}
}
