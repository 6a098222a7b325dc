package main

import (
	"encoding/json"
	"strings"

	"collabtext/presence"
	"collabtext/versions"
)

// browserMessage is what the page sends for every native textarea event
// and UI action.
type browserMessage struct {
	Type string `json:"type"`

	InputType  string `json:"inputType,omitempty"`
	Value      string `json:"value,omitempty"`
	SelStart   int    `json:"selStart"`
	SelEnd     int    `json:"selEnd"`
	ScrollTop  int    `json:"scrollTop"`
	ScrollLeft int    `json:"scrollLeft"`

	Name string `json:"name,omitempty"`
	Key  string `json:"key,omitempty"`
}

// Browser message types.
const (
	msgInput            = "input"
	msgCompositionStart = "compositionstart"
	msgCompose          = "compose"
	msgCompositionEnd   = "compositionend"
	msgSelect           = "select"
	msgScroll           = "scroll"
	msgName             = "name"
	msgView             = "view"
	msgCancel           = "cancel"
	msgRestore          = "restore"
)

// uiMessage is what the agent pushes to the page.
type uiMessage struct {
	Type string `json:"type"`

	Value    *string `json:"value,omitempty"`
	SelStart int     `json:"selStart,omitempty"`
	SelEnd   int     `json:"selEnd,omitempty"`

	Presence *presence.Frame   `json:"presence,omitempty"`
	Online   *bool             `json:"online,omitempty"`
	Versions []versionEntry    `json:"versions,omitempty"`
	Preview  *previewEntry     `json:"preview,omitempty"`
	Identity *identityEnvelope `json:"identity,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// UI message types.
const (
	uiText     = "text"
	uiPresence = "presence"
	uiStatus   = "status"
	uiVersions = "versions"
	uiPreview  = "preview"
	uiIdentity = "identity"
	uiError    = "error"
)

type versionEntry struct {
	Key     string   `json:"key"`
	Editors []string `json:"editors"`
}

type previewEntry struct {
	Key        string   `json:"key"`
	Editors    []string `json:"editors"`
	Markup     string   `json:"markup"`
	LiveMarkup string   `json:"liveMarkup"`
}

type identityEnvelope struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func versionEntries(list []versions.Snapshot) []versionEntry {
	out := make([]versionEntry, 0, len(list))
	for _, s := range list {
		out = append(out, versionEntry{Key: s.Key, Editors: s.Editors})
	}
	return out
}

// supportedInput reports whether the edit translator can classify an
// input type. Anything else from the page is dropped before it reaches
// the field.
func supportedInput(inputType string) bool {
	return strings.HasPrefix(inputType, "insert") ||
		strings.HasPrefix(inputType, "delete") ||
		strings.HasPrefix(inputType, "history")
}

func encodeUI(m uiMessage) []byte {
	b, _ := json.Marshal(m)
	return b
}
