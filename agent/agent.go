package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"collabtext/awareness"
	"collabtext/config"
	"collabtext/crdt"
	"collabtext/observability"
	"collabtext/presence"
	"collabtext/session"
	"collabtext/transport"
	"collabtext/versions"
	"collabtext/widget"
)

// Agent is the local peer: it owns the document replica, mirrors the
// browser textarea into a widget.Field and relays ops to the server.
// Everything touching doc, awareness, field or editor runs on loop.
type Agent struct {
	cfg      config.AgentConfig
	log      observability.Logger
	metrics  *observability.Metrics
	clientID string

	loop    *session.Loop
	doc     *crdt.Doc
	aw      *awareness.Awareness
	field   *widget.Field
	editor  *session.Editor
	overlay *presence.Overlay
	store   versions.Store
	client  *transport.Client
	hub     *Hub

	// what the page is known to show, so resyncs are only pushed when
	// they differ
	shownText  string
	shownStart int
	shownEnd   int

	detach []func()
}

// NewAgent wires a session. Call Run to start it.
func NewAgent(cfg config.AgentConfig, clientID string, store versions.Store, log observability.Logger, metrics *observability.Metrics) *Agent {
	user := awareness.User{Name: cfg.Name, Color: cfg.Color}
	if user.Name == "" {
		user.Name = randomName()
	}
	if user.Color == "" {
		user.Color = randomColor()
	}

	a := &Agent{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		clientID: clientID,
		loop:     session.NewLoop(),
		doc:      crdt.NewDoc(clientID),
		aw:       awareness.New(clientID, user),
		field:    widget.NewField(""),
		store:    store,
		hub:      newHub(log.WithPrefix("hub")),
	}
	a.editor = session.New(a.doc, a.aw, store, a.field, session.Config{
		DebounceInterval: cfg.Session.DebounceInterval,
		CaptureTimeout:   cfg.Session.CaptureTimeout,
		Retry: versions.RetryPolicy{
			InitialInterval: versions.DefaultRetryPolicy.InitialInterval,
			MaxElapsedTime:  cfg.Session.RetryMaxElapsed,
		},
		Dispatch: a.loop.Dispatch,
		Logger:   log,
		Metrics:  metrics,
	})
	a.overlay = presence.NewOverlay(a.doc, a.aw, a.field, presence.Surface{Columns: cfg.Session.Columns}, func(f presence.Frame) {
		a.hub.Broadcast(encodeUI(uiMessage{Type: uiPresence, Presence: &f}))
	})
	a.client = transport.NewClient(transport.ClientOptions{
		URL:       serverURL(cfg),
		OnMessage: func(m transport.Message) { a.loop.Post(func() { a.handleRemote(m) }) },
		OnStatus:  func(online bool) { a.loop.Post(func() { a.pushStatus(online) }) },
		OnConnect: func() { a.loop.Post(a.announce) },
		Logger:    log,
		Metrics:   metrics,
	})

	a.detach = append(a.detach,
		a.doc.Observe(a.publishOps),
		a.aw.Observe(a.publishAwareness),
		a.editor.OnVersionsChanged(func(string) { a.pushVersions(nil) }),
	)
	return a
}

func serverURL(cfg config.AgentConfig) string {
	return strings.TrimSuffix(cfg.ServerURL, "/") + "/ws/" + url.PathEscape(transport.Channel(cfg.Room, cfg.Password))
}

// Run processes the session until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	go a.hub.run(ctx)
	go func() {
		if err := a.client.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("transport stopped", map[string]interface{}{"error": err})
		}
	}()
	a.loop.Run(ctx)
}

// Close writes a last snapshot if needed, tells peers the client left and
// tears the session down. It must run on the loop or after it stopped.
func (a *Agent) Close() {
	a.editor.Flush()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.editor.WaitPersisted(ctx); err != nil {
		a.log.Warn("last snapshot not written", map[string]interface{}{"error": err})
	}
	removal := a.aw.EncodeRemoval()
	a.client.Send(transport.Message{Type: transport.TypeAwareness, ClientID: a.clientID, Awareness: &removal})
	for _, fn := range a.detach {
		fn()
	}
	a.overlay.Close()
	a.editor.Close()
}

func (a *Agent) publishOps(u crdt.Update, origin interface{}) {
	if origin == crdt.Remote {
		return
	}
	if err := a.client.Send(transport.Message{Type: transport.TypeOps, ClientID: a.clientID, Ops: u.Ops}); err != nil {
		// the full state goes out again on the next connect
		a.log.Warn("ops not queued", map[string]interface{}{"error": err})
	}
}

func (a *Agent) publishAwareness(c awareness.Change) {
	if !c.Local {
		return
	}
	u := a.aw.Encode()
	if err := a.client.Send(transport.Message{Type: transport.TypeAwareness, ClientID: a.clientID, Awareness: &u}); err != nil {
		a.log.Debug("awareness not queued", map[string]interface{}{"error": err})
	}
}

// announce pushes the full local state after (re)connecting.
func (a *Agent) announce() {
	a.client.Send(transport.Message{Type: transport.TypeSync, ClientID: a.clientID, Ops: a.doc.State()})
	a.publishAwareness(awareness.Change{Local: true})
}

func (a *Agent) handleRemote(m transport.Message) {
	switch m.Type {
	case transport.TypeOps, transport.TypeSync:
		if err := a.doc.Apply(m.Ops, crdt.Remote); err != nil {
			a.log.Warn("remote ops rejected", map[string]interface{}{"error": err})
		}
		if n := a.doc.Pending(); n > 0 {
			a.log.Debug("ops waiting for dependencies", map[string]interface{}{"pending": n})
		}
	case transport.TypeAwareness:
		a.aw.Apply(*m.Awareness)
	}
	a.pushText()
}

// handleBrowser applies one message from the page.
func (a *Agent) handleBrowser(raw []byte) {
	var m browserMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		a.log.Warn("bad browser message", map[string]interface{}{"error": err})
		return
	}
	switch m.Type {
	case msgInput:
		if !supportedInput(m.InputType) {
			a.log.Warn("unsupported input type", map[string]interface{}{"inputType": m.InputType})
			return
		}
		a.shown(m.Value, m.SelStart, m.SelEnd)
		a.field.Type(m.InputType, m.Value, m.SelStart, m.SelEnd)
	case msgCompositionStart:
		a.field.BeginComposition()
	case msgCompose:
		a.shown(m.Value, m.SelStart, m.SelEnd)
		a.field.Compose(m.Value, m.SelStart, m.SelEnd)
	case msgCompositionEnd:
		a.field.EndComposition()
	case msgSelect:
		a.shownStart, a.shownEnd = m.SelStart, m.SelEnd
		a.field.Select(m.SelStart, m.SelEnd)
	case msgScroll:
		a.field.Scroll(m.ScrollTop, m.ScrollLeft)
	case msgName:
		a.editor.SetName(m.Name)
		a.pushIdentity(nil)
	case msgView:
		a.view(m.Key)
	case msgCancel:
		a.editor.CancelView()
	case msgRestore:
		if err := a.editor.RestoreViewed(); err != nil {
			a.hub.Broadcast(encodeUI(uiMessage{Type: uiError, Error: err.Error()}))
		}
	default:
		a.log.Warn("unknown browser message", map[string]interface{}{"type": m.Type})
		return
	}
	a.pushText()
}

func (a *Agent) shown(text string, start, end int) {
	a.shownText, a.shownStart, a.shownEnd = text, start, end
}

// pushText sends the field to the page if it differs from what the page
// shows.
func (a *Agent) pushText() {
	text := a.field.Text()
	start, end := a.field.Selection()
	if text == a.shownText && start == a.shownStart && end == a.shownEnd {
		return
	}
	a.shown(text, start, end)
	a.hub.Broadcast(encodeUI(uiMessage{Type: uiText, Value: &text, SelStart: start, SelEnd: end}))
}

func (a *Agent) pushStatus(online bool) {
	a.hub.Broadcast(encodeUI(uiMessage{Type: uiStatus, Online: &online}))
}

func (a *Agent) pushIdentity(to *Client) {
	u := a.aw.LocalState().User
	a.send(to, uiMessage{Type: uiIdentity, Identity: &identityEnvelope{Name: u.Name, Color: u.Color}})
}

func (a *Agent) pushVersions(to *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	list, err := a.editor.Versions(ctx)
	if err != nil {
		a.log.Warn("listing versions failed", map[string]interface{}{"error": err})
		return
	}
	a.send(to, uiMessage{Type: uiVersions, Versions: versionEntries(list)})
}

func (a *Agent) view(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := a.editor.View(ctx, key)
	if err != nil {
		a.hub.Broadcast(encodeUI(uiMessage{Type: uiError, Error: err.Error()}))
		return
	}
	a.hub.Broadcast(encodeUI(uiMessage{Type: uiPreview, Preview: &previewEntry{
		Key:        p.Snapshot.Key,
		Editors:    p.Snapshot.Editors,
		Markup:     p.Markup,
		LiveMarkup: p.LiveMarkup,
	}}))
}

// send delivers m to one client, or to all of them when to is nil.
func (a *Agent) send(to *Client, m uiMessage) {
	b := encodeUI(m)
	if to == nil {
		a.hub.Broadcast(b)
		return
	}
	a.hub.SendTo(to, b)
}

// join brings a freshly connected page up to date.
func (a *Agent) join(c *Client) {
	text := a.field.Text()
	start, end := a.field.Selection()
	frame := a.overlay.Frame()
	online := a.client.Online()
	a.send(c, uiMessage{Type: uiText, Value: &text, SelStart: start, SelEnd: end})
	a.send(c, uiMessage{Type: uiPresence, Presence: &frame})
	a.send(c, uiMessage{Type: uiStatus, Online: &online})
	a.pushIdentity(c)
	a.pushVersions(c)
}

// Routes registers the agent's HTTP endpoints.
func (a *Agent) Routes(r *mux.Router) {
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		serveWs(a.hub, w, req,
			func(c *Client) { a.loop.Post(func() { a.join(c) }) },
			func(b []byte) { a.loop.Post(func() { a.handleBrowser(b) }) })
	})
	r.HandleFunc("/versions", a.handleVersions).Methods(http.MethodGet)
	r.HandleFunc("/document", a.handleDocument).Methods(http.MethodGet)
}

func (a *Agent) handleVersions(w http.ResponseWriter, r *http.Request) {
	var list []versions.Snapshot
	var err error
	if doErr := a.loop.Do(r.Context(), func() { list, err = a.editor.Versions(r.Context()) }); doErr != nil {
		http.Error(w, doErr.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(versionEntries(list))
}

func (a *Agent) handleDocument(w http.ResponseWriter, r *http.Request) {
	var text string
	if err := a.loop.Do(r.Context(), func() { text = a.editor.Text() }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="document.txt"`)
	w.Write([]byte(text))
}
