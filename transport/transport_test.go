package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/awareness"
	"collabtext/crdt"
	"collabtext/observability"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func TestDecodeRejectsBadMessages(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"type":"awareness"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	m, err := Decode([]byte(`{"type":"ops","clientID":"a","ops":[{"action":"delete","char":{"id":{"clock":1,"peerID":"a"}}}]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeOps, m.Type)
	require.Len(t, m.Ops, 1)
}

func TestEncodeKeepsAwarenessRemoval(t *testing.T) {
	b, err := Encode(Message{Type: TypeAwareness, ClientID: "a", Awareness: &awareness.Update{ClientID: "a", Clock: 3}})
	require.NoError(t, err)
	m, err := Decode(b)
	require.NoError(t, err)
	require.NotNil(t, m.Awareness)
	assert.Nil(t, m.Awareness.State)
	assert.Equal(t, 3, m.Awareness.Clock)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "notes", Channel("notes", ""))
	assert.Equal(t, "notes-secret", Channel("notes", "secret"))
}

func TestClientSendsAndReceives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	got := make(chan Message, 1)
	metrics := observability.NewMetrics("test", nil)
	c := NewClient(ClientOptions{
		URL:       wsURL(srv),
		OnMessage: func(m Message) { got <- m },
		Metrics:   metrics,
	})

	doc := crdt.NewDoc("a")
	var ops []crdt.Op
	doc.Observe(func(u crdt.Update, _ interface{}) { ops = append(ops, u.Ops...) })
	require.NoError(t, doc.Insert(0, "hi", nil))
	require.NoError(t, c.Send(Message{Type: TypeOps, ClientID: "a", Ops: ops}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case m := <-got:
		assert.Equal(t, TypeOps, m.Type)
		other := crdt.NewDoc("b")
		require.NoError(t, other.Apply(m.Ops, crdt.Remote))
		assert.Equal(t, "hi", other.String())
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no echo received")
	}
	assert.True(t, c.Online())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Connected))
}

func TestClientReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var statuses []bool
	connected := make(chan struct{}, 4)
	c := NewClient(ClientOptions{
		URL: wsURL(srv),
		OnStatus: func(online bool) {
			mu.Lock()
			statuses = append(statuses, online)
			mu.Unlock()
		},
		OnConnect:                func() { connected <- struct{}{} },
		InitialReconnectInterval: 10 * time.Millisecond,
		MaxReconnectInterval:     50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "client did not reconnect")
		}
	}
	assert.GreaterOrEqual(t, conns.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Run did not return")
	}
	assert.False(t, c.Online())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, []bool{true, false, true}, statuses[:3])
}

func TestSendBufferFull(t *testing.T) {
	c := NewClient(ClientOptions{URL: "ws://127.0.0.1:1/ws"})
	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, c.Send(Message{Type: TypeSync}))
	}
	assert.ErrorIs(t, c.Send(Message{Type: TypeSync}), ErrSendBufferFull)
}
