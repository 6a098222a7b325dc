package relay

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabtext/awareness"
	"collabtext/crdt"
	"collabtext/observability"
	"collabtext/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server relays messages between the websocket clients of each room.
type Server struct {
	broker  Broker
	log     Log
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewServer creates a relay. metrics may be nil.
func NewServer(broker Broker, log Log, logger observability.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	if metrics == nil {
		metrics = observability.NewMetrics("collabtext_relay", nil)
	}
	return &Server{broker: broker, log: log, logger: logger.WithPrefix("relay"), metrics: metrics}
}

// Routes registers the websocket endpoint on r.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/ws/{room}", s.handleConnections)
}

type peer struct {
	conn *websocket.Conn
	send chan []byte

	mu             sync.Mutex
	clientID       string
	awarenessClock int
	announced      bool
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", map[string]interface{}{"error": err})
		return
	}
	defer ws.Close()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.logger.Info("new connection", map[string]interface{}{"room": room})

	sub, err := s.broker.Subscribe(ctx, room)
	if err != nil {
		s.logger.Error("subscribe failed", map[string]interface{}{"room": room, "error": err})
		return
	}
	defer sub.Close()

	p := &peer{conn: ws, send: make(chan []byte, 256)}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writePump()
	}()

	if err := s.sendSync(ctx, p, room); err != nil {
		s.logger.Error("replay failed", map[string]interface{}{"room": room, "error": err})
	} else {
		forwardDone := make(chan struct{})
		go func() {
			defer close(forwardDone)
			s.forward(ctx, p, sub)
		}()
		s.readPump(ctx, p, room)
		s.announceRemoval(p, room)
		cancel()
		<-forwardDone
	}
	// forward has stopped, nothing sends on p.send any more
	close(p.send)
	<-writerDone
}

func (s *Server) sendSync(ctx context.Context, p *peer, room string) error {
	ops, err := s.log.Replay(ctx, room)
	if err != nil {
		return err
	}
	b, err := transport.Encode(transport.Message{Type: transport.TypeSync, Ops: ops})
	if err != nil {
		return err
	}
	p.send <- b
	return nil
}

// forward relays broker messages to the client, skipping the client's own.
func (s *Server) forward(ctx context.Context, p *peer, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			m, err := transport.Decode(payload)
			if err != nil {
				continue
			}
			p.mu.Lock()
			own := m.ClientID != "" && m.ClientID == p.clientID
			p.mu.Unlock()
			if own {
				continue
			}
			select {
			case p.send <- payload:
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("client too slow, dropping message", map[string]interface{}{"type": m.Type})
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, p *peer, room string) {
	for {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			s.logger.Info("client disconnected", map[string]interface{}{"room": room, "error": err})
			return
		}
		m, err := transport.Decode(payload)
		if err != nil {
			s.logger.Warn("dropping message", map[string]interface{}{"room": room, "error": err})
			continue
		}
		p.mu.Lock()
		if m.ClientID != "" {
			p.clientID = m.ClientID
		}
		if m.Type == transport.TypeAwareness {
			p.awarenessClock = m.Awareness.Clock
			p.announced = m.Awareness.State != nil
		}
		p.mu.Unlock()

		if err := s.record(ctx, room, m); err != nil {
			s.logger.Error("append ops failed", map[string]interface{}{"room": room, "error": err})
		}
		if err := s.broker.Publish(ctx, room, payload); err != nil {
			s.logger.Error("publish failed", map[string]interface{}{"room": room, "error": err})
			continue
		}
		s.metrics.RelayedMessages.WithLabelValues(string(m.Type)).Inc()
	}
}

// record adds the document ops a client sent to the room log.
func (s *Server) record(ctx context.Context, room string, m transport.Message) error {
	switch m.Type {
	case transport.TypeOps:
		return s.log.Append(ctx, room, m.Ops)
	case transport.TypeSync:
		return s.appendSync(ctx, room, m.Ops)
	}
	return nil
}

// appendSync logs the part of a client's full state the room log does not
// hold yet. Clients push their full state after every reconnect.
func (s *Server) appendSync(ctx context.Context, room string, ops []crdt.Op) error {
	held, err := s.log.Replay(ctx, room)
	if err != nil {
		return err
	}
	fresh := unseen(held, ops)
	if len(fresh) == 0 {
		return nil
	}
	return s.log.Append(ctx, room, fresh)
}

// announceRemoval tells the room that a client which announced presence
// has gone.
func (s *Server) announceRemoval(p *peer, room string) {
	p.mu.Lock()
	id, clock, announced := p.clientID, p.awarenessClock, p.announced
	p.mu.Unlock()
	if id == "" || !announced {
		return
	}
	b, err := transport.Encode(transport.Message{
		Type:      transport.TypeAwareness,
		Awareness: &awareness.Update{ClientID: id, Clock: clock + 1},
	})
	if err != nil {
		return
	}
	if err := s.broker.Publish(context.Background(), room, b); err != nil {
		s.logger.Warn("removal publish failed", map[string]interface{}{"room": room, "error": err})
	}
}

func (p *peer) writePump() {
	for b := range p.send {
		if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			// drain so senders never block on a dead connection
			for range p.send {
			}
			return
		}
	}
	p.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
