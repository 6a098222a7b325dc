package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"collabtext/observability"
)

// ErrSendBufferFull is returned by Send when the outgoing queue is full.
var ErrSendBufferFull = errors.New("send buffer full")

const sendBuffer = 256

// ClientOptions configures a Client.
type ClientOptions struct {
	// URL is the full websocket URL, including the room channel.
	URL string
	// OnMessage receives every decoded message. It runs on the client's
	// read goroutine.
	OnMessage func(Message)
	// OnStatus is called whenever the connection goes up or down.
	OnStatus func(online bool)
	// OnConnect runs after each successful dial, before queued messages
	// are flushed. Use it to resend local state.
	OnConnect func()

	InitialReconnectInterval time.Duration
	MaxReconnectInterval     time.Duration

	Logger  observability.Logger
	Metrics *observability.Metrics
}

// Client is a reconnecting websocket client.
type Client struct {
	opts   ClientOptions
	log    observability.Logger
	dialer *websocket.Dialer
	send   chan []byte
	online atomic.Bool
}

// NewClient creates a client. Call Run to connect.
func NewClient(opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.InitialReconnectInterval <= 0 {
		opts.InitialReconnectInterval = 500 * time.Millisecond
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		log:    opts.Logger.WithPrefix("transport"),
		dialer: websocket.DefaultDialer,
		send:   make(chan []byte, sendBuffer),
	}
}

// Online reports whether the client is connected.
func (c *Client) Online() bool { return c.online.Load() }

// Send queues m for delivery. Messages queued while offline go out after
// the next successful connect.
func (c *Client) Send(m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run connects and keeps reconnecting with exponential backoff until ctx
// is done.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialReconnectInterval
	b.MaxInterval = c.opts.MaxReconnectInterval
	b.MaxElapsedTime = 0

	op := func() error {
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			return errors.Wrapf(err, "dial %s", c.opts.URL)
		}
		b.Reset()
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.log.Warn("connection lost, reconnecting", map[string]interface{}{
			"error": err,
			"next":  next,
		})
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) setOnline(online bool) {
	if c.online.Swap(online) == online {
		return
	}
	if c.opts.Metrics != nil {
		v := 0.0
		if online {
			v = 1
		}
		c.opts.Metrics.Connected.Set(v)
	}
	c.log.Info("connectivity changed", map[string]interface{}{"online": online})
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(online)
	}
}

// serve pumps messages over conn until it fails or ctx is done.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.setOnline(true)
	defer c.setOnline(false)
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			conn.Close()
		})
	}
	defer stop()

	readErr := make(chan error, 1)
	go func() {
		defer stop()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- errors.Wrap(err, "read")
				return
			}
			m, err := Decode(data)
			if err != nil {
				c.log.Warn("dropping message", map[string]interface{}{"error": err})
				continue
			}
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(m)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case <-done:
			return <-readErr
		case b := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				// requeue so the message goes out after reconnecting
				select {
				case c.send <- b:
				default:
				}
				return errors.Wrap(err, "write")
			}
		}
	}
}
