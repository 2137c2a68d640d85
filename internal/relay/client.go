package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ColinNebula/quibish-signaling/internal/metrics"
)

// Time allowed to write a message or control frame to the peer.
const writeWait = 10 * time.Second

// Client wraps a single websocket connection. A client is anonymous until
// its first register envelope; after that userID and info identify it in
// the relay's registry.
type Client struct {
	relay  *Relay
	conn   *websocket.Conn
	logger *zap.Logger

	// send is drained by the write pump, the connection's only writer.
	send chan Envelope
	done chan struct{}
	once sync.Once

	// userID and info are written only while holding the relay mutex, by
	// the client's own read goroutine during registration.
	userID string
	info   UserInfo

	// alive is set by any inbound traffic (including pongs) and cleared by
	// the liveness sweep when it issues a probe.
	alive atomic.Bool
}

func newClient(r *Relay, conn *websocket.Conn, logger *zap.Logger) *Client {
	c := &Client{
		relay:  r,
		conn:   conn,
		logger: logger,
		send:   make(chan Envelope, r.cfg.SendQueueDepth),
		done:   make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue hands env to the write pump without blocking. The false return is
// the explicit "peer unreachable" signal: the connection is closing or its
// queue is full. Sends are fire-and-forget and never retried.
func (c *Client) enqueue(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close makes the connection unreachable and unblocks both pumps. Safe to
// call from any goroutine, any number of times.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ping probes the peer with a control frame. WriteControl is safe to call
// concurrently with the write pump.
func (c *Client) ping() {
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("ping failed", zap.Error(err))
	}
}

// readPump pumps envelopes from the websocket to the relay. It is the
// connection's only reader. Exit triggers full disconnection cleanup.
func (c *Client) readPump() {
	defer func() {
		c.relay.Disconnect(c)
	}()

	c.conn.SetReadLimit(c.relay.cfg.MaxMessageBytes)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		c.alive.Store(true)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Protocol error: reply and keep the connection open.
			metrics.ProtocolErrorsTotal.Inc()
			c.enqueue(errorEnvelope("malformed message"))
			continue
		}
		c.relay.Handle(c, env)
	}
}

// writePump pumps envelopes from the send queue to the websocket. It is the
// connection's only writer apart from control frames.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
