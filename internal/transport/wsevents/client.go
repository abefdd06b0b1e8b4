package wsevents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtasklog"
	"github.com/infinity086/labtasker/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
	pollTimeout    = time.Second
)

// Client is one websocket connection, pumping a single queue-scoped
// events.Subscription to its peer. Grounded on the teacher's
// internal/api/websocket/client.go; subscription filtering is now done
// at the bus level (Filter.QueueID) rather than per-client EventType sets,
// since a client here is always scoped to the queue it authenticated
// against over HTTP.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	sub  *events.Subscription
	send chan []byte

	cancel context.CancelFunc
}

// NewClient wraps conn, pumping sub's events to it.
func NewClient(hub *Hub, conn *websocket.Conn, sub *events.Subscription) *Client {
	return &Client{
		ID:   uuid.New().String()[:8],
		hub:  hub,
		conn: conn,
		sub:  sub,
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *Client) stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// ReadPump drains and discards peer frames, only to notice disconnects
// and keep pong deadlines alive.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				labtasklog.Error().Err(err).Str("client_id", c.ID).Msg("websocket read error")
			}
			break
		}
	}
}

// WritePump drains c.send to the peer and pings on pingPeriod.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// EventPump polls sub.Next in a loop, marshaling each event onto c.send
// until ctx is cancelled. Runs in its own goroutine per client, since
// each client now owns its own bus subscription instead of sharing one
// hub-wide broadcast channel.
func (c *Client) EventPump(ctx context.Context) {
	defer c.hub.Unregister(c)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e, ok, err := c.sub.Next(ctx, pollTimeout)
		if err != nil {
			return
		}
		if !ok {
			continue
		}

		data, err := json.Marshal(e)
		if err != nil {
			labtasklog.Error().Err(err).Msg("failed to marshal event for websocket push")
			continue
		}

		select {
		case c.send <- data:
			metrics.RecordWebSocketMessage(string(e.Entity))
		default:
			labtasklog.Warn().Str("client_id", c.ID).Msg("websocket send buffer full, dropping client")
			return
		}
	}
}
