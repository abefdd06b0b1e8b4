package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/infinity086/labtasker/internal/events"
)

// WebSocketClient handles the additive real-time event channel served by
// internal/transport/wsevents.
type WebSocketClient struct {
	conn      *websocket.Conn
	baseURL   string
	queueName string
	secret    string
	events    chan *events.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
}

func newWebSocketClient(baseURL, queueName, secret string) *WebSocketClient {
	return &WebSocketClient{
		baseURL:   baseURL,
		queueName: queueName,
		secret:    secret,
		events:    make(chan *events.Event, 100),
		done:      make(chan struct{}),
	}
}

// Connect establishes a websocket connection to the queue's event
// stream at /v1/queues/{queueName}/events/ws.
func (ws *WebSocketClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}

	u, err := url.Parse(ws.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("/v1/queues/%s/events/ws", url.PathEscape(ws.queueName))

	headers := make(map[string][]string)
	if ws.secret != "" {
		headers["X-Queue-Secret"] = []string{ws.secret}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	ws.conn = conn
	ws.connected = true
	ws.done = make(chan struct{})

	go ws.readLoop()
	return nil
}

func (ws *WebSocketClient) readLoop() {
	defer func() {
		ws.mu.Lock()
		ws.connected = false
		ws.mu.Unlock()
		close(ws.events)
	}()

	for {
		select {
		case <-ws.done:
			return
		default:
			_, message, err := ws.conn.ReadMessage()
			if err != nil {
				return
			}

			var e events.Event
			if err := json.Unmarshal(message, &e); err != nil {
				continue
			}

			select {
			case ws.events <- &e:
			case <-ws.done:
				return
			default:
				select {
				case <-ws.events:
				default:
				}
				ws.events <- &e
			}
		}
	}
}

// Events returns the channel of events read from the connection.
func (ws *WebSocketClient) Events() <-chan *events.Event {
	return ws.events
}

// Close closes the websocket connection.
func (ws *WebSocketClient) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if ws.conn != nil {
			err = ws.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = ws.conn.Close()
		}
	})
	return err
}

// IsConnected reports whether the websocket is currently connected.
func (ws *WebSocketClient) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}
