package wsevents

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtasklog"
	tmw "github.com/infinity086/labtasker/internal/transport/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS returns a handler that upgrades the connection and streams the
// authenticated queue's events to it. It is mounted inside the
// QueueAuth-guarded sub-router, so it trusts tmw.QueueFromContext rather
// than re-authenticating.
func (h *Hub) ServeWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := tmw.QueueFromContext(r.Context())
		if q == nil {
			http.Error(w, "queue not authenticated", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			labtasklog.Error().Err(err).Msg("failed to upgrade websocket connection")
			return
		}

		sub := h.bus.Subscribe(events.Filter{QueueID: q.ID}, events.DefaultBufferSize)
		// Use a context detached from r's, not r.Context(): net/http cancels
		// a hijacked request's context once this handler func returns, which
		// happens immediately after the upgrade — binding EventPump to it
		// would kill the stream before the first event ever arrives.
		ctx, cancel := context.WithCancel(context.Background())

		client := NewClient(h, conn, sub)
		client.cancel = func() {
			cancel()
			h.bus.Unsubscribe(sub)
		}

		h.Register(client)

		go client.WritePump()
		go client.ReadPump()
		go client.EventPump(ctx)

		labtasklog.Info().
			Str("client_id", client.ID).
			Str("queue_id", q.ID).
			Str("remote_addr", r.RemoteAddr).
			Msg("websocket client connected")
	}
}
