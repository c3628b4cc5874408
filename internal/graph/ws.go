package graph

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/0xredeth/Quittance/internal/pubsub"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before the connection
	// is considered dead. Pings go out well inside this window.
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageSize caps inbound frames; clients only send control traffic.
	maxMessageSize = 512
)

// Feed streams newly indexed events to WebSocket clients. Each connection
// gets its own broadcaster subscription, so a slow client loses messages
// instead of stalling anyone else.
type Feed struct {
	broadcaster *pubsub.Broadcaster
	upgrader    websocket.Upgrader
}

// NewFeed returns a Feed backed by b. A nil broadcaster disables the feed.
func NewFeed(b *pubsub.Broadcaster) *Feed {
	return &Feed{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves
// or the broadcaster shuts down.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.broadcaster == nil {
		http.Error(w, "live feed disabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id, ch := f.broadcaster.Subscribe()
	log.Info().Str("subscriber", id).Msg("websocket connected")

	go f.readPump(conn, id)
	f.writePump(conn, id, ch)
}

// readPump consumes control frames and notices when the client goes away.
func (f *Feed) readPump(conn *websocket.Conn, id string) {
	defer func() {
		f.broadcaster.Unsubscribe(id)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("subscriber", id).Msg("websocket read error")
			}
			return
		}
	}
}

// writePump pushes events and keepalive pings to the client.
func (f *Feed) writePump(conn *websocket.Conn, id string, ch <-chan pubsub.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		f.broadcaster.Unsubscribe(id)
		conn.Close()
		log.Info().Str("subscriber", id).Msg("websocket disconnected")
	}()

	for {
		select {
		case msg, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Broadcaster shut down.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
