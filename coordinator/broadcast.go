package coordinator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Broadcaster is a server-role adaptation of the client-role websocket
// usage in brensch-snek2/scraper/downloader/downloader.go: instead of
// dialing a remote game stream and decoding "game_info"/"frame" events,
// it upgrades incoming HTTP connections and pushes this engine's own
// "status"/"pgn" events out to every connected viewer.
type Broadcaster struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewBroadcaster returns a Broadcaster ready to be mounted at an HTTP
// route via ServeHTTP.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// event mirrors the downloader's own GameEvent envelope: a type tag plus
// a raw JSON payload.
type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type statusPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

type pgnPayload struct {
	PGN string `json:"pgn"`
}

// ServeHTTP upgrades the connection and registers it as a broadcast
// target until it disconnects or a read fails.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	// Viewers are receive-only; drain and discard anything they send so
	// gorilla's read pump keeps servicing pings and detects disconnects.
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastStatus pushes a "status" event to every connected client.
func (b *Broadcaster) BroadcastStatus(code int32, message string) {
	data, err := json.Marshal(statusPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	b.broadcast(event{Type: "status", Data: data})
}

// BroadcastPGN pushes a "pgn" event carrying one finished game's PGN to
// every connected client.
func (b *Broadcaster) BroadcastPGN(pgn string) {
	data, err := json.Marshal(pgnPayload{PGN: pgn})
	if err != nil {
		return
	}
	b.broadcast(event{Type: "pgn", Data: data})
}

func (b *Broadcaster) broadcast(ev event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.mu.Lock()
			delete(b.clients, c)
			b.mu.Unlock()
			c.Close()
		}
	}
}
