package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paystream-labs/walletcore/internal/wallet"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// stream pushes a wallet snapshot to every websocket client whenever wallet
// state changes. Clients are send-only; inbound messages are drained and
// dropped.
type stream struct {
	wallet   *wallet.Wallet
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan wallet.Snapshot
}

func newStream(w *wallet.Wallet, log *logger.Logger) *stream {
	s := &stream{
		wallet: w,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	w.Subscribe(s.broadcast)
	return s
}

func (s *stream) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan wallet.Snapshot, 8)}
	// Current state first so a client never renders from nothing. Queued
	// before registration: the channel is empty here, so this cannot block
	// even if broadcasts arrive during the upgrade.
	c.send <- s.wallet.State()

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.WithField("remote", r.RemoteAddr).Debug("event stream client connected")

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *stream) broadcast() {
	snap := s.wallet.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- snap:
		default:
			// Slow client; it will catch up on the next change.
		}
	}
}

func (s *stream) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case snap, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *stream) readLoop(c *client) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *stream) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}
