// Package wsbridge carries bridge traffic over a websocket, for pages served
// to an ordinary browser and for remote terminal clients. Client frames are
// bridge titles; server frames are JSON events.
package wsbridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/bridge"
)

var log = logging.Logger("wsbridge")

const (
	writeWait   = 10 * time.Second
	pingPeriod  = 30 * time.Second
	sendBacklog = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Pages may be loaded from the webview, file:// or another local port.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TitleHandler consumes bridge titles; host.App implements it.
type TitleHandler interface {
	HandleTitle(title string) bool
}

type peer struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.ws.Close()
	})
}

// Hub accepts websocket clients, feeds their frames to a TitleHandler and
// broadcasts host events to all of them.
type Hub struct {
	handler TitleHandler

	mu    sync.RWMutex
	peers map[*peer]struct{}
}

func NewHub(handler TitleHandler) *Hub {
	return &Hub{
		handler: handler,
		peers:   make(map[*peer]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade error: %v", err)
		return
	}

	p := &peer{
		ws:   ws,
		send: make(chan []byte, sendBacklog),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	log.Infof("client connected from %s (%d total)", r.RemoteAddr, n)

	defer func() {
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		p.close()
		log.Infof("client %s disconnected", r.RemoteAddr)
	}()

	go h.writeLoop(p)

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("read error: %v", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !h.handler.HandleTitle(string(data)) {
			log.Debugf("ignored frame from %s", r.RemoteAddr)
		}
	}
}

func (h *Hub) writeLoop(p *peer) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				p.close()
				return
			}
		case <-ping.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		}
	}
}

// Push broadcasts ev to every client. A client whose backlog is full misses
// the event.
func (h *Hub) Push(ev bridge.Event) {
	data, err := bridge.MarshalEvent(ev)
	if err != nil {
		log.Warnf("dropping event %q: %v", ev.Name, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		select {
		case p.send <- data:
		case <-p.done:
		default:
			log.Warnf("client backlog full, dropping %q", ev.Name)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.close()
	}
}
