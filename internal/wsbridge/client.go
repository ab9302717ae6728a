package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/lens/internal/bridge"
)

// Path is where servers mount the hub.
const Path = "/ws"

// Client is a remote page: it sends bridge titles and receives events.
type Client struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

var _ bridge.Transport = (*Client)(nil)

// URL turns a server address such as "http://127.0.0.1:8720" or
// "127.0.0.1:8720" into the hub's websocket URL.
func URL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", addr)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = Path
	}
	return u.String(), nil
}

// Dial connects to a hub.
func Dial(ctx context.Context, addr string) (*Client, error) {
	wsURL, err := URL(addr)
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return &Client{ws: ws}, nil
}

// Send writes one bridge title frame.
func (c *Client) Send(msg string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Listen delivers events to fn until the connection closes or ctx ends.
// It returns nil on a clean shutdown.
func (c *Client) Listen(ctx context.Context, fn func(bridge.Event)) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		ev, err := bridge.UnmarshalEvent(data)
		if err != nil {
			log.Debugf("skipping frame: %v", err)
			continue
		}
		fn(ev)
	}
}

// Close sends a close frame and drops the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}
