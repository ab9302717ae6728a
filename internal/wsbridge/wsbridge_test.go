package wsbridge

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/lens/internal/bridge"
	"github.com/petervdpas/lens/internal/host"
	"github.com/petervdpas/lens/internal/ui"
)

func startHub(t *testing.T, app *host.App) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(app)
	detach := app.AttachSink(hub)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		detach()
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8720":          "ws://127.0.0.1:8720/ws",
		"http://localhost:1":      "ws://localhost:1/ws",
		"https://example.org/":    "wss://example.org/ws",
		"ws://localhost:1/custom": "ws://localhost:1/custom",
	}
	for in, want := range cases {
		got, err := URL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := URL("ftp://x")
	assert.Error(t, err)
}

func TestClientFramesReachHost(t *testing.T) {
	app := host.New("test")
	got := make(chan []any, 1)
	app.On("update-hostname", func(args ...any) { got <- args })

	hub, srv := startHub(t, app)
	c := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	bridge.NewEmitter(c).Emit("update-hostname", "box1")

	select {
	case args := <-got:
		assert.Equal(t, []any{"box1"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("command not received")
	}
}

func TestHostEventsReachClient(t *testing.T) {
	app := host.New("test")
	hub, srv := startHub(t, app)
	c := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan bridge.Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, func(ev bridge.Event) { events <- ev }) }()

	app.Emit(bridge.EventUpdateConfig, "myhost")

	select {
	case ev := <-events:
		assert.Equal(t, bridge.EventUpdateConfig, ev.Name)
		assert.Equal(t, []any{"myhost"}, ev.Args)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return")
	}
}

func TestRoundTripUpdatesController(t *testing.T) {
	app := host.New("test")
	app.On(bridge.CommandGetHostname, func(...any) {
		app.Emit(bridge.EventUpdateConfig, "remote-box")
	})
	hub, srv := startHub(t, app)
	c := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctl := ui.NewController(nil, bridge.NewEmitter(c))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Listen(ctx, ctl.Deliver)

	ctl.Init()

	require.Eventually(t, func() bool {
		return ctl.Snapshot().Hostname == "remote-box"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	app := host.New("test")
	hub, srv := startHub(t, app)

	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() { app.Emit("nobody-listens") })
}

func TestBroadcastToManyClients(t *testing.T) {
	app := host.New("test")
	hub, srv := startHub(t, app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 3
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		c := dial(t, srv)
		var once sync.Once
		go c.Listen(ctx, func(bridge.Event) { once.Do(wg.Done) })
	}
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 5*time.Millisecond)

	app.Emit("hello")

	finished := make(chan struct{})
	go func() { wg.Wait(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("not every client received the event")
	}
}
