package host

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/lens/internal/bridge"
)

func TestBusOnAndOff(t *testing.T) {
	b := NewBus()
	var got []any
	off := b.On("x", func(args ...any) { got = append(got, args...) })

	assert.Equal(t, 1, b.Emit("x", 1, 2))
	off()
	assert.Equal(t, 0, b.Emit("x", 3))

	assert.Equal(t, []any{1, 2}, got)
	assert.False(t, b.Has("x"))
}

func TestBusOnce(t *testing.T) {
	b := NewBus()
	n := 0
	b.Once("x", func(...any) { n++ })

	b.Emit("x")
	b.Emit("x")

	assert.Equal(t, 1, n)
}

func TestBusOrderAndAny(t *testing.T) {
	b := NewBus()
	var order []string
	b.On("x", func(...any) { order = append(order, "first") })
	b.On("x", func(...any) { order = append(order, "second") })
	b.OnAny(func(name string, args ...any) { order = append(order, "any:"+name) })

	b.Emit("x")
	b.Emit("y")

	assert.Equal(t, []string{"first", "second", "any:x", "any:y"}, order)
}

func TestBusPanicDoesNotStopOthers(t *testing.T) {
	b := NewBus()
	ran := false
	b.On("x", func(...any) { panic("boom") })
	b.On("x", func(...any) { ran = true })

	assert.NotPanics(t, func() { b.Emit("x") })
	assert.True(t, ran)
}

func TestHandlerMayRegisterDuringEmit(t *testing.T) {
	b := NewBus()
	b.On("x", func(...any) {
		b.On("x", func(...any) {})
	})
	assert.NotPanics(t, func() { b.Emit("x") })
	assert.Equal(t, 2, b.Emit("x"))
}

func TestHandleTitleDispatches(t *testing.T) {
	a := New("test")
	var got []any
	a.On("update-hostname", func(args ...any) { got = args })

	assert.True(t, a.HandleTitle(`_BR::{"name":"update-hostname","args":["box1"]}`))
	assert.Equal(t, []any{"box1"}, got)
}

func TestHandleTitleIgnoresNoise(t *testing.T) {
	a := New("test")
	n := 0
	a.OnAny(func(string, ...any) { n++ })

	assert.False(t, a.HandleTitle("Lens"))
	assert.False(t, a.HandleTitle("_BR::{broken"))
	assert.Zero(t, n)
}

func TestDocumentObserverEndToEnd(t *testing.T) {
	a := New("test")
	doc := bridge.NewDocument("Lens")
	doc.OnTitleChange(func(title string) { a.HandleTitle(title) })

	closed := false
	a.On("close", func(...any) { closed = true })

	bridge.NewEmitter(bridge.TitleTransport{Target: doc}).Emit("close")

	assert.True(t, closed)
	assert.Equal(t, "Lens", doc.Title())
}

func TestEmitReachesSinks(t *testing.T) {
	a := New("test")
	var mu sync.Mutex
	var got []bridge.Event
	detach := a.AttachSink(SinkFunc(func(ev bridge.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))
	other := 0
	a.AttachSink(SinkFunc(func(bridge.Event) { other++ }))
	require.Equal(t, 2, a.Sinks())

	a.Emit("update-config", "myhost")
	detach()
	a.Emit("update-config", "ignored")

	require.Len(t, got, 1)
	assert.Equal(t, "update-config", got[0].Name)
	assert.Equal(t, []any{"myhost"}, got[0].Args)
	assert.Equal(t, 2, other)
	assert.Equal(t, 1, a.Sinks())
}

func TestCloseIsIdempotent(t *testing.T) {
	a := New("test")
	n := 0
	a.On(EventClose, func(...any) { n++ })

	a.Close()
	a.Close()

	assert.Equal(t, 1, n)
	select {
	case <-a.Done():
	default:
		t.Fatal("done not closed")
	}
}
