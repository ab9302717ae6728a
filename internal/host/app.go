// Package host is the native side of the bridge. It observes titles written
// by the page, turns bridge commands into bus events and pushes events back
// to every attached page.
package host

import (
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/bridge"
)

var log = logging.Logger("host")

// Host-local events triggered by the shell itself.
const (
	EventLoaded = "app.loaded"
	EventClose  = "app.close"
)

// Sink receives events pushed to the page.
type Sink interface {
	Push(ev bridge.Event)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ev bridge.Event)

func (f SinkFunc) Push(ev bridge.Event) { f(ev) }

type sinkEntry struct {
	id   int
	sink Sink
}

// App is a host application: a command bus plus the set of attached pages.
type App struct {
	name string
	bus  *Bus

	mu     sync.RWMutex
	nextID int
	sinks  []sinkEntry

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a host application.
func New(name string) *App {
	return &App{
		name: name,
		bus:  NewBus(),
		done: make(chan struct{}),
	}
}

// Name returns the application name.
func (a *App) Name() string { return a.name }

// On registers a handler for a page command or host-local event.
func (a *App) On(name string, fn Handler) (off func()) { return a.bus.On(name, fn) }

// Once registers a handler for the next occurrence of name.
func (a *App) Once(name string, fn Handler) (off func()) { return a.bus.Once(name, fn) }

// OnAny registers a handler for every command and local event.
func (a *App) OnAny(fn AnyHandler) (off func()) { return a.bus.OnAny(fn) }

// Handles reports whether a dedicated handler exists for name.
func (a *App) Handles(name string) bool { return a.bus.Has(name) }

// Trigger fires a host-local event without involving the page.
func (a *App) Trigger(name string, args ...any) int {
	return a.bus.Emit(name, args...)
}

// HandleTitle is the title-change observer. Titles that do not carry a bridge
// command, or carry one that cannot be decoded, are ignored.
func (a *App) HandleTitle(title string) bool {
	cmd, ok := bridge.ParseTitle(title)
	if !ok {
		if strings.HasPrefix(title, bridge.Prefix) {
			log.Debugf("dropping malformed bridge title %q", title)
		}
		return false
	}
	a.Dispatch(cmd)
	return true
}

// Dispatch fires cmd on the bus.
func (a *App) Dispatch(cmd bridge.Command) {
	log.Debugf("command %q args=%v", cmd.Name, cmd.Args)
	if n := a.bus.Emit(cmd.Name, cmd.Args...); n == 0 {
		log.Debugf("no handler for %q", cmd.Name)
	}
}

// Emit pushes an event to every attached page.
func (a *App) Emit(name string, args ...any) {
	ev := bridge.NewEvent(name, args...)

	a.mu.RLock()
	sinks := make([]sinkEntry, len(a.sinks))
	copy(sinks, a.sinks)
	a.mu.RUnlock()

	for _, s := range sinks {
		s.sink.Push(ev)
	}
}

// AttachSink adds a page and returns a function that detaches it.
func (a *App) AttachSink(s Sink) (detach func()) {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.sinks = append(a.sinks, sinkEntry{id: id, sink: s})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, e := range a.sinks {
			if e.id == id {
				a.sinks = append(a.sinks[:i:i], a.sinks[i+1:]...)
				return
			}
		}
	}
}

// Sinks returns the number of attached pages.
func (a *App) Sinks() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sinks)
}

// Close triggers app.close once and releases Done.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		log.Infof("closing %s", a.name)
		a.Trigger(EventClose)
		close(a.done)
	})
}

// Done is closed once the application has been closed.
func (a *App) Done() <-chan struct{} { return a.done }
