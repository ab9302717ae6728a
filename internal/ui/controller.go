package ui

import (
	"maps"
	"sync"

	"github.com/petervdpas/lens/internal/bridge"
)

// DefaultHostname is shown until the host reports the real one.
const DefaultHostname = "unknown"

// State is the view state bound by a renderer.
type State struct {
	Hostname  string         `json:"hostname"`
	LongTasks map[string]any `json:"long_tasks"`
}

// Emitter is the outbound half of the bridge as seen by the controller.
type Emitter interface {
	Emit(args ...any)
}

// Controller is the page view model. State changes only inside loop cycles;
// host events enter through Deliver, user actions go out through the emitter.
type Controller struct {
	loop    *Loop
	emitter Emitter

	mu    sync.RWMutex
	state State

	detach []func()
}

// NewController builds a controller bound to loop and emitter. Call Init once
// the host side is listening.
func NewController(loop *Loop, emitter Emitter) *Controller {
	if loop == nil {
		loop = NewLoop()
	}
	return &Controller{
		loop:    loop,
		emitter: emitter,
		state: State{
			Hostname:  DefaultHostname,
			LongTasks: make(map[string]any),
		},
	}
}

// Loop returns the update loop the controller mutates state in.
func (c *Controller) Loop() *Loop { return c.loop }

// Init asks the host for its hostname; the answer arrives as update-config.
func (c *Controller) Init() {
	c.emit(bridge.CommandGetHostname)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{
		Hostname:  c.state.Hostname,
		LongTasks: maps.Clone(c.state.LongTasks),
	}
}

// Watch calls fn with a fresh snapshot after every digest.
func (c *Controller) Watch(fn func(State)) (cancel func()) {
	cancel = c.loop.Watch(func() { fn(c.Snapshot()) })
	c.mu.Lock()
	c.detach = append(c.detach, cancel)
	c.mu.Unlock()
	return cancel
}

// AddDetach registers fn to run on Close, typically the removal of a
// transport listener attached at construction.
func (c *Controller) AddDetach(fn func()) {
	c.mu.Lock()
	c.detach = append(c.detach, fn)
	c.mu.Unlock()
}

// Close detaches watchers and listeners.
func (c *Controller) Close() {
	c.mu.Lock()
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

// Deliver merges a host event into the update loop. It is safe to call from
// any goroutine; inside a running cycle the event is handled before the cycle
// ends.
func (c *Controller) Deliver(ev bridge.Event) {
	c.loop.Post(func() { c.Dispatch(ev) })
}

// Dispatch routes a host event to its handler. Payloads are not validated;
// unknown events are ignored. Call it from inside a cycle.
func (c *Controller) Dispatch(ev bridge.Event) {
	switch ev.Name {
	case bridge.EventLongTaskProgress:
		c.OnLongTaskProgress(ev.StringArg(0), ev.Arg(1))
	case bridge.EventLongTaskComplete:
		c.OnLongTaskComplete(ev.StringArg(0), ev.Arg(1))
	case bridge.EventUpdateConfig:
		c.OnUpdateConfig(ev.StringArg(0))
	default:
		log.Debugf("ignoring event %q", ev.Name)
	}
}

// OnLongTaskProgress records the latest progress for a task.
func (c *Controller) OnLongTaskProgress(taskID string, progress any) {
	c.mu.Lock()
	c.state.LongTasks[taskID] = progress
	c.mu.Unlock()
}

// OnLongTaskComplete records the final progress. Completed tasks stay in the
// map exactly like running ones.
func (c *Controller) OnLongTaskComplete(taskID string, progress any) {
	c.mu.Lock()
	c.state.LongTasks[taskID] = progress
	c.mu.Unlock()
}

// OnUpdateConfig stores the hostname pushed by the host.
func (c *Controller) OnUpdateConfig(hostname string) {
	log.Infof("hostname: %s", hostname)
	c.mu.Lock()
	c.state.Hostname = hostname
	c.mu.Unlock()
}

// SetHostname is the input binding for the hostname field. Any goroutine may
// call it.
func (c *Controller) SetHostname(hostname string) {
	c.loop.Post(func() {
		c.mu.Lock()
		c.state.Hostname = hostname
		c.mu.Unlock()
	})
}

// UpdateHostname sends the current hostname to the host.
func (c *Controller) UpdateHostname() {
	c.emit(bridge.CommandUpdateHostname, c.Snapshot().Hostname)
}

// StartLongTask asks the host to start a long task.
func (c *Controller) StartLongTask() {
	c.emit(bridge.CommandStartLongTask)
}

// CloseApp asks the host to close the application.
func (c *Controller) CloseApp() {
	c.emit(bridge.CommandClose)
}

func (c *Controller) emit(args ...any) {
	if c.emitter == nil {
		log.Warnf("no emitter, dropping %v", args[0])
		return
	}
	c.emitter.Emit(args...)
}
