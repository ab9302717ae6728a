package bridge

import (
	"errors"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bridge")

// ErrNoTransport is logged when an emitter has nothing to send through.
var ErrNoTransport = errors.New("bridge: no transport")

// Transport delivers one encoded bridge message to the host.
type Transport interface {
	Send(msg string) error
}

// TransportFunc adapts a plain function to the Transport interface.
type TransportFunc func(msg string) error

func (f TransportFunc) Send(msg string) error { return f(msg) }

// Emitter turns commands into bridge messages. Delivery is fire-and-forget:
// failures are logged and never reported back to the caller.
type Emitter struct {
	transport Transport
}

// NewEmitter returns an emitter writing to t.
func NewEmitter(t Transport) *Emitter {
	return &Emitter{transport: t}
}

// Emit sends a command built from positional arguments. The first argument is
// the command name. Calling Emit with no arguments at all does nothing.
func (e *Emitter) Emit(args ...any) {
	cmd, ok := NewCommand(args...)
	if !ok {
		return
	}
	e.deliver(cmd)
}

// Send emits name with args.
func (e *Emitter) Send(name string, args ...any) {
	e.Emit(append([]any{name}, args...)...)
}

func (e *Emitter) deliver(cmd Command) {
	msg, err := Encode(cmd)
	if err != nil {
		log.Warnf("emit %q: %v", cmd.Name, err)
		return
	}
	if e.transport == nil {
		log.Warnf("emit %q: %v", cmd.Name, ErrNoTransport)
		return
	}
	if err := e.transport.Send(msg); err != nil {
		log.Warnf("emit %q: %v", cmd.Name, err)
		return
	}
	log.Debugf("emitted %s", msg)
}
