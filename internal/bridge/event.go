package bridge

import (
	"encoding/json"
	"fmt"
)

// Well-known event names pushed by the host.
const (
	EventLongTaskProgress = "long-task-progress"
	EventLongTaskComplete = "long-task-complete"
	EventLongTaskError    = "long-task-error"
	EventUpdateConfig     = "update-config"
)

// Well-known command names sent by the page.
const (
	CommandGetHostname    = "get-hostname"
	CommandUpdateHostname = "update-hostname"
	CommandStartLongTask  = "start-long-task"
	CommandClose          = "close"
)

// Event is a host -> page message.
type Event struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// NewEvent builds an event; nil args are normalized to an empty list.
func NewEvent(name string, args ...any) Event {
	if args == nil {
		args = []any{}
	}
	return Event{Name: name, Args: args}
}

// Arg returns the i-th argument, or nil when it is absent.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// StringArg returns the i-th argument as a string. Strings are returned as is,
// absent arguments as "" and anything else through fmt.Sprint.
func (e Event) StringArg(i int) string {
	switch v := e.Arg(i).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// MarshalEvent encodes e as compact JSON.
func MarshalEvent(e Event) ([]byte, error) {
	if e.Args == nil {
		e.Args = []any{}
	}
	return marshalCompact(e)
}

// UnmarshalEvent decodes a JSON event frame.
func UnmarshalEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Args == nil {
		e.Args = []any{}
	}
	return e, nil
}
