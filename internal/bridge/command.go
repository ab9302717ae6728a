// Package bridge implements the page <-> host signalling format.
//
// Outbound (page -> host) a Command is written to a title-like channel as
// "_BR::" followed by compact JSON. Inbound (host -> page) an Event uses the
// same {name, args} shape.
package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Prefix marks a title value that crosses the bridge.
const Prefix = "_BR::"

// Command is a named instruction sent to the host.
type Command struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// NewCommand builds a command from positional arguments: the first one is the
// name and the rest become args in order. ok is false when args is empty.
func NewCommand(args ...any) (cmd Command, ok bool) {
	if len(args) == 0 {
		return Command{}, false
	}
	var name string
	switch v := args[0].(type) {
	case string:
		name = v
	case nil:
		// Same spelling as String(null) in lens.js.
		name = "null"
	default:
		name = fmt.Sprint(v)
	}
	rest := make([]any, len(args)-1)
	copy(rest, args[1:])
	return Command{Name: name, Args: rest}, true
}

// Encode returns the bridge message for cmd: Prefix + compact JSON.
func Encode(cmd Command) (string, error) {
	if cmd.Args == nil {
		cmd.Args = []any{}
	}
	b, err := marshalCompact(cmd)
	if err != nil {
		return "", fmt.Errorf("encode command %q: %w", cmd.Name, err)
	}
	return Prefix + string(b), nil
}

// ParseTitle decodes a title written by the page. Titles without the prefix or
// with undecodable JSON are rejected. A missing name becomes "" and missing
// args become an empty list.
func ParseTitle(title string) (Command, bool) {
	if !strings.HasPrefix(title, Prefix) {
		return Command{}, false
	}
	var raw struct {
		Name *string `json:"name"`
		Args []any   `json:"args"`
	}
	if err := json.Unmarshal([]byte(title[len(Prefix):]), &raw); err != nil {
		return Command{}, false
	}
	cmd := Command{Args: raw.Args}
	if raw.Name != nil {
		cmd.Name = *raw.Name
	}
	if cmd.Args == nil {
		cmd.Args = []any{}
	}
	return cmd, true
}

// marshalCompact encodes v like JSON.stringify: no indentation and no HTML
// escaping of <, > and &.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
