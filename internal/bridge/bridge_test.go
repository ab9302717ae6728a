package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordTitles observes every title write on doc.
func recordTitles(doc *Document) *[]string {
	var seen []string
	doc.OnTitleChange(func(title string) {
		seen = append(seen, title)
	})
	return &seen
}

func TestEmitWithoutArgumentsDoesNothing(t *testing.T) {
	doc := NewDocument("My App")
	seen := recordTitles(doc)

	NewEmitter(TitleTransport{Target: doc}).Emit()

	assert.Empty(t, *seen)
	assert.Equal(t, "My App", doc.Title())
}

func TestEmitNameOnly(t *testing.T) {
	doc := NewDocument("My App")
	seen := recordTitles(doc)

	NewEmitter(TitleTransport{Target: doc}).Emit("close")

	require.Len(t, *seen, 2)
	assert.Equal(t, `_BR::{"name":"close","args":[]}`, (*seen)[0])
	assert.Equal(t, "My App", (*seen)[1])
	assert.Equal(t, "My App", doc.Title())
}

func TestEmitWithArgs(t *testing.T) {
	doc := NewDocument("")
	seen := recordTitles(doc)

	NewEmitter(TitleTransport{Target: doc}).Emit("update-hostname", "box1")

	require.Len(t, *seen, 2)
	assert.Equal(t, `_BR::{"name":"update-hostname","args":["box1"]}`, (*seen)[0])
	assert.Equal(t, "", (*seen)[1])
}

func TestEmitKeepsArgumentOrderAndTypes(t *testing.T) {
	var got []string
	em := NewEmitter(TransportFunc(func(msg string) error {
		got = append(got, msg)
		return nil
	}))

	em.Emit("mix", 1, 2.5, true, nil, []any{"a"}, map[string]any{"k": "<v&>"})

	require.Len(t, got, 1)
	assert.Equal(t, `_BR::{"name":"mix","args":[1,2.5,true,null,["a"],{"k":"<v&>"}]}`, got[0])
}

func TestEmitNonStringName(t *testing.T) {
	var got string
	em := NewEmitter(TransportFunc(func(msg string) error {
		got = msg
		return nil
	}))

	em.Emit(42)

	assert.Equal(t, `_BR::{"name":"42","args":[]}`, got)
}

func TestNilNameMatchesScriptSpelling(t *testing.T) {
	cmd, ok := NewCommand(nil, "x")
	require.True(t, ok)
	assert.Equal(t, "null", cmd.Name)
	assert.Equal(t, []any{"x"}, cmd.Args)

	cmd, ok = NewCommand(true)
	require.True(t, ok)
	assert.Equal(t, "true", cmd.Name)
}

func TestSendPrependsName(t *testing.T) {
	var got string
	em := NewEmitter(TransportFunc(func(msg string) error {
		got = msg
		return nil
	}))

	em.Send("start-long-task")

	assert.Equal(t, `_BR::{"name":"start-long-task","args":[]}`, got)
}

func TestEmitSwallowsTransportErrors(t *testing.T) {
	calls := 0
	em := NewEmitter(TransportFunc(func(string) error {
		calls++
		return errors.New("host gone")
	}))

	assert.NotPanics(t, func() { em.Emit("close") })
	assert.Equal(t, 1, calls)

	assert.NotPanics(t, func() { NewEmitter(nil).Emit("close") })
}

func TestEmitUnencodableArgIsDropped(t *testing.T) {
	calls := 0
	em := NewEmitter(TransportFunc(func(string) error {
		calls++
		return nil
	}))

	em.Emit("bad", make(chan int))

	assert.Zero(t, calls)
}

func TestParseTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		ok    bool
		cmd   string
		nargs int
	}{
		{"plain title", "My App", false, "", 0},
		{"bad json", "_BR::{nope", false, "", 0},
		{"full", `_BR::{"name":"update-hostname","args":["box1"]}`, true, "update-hostname", 1},
		{"missing args", `_BR::{"name":"close"}`, true, "close", 0},
		{"missing name", `_BR::{"args":[1,2]}`, true, "", 2},
		{"empty object", `_BR::{}`, true, "", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd, ok := ParseTitle(tc.title)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.cmd, cmd.Name)
			assert.NotNil(t, cmd.Args)
			assert.Len(t, cmd.Args, tc.nargs)
		})
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	msg, err := Encode(Command{Name: "update-hostname", Args: []any{"box1", 3.0}})
	require.NoError(t, err)

	cmd, ok := ParseTitle(msg)
	require.True(t, ok)
	assert.Equal(t, "update-hostname", cmd.Name)
	assert.Equal(t, []any{"box1", 3.0}, cmd.Args)
}

func TestEventArgs(t *testing.T) {
	ev := NewEvent("long-task-progress", "t1", 0.5)

	assert.Equal(t, "t1", ev.StringArg(0))
	assert.Equal(t, 0.5, ev.Arg(1))
	assert.Nil(t, ev.Arg(2))
	assert.Equal(t, "", ev.StringArg(5))
	assert.Equal(t, "0.5", ev.StringArg(1))
}

func TestEventFrames(t *testing.T) {
	b, err := MarshalEvent(Event{Name: "update-config"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"update-config","args":[]}`, string(b))

	ev, err := UnmarshalEvent([]byte(`{"name":"update-config","args":["myhost"]}`))
	require.NoError(t, err)
	assert.Equal(t, "myhost", ev.StringArg(0))

	_, err = UnmarshalEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestDocumentObserverCancel(t *testing.T) {
	doc := NewDocument("a")
	n := 0
	cancel := doc.OnTitleChange(func(string) { n++ })

	doc.SetTitle("b")
	cancel()
	doc.SetTitle("c")

	assert.Equal(t, 1, n)
	assert.Equal(t, "c", doc.Title())
}

func TestTitleTransportWithoutTarget(t *testing.T) {
	assert.ErrorIs(t, TitleTransport{}.Send("x"), ErrNoTransport)
}
