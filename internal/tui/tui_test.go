package tui

import (
	"fmt"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/lens/internal/bridge"
	"github.com/petervdpas/lens/internal/host"
	"github.com/petervdpas/lens/internal/ui"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]any
}

func (r *recorder) Emit(args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		out = append(out, c[0].(string))
	}
	return out
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestKeysTriggerActions(t *testing.T) {
	rec := &recorder{}
	m := NewModel("Lens", ui.NewController(nil, rec))

	for _, k := range []string{"u", "s", "c"} {
		next, _ := m.Update(key(k))
		m = next.(Model)
	}

	assert.Equal(t, []string{
		bridge.CommandUpdateHostname,
		bridge.CommandStartLongTask,
		bridge.CommandClose,
	}, rec.names())
}

func TestQuit(t *testing.T) {
	m := NewModel("Lens", ui.NewController(nil, &recorder{}))
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	_, cmd = m.Update(closedMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestEditHostname(t *testing.T) {
	rec := &recorder{}
	ctl := ui.NewController(nil, rec)
	m := NewModel("Lens", ctl)

	next, _ := m.Update(key("e"))
	m = next.(Model)
	require.True(t, m.editing)

	m.input.SetValue("")
	next, _ = m.Update(key("box7"))
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	assert.False(t, m.editing)
	assert.Equal(t, "box7", ctl.Snapshot().Hostname)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []any{bridge.CommandUpdateHostname, "box7"}, rec.calls[0])
}

func TestEscapeRestoresHostname(t *testing.T) {
	m := NewModel("Lens", ui.NewController(nil, &recorder{}))
	next, _ := m.Update(key("e"))
	m = next.(Model)
	next, _ = m.Update(key("zz"))
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)

	assert.False(t, m.editing)
	assert.Equal(t, ui.DefaultHostname, m.input.Value())
}

func TestViewShowsState(t *testing.T) {
	m := NewModel("Lens", ui.NewController(nil, &recorder{}))
	next, _ := m.Update(stateMsg(ui.State{
		Hostname:  "box1",
		LongTasks: map[string]any{"0123456789abcdef": 1.0, "fedcba": 0.5},
	}))
	m = next.(Model)

	v := m.View()
	assert.Contains(t, v, "Lens")
	assert.Contains(t, v, "box1")
	assert.Contains(t, v, "01234567")
	assert.Contains(t, v, "fedcba")
	assert.Contains(t, v, "done")
}

func TestViewWithoutTasks(t *testing.T) {
	m := NewModel("Lens", ui.NewController(nil, &recorder{}))
	assert.Contains(t, m.View(), "No long tasks")
}

func TestToFloat(t *testing.T) {
	assert.Equal(t, 0.5, toFloat(0.5))
	assert.Equal(t, 1.0, toFloat(3))
	assert.Equal(t, 0.0, toFloat(-1.0))
	assert.Equal(t, 0.25, toFloat("0.25"))
	assert.Equal(t, 0.0, toFloat(map[string]any{}))
}

func TestLocalWiring(t *testing.T) {
	a := host.New("Lens")
	a.On(bridge.CommandGetHostname, func(...any) {
		a.Emit(bridge.EventUpdateConfig, "local-box")
	})
	var updated []any
	a.On(bridge.CommandUpdateHostname, func(args ...any) { updated = args })

	ctl := Local(a)
	ctl.Init()
	assert.Equal(t, "local-box", ctl.Snapshot().Hostname)

	ctl.SetHostname("renamed")
	ctl.UpdateHostname()
	assert.Equal(t, []any{"renamed"}, updated)

	ctl.Close()
	assert.Equal(t, 0, a.Sinks())
	a.Emit(bridge.EventUpdateConfig, "ignored")
	assert.Equal(t, "renamed", ctl.Snapshot().Hostname)
}

func TestForwardedStatesEndOnLatestSnapshot(t *testing.T) {
	ctl := ui.NewController(nil, &recorder{})
	m := NewModel("Lens", ctl)

	var mu sync.Mutex
	stop := forwardStates(ctl, func(msg tea.Msg) {
		mu.Lock()
		defer mu.Unlock()
		next, _ := m.Update(msg)
		m = next.(Model)
	})
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", w)
			for i := 1; i <= 50; i++ {
				ctl.Deliver(bridge.NewEvent(bridge.EventLongTaskProgress, id, float64(i)/50))
			}
			ctl.Deliver(bridge.NewEvent(bridge.EventLongTaskComplete, id, 1.0))
		}(w)
	}
	wg.Wait()

	want := ctl.Snapshot()
	require.Len(t, want.LongTasks, 8)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual(want, m.state)
	}, 5*time.Second, 10*time.Millisecond)

	for id, p := range want.LongTasks {
		assert.Equal(t, 1.0, p, id)
	}
}
