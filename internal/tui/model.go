// Package tui renders the page controller in a terminal.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/petervdpas/lens/internal/ui"
)

type stateMsg ui.State

type closedMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	idStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Width(10)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Model is the bubbletea model bound to a controller.
type Model struct {
	title   string
	ctl     *ui.Controller
	input   textinput.Model
	bar     progress.Model
	state   ui.State
	editing bool
}

func NewModel(title string, ctl *ui.Controller) Model {
	in := textinput.New()
	in.Placeholder = "hostname"
	in.CharLimit = 253
	in.Width = 32

	st := ctl.Snapshot()
	in.SetValue(st.Hostname)

	return Model{
		title: title,
		ctl:   ctl,
		input: in,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		state: st,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = ui.State(msg)
		if !m.editing {
			m.input.SetValue(m.state.Hostname)
		}
		return m, nil

	case closedMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		w := msg.Width - 16
		if w > 60 {
			w = 60
		}
		if w > 10 {
			m.bar.Width = w
		}
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "e", "tab":
			m.editing = true
			return m, m.input.Focus()
		case "u":
			m.ctl.UpdateHostname()
		case "s":
			m.ctl.StartLongTask()
		case "c":
			m.ctl.CloseApp()
		}
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.editing = false
		m.input.Blur()
		m.ctl.SetHostname(m.input.Value())
		m.ctl.UpdateHostname()
		return m, nil
	case tea.KeyEsc:
		m.editing = false
		m.input.Blur()
		m.input.SetValue(m.state.Hostname)
		m.ctl.SetHostname(m.state.Hostname)
		return m, nil
	case tea.KeyCtrlC:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.ctl.SetHostname(m.input.Value())
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Hostname "))
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	ids := make([]string, 0, len(m.state.LongTasks))
	for id := range m.state.LongTasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		b.WriteString(labelStyle.Render("No long tasks"))
		b.WriteString("\n")
	}
	for _, id := range ids {
		p := toFloat(m.state.LongTasks[id])
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		line := idStyle.Render(short) + m.bar.ViewAs(p)
		if p >= 1 {
			line += " " + doneStyle.Render("done")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.editing {
		b.WriteString(helpStyle.Render("enter: save • esc: cancel"))
	} else {
		b.WriteString(helpStyle.Render("e: edit hostname • u: update • s: start long task • c: close app • q: quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func toFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case fmt.Stringer:
		fmt.Sscan(n.String(), &f)
	case string:
		fmt.Sscan(n, &f)
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
