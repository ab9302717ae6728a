package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/bridge"
	"github.com/petervdpas/lens/internal/host"
	"github.com/petervdpas/lens/internal/ui"
	"github.com/petervdpas/lens/internal/wsbridge"
)

var log = logging.Logger("tui")

// Local wires a controller to an in-process host. The controller writes its
// bridge titles to a Document whose title observer is the host.
func Local(a *host.App) *ui.Controller {
	doc := bridge.NewDocument(a.Name())
	stopObserving := doc.OnTitleChange(func(title string) { a.HandleTitle(title) })

	ctl := ui.NewController(nil, bridge.NewEmitter(bridge.TitleTransport{Target: doc}))
	detach := a.AttachSink(host.SinkFunc(ctl.Deliver))

	ctl.AddDetach(detach)
	ctl.AddDetach(stopObserving)
	return ctl
}

// Remote wires a controller to a host reached over websocket. done is closed
// when the connection ends.
func Remote(ctx context.Context, addr string) (ctl *ui.Controller, done <-chan struct{}, err error) {
	c, err := wsbridge.Dial(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	ctl = ui.NewController(nil, bridge.NewEmitter(c))

	ch := make(chan struct{})
	go func() {
		defer close(ch)
		if err := c.Listen(ctx, ctl.Deliver); err != nil {
			log.Warnf("connection lost: %v", err)
		}
	}()
	ctl.AddDetach(func() { c.Close() })
	return ctl, ch, nil
}

// Run shows the controller until the user quits, ctx ends or done closes.
func Run(ctx context.Context, title string, ctl *ui.Controller, done <-chan struct{}, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewModel(title, ctl), opts...)

	stop := forwardStates(ctl, p.Send)
	defer stop()

	if done != nil {
		go func() {
			select {
			case <-done:
				p.Send(closedMsg{})
			case <-ctx.Done():
			}
		}()
	}

	ctl.Init()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// forwardStates hands controller snapshots to send from a single goroutine,
// so they arrive in digest order. When send falls behind, older snapshots
// are replaced by the newest one.
func forwardStates(ctl *ui.Controller, send func(tea.Msg)) (stop func()) {
	latest := make(chan ui.State, 1)
	quit := make(chan struct{})
	done := make(chan struct{})

	// Watchers never run concurrently and only the forwarder receives, so
	// the slot is free after the drain.
	unwatch := ctl.Watch(func(s ui.State) {
		select {
		case <-latest:
		default:
		}
		latest <- s
	})

	go func() {
		defer close(done)
		for {
			select {
			case s := <-latest:
				send(stateMsg(s))
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unwatch()
			close(quit)
			<-done
		})
	}
}
