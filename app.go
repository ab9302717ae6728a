// app.go
package main

import (
	"context"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/petervdpas/lens/internal/app"
	"github.com/petervdpas/lens/internal/bridge"
	"github.com/petervdpas/lens/internal/host"
	"github.com/petervdpas/lens/internal/sdk"
)

// EventChannel is the Wails event name host events are pushed on. lens.js
// subscribes to it when it runs inside the desktop window.
const EventChannel = "lens:event"

// Window commands handled by the desktop shell.
const (
	CommandToggleMaximize   = "window-toggle-maximize"
	CommandToggleFullscreen = "window-toggle-fullscreen"
	CommandOpenURL          = "open-url"

	EventWindowMaximized    = "window-maximized"
	EventWindowUnmaximized  = "window-unmaximized"
	EventWindowFullscreen   = "window-fullscreen"
	EventWindowUnfullscreen = "window-unfullscreen"
)

// App is the Wails binding. The page calls TitleChanged with every transient
// title it sets; host events come back through the Wails event channel.
type App struct {
	rt *app.Runtime

	mu      sync.RWMutex
	ctx     context.Context
	loaded  bool
	offs    []func()
	stopped bool
}

func NewApp(rt *app.Runtime) *App { return &App{rt: rt} }

func (a *App) startup(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	h := a.rt.App
	a.offs = append(a.offs,
		h.AttachSink(host.SinkFunc(a.push)),
		h.On(CommandToggleMaximize, func(...any) { a.toggleMaximize() }),
		h.On(CommandToggleFullscreen, func(...any) { a.toggleFullscreen() }),
		h.On(CommandOpenURL, a.openURL),
		h.On(host.EventClose, func(...any) { a.quit() }),
	)
	log.Infof("desktop window started for %s", h.Name())
}

func (a *App) domReady(ctx context.Context) {
	a.mu.Lock()
	first := !a.loaded
	a.loaded = true
	a.mu.Unlock()

	if first {
		a.rt.App.Trigger(host.EventLoaded)
	}
}

func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	a.stopped = true
	offs := a.offs
	a.offs = nil
	a.mu.Unlock()

	for _, off := range offs {
		off()
	}
	log.Info("desktop window closed, stopping host")
	a.rt.Close()
}

// TitleChanged receives the page title after every change. Bridge titles are
// dispatched to the host; everything else is ignored.
func (a *App) TitleChanged(title string) bool {
	return a.rt.App.HandleTitle(title)
}

// AppName is the configured application name.
func (a *App) AppName() string {
	return a.rt.App.Name()
}

func (a *App) wailsCtx() (context.Context, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ctx, a.ctx != nil && !a.stopped
}

func (a *App) push(ev bridge.Event) {
	ctx, ok := a.wailsCtx()
	if !ok {
		return
	}
	runtime.EventsEmit(ctx, EventChannel, ev)
}

func (a *App) toggleMaximize() {
	ctx, ok := a.wailsCtx()
	if !ok {
		return
	}
	runtime.WindowToggleMaximise(ctx)
	if runtime.WindowIsMaximised(ctx) {
		a.rt.App.Emit(EventWindowMaximized)
	} else {
		a.rt.App.Emit(EventWindowUnmaximized)
	}
}

func (a *App) toggleFullscreen() {
	ctx, ok := a.wailsCtx()
	if !ok {
		return
	}
	if runtime.WindowIsFullscreen(ctx) {
		runtime.WindowUnfullscreen(ctx)
		a.rt.App.Emit(EventWindowUnfullscreen)
		return
	}
	runtime.WindowFullscreen(ctx)
	a.rt.App.Emit(EventWindowFullscreen)
}

func (a *App) openURL(args ...any) {
	ctx, ok := a.wailsCtx()
	if !ok || len(args) == 0 {
		return
	}
	url, _ := args[0].(string)
	if url == "" {
		return
	}
	runtime.BrowserOpenURL(ctx, url)
}

func (a *App) quit() {
	ctx, ok := a.wailsCtx()
	if !ok {
		return
	}
	runtime.Quit(ctx)
}

func runDesktopApp(e *env, serve bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := e.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if serve {
		listenAddr, url := app.NormalizeLocalAddr(e.cfg.Server.HTTPAddr)
		if _, err := rt.Serve(listenAddr); err != nil {
			return err
		}
		log.Infof("websocket bridge on %s", url)
	}

	a := NewApp(rt)
	cfg := e.cfg.App

	startState := options.Normal
	if cfg.StartMaximized {
		startState = options.Maximised
	}

	return wails.Run(&options.App{
		Title:            cfg.Name,
		Width:            cfg.Width,
		Height:           cfg.Height,
		WindowStartState: startState,

		AssetServer: &assetserver.Options{
			Handler: sdk.Handler(),
		},

		OnStartup:  a.startup,
		OnDomReady: a.domReady,
		OnShutdown: a.shutdown,
		Bind:       []any{a},

		Debug: options.Debug{
			OpenInspectorOnStartup: cfg.Inspector,
		},
	})
}
