// Package app assembles a Lens host: the command bus, task manager, storage,
// scripts and the websocket hub, plus the built-in commands.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/bridge"
	"github.com/petervdpas/lens/internal/config"
	"github.com/petervdpas/lens/internal/host"
	"github.com/petervdpas/lens/internal/logbuf"
	"github.com/petervdpas/lens/internal/script"
	"github.com/petervdpas/lens/internal/server"
	"github.com/petervdpas/lens/internal/storage"
	"github.com/petervdpas/lens/internal/tasks"
	"github.com/petervdpas/lens/internal/ui"
	"github.com/petervdpas/lens/internal/util"
	"github.com/petervdpas/lens/internal/wsbridge"
)

var log = logging.Logger("app")

// Events emitted for script commands.
const (
	EventScriptResult = "script-result"
	EventScriptError  = "script-error"
)

type Options struct {
	Dir     string
	CfgPath string
	Cfg     config.Config
	Version string
	Logs    *logbuf.Buffer
}

// Runtime is a running host.
type Runtime struct {
	Dir     string
	CfgPath string
	Version string

	App     *host.App
	Hub     *wsbridge.Hub
	Tasks   *tasks.Manager
	DB      *storage.DB
	Scripts *script.Engine
	Logs    *logbuf.Buffer

	mu  sync.RWMutex
	cfg config.Config

	ctx       context.Context
	cancel    context.CancelFunc
	calls     sync.WaitGroup
	closeOnce sync.Once
}

// New builds a runtime from opt. Background work stops when ctx ends or
// Close is called.
func New(ctx context.Context, opt Options) (*Runtime, error) {
	cfg := opt.Cfg
	ctx, cancel := context.WithCancel(ctx)

	r := &Runtime{
		Dir:     opt.Dir,
		CfgPath: opt.CfgPath,
		Version: opt.Version,
		Logs:    opt.Logs,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	logBanner(opt.Dir, opt.CfgPath)

	db, err := storage.Open(util.ResolvePath(opt.Dir, cfg.Storage.Dir))
	if err != nil {
		cancel()
		return nil, err
	}
	if n, err := db.MarkInterrupted(); err != nil {
		log.Warnf("task journal: %v", err)
	} else if n > 0 {
		log.Infof("%d task(s) from a previous run marked interrupted", n)
	}
	if err := db.SetMeta("last_start", time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warnf("meta: %v", err)
	}
	r.DB = db

	r.App = host.New(cfg.App.Name)
	r.Hub = wsbridge.NewHub(r.App)
	r.App.AttachSink(r.Hub)

	r.Tasks = tasks.NewManager(tasks.Options{
		MaxConcurrent: cfg.Tasks.MaxConcurrent,
		Emitter:       r.App,
		Journal:       db,
	})

	if cfg.Scripts.Enabled {
		eng, err := script.NewEngine(util.ResolvePath(opt.Dir, cfg.Scripts.Dir), cfg.Scripts.Timeout(), r.App)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("start scripts: %w", err)
		}
		r.Scripts = eng
	}

	r.registerBuiltins()

	if opt.CfgPath != "" {
		if err := config.Watch(ctx, opt.CfgPath, r.onConfig); err != nil {
			log.Warnf("config hot reload disabled: %v", err)
		}
	}

	r.App.On(host.EventClose, func(...any) { cancel() })
	return r, nil
}

func (r *Runtime) registerBuiltins() {
	a := r.App

	a.On(bridge.CommandGetHostname, func(...any) {
		a.Emit(bridge.EventUpdateConfig, r.Hostname())
	})

	a.On(bridge.CommandUpdateHostname, func(args ...any) {
		if len(args) == 0 {
			log.Warnf("%s without a hostname", bridge.CommandUpdateHostname)
			return
		}
		h := fmt.Sprint(args[0])
		log.Infof("update hostname: %q", h)
		if err := r.SetHostname(h); err != nil {
			log.Errorf("save hostname: %v", err)
		}
	})

	a.On(bridge.CommandStartLongTask, func(...any) {
		cfg := r.Config()
		id, err := r.Tasks.Add(tasks.Ticker{
			Steps:    cfg.Tasks.Steps,
			Interval: cfg.Tasks.StepInterval(),
		})
		if err != nil {
			log.Warnf("start long task: %v", err)
			return
		}
		log.Debugf("long task %s added", id)
	})

	a.On(bridge.CommandClose, func(...any) { a.Close() })

	if r.Scripts != nil {
		a.OnAny(r.runScript)
	}
}

// runScript handles commands that have no Go handler but a script.
func (r *Runtime) runScript(name string, args ...any) {
	if r.App.Handles(name) || !r.Scripts.Has(name) {
		return
	}
	if r.ctx.Err() != nil {
		return
	}
	r.calls.Add(1)
	go func() {
		defer r.calls.Done()
		out, err := r.Scripts.Call(r.ctx, name, args)
		if err != nil {
			log.Warnf("script %s: %v", name, err)
			r.App.Emit(EventScriptError, name, err.Error())
			return
		}
		if out != nil {
			r.App.Emit(EventScriptResult, name, out)
		}
	}()
}

// Config returns the config currently in effect.
func (r *Runtime) Config() config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Hostname is the configured override, or the OS hostname.
func (r *Runtime) Hostname() string {
	if h := strings.TrimSpace(r.Config().Host.Hostname); h != "" {
		return h
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return ui.DefaultHostname
}

// SetHostname stores h as the hostname override. With a config file the
// watcher announces the change; without one it is announced here.
func (r *Runtime) SetHostname(h string) error {
	if err := r.DB.SetMeta("hostname", h); err != nil {
		log.Warnf("meta: %v", err)
	}
	if r.CfgPath == "" {
		r.onConfig(r.withHostname(h))
		return nil
	}
	_, err := config.Update(r.CfgPath, func(c *config.Config) { c.Host.Hostname = h })
	return err
}

func (r *Runtime) withHostname(h string) config.Config {
	cfg := r.Config()
	cfg.Host.Hostname = h
	return cfg
}

// onConfig installs a reloaded config. Env overrides win over the file, as
// they did at startup.
func (r *Runtime) onConfig(cfg config.Config) {
	config.ApplyEnv(&cfg)
	before := r.Hostname()
	r.mu.Lock()
	prevLevel := r.cfg.Log.Level
	r.cfg = cfg
	r.mu.Unlock()

	if cfg.Log.Level != prevLevel {
		if lvl, err := logging.LevelFromString(cfg.Log.Level); err == nil {
			logging.SetAllLoggers(lvl)
			log.Infof("log level %s", cfg.Log.Level)
		}
	}
	if after := r.Hostname(); after != before {
		r.App.Emit(bridge.EventUpdateConfig, after)
	}
}

// Serve starts the HTTP surface on addr until the runtime closes.
func (r *Runtime) Serve(addr string) (*server.Server, error) {
	s := server.New(addr, server.Deps{
		App:     r.App,
		Hub:     r.Hub,
		Tasks:   r.Tasks,
		DB:      r.DB,
		Logs:    r.Logs,
		Scripts: r.Scripts,
		Version: r.Version,
	})
	if err := s.Start(r.ctx); err != nil {
		return nil, fmt.Errorf("start server: %w", err)
	}
	return s, nil
}

// Done is closed when the host app closes.
func (r *Runtime) Done() <-chan struct{} { return r.App.Done() }

// Wait blocks until ctx ends or the app is closed, then closes the runtime.
func (r *Runtime) Wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-r.Done():
	}
	r.Close()
}

// Close stops everything the runtime started. It is safe to call twice.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		if r.App != nil {
			r.App.Close()
		}
		if r.Tasks != nil {
			r.Tasks.Shutdown()
		}
		r.calls.Wait()
		if r.Scripts != nil {
			r.Scripts.Close()
		}
		if r.Hub != nil {
			r.Hub.Close()
		}
		if r.DB != nil {
			if err := r.DB.Close(); err != nil {
				log.Warnf("close database: %v", err)
			}
		}
		log.Infof("runtime closed")
	})
}
