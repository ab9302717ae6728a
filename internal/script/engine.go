// Package script runs host commands implemented in Lua. Each *.lua file in
// the scripts directory handles the command named after the file.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

var log = logging.Logger("script")

const defaultTimeout = 5 * time.Second

// ErrNotFound is returned by Call for unknown commands.
var ErrNotFound = errors.New("script: no such command")

// Host is what scripts can reach through the lens table.
type Host interface {
	Name() string
	Emit(name string, args ...any)
	Trigger(name string, args ...any) int
}

type compiled struct {
	proto       *lua.FunctionProto
	description string
	path        string
}

// Info describes a loaded script.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Engine manages compiled scripts and reloads them when files change.
type Engine struct {
	mu      sync.RWMutex
	scripts map[string]*compiled
	dir     string
	timeout time.Duration
	host    Host
	watcher *fsnotify.Watcher
	closed  chan struct{}
	once    sync.Once
}

// NewEngine compiles every script in dir and starts watching it.
func NewEngine(dir string, timeout time.Duration, host Host) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", dir, err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	e := &Engine{
		scripts: make(map[string]*compiled),
		dir:     dir,
		timeout: timeout,
		host:    host,
		watcher: watcher,
		closed:  make(chan struct{}),
	}

	e.scanDir()

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch script dir: %w", err)
	}
	go e.watchLoop()

	log.Infof("engine started, %d script(s) loaded from %s", len(e.scripts), dir)
	return e, nil
}

func (e *Engine) scanDir() {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lua")
		if err := e.compile(name, filepath.Join(e.dir, entry.Name())); err != nil {
			log.Warnf("failed to compile %s: %v", entry.Name(), err)
		}
	}
}

func (e *Engine) compile(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	source := string(data)

	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	e.mu.Lock()
	e.scripts[name] = &compiled{
		proto:       proto,
		description: extractDescription(source),
		path:        path,
	}
	e.mu.Unlock()

	log.Debugf("compiled %q", name)
	return nil
}

// extractDescription returns the first --- comment of a script.
func extractDescription(source string) string {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "---") {
			return strings.TrimSpace(strings.TrimPrefix(line, "---"))
		}
		break
	}
	return ""
}

func (e *Engine) remove(name string) {
	e.mu.Lock()
	delete(e.scripts, name)
	e.mu.Unlock()
	log.Infof("removed script %q", name)
}

func (e *Engine) watchLoop() {
	for {
		select {
		case <-e.closed:
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".lua") {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(event.Name), ".lua")

			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := e.compile(name, event.Name); err != nil {
					log.Warnf("hot reload failed for %s: %v", name, err)
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				e.remove(name)
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher error: %v", err)
		}
	}
}

// Has reports whether a script handles name.
func (e *Engine) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.scripts[name]
	return ok
}

// Commands returns the sorted names of loaded scripts.
func (e *Engine) Commands() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cmds := make([]string, 0, len(e.scripts))
	for name := range e.scripts {
		cmds = append(cmds, name)
	}
	sort.Strings(cmds)
	return cmds
}

// List returns the loaded scripts with their descriptions.
func (e *Engine) List() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Info, 0, len(e.scripts))
	for name, s := range e.scripts {
		out = append(out, Info{Name: name, Description: s.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs handle(args...) of the named script and returns its first result.
func (e *Engine) Call(ctx context.Context, name string, args []any) (any, error) {
	e.mu.RLock()
	s, ok := e.scripts[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.execute(ctx, name, s.proto, args)
}

func (e *Engine) execute(ctx context.Context, name string, proto *lua.FunctionProto, args []any) (any, error) {
	L := newSandboxedVM(e.host, e)
	L.SetContext(ctx)

	var closeOnce sync.Once
	closeL := func() { closeOnce.Do(func() { L.Close() }) }
	defer closeL()

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("load script %s: %w", name, err)
	}

	handleFn := L.GetGlobal("handle")
	if handleFn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script %s has no handle() function", name)
	}

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = goToLua(L, a)
	}

	type result struct {
		val any
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("script panic: %v", r)}
			}
		}()
		if err := L.CallByParam(lua.P{Fn: handleFn, NRet: 1, Protect: true}, largs...); err != nil {
			ch <- result{err: err}
			return
		}
		ret := L.Get(-1)
		L.Pop(1)
		ch <- result{val: luaToGo(ret)}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("script %s timed out", name)
		}
		return r.val, r.err
	case <-ctx.Done():
		// The VM checks its context, so the call unwinds shortly.
		select {
		case <-ch:
		case <-time.After(500 * time.Millisecond):
		}
		return nil, fmt.Errorf("script %s timed out", name)
	}
}

// Close stops the watcher.
func (e *Engine) Close() {
	e.once.Do(func() {
		close(e.closed)
		e.watcher.Close()
		log.Infof("engine stopped")
	})
}
