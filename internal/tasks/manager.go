package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/bridge"
)

var log = logging.Logger("tasks")

// DefaultMaxConcurrent is the number of tasks allowed to run at once.
const DefaultMaxConcurrent = 5

// historyLimit caps how many finished tasks List remembers.
const historyLimit = 100

// ErrClosed is returned by Add after Shutdown.
var ErrClosed = errors.New("tasks: manager closed")

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusInterrupted Status = "interrupted"
)

// Finished reports whether s is a terminal state.
func (s Status) Finished() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled, StatusInterrupted:
		return true
	}
	return false
}

// Emitter receives the page-facing task events.
type Emitter interface {
	Emit(name string, args ...any)
}

// Journal records task lifecycle. Errors are logged and otherwise ignored.
type Journal interface {
	TaskQueued(id, name string) error
	TaskStarted(id string) error
	TaskProgress(id string, progress any) error
	TaskFinished(id string, status Status, message string) error
}

// Info describes a task for listings.
type Info struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	Progress any       `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
	Queued   time.Time `json:"queued"`
	Started  time.Time `json:"started,omitzero"`
	Finished time.Time `json:"finished,omitzero"`
}

type entry struct {
	info   Info
	task   Task
	cancel context.CancelFunc
}

// Options configures a Manager. Emitter and Journal may be nil.
type Options struct {
	MaxConcurrent int
	Emitter       Emitter
	Journal       Journal
}

// Manager runs tasks with at most MaxConcurrent in flight. Tasks beyond the
// cap wait in a pending list that is resumed from its end, newest first.
type Manager struct {
	limit   int
	emitter Emitter
	journal Journal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	pending []string
	running int
	closed  bool
}

// NewManager creates an idle manager.
func NewManager(opts Options) *Manager {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		limit:   limit,
		emitter: opts.Emitter,
		journal: opts.Journal,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// Add starts t, or queues it when the manager is at capacity.
func (m *Manager) Add(t Task) (string, error) {
	id := uuid.NewString()
	e := &entry{
		task: t,
		info: Info{ID: id, Name: t.Name(), Status: StatusPending, Queued: time.Now()},
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	m.journalf("queue", func(j Journal) error { return j.TaskQueued(id, e.info.Name) })

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.journalf("finish", func(j Journal) error { return j.TaskFinished(id, StatusCancelled, "") })
		return "", ErrClosed
	}
	m.entries[id] = e
	m.order = append(m.order, id)
	if m.running < m.limit {
		log.Infof("starting %s (%s)", id, e.info.Name)
		m.startLocked(e)
	} else {
		log.Infof("queueing %s (%s), %d running", id, e.info.Name, m.running)
		m.pending = append(m.pending, id)
	}
	m.mu.Unlock()
	return id, nil
}

// Cancel stops a running task or drops a pending one.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.info.Status.Finished() {
		m.mu.Unlock()
		return false
	}
	if e.info.Status == StatusRunning {
		cancel := e.cancel
		m.mu.Unlock()
		cancel()
		return true
	}
	m.removePendingLocked(id)
	m.finishLocked(e, StatusCancelled, "")
	m.mu.Unlock()

	m.journalf("finish", func(j Journal) error { return j.TaskFinished(id, StatusCancelled, "") })
	return true
}

// Get returns the info for one task.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// List returns every known task in the order it was added.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].info)
	}
	return out
}

// Running returns the number of tasks in flight.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Pending returns the number of queued tasks.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Shutdown cancels every task and waits for running ones to return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.closed = true
	dropped := m.pending
	m.pending = nil
	for _, id := range dropped {
		m.finishLocked(m.entries[id], StatusCancelled, "")
	}
	m.mu.Unlock()

	for _, id := range dropped {
		m.journalf("finish", func(j Journal) error { return j.TaskFinished(id, StatusCancelled, "") })
	}

	m.cancel()
	m.wg.Wait()
	log.Debugf("task manager stopped")
}

func (m *Manager) startLocked(e *entry) {
	ctx, cancel := context.WithCancel(m.ctx)
	e.cancel = cancel
	e.info.Status = StatusRunning
	e.info.Started = time.Now()
	m.running++
	m.wg.Add(1)
	go m.run(ctx, e)
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer e.cancel()

	id := e.info.ID
	m.journalf("start", func(j Journal) error { return j.TaskStarted(id) })

	var last any
	report := func(progress any) {
		m.mu.Lock()
		e.info.Progress = progress
		m.mu.Unlock()
		last = progress
		m.emit(bridge.EventLongTaskProgress, id, progress)
		m.journalf("progress", func(j Journal) error { return j.TaskProgress(id, progress) })
	}

	err := runTask(ctx, e.task, report)

	status, message := StatusDone, ""
	switch {
	case err == nil:
		m.emit(bridge.EventLongTaskComplete, id, last)
	case ctx.Err() != nil:
		status = StatusCancelled
		log.Infof("task %s cancelled", id)
	default:
		status, message = StatusFailed, err.Error()
		log.Warnf("task %s failed: %v", id, err)
		m.emit(bridge.EventLongTaskError, id, message)
	}
	m.journalf("finish", func(j Journal) error { return j.TaskFinished(id, status, message) })

	m.mu.Lock()
	m.running--
	m.finishLocked(e, status, message)
	log.Debugf("%s finished. %d running, %d pending", id, m.running, len(m.pending))
	if !m.closed && m.running < m.limit && len(m.pending) > 0 {
		next := m.pending[len(m.pending)-1]
		m.pending = m.pending[:len(m.pending)-1]
		log.Infof("starting pending %s", next)
		m.startLocked(m.entries[next])
	}
	m.mu.Unlock()
}

func runTask(ctx context.Context, t Task, report func(any)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx, report)
}

func (m *Manager) finishLocked(e *entry, status Status, message string) {
	e.info.Status = status
	e.info.Error = message
	e.info.Finished = time.Now()
	m.pruneLocked()
}

// pruneLocked forgets the oldest finished tasks beyond historyLimit.
func (m *Manager) pruneLocked() {
	finished := 0
	for _, id := range m.order {
		if m.entries[id].info.Status.Finished() {
			finished++
		}
	}
	if finished <= historyLimit {
		return
	}
	drop := finished - historyLimit
	kept := m.order[:0]
	for _, id := range m.order {
		if drop > 0 && m.entries[id].info.Status.Finished() {
			delete(m.entries, id)
			drop--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *Manager) removePendingLocked(id string) {
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Manager) emit(name string, args ...any) {
	if m.emitter != nil {
		m.emitter.Emit(name, args...)
	}
}

func (m *Manager) journalf(op string, fn func(Journal) error) {
	if m.journal == nil {
		return
	}
	if err := fn(m.journal); err != nil {
		log.Warnf("journal %s: %v", op, err)
	}
}
