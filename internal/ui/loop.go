// Package ui holds the page controller: a reactive update loop and the view
// model that host events are merged into.
package ui

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ui")

// digestTTL bounds how many digest rounds a single cycle may run when
// watchers keep queueing more work.
const digestTTL = 10

var (
	// ErrInProgress is returned by Apply while a cycle is running.
	ErrInProgress = errors.New("ui: update cycle already in progress")

	// ErrDigestTTL is logged when watchers keep a cycle busy for too long.
	ErrDigestTTL = fmt.Errorf("ui: %d digest iterations reached", digestTTL)
)

// Phase is the state of the update loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseApply
	PhaseDigest
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseApply:
		return "apply"
	case PhaseDigest:
		return "digest"
	default:
		return "unknown"
	}
}

type watcher struct {
	id int
	fn func()
}

// Loop runs update cycles. A cycle applies one function, then digests: every
// watcher is called so bound views can re-render. Only one cycle runs at a
// time; it runs on the goroutine that started it.
type Loop struct {
	mu       sync.Mutex
	phase    Phase
	pending  []func()
	dirty    bool
	nextID   int
	watchers []watcher
}

// NewLoop returns an idle loop.
func NewLoop() *Loop {
	return &Loop{}
}

// Phase reports the current loop phase.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Apply runs fn in a new cycle. It fails with ErrInProgress when a cycle is
// already running; use SafeApply from code that may run inside one, and Post
// from other goroutines.
func (l *Loop) Apply(fn func()) error {
	l.mu.Lock()
	if l.phase != PhaseIdle {
		l.mu.Unlock()
		return ErrInProgress
	}
	l.phase = PhaseApply
	l.mu.Unlock()

	l.cycle(fn)
	return nil
}

// SafeApply runs fn inside an update cycle without ever nesting cycles.
// When a cycle is in its apply or digest phase, fn is called directly and
// returns before SafeApply does (a nil fn is ignored); a call made during the
// digest phase also schedules one more digest round. Otherwise a new cycle
// starts here; a nil fn then still triggers a digest.
//
// The direct branch assumes the caller is the code running the cycle: an
// applied function, a watcher, or something they call. Goroutines that may
// race with a running cycle use Post instead.
func (l *Loop) SafeApply(fn func()) {
	l.mu.Lock()
	switch l.phase {
	case PhaseApply, PhaseDigest:
		if fn == nil {
			l.mu.Unlock()
			return
		}
		if l.phase == PhaseDigest {
			l.dirty = true
		}
		l.mu.Unlock()
		l.invoke(fn)
		return
	}
	l.phase = PhaseApply
	l.mu.Unlock()

	l.cycle(fn)
}

// Post is SafeApply for callers outside the running cycle. While another
// cycle is in progress fn is queued and runs in that cycle before it ends;
// otherwise a new cycle starts on the caller's goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.phase == PhaseApply || l.phase == PhaseDigest {
		if fn != nil {
			l.pending = append(l.pending, fn)
		}
		l.mu.Unlock()
		return
	}
	l.phase = PhaseApply
	l.mu.Unlock()

	l.cycle(fn)
}

// Watch registers fn to run on every digest and returns a function that
// removes it.
func (l *Loop) Watch(fn func()) (cancel func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.watchers = append(l.watchers, watcher{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, w := range l.watchers {
			if w.id == id {
				l.watchers = append(l.watchers[:i], l.watchers[i+1:]...)
				return
			}
		}
	}
}

// cycle expects the caller to have moved the loop into PhaseApply.
func (l *Loop) cycle(fn func()) {
	if fn != nil {
		l.invoke(fn)
	}
	for {
		l.drain()

		l.setPhase(PhaseDigest)
		for round := 0; ; round++ {
			if round == digestTTL {
				log.Error(ErrDigestTTL)
				break
			}
			for _, w := range l.snapshotWatchers() {
				l.invoke(w.fn)
			}
			more := l.drain()
			if l.takeDirty() {
				more = true
			}
			if !more {
				break
			}
		}

		l.mu.Lock()
		if len(l.pending) == 0 {
			l.phase = PhaseIdle
			l.dirty = false
			l.mu.Unlock()
			return
		}
		l.phase = PhaseApply
		l.mu.Unlock()
	}
}

// drain runs queued functions until the queue is empty and reports whether
// anything ran.
func (l *Loop) drain() bool {
	ran := false
	for {
		l.mu.Lock()
		queued := l.pending
		l.pending = nil
		l.mu.Unlock()

		if len(queued) == 0 {
			return ran
		}
		for _, fn := range queued {
			l.invoke(fn)
		}
		ran = true
	}
}

func (l *Loop) takeDirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.dirty
	l.dirty = false
	return d
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

func (l *Loop) snapshotWatchers() []watcher {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]watcher, len(l.watchers))
	copy(out, l.watchers)
	return out
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in update cycle: %v", r)
		}
	}()
	fn()
}
