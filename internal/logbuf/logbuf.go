// Package logbuf keeps the recent log lines in memory and serves them over
// HTTP as JSON and as a server-sent event stream.
package logbuf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/util"
)

const defaultLines = 500

// zap's ISO8601 encoder layout
const tsLayout = "2006-01-02T15:04:05.000Z0700"

type Entry struct {
	TS     time.Time `json:"ts"`
	Level  string    `json:"level,omitempty"`
	Logger string    `json:"logger,omitempty"`
	Msg    string    `json:"msg"`
}

// Buffer is an io.Writer that splits its input into lines. JSON lines as
// written by go-log are decoded; anything else is kept verbatim.
type Buffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[Entry]
	subs    map[chan Entry]struct{}
	partial bytes.Buffer
}

func New(lines int) *Buffer {
	if lines <= 0 {
		lines = defaultLines
	}
	return &Buffer{
		entries: util.NewRingBuffer[Entry](lines),
		subs:    make(map[chan Entry]struct{}),
	}
}

// Capture routes every go-log logger into b until the returned function is
// called.
func (b *Buffer) Capture() (stop func()) {
	r := logging.NewPipeReader(logging.PipeFormat(logging.JSONOutput))
	go io.Copy(b, r)
	return func() { r.Close() }
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)
		if strings.TrimSpace(line) == "" {
			continue
		}

		e := parseLine(line)
		b.entries.Push(e)
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
				// slow subscriber
			}
		}
	}
	return len(p), nil
}

func parseLine(line string) Entry {
	var raw struct {
		TS     string `json:"ts"`
		Level  string `json:"level"`
		Logger string `json:"logger"`
		Msg    string `json:"msg"`
	}
	if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &raw) == nil && raw.Msg != "" {
		ts, err := time.Parse(tsLayout, raw.TS)
		if err != nil {
			ts = time.Now()
		}
		return Entry{TS: ts, Level: raw.Level, Logger: raw.Logger, Msg: raw.Msg}
	}
	return Entry{TS: time.Now(), Msg: line}
}

func (b *Buffer) Snapshot() []Entry {
	return b.entries.Snapshot()
}

// Last returns up to n of the newest entries.
func (b *Buffer) Last(n int) []Entry {
	return b.entries.Last(n)
}

func (b *Buffer) Subscribe() (ch chan Entry, cancel func()) {
	ch = make(chan Entry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// GET /api/logs[?limit=N]
func (b *Buffer) ServeJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := -1
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(b.Last(limit))
}

// GET /api/logs/stream, tail only
func (b *Buffer) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(e)
			fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
