package logbuf

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSplitsLines(t *testing.T) {
	b := New(10)
	_, err := b.Write([]byte("first\r\n\nsec"))
	require.NoError(t, err)
	_, err = b.Write([]byte("ond\n"))
	require.NoError(t, err)

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first", snap[0].Msg)
	assert.Equal(t, "second", snap[1].Msg)
}

func TestWriteDecodesJSON(t *testing.T) {
	b := New(10)
	line := `{"level":"info","ts":"2026-01-02T03:04:05.000Z","logger":"host","msg":"closing Lens"}` + "\n"
	_, err := b.Write([]byte(line))
	require.NoError(t, err)

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "info", snap[0].Level)
	assert.Equal(t, "host", snap[0].Logger)
	assert.Equal(t, "closing Lens", snap[0].Msg)
	assert.Equal(t, 2026, snap[0].TS.Year())
}

func TestCapacity(t *testing.T) {
	b := New(2)
	b.Write([]byte("a\nb\nc\n"))
	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Msg)
	assert.Equal(t, "c", snap[1].Msg)
}

func TestServeJSON(t *testing.T) {
	b := New(10)
	b.Write([]byte("a\nb\nc\n"))

	rec := httptest.NewRecorder()
	b.ServeJSON(rec, httptest.NewRequest(http.MethodGet, "/api/logs?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Msg)

	rec = httptest.NewRecorder()
	b.ServeJSON(rec, httptest.NewRequest(http.MethodGet, "/api/logs?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	b.ServeJSON(rec, httptest.NewRequest(http.MethodPost, "/api/logs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeSSE(t *testing.T) {
	b := New(10)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))

	// The handler subscribes right after sending headers.
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.subs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	b.Write([]byte("streamed\n"))

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			var e Entry
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
			assert.Equal(t, "streamed", e.Msg)
			return
		}
	}
	t.Fatal("no event received")
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	b := New(1)
	_, cancel := b.Subscribe()
	cancel()
	assert.NotPanics(t, cancel)
}
