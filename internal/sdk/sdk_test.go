package sdk

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesAreMinified(t *testing.T) {
	for _, name := range []string{ScriptName, PageName} {
		raw, ok := Raw(name)
		require.True(t, ok, name)
		min, ok := File(name)
		require.True(t, ok, name)
		assert.NotEmpty(t, min)
		assert.Less(t, len(min), len(raw), name)
	}
}

func TestScriptKeepsBridgeContract(t *testing.T) {
	min, _ := File(ScriptName)
	s := string(min)
	for _, want := range []string{"_BR::", "get-hostname", "update-hostname", "start-long-task", "long-task-progress", "update-config", "TitleChanged", "lens:event"} {
		assert.Contains(t, s, want)
	}
}

func TestHandler(t *testing.T) {
	h := Handler()

	for path, ctype := range map[string]string{
		"/":           "text/html; charset=utf-8",
		"/index.html": "text/html; charset=utf-8",
		"/lens.js":    "application/javascript; charset=utf-8",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, ctype, rec.Header().Get("Content-Type"), path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "lens.js"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.css", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScriptSafeApplyCallsDirectlyInsideCycle(t *testing.T) {
	raw, ok := Raw(ScriptName)
	require.True(t, ok)
	s := string(raw)
	assert.Contains(t, s, `if (phase === "digest") dirty = true;`)
	assert.NotContains(t, s, "pending.push")
}
