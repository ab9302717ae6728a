// Package sdk serves the page side of the bridge: lens.js and the sample
// app page. Both are minified once at startup.
package sdk

import (
	"bytes"
	"embed"
	"net/http"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

var log = logging.Logger("sdk")

// Served file names.
const (
	ScriptName = "lens.js"
	PageName   = "app.html"
)

//go:embed lens.js app.html
var rawFS embed.FS

var mediaTypes = map[string]string{
	ScriptName: "application/javascript",
	PageName:   "text/html",
}

var (
	minified = make(map[string][]byte)
	loadedAt = time.Now()
)

func init() {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/html", html.Minify)

	for name, mediaType := range mediaTypes {
		raw, err := rawFS.ReadFile(name)
		if err != nil {
			continue
		}
		out, err := m.Bytes(mediaType, raw)
		if err != nil {
			log.Warnf("minify warning: %s: %v (serving unminified)", name, err)
			minified[name] = raw
			continue
		}
		minified[name] = out
	}
}

// File returns the minified content of a served file.
func File(name string) ([]byte, bool) {
	b, ok := minified[name]
	return b, ok
}

// Raw returns the embedded source of a served file.
func Raw(name string) ([]byte, bool) {
	b, err := rawFS.ReadFile(name)
	return b, err == nil
}

// Handler serves "/" as the app page and "/lens.js". It is also the asset
// handler of the desktop window.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "" || name == "index.html" {
			name = PageName
		}
		data, ok := minified[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", mediaTypes[name]+"; charset=utf-8")
		http.ServeContent(w, r, name, loadedAt, bytes.NewReader(data))
	})
}
