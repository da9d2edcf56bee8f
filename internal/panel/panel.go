package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// assets returns the page files: dir when it is an existing directory,
// the embedded copy otherwise.
func assets(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: embedded web assets missing: %v", err))
	}
	return webFS
}

// Handler serves the control page from dir, or from the copy built into
// the binary when dir is empty or missing. Editing files under dir takes
// effect on the next reload.
//
// Extensionless paths that match no file get index.html so bookmarked
// routes still open the page. A missing asset such as /app.v2.js is a 404.
func Handler(dir string) http.Handler {
	files := assets(dir)
	fileServer := http.FileServerFS(files)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := path.Clean("/" + r.URL.Path)[1:]
		if name != "" && path.Ext(name) == "" {
			if _, err := fs.Stat(files, name); err != nil {
				r2 := r.Clone(r.Context())
				r2.URL.Path = "/"
				fileServer.ServeHTTP(w, r2)
				return
			}
		}

		fileServer.ServeHTTP(w, r)
	})
}

// ConfigScript renders the script the page loads to find the realtime
// endpoint.
func ConfigScript(realtimePath string) []byte {
	return fmt.Appendf(nil, "window.FLEETLINK = { realtimePath: %q };\n", realtimePath)
}
