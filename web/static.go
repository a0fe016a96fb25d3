// ABOUTME: Serves the front-end verbatim from the static root, with index.html for "/".
// ABOUTME: Paths are confined to the root; directories, dotfiles, and missing files are 404.
package web

import (
	"bytes"
	"io"
	"io/fs"
	"net/http"
	"strings"
)

// handleIndex serves the configured entry page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, r, s.indexFile)
}

// handleStatic serves the file named by the request path.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, r, strings.TrimPrefix(r.URL.Path, "/"))
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, name string) {
	if !fs.ValidPath(name) || hasDotSegment(name) {
		http.NotFound(w, r)
		return
	}

	f, err := s.assets.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
		return
	}

	// Non-seekable filesystems (e.g. some fs.FS wrappers) are copied as-is.
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(data))
}

// hasDotSegment reports whether any path element is hidden (".env", ".git/...").
func hasDotSegment(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
