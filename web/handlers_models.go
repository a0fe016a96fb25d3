// ABOUTME: JSON handlers for saving, loading, and listing device layout models.
// ABOUTME: Translates the layout error taxonomy into 400/404/500 responses with an {"error": ...} body.
package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389-research/portviz/layout"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type saveResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
}

// handleSaveModel stores the posted layout document under its deviceType.slug.
func (s *Server) handleSaveModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxModelBytes)

	doc, err := layout.DecodeDocument(r.Body)
	if err != nil {
		switch {
		case isMaxBytesError(err):
			writeError(w, http.StatusRequestEntityTooLarge, "Model data too large (max 10MB)")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "Missing model data")
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid model data: %v", err))
		}
		return
	}

	res, err := s.store.Save(r.Context(), doc)
	if err != nil {
		s.writeStoreError(w, r, "Error saving model", err)
		return
	}

	s.logger.Info("model saved",
		"slug", res.Key,
		"filename", res.Filename,
		"revision", res.Revision,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, http.StatusOK, saveResponse{Success: true, Filename: res.Filename})
}

// handleLoadModel returns the stored layout document for the percent-decoded slug.
func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Load(r.Context(), loadKey(r))
	if err != nil {
		s.writeStoreError(w, r, "Error loading model", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// loadKey percent-decodes the final path segment exactly once. chi matches
// on the decoded path unless RawPath is set, so the param alone may be
// decoded already or not. Malformed escapes are kept literally.
func loadKey(r *http.Request) string {
	escaped := r.URL.EscapedPath()
	segment := escaped[strings.LastIndex(escaped, "/")+1:]
	key, err := url.PathUnescape(segment)
	if err != nil {
		return chi.URLParam(r, "slug")
	}
	return key
}

// handleListModels returns summaries of every stored model, newest first.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	sums, err := s.store.List(r.Context())
	if err != nil {
		s.writeStoreError(w, r, "Error listing models", err)
		return
	}
	writeJSON(w, http.StatusOK, sums)
}

// writeStoreError maps a layout store error to its HTTP status. Server-side
// failures expose the underlying message prefixed with prefix.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	switch {
	case errors.Is(err, layout.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, layout.ErrNotFound):
		writeError(w, http.StatusNotFound, "Model not found")
	default:
		s.logger.Error(prefix,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", prefix, err))
	}
}
