package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grimoireapp/grimoire-server/internal/http/response"
	"github.com/grimoireapp/grimoire-server/internal/id"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
)

// handleServeImage streams a stored cover. Responses carry a content-hash ETag
// and honour If-None-Match.
// GET /images/{ref}
func (s *Server) handleServeImage(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSuffix(chi.URLParam(r, "ref"), ".jpg")
	if !id.HasPrefix(ref, id.PrefixCover) {
		s.writeError(w, notFound("image not found"))
		return
	}

	data, err := s.covers.Get(ref)
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			s.writeError(w, notFound("image not found"))
			return
		}
		s.logger.Error("Failed to read cover", "image_ref", ref, "error", err)
		s.writeStatus(w, http.StatusInternalServerError, "failed to read image")
		return
	}

	etag := `"` + images.ContentHash(data) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=86400")

	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write cover", "image_ref", ref, "error", err)
	}
}

func etagMatches(header, etag string) bool {
	for candidate := range strings.SplitSeq(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// handleHealth reports liveness.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, response.Fields{"status": "ok"}, s.logger)
}
