package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/auth"
)

// maxUploadBytes bounds one upload request body.
const maxUploadBytes = 32 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeUnknownAction(w http.ResponseWriter, action string) {
	apierr.WriteJSON(w, apierr.InvalidInput("server.images", fmt.Errorf("unknown action %q", action)))
}

// handleList serves GET /images?action=list: one page of the caller's
// images with labels and derivative status.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierr.WriteJSON(w, apierr.InvalidInput("server.list", fmt.Errorf("invalid limit %q", raw)))
			return
		}
		limit = n
	}

	result, err := s.images.ListImages(r.Context(), subject, q.Get("cursor"), limit)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDelete serves DELETE /images?action=delete&key={id}. Deleting an
// image that is already gone is reported as success with a not-found body,
// so retries of a delete are safe and indistinguishable from the first call.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	key := r.URL.Query().Get("key")
	if key == "" {
		apierr.WriteJSON(w, apierr.InvalidInput("server.delete", errors.New("missing key parameter")))
		return
	}
	// A bare image ID refers to the caller's own namespace.
	if !strings.Contains(key, "/") {
		key = subject + "/" + key
	}

	err := s.images.DeleteImage(r.Context(), subject, key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"deleted": key})
	case apierr.IsNotFound(err):
		writeJSON(w, http.StatusOK, map[string]string{"deleted": key, "status": "not_found"})
	default:
		apierr.WriteJSON(w, err)
	}
}

// handleUpload serves POST /images. The body is either a multipart form
// with a "file" part or the raw image bytes with the filename in the
// X-Filename header.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			apierr.WriteJSON(w, apierr.InvalidInput("server.upload", fmt.Errorf("reading multipart file: %w", err)))
			return
		}
		defer file.Close()

		result, err := s.images.Upload(r.Context(), subject, header.Filename, file, header.Size)
		if err != nil {
			apierr.WriteJSON(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
		return
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		filename = "image"
	}
	result, err := s.images.Upload(r.Context(), subject, filename, r.Body, r.ContentLength)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
