package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/jobs"
)

// ImagesHandler serves stored fingerprints.
type ImagesHandler struct {
	reader database.ImageReader
	log    logrus.FieldLogger
}

// NewImagesHandler creates a new images handler
func NewImagesHandler(reader database.ImageReader, log logrus.FieldLogger) *ImagesHandler {
	return &ImagesHandler{reader: reader, log: log}
}

// Get returns the record with the given id.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid image id")
		return
	}

	rec, err := h.reader.FindByID(r.Context(), id)
	if err != nil {
		h.log.WithError(err).WithField("id", id).Error("failed to load image")
		respondError(w, http.StatusInternalServerError, "failed to load image")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "image not found")
		return
	}
	respondJSON(w, http.StatusOK, toImageResponse(*rec))
}

// Lookup returns the record stored for the ?path= query parameter.
func (h *ImagesHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	rec, err := h.reader.FindByPath(r.Context(), jobs.Key(path))
	if err != nil {
		h.log.WithError(err).WithField("path", sanitizeForLog(path)).Error("failed to look up image")
		respondError(w, http.StatusInternalServerError, "failed to load image")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "image not found")
		return
	}
	respondJSON(w, http.StatusOK, toImageResponse(*rec))
}
