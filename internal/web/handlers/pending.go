package handlers

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/database"
)

// PendingResponse lists outstanding hash jobs.
type PendingResponse struct {
	Count int           `json:"count"`
	Items []PendingItem `json:"items"`
}

// PendingItem is one outstanding job.
type PendingItem struct {
	Path       string    `json:"path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// PendingHandler serves the pending job table.
type PendingHandler struct {
	store database.PendingStore
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewPendingHandler creates a new pending handler
func NewPendingHandler(store database.PendingStore, log logrus.FieldLogger) *PendingHandler {
	return &PendingHandler{store: store, log: log, now: time.Now}
}

// List returns pending entries, optionally only those older than the
// ?older_than= duration (for example "1h").
func (h *PendingHandler) List(w http.ResponseWriter, r *http.Request) {
	var age time.Duration
	if s := r.URL.Query().Get("older_than"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			respondError(w, http.StatusBadRequest, "older_than must be a non-negative duration")
			return
		}
		age = d
	}

	entries, err := h.store.ListPending(r.Context(), h.now().Add(-age))
	if err != nil {
		h.log.WithError(err).Error("failed to list pending images")
		respondError(w, http.StatusInternalServerError, "failed to list pending images")
		return
	}

	resp := PendingResponse{Count: len(entries), Items: make([]PendingItem, 0, len(entries))}
	for _, p := range entries {
		resp.Items = append(resp.Items, PendingItem{Path: p.Path, EnqueuedAt: p.EnqueuedAt})
	}
	respondJSON(w, http.StatusOK, resp)
}
