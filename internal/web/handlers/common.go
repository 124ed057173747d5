package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ImageResponse is the API representation of a stored fingerprint.
type ImageResponse struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Tags      []string  `json:"tags"`
	Signature string    `json:"signature,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toImageResponse(rec database.ImageRecord) ImageResponse {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return ImageResponse{
		ID:        rec.ID,
		Path:      rec.Path,
		Hash:      fingerprint.FormatHash(rec.Hash),
		Tags:      tags,
		Signature: rec.Signature,
		UpdatedAt: rec.UpdatedAt,
	}
}

// idParam parses the {id} URL parameter.
func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
