package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/photo-dedup/internal/database"
)

func TestRespondJSON_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"BadRequest", http.StatusBadRequest},
		{"NotFound", http.StatusNotFound},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, nil)

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			if recorder.Body.Len() != 0 {
				t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
			}
		})
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertContentType(t, recorder, "application/json")
	assertJSONError(t, recorder, "something went wrong")
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest("GET", "/api/v1/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestToImageResponse(t *testing.T) {
	resp := toImageResponse(database.ImageRecord{ID: 3, Path: "/a.jpg", Hash: 0xFF})
	if resp.Hash != "00000000000000ff" {
		t.Errorf("expected zero-padded hex hash, got %q", resp.Hash)
	}
	if resp.Tags == nil {
		t.Error("tags must never encode as null")
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["signature"]; ok {
		t.Error("empty signature should be omitted")
	}
}
