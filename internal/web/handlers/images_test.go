package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestImagesHandler_Get(t *testing.T) {
	repo, ids := seedRepository(t, map[string]uint64{"/photos/a.jpg": 0xABCD})
	handler := NewImagesHandler(repo, quietLogger())

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"found", strconv.FormatInt(ids["/photos/a.jpg"], 10), http.StatusOK},
		{"missing", "999", http.StatusNotFound},
		{"not a number", "abc", http.StatusBadRequest},
		{"zero", "0", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/images/"+tc.id, nil), map[string]string{"id": tc.id})
			recorder := httptest.NewRecorder()
			handler.Get(recorder, req)

			assertStatusCode(t, recorder, tc.status)
			if tc.status != http.StatusOK {
				return
			}
			var resp ImageResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Path != "/photos/a.jpg" || resp.Hash != "000000000000abcd" {
				t.Errorf("unexpected image %+v", resp)
			}
		})
	}
}

func TestImagesHandler_Lookup(t *testing.T) {
	repo, _ := seedRepository(t, map[string]uint64{"/photos/a.jpg": 1})
	handler := NewImagesHandler(repo, quietLogger())

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"exact path", "?path=/photos/a.jpg", http.StatusOK},
		{"unclean path", "?path=/photos/x/../a.jpg", http.StatusOK},
		{"unknown path", "?path=/photos/b.jpg", http.StatusNotFound},
		{"missing parameter", "", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Lookup(recorder, httptest.NewRequest("GET", "/api/v1/images"+tc.query, nil))
			assertStatusCode(t, recorder, tc.status)
		})
	}
}

func TestImagesHandler_StoreError(t *testing.T) {
	repo, _ := seedRepository(t, nil)
	repo.FindError = errors.New("db down")
	handler := NewImagesHandler(repo, quietLogger())

	recorder := httptest.NewRecorder()
	handler.Lookup(recorder, httptest.NewRequest("GET", "/api/v1/images?path=/a.jpg", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "failed to load image")
}
