package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteDataEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeData(w, http.StatusOK, map[string]int{"height": 5})

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success=true, got envelope %+v", env)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, errors.New("bad request"))

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Success {
		t.Fatalf("expected success=false for an error response")
	}
	if env.Error != "bad request" {
		t.Fatalf("expected error message 'bad request', got %q", env.Error)
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	var dest struct{ X int }
	if err := decodeJSON(req, &dest); err == nil {
		t.Fatalf("expected an error decoding malformed JSON")
	}
}

func TestDecodeJSONPopulatesStruct(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"x": 7}`))
	var dest struct {
		X int `json:"x"`
	}
	if err := decodeJSON(req, &dest); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if dest.X != 7 {
		t.Fatalf("expected x=7, got %d", dest.X)
	}
}
