package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediavault/internal/models"
)

func TestWriteAccepted(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAccepted(rec, "JOB1")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type mismatch: %q", ct)
	}
	var resp models.JobCreatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if resp.JobID != "JOB1" {
		t.Fatalf("job id mismatch: %q", resp.JobID)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusConflict, codeSyncInProgress, "a sync is already running", map[string]any{"mode": "full"})

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if resp.Error.Code != string(codeSyncInProgress) {
		t.Fatalf("code mismatch: %q", resp.Error.Code)
	}
	if resp.Error.Message == "" || resp.Error.Details["mode"] != "full" {
		t.Fatalf("envelope mismatch: %+v", resp.Error)
	}
}

func TestDecodeJSONStrict(t *testing.T) {
	type payload struct {
		Mode string `json:"mode"`
	}

	newReq := func(body string) (*httptest.ResponseRecorder, *http.Request) {
		return httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	}

	w, r := newReq(`{"mode":"full"}`)
	var p payload
	if err := decodeJSON(w, r, &p); err != nil {
		t.Fatalf("valid body: %v", err)
	}
	if p.Mode != "full" {
		t.Fatalf("mode mismatch: %q", p.Mode)
	}

	w, r = newReq(`{"mode":"full","bogus":1}`)
	if err := decodeJSON(w, r, &payload{}); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}

	w, r = newReq(`{"mode":"full"}{"mode":"incremental"}`)
	if err := decodeJSON(w, r, &payload{}); err == nil {
		t.Fatal("expected trailing content to be rejected")
	}

	w, r = newReq(`not json`)
	if err := decodeJSON(w, r, &payload{}); err == nil {
		t.Fatal("expected malformed body to be rejected")
	}
}
