package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/romstack/romstack/pkg/fault"
)

// Response is the standard API envelope. Status is "ok" or "error"; Error and
// ErrorKind are set only on failures so clients can branch on the stable kind.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes a 200 envelope around data.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// Created writes a 201 envelope around data.
func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// BadRequest writes a 400 with a plain message and no kind.
func BadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     msg,
	})
}

// Fail maps an ingestion error onto its HTTP status and writes the envelope.
func Fail(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	writeJSON(w, statusForKind(kind), Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     fault.DetailOf(err),
		ErrorKind: string(kind),
	})
}

// statusForKind is the stable kind-to-status mapping.
func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindExpired:
		return http.StatusGone
	case fault.KindAlreadyIngested,
		fault.KindCancelled,
		fault.KindNotAcceptingChunks,
		fault.KindAlreadyCompleted:
		return http.StatusConflict
	case fault.KindOversizeForPlatform:
		return http.StatusRequestEntityTooLarge
	case fault.KindUnsupportedFormat,
		fault.KindChunkSizeMismatch,
		fault.KindDigestMismatch,
		fault.KindSizeMismatch,
		fault.KindNoRecognizedContent,
		fault.KindArchiveBomb,
		fault.KindPathUnsafe:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody decodes a JSON request body into v, writing a 400 on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}
