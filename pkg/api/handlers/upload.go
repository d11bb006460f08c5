// Package handlers implements the REST endpoints of the ingestion API.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/romstack/romstack/pkg/fault"
	"github.com/romstack/romstack/pkg/upload"
)

// UploadHandler exposes the upload session lifecycle.
type UploadHandler struct {
	coord         *upload.Coordinator
	maxChunkBytes int64
}

// NewUploadHandler creates the upload endpoints.
func NewUploadHandler(coord *upload.Coordinator, maxChunkBytes int64) *UploadHandler {
	return &UploadHandler{coord: coord, maxChunkBytes: maxChunkBytes}
}

type initiateRequest struct {
	FileName       string `json:"file_name"`
	DeclaredSize   int64  `json:"declared_size"`
	DeclaredDigest string `json:"declared_digest,omitempty"`
	ChunkSize      int64  `json:"chunk_size"`
	MimeHint       string `json:"mime_hint,omitempty"`
}

// Initiate handles POST /upload/initiate.
func (h *UploadHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.FileName == "" {
		BadRequest(w, "file_name is required")
		return
	}

	up, err := h.coord.Initiate(r.Context(), upload.InitiateRequest{
		FileName:       req.FileName,
		DeclaredSize:   req.DeclaredSize,
		DeclaredDigest: req.DeclaredDigest,
		ChunkSize:      req.ChunkSize,
		MimeHint:       req.MimeHint,
	})
	if err != nil {
		Fail(w, err)
		return
	}
	Created(w, up)
}

// Chunk handles POST /upload/chunk/{id}/{index} with a raw octet-stream body.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		BadRequest(w, "chunk index must be an integer")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Fail(w, fault.Newf(fault.KindChunkSizeMismatch,
				"chunk body exceeds the %d byte limit", h.maxChunkBytes))
			return
		}
		BadRequest(w, "failed to read chunk body")
		return
	}

	result, err := h.coord.ReceiveChunk(r.Context(), uploadID, index, data)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, result)
}

// Status handles GET /upload/status/{id}.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.coord.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, status)
}

// Cancel handles DELETE /upload/cancel/{id}.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"upload_id": chi.URLParam(r, "id"), "state": "CANCELLED"})
}
