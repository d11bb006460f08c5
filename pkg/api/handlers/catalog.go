package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/catalog/models"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/fault"
	"github.com/romstack/romstack/pkg/platform"
)

// CatalogHandler exposes the ingested library.
type CatalogHandler struct {
	store *store.GORMStore
}

// NewCatalogHandler creates the catalog endpoints.
func NewCatalogHandler(st *store.GORMStore) *CatalogHandler {
	return &CatalogHandler{store: st}
}

type entryList struct {
	Entries []*models.CatalogEntry `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// List handles GET /catalog with platform, q, limit, and offset parameters.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EntryFilter{
		PlatformID: q.Get("platform"),
		Search:     q.Get("q"),
		Limit:      intParam(q.Get("limit"), 50),
		Offset:     intParam(q.Get("offset"), 0),
	}

	entries, total, err := h.store.ListEntries(r.Context(), filter)
	if err != nil {
		Fail(w, fault.Wrap(fault.KindInternal, err))
		return
	}
	OK(w, entryList{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// Get handles GET /catalog/{id}.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrEntryNotFound) {
			Fail(w, fault.New(fault.KindNotFound, "unknown catalog entry"))
			return
		}
		Fail(w, fault.Wrap(fault.KindInternal, err))
		return
	}
	OK(w, entry)
}

// Delete handles DELETE /catalog/{id}: removes both the row and the file.
// Object-store mirrors are left for lifecycle rules to expire.
func (h *CatalogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.store.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrEntryNotFound) {
			Fail(w, fault.New(fault.KindNotFound, "unknown catalog entry"))
			return
		}
		Fail(w, fault.Wrap(fault.KindInternal, err))
		return
	}

	if err := h.store.DeleteEntry(r.Context(), id); err != nil {
		Fail(w, fault.Wrap(fault.KindInternal, err))
		return
	}
	if err := os.Remove(entry.FinalPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Entry removed but file deletion failed",
			"entry_id", id, "path", entry.FinalPath, "error", err.Error())
	}
	OK(w, map[string]string{"entry_id": id, "deleted": "true"})
}

type statsResponse struct {
	Uploads   map[models.UploadState]int64 `json:"uploads"`
	Platforms []store.PlatformRollup       `json:"platforms"`
	History   []*models.PlatformStat       `json:"history,omitempty"`
}

// Stats handles GET /catalog/stats: live rollups plus recent history.
func (h *CatalogHandler) Stats(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.store.CountUploadsByState(r.Context())
	if err != nil {
		Fail(w, fault.Wrap(fault.KindInternal, err))
		return
	}
	rollups, err := h.store.RollupByPlatform(r.Context())
	if err != nil {
		Fail(w, fault.Wrap(fault.KindInternal, err))
		return
	}
	history, err := h.store.ListPlatformStats(r.Context(), 50)
	if err != nil {
		Fail(w, fault.Wrap(fault.KindInternal, err))
		return
	}
	OK(w, statsResponse{Uploads: uploads, Platforms: rollups, History: history})
}

// Platforms handles GET /catalog/platforms: the static registry.
func (h *CatalogHandler) Platforms(w http.ResponseWriter, _ *http.Request) {
	OK(w, platform.All())
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
