package handlers

import (
	"net/http"
	"strconv"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/services"
)

// NoteHandler serves note, folder and action CRUD. Every mutation is queued
// for the next sync by the service layer.
type NoteHandler struct {
	svc *services.Service
}

// NewNoteHandler creates a NoteHandler.
func NewNoteHandler(svc *services.Service) *NoteHandler {
	return &NoteHandler{svc: svc}
}

// noteFilter reads list parameters from the query string.
func noteFilter(r *http.Request) (db.NoteFilter, error) {
	q := r.URL.Query()
	f := db.NoteFilter{
		FolderID:        q.Get("folder_id"),
		Tags:            db.TagsFromCommaString(q.Get("tags")),
		Status:          models.SyncStatus(q.Get("status")),
		IncludeDeleted:  q.Get("include_deleted") == "true",
		IncludeArchived: q.Get("include_archived") == "true",
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	f.Limit = perPage
	f.Offset = (page - 1) * perPage

	for key, dst := range map[string]*int64{"updated_from": &f.UpdatedFrom, "updated_to": &f.UpdatedTo} {
		if v := q.Get(key); v != "" {
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return f, apperrors.Newf(apperrors.ErrInvalid, "%s must be epoch milliseconds", key)
			}
			*dst = ms
		}
	}
	return f, nil
}

// ListNotes handles GET /notes. A q parameter switches to full-text search.
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	f, err := noteFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if query := r.URL.Query().Get("q"); query != "" {
		results, err := h.svc.SearchNotes(r.Context(), query, f)
		if err != nil {
			writeError(w, err)
			return
		}
		if results == nil {
			results = []*db.SearchResult{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": results, "total": len(results)})
		return
	}

	notes, err := h.svc.ListNotes(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if notes == nil {
		notes = []*models.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":    notes,
		"total":    len(notes),
		"per_page": f.Limit,
		"offset":   f.Offset,
	})
}

// CreateNote handles POST /notes.
func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req models.NotePatch
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	n := &models.Note{}
	req.Apply(n)
	created, err := h.svc.CreateNote(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetNote handles GET /notes/{id}.
func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetNote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// UpdateNote handles PATCH /notes/{id}.
func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var patch models.NotePatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	n, err := h.svc.UpdateNote(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DeleteNote handles DELETE /notes/{id}.
func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteNote(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreNote handles POST /notes/{id}/restore.
func (h *NoteHandler) RestoreNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RestoreNote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// ListActions handles GET /notes/{id}/actions.
func (h *NoteHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.svc.GetNote(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	actions, err := h.svc.ListActions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []*models.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": actions, "total": len(actions)})
}

// CreateAction handles POST /notes/{id}/actions.
func (h *NoteHandler) CreateAction(w http.ResponseWriter, r *http.Request) {
	var req models.ActionPatch
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a := &models.Action{}
	req.Apply(a)
	a.NoteID = r.PathValue("id")
	created, err := h.svc.CreateAction(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateAction handles PATCH /actions/{id}.
func (h *NoteHandler) UpdateAction(w http.ResponseWriter, r *http.Request) {
	var patch models.ActionPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.svc.UpdateAction(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAction handles DELETE /actions/{id}.
func (h *NoteHandler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAction(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFolders handles GET /folders.
func (h *NoteHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.svc.ListFolders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if folders == nil {
		folders = []*models.Folder{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": folders, "total": len(folders)})
}

// CreateFolder handles POST /folders.
func (h *NoteHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req models.FolderPatch
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f := &models.Folder{}
	req.Apply(f)
	created, err := h.svc.CreateFolder(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateFolder handles PATCH /folders/{id}.
func (h *NoteHandler) UpdateFolder(w http.ResponseWriter, r *http.Request) {
	var patch models.FolderPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	f, err := h.svc.UpdateFolder(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// DeleteFolder handles DELETE /folders/{id}.
func (h *NoteHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteFolder(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
