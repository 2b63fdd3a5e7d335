package handlers

import (
	"net/http"
	"time"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/models"
	syncpkg "github.com/glidenotes/notesync/internal/sync"
	"github.com/glidenotes/notesync/internal/sync/queue"
	"github.com/glidenotes/notesync/internal/sync/scheduler"
)

// SyncHandler serves sync status, triggers and the failure ledger.
type SyncHandler struct {
	engine    syncpkg.SyncEngineInterface
	scheduler *scheduler.Scheduler
	queue     *queue.Queue
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine syncpkg.SyncEngineInterface, sched *scheduler.Scheduler, q *queue.Queue) *SyncHandler {
	return &SyncHandler{engine: engine, scheduler: sched, queue: q}
}

// statusResponse is returned by GET /sync/status.
type statusResponse struct {
	scheduler.Status
	Hydrated  bool       `json:"hydrated"`
	Failures  int        `json:"failures"`
	NextRetry *time.Time `json:"next_retry,omitempty"`
}

// GetStatus handles GET /sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.scheduler.GetStatus(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := statusResponse{Status: status}
	if resp.Hydrated, err = h.engine.IsHydrated(ctx); err != nil {
		writeError(w, err)
		return
	}
	if resp.Failures, err = h.queue.CountFailures(ctx); err != nil {
		writeError(w, err)
		return
	}
	next, err := h.queue.NextScheduled(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if !next.IsZero() {
		resp.NextRetry = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncNow handles POST /sync/now. It waits for the cycle to finish.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if res.AlreadyInProgress {
		writeError(w, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Hydrate handles POST /sync/hydrate.
func (h *SyncHandler) Hydrate(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Hydrate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if res.AlreadyInProgress {
		writeError(w, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetOnline handles POST /sync/online with {"online": bool}. Clients report
// connectivity changes here; regaining it starts a sync.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "online is required"))
		return
	}
	h.scheduler.SetOnlineStatus(*body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *body.Online})
}

// ListPending handles GET /sync/pending.
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.QueuedOperation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": ops, "total": len(ops)})
}

// ListFailures handles GET /sync/failures.
func (h *SyncHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := h.queue.ListFailures(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if failures == nil {
		failures = []*models.SyncFailure{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": failures, "total": len(failures)})
}

// RetryFailure handles POST /sync/failures/{id}/retry.
func (h *SyncHandler) RetryFailure(w http.ResponseWriter, r *http.Request) {
	op, err := h.queue.RetryFailure(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// DismissFailure handles DELETE /sync/failures/{id}.
func (h *SyncHandler) DismissFailure(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.queue.DismissFailure(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperrors.Newf(apperrors.ErrNotFound, "failure %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
