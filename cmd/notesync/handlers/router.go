package handlers

import (
	"net/http"
	"time"

	"github.com/glidenotes/notesync/internal/logging"
)

// NewRouter wires every route onto a ServeMux.
func NewRouter(notes *NoteHandler, sync *SyncHandler, hub *Hub, log *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "clients": hub.ClientCount()})
	})

	mux.HandleFunc("GET /api/notes", notes.ListNotes)
	mux.HandleFunc("POST /api/notes", notes.CreateNote)
	mux.HandleFunc("GET /api/notes/{id}", notes.GetNote)
	mux.HandleFunc("PATCH /api/notes/{id}", notes.UpdateNote)
	mux.HandleFunc("DELETE /api/notes/{id}", notes.DeleteNote)
	mux.HandleFunc("POST /api/notes/{id}/restore", notes.RestoreNote)
	mux.HandleFunc("GET /api/notes/{id}/actions", notes.ListActions)
	mux.HandleFunc("POST /api/notes/{id}/actions", notes.CreateAction)
	mux.HandleFunc("PATCH /api/actions/{id}", notes.UpdateAction)
	mux.HandleFunc("DELETE /api/actions/{id}", notes.DeleteAction)
	mux.HandleFunc("GET /api/folders", notes.ListFolders)
	mux.HandleFunc("POST /api/folders", notes.CreateFolder)
	mux.HandleFunc("PATCH /api/folders/{id}", notes.UpdateFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", notes.DeleteFolder)

	mux.HandleFunc("GET /api/sync/status", sync.GetStatus)
	mux.HandleFunc("POST /api/sync/now", sync.SyncNow)
	mux.HandleFunc("POST /api/sync/hydrate", sync.Hydrate)
	mux.HandleFunc("POST /api/sync/online", sync.SetOnline)
	mux.HandleFunc("GET /api/sync/pending", sync.ListPending)
	mux.HandleFunc("GET /api/sync/failures", sync.ListFailures)
	mux.HandleFunc("POST /api/sync/failures/{id}/retry", sync.RetryFailure)
	mux.HandleFunc("DELETE /api/sync/failures/{id}", sync.DismissFailure)

	mux.Handle("GET /ws", hub)

	return requestLog(mux, log)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLog(next http.Handler, log *logging.Logger) http.Handler {
	if log == nil {
		log = logging.Get()
	}
	log = log.With(map[string]interface{}{"component": "http"})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("Request handled", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
